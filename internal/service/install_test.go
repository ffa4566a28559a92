package service

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- test helpers ---

func mockSystemctl(t *testing.T) *[]string {
	t.Helper()
	orig := systemctlFunc
	var calls []string
	systemctlFunc = func(args ...string) error {
		calls = append(calls, strings.Join(args, " "))
		return nil
	}
	t.Cleanup(func() { systemctlFunc = orig })
	return &calls
}

func useTempDirs(t *testing.T) {
	t.Helper()
	tmpDir := t.TempDir()
	origUnit, origPolicy := unitDir, policyDir
	unitDir = filepath.Join(tmpDir, "systemd", "system")
	policyDir = filepath.Join(tmpDir, "dbus-1", "system.d")
	t.Cleanup(func() { unitDir, policyDir = origUnit, origPolicy })
}

func TestInstallWritesUnit(t *testing.T) {
	useTempDirs(t)
	mockSystemctl(t)

	if err := Install(Options{}); err != nil {
		t.Fatalf("Install() error: %v", err)
	}

	content, err := os.ReadFile(UnitPath())
	if err != nil {
		t.Fatalf("read unit: %v", err)
	}
	s := string(content)
	if !strings.Contains(s, "ExecStart=") || !strings.Contains(s, " serve") {
		t.Error("unit missing ExecStart with serve")
	}
	if !strings.Contains(s, "Type=notify") {
		t.Error("unit missing Type=notify")
	}
	if !strings.Contains(s, "BusName=org.rdkfwupdater.Service") {
		t.Error("unit missing BusName")
	}
	if !strings.Contains(s, "WantedBy=multi-user.target") {
		t.Error("unit missing WantedBy=multi-user.target")
	}
}

func TestInstallWritesBusPolicy(t *testing.T) {
	useTempDirs(t)
	mockSystemctl(t)

	if err := Install(Options{}); err != nil {
		t.Fatalf("Install() error: %v", err)
	}

	content, err := os.ReadFile(PolicyPath())
	if err != nil {
		t.Fatalf("read policy: %v", err)
	}
	s := string(content)
	if !strings.Contains(s, `<allow own="org.rdkfwupdater.Service"/>`) {
		t.Error("policy missing own rule")
	}
	if !strings.Contains(s, `<allow send_destination="org.rdkfwupdater.Service"/>`) {
		t.Error("policy missing send rule")
	}
}

func TestInstallSystemctlCalls(t *testing.T) {
	useTempDirs(t)
	calls := mockSystemctl(t)

	if err := Install(Options{}); err != nil {
		t.Fatalf("Install() error: %v", err)
	}

	want := []string{"daemon-reload", "enable " + unitFileName}
	if len(*calls) != len(want) {
		t.Fatalf("systemctl calls = %v, want %v", *calls, want)
	}
	for i, w := range want {
		if (*calls)[i] != w {
			t.Errorf("call[%d] = %q, want %q", i, (*calls)[i], w)
		}
	}
}

func TestInstallWithStart(t *testing.T) {
	useTempDirs(t)
	calls := mockSystemctl(t)

	if err := Install(Options{Start: true}); err != nil {
		t.Fatalf("Install() error: %v", err)
	}

	last := (*calls)[len(*calls)-1]
	if last != "start "+unitFileName {
		t.Errorf("last systemctl call = %q, want start", last)
	}
}

func TestInstallCustomConfigPath(t *testing.T) {
	useTempDirs(t)
	mockSystemctl(t)

	if err := Install(Options{ConfigPath: "/etc/rdkfwupdatemgr/config.yaml"}); err != nil {
		t.Fatalf("Install() error: %v", err)
	}

	content, err := os.ReadFile(UnitPath())
	if err != nil {
		t.Fatalf("read unit: %v", err)
	}
	if !strings.Contains(string(content), "--config /etc/rdkfwupdatemgr/config.yaml") {
		t.Error("unit missing --config flag")
	}
}

func TestUninstall(t *testing.T) {
	useTempDirs(t)
	calls := mockSystemctl(t)

	if err := Install(Options{}); err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	*calls = nil

	if err := Uninstall(); err != nil {
		t.Fatalf("Uninstall() error: %v", err)
	}

	want := []string{"stop " + unitFileName, "disable " + unitFileName, "daemon-reload"}
	if len(*calls) != len(want) {
		t.Fatalf("systemctl calls = %v, want %v", *calls, want)
	}
	for i, w := range want {
		if (*calls)[i] != w {
			t.Errorf("call[%d] = %q, want %q", i, (*calls)[i], w)
		}
	}

	if _, err := os.Stat(UnitPath()); !os.IsNotExist(err) {
		t.Error("unit file still present after uninstall")
	}
	if _, err := os.Stat(PolicyPath()); !os.IsNotExist(err) {
		t.Error("policy file still present after uninstall")
	}
}

func TestUninstallMissingFiles(t *testing.T) {
	useTempDirs(t)
	mockSystemctl(t)

	// Nothing installed: removal of absent files is not an error.
	if err := Uninstall(); err != nil {
		t.Fatalf("Uninstall() error: %v", err)
	}
}

func TestUnitPath(t *testing.T) {
	useTempDirs(t)

	p := UnitPath()
	if filepath.Base(p) != unitFileName {
		t.Errorf("UnitPath() = %q, want base %q", p, unitFileName)
	}
	if !strings.HasPrefix(p, unitDir) {
		t.Errorf("UnitPath() = %q, not under unit dir %q", p, unitDir)
	}
}
