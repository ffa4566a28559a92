// Package service manages the systemd system unit and D-Bus bus policy for
// the firmware update daemon.
package service

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

const unitFileName = "rdkfwupdatemgr.service"

const unitTemplate = `[Unit]
Description=RDK Firmware Update Manager - D-Bus update broker
Documentation=https://github.com/rdkcentral/rdkfwupdatemgr
After=network-online.target dbus.service
Wants=network-online.target

[Service]
Type=notify
BusName=org.rdkfwupdater.Service
ExecStart=%s
Restart=on-failure
RestartSec=5

[Install]
WantedBy=multi-user.target
`

const policyFileName = "org.rdkfwupdater.Service.conf"

// busPolicy lets root own the service name and any local user call it.
// Signals are broadcast and need no policy entry.
const busPolicy = `<!DOCTYPE busconfig PUBLIC "-//freedesktop//DTD D-BUS Bus Configuration 1.0//EN"
 "http://www.freedesktop.org/standards/dbus/1.0/busconfig.dtd">
<busconfig>
  <policy user="root">
    <allow own="org.rdkfwupdater.Service"/>
  </policy>
  <policy context="default">
    <allow send_destination="org.rdkfwupdater.Service"/>
    <allow receive_sender="org.rdkfwupdater.Service"/>
  </policy>
</busconfig>
`

// Options configures service installation.
type Options struct {
	// ConfigPath, if set, adds --config <path> to ExecStart.
	ConfigPath string
	// Start the service immediately after enabling.
	Start bool
}

// Overridable in tests so installation can run against temp directories
// without root or a real systemd.
var (
	unitDir   = "/etc/systemd/system"
	policyDir = "/etc/dbus-1/system.d"
)

// UnitPath returns the full path where the unit file is (or would be) installed.
func UnitPath() string {
	return filepath.Join(unitDir, unitFileName)
}

// PolicyPath returns the full path of the installed D-Bus policy file.
func PolicyPath() string {
	return filepath.Join(policyDir, policyFileName)
}

// Install writes the systemd unit and D-Bus policy files, reloads systemd,
// and enables the service.
func Install(opts Options) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}
	self, err = filepath.EvalSymlinks(self)
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	execStart := self + " serve"
	if opts.ConfigPath != "" {
		execStart += " --config " + opts.ConfigPath
	}

	if err := os.MkdirAll(policyDir, 0755); err != nil {
		return fmt.Errorf("create policy dir: %w", err)
	}
	if err := os.WriteFile(PolicyPath(), []byte(busPolicy), 0644); err != nil {
		return fmt.Errorf("write bus policy: %w", err)
	}
	fmt.Printf("Wrote bus policy: %s\n", PolicyPath())

	unitContent := fmt.Sprintf(unitTemplate, execStart)
	if err := os.MkdirAll(unitDir, 0755); err != nil {
		return fmt.Errorf("create unit dir: %w", err)
	}
	if err := os.WriteFile(UnitPath(), []byte(unitContent), 0644); err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}
	fmt.Printf("Wrote unit file: %s\n", UnitPath())

	if err := systemctlFunc("daemon-reload"); err != nil {
		return err
	}

	if err := systemctlFunc("enable", unitFileName); err != nil {
		return err
	}
	fmt.Printf("Enabled %s\n", unitFileName)

	if opts.Start {
		if err := systemctlFunc("start", unitFileName); err != nil {
			return err
		}
		fmt.Printf("Started %s\n", unitFileName)
	}

	return nil
}

// Uninstall stops and disables the service, removes the unit and policy
// files, and reloads systemd.
func Uninstall() error {
	// Stop first (ignore error — may not be running).
	_ = systemctlFunc("stop", unitFileName)

	if err := systemctlFunc("disable", unitFileName); err != nil {
		return err
	}
	fmt.Printf("Disabled %s\n", unitFileName)

	if err := os.Remove(UnitPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove unit file: %w", err)
	}
	fmt.Printf("Removed %s\n", UnitPath())

	if err := os.Remove(PolicyPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove bus policy: %w", err)
	}
	fmt.Printf("Removed %s\n", PolicyPath())

	if err := systemctlFunc("daemon-reload"); err != nil {
		return err
	}

	return nil
}

// Status runs systemctl status for the service, printing output directly.
func Status() error {
	cmd := exec.Command("systemctl", "status", unitFileName)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// systemctl status exits non-zero when inactive — not an error for us.
	cmd.Run()
	return nil
}

// systemctlFunc is the function used to run systemctl commands.
// Replaced in tests to avoid requiring a real systemd.
var systemctlFunc = systemctlExec

func systemctlExec(args ...string) error {
	cmd := exec.Command("systemctl", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("systemctl %s: %w", args[0], err)
	}
	return nil
}
