package firmware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rdkcentral/rdkfwupdatemgr/internal/busapi"
	"github.com/rdkcentral/rdkfwupdatemgr/internal/config"
	"github.com/rdkcentral/rdkfwupdatemgr/internal/orchestrator"
)

func testDownloader(t *testing.T, handler http.Handler) (*Downloader, string, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	dir := t.TempDir()
	d := NewDownloader(config.DownloadConfig{
		Dir:          dir,
		ProgressFile: filepath.Join(dir, "progress"),
	})
	return d, dir, srv
}

func TestDownload_Success(t *testing.T) {
	image := bytes.Repeat([]byte("firmware"), 64<<10)
	d, dir, srv := testDownloader(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fw/PX051AEI_4.0.bin" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write(image)
	}))

	out, err := d.Download(context.Background(), orchestrator.DownloadRequest{
		FirmwareName: "PX051AEI_4.0.bin",
		DownloadURL:  srv.URL + "/fw",
		FirmwareType: busapi.FirmwareTypePCI,
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	want := filepath.Join(dir, "PX051AEI_4.0.bin")
	if out.LocalPath != want {
		t.Errorf("LocalPath = %q, want %q", out.LocalPath, want)
	}
	got, err := os.ReadFile(want)
	if err != nil || !bytes.Equal(got, image) {
		t.Errorf("image content mismatch (err=%v, %d bytes)", err, len(got))
	}
	if _, err := os.Stat(want + ".part"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	// Completed transfer is discoverable by the already-downloaded probe.
	if path, ok := d.LocalPath("PX051AEI_4.0.bin"); !ok || path != want {
		t.Errorf("LocalPath probe = (%q, %v)", path, ok)
	}

	// The progress file ends at 100 percent.
	data, err := os.ReadFile(d.progressFile)
	if err != nil {
		t.Fatalf("progress file: %v", err)
	}
	if pct, ok := parsePercent(string(data)); !ok || pct != 100 {
		t.Errorf("final progress = %d (%v)", pct, ok)
	}
}

func TestDownload_ServerErrorLeavesNoImage(t *testing.T) {
	d, dir, srv := testDownloader(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))

	_, err := d.Download(context.Background(), orchestrator.DownloadRequest{
		FirmwareName: "fw.bin",
		DownloadURL:  srv.URL,
		FirmwareType: busapi.FirmwareTypePCI,
	})
	if err == nil {
		t.Fatal("want error for HTTP 404")
	}
	if _, statErr := os.Stat(filepath.Join(dir, "fw.bin")); !os.IsNotExist(statErr) {
		t.Error("failed download left an image file")
	}
}

func TestDownload_TruncatedBodyRejected(t *testing.T) {
	d, dir, srv := testDownloader(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.Write([]byte("short"))
	}))

	_, err := d.Download(context.Background(), orchestrator.DownloadRequest{
		FirmwareName: "fw.bin",
		DownloadURL:  srv.URL,
		FirmwareType: busapi.FirmwareTypePCI,
	})
	if err == nil {
		t.Fatal("want error for truncated body")
	}
	if _, statErr := os.Stat(filepath.Join(dir, "fw.bin")); !os.IsNotExist(statErr) {
		t.Error("truncated download left an image file")
	}
}

func TestDownload_RejectsBadRequest(t *testing.T) {
	d := NewDownloader(config.DownloadConfig{Dir: t.TempDir()})
	cases := []orchestrator.DownloadRequest{
		{DownloadURL: "http://x", FirmwareType: busapi.FirmwareTypePCI},
		{FirmwareName: "fw.bin", FirmwareType: busapi.FirmwareTypePCI},
		{FirmwareName: "fw.bin", DownloadURL: "http://x", FirmwareType: "FLOPPY"},
	}
	for _, req := range cases {
		if _, err := d.Download(context.Background(), req); err == nil {
			t.Errorf("request %+v accepted, want error", req)
		}
	}
}

func TestDownload_InsufficientDiskSpace(t *testing.T) {
	d := NewDownloader(config.DownloadConfig{
		Dir: t.TempDir(),
		// No filesystem has this much headroom.
		MinFreeBytes: 1 << 62,
	})
	_, err := d.Download(context.Background(), orchestrator.DownloadRequest{
		FirmwareName: "fw.bin",
		DownloadURL:  "http://unused",
		FirmwareType: busapi.FirmwareTypePCI,
	})
	if err == nil || !strings.Contains(err.Error(), "insufficient disk space") {
		t.Fatalf("err = %v, want disk space rejection", err)
	}
}

func TestParsePercent(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"42\n", 42, true},
		{"100", 100, true},
		{"  87.5%\n", 87, true},
		{"512k  1024k  45", 45, true},
		{"", 0, false},
		{"downloading...", 0, false},
		{"250", 0, false},
	}
	for _, tc := range cases {
		got, ok := parsePercent(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("parsePercent(%q) = (%d, %v), want (%d, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestMonitor_ReportsChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "progress")
	m := NewMonitor(path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan int, 16)
	go m.Run(ctx, func(pct int) { got <- pct })

	for _, pct := range []string{"10", "55", "55", "90"} {
		time.Sleep(20 * time.Millisecond)
		if err := os.WriteFile(path, []byte(pct+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	want := []int{10, 55, 90}
	for _, w := range want {
		select {
		case p := <-got:
			if p != w {
				t.Fatalf("progress = %d, want %d", p, w)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for progress %d", w)
		}
	}
}

func TestFlash_RunsHelper(t *testing.T) {
	dir := t.TempDir()
	image := filepath.Join(dir, "fw.bin")
	os.WriteFile(image, []byte("image"), 0o644)

	argsFile := filepath.Join(dir, "args")
	helper := filepath.Join(dir, "helper.sh")
	script := "#!/bin/sh\necho \"$@\" > " + argsFile + "\n"
	if err := os.WriteFile(helper, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	f := NewFlasher(config.FlashConfig{HelperCmd: helper}, config.DownloadConfig{Dir: dir})
	err := f.Flash(context.Background(), orchestrator.FlashRequest{
		FirmwareName:    "fw.bin",
		FirmwareType:    busapi.FirmwareTypePCI,
		Location:        "https://cdn.example.com/firmware",
		RebootImmediate: true,
	})
	if err != nil {
		t.Fatalf("Flash: %v", err)
	}

	data, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("helper never ran: %v", err)
	}
	got := strings.TrimSpace(string(data))
	want := "http https://cdn.example.com/firmware " + dir + " fw.bin true pci"
	if got != want {
		t.Errorf("helper args = %q, want %q", got, want)
	}
}

func TestFlash_HelperFailure(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "fw.bin"), []byte("image"), 0o644)
	helper := filepath.Join(dir, "helper.sh")
	os.WriteFile(helper, []byte("#!/bin/sh\necho flash write error >&2\nexit 3\n"), 0o755)

	f := NewFlasher(config.FlashConfig{HelperCmd: helper}, config.DownloadConfig{Dir: dir})
	err := f.Flash(context.Background(), orchestrator.FlashRequest{FirmwareName: "fw.bin"})
	if err == nil || !strings.Contains(err.Error(), "flash write error") {
		t.Fatalf("err = %v, want helper stderr in error", err)
	}
}

func TestFlash_MissingImage(t *testing.T) {
	f := NewFlasher(config.FlashConfig{HelperCmd: "/bin/true"}, config.DownloadConfig{Dir: t.TempDir()})
	if err := f.Flash(context.Background(), orchestrator.FlashRequest{FirmwareName: "ghost.bin"}); err == nil {
		t.Fatal("want error for missing image")
	}
}
