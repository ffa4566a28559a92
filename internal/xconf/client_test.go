package xconf

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rdkcentral/rdkfwupdatemgr/internal/busapi"
	"github.com/rdkcentral/rdkfwupdatemgr/internal/config"
)

var testDevice = DeviceInfo{
	MAC:             "AA:BB:CC:DD:EE:FF",
	Model:           "PX051AEI",
	Manufacturer:    "ACME",
	FirmwareVersion: "PX051AEI_3.1p7s1",
	Env:             "PROD",
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.XconfConfig{
		URL:       srv.URL,
		CacheFile: filepath.Join(t.TempDir(), "xconf_response.txt"),
	}, testDevice)
}

func TestCheck_UpdateAvailable(t *testing.T) {
	var gotForm map[string][]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		gotForm = r.PostForm
		w.Write([]byte(`{
			"firmwareFilename": "PX051AEI_4.0p2s1-signed.bin",
			"firmwareVersion": "PX051AEI_4.0p2s1",
			"firmwareLocation": "http://cdn.example.com/firmware",
			"firmwareDownloadProtocol": "http",
			"rebootImmediately": true
		}`))
	})

	res, err := c.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Code != busapi.UpdateAvailable {
		t.Errorf("code = %d, want available", res.Code)
	}
	if res.AvailableVersion != "PX051AEI_4.0p2s1" || res.CurrentVersion != testDevice.FirmwareVersion {
		t.Errorf("versions = %q / %q", res.CurrentVersion, res.AvailableVersion)
	}
	if !strings.Contains(res.UpdateDetails, "File:PX051AEI_4.0p2s1-signed.bin") {
		t.Errorf("details = %q", res.UpdateDetails)
	}
	if !strings.Contains(res.UpdateDetails, "https://cdn.example.com/firmware") {
		t.Errorf("location not upgraded to https: %q", res.UpdateDetails)
	}

	for _, key := range []string{"eStbMac", "firmwareVersion", "model", "capabilities"} {
		if len(gotForm[key]) == 0 {
			t.Errorf("query missing %s field", key)
		}
	}

	// The successful exchange must be cached for later fast-path checks.
	if !c.Probe() {
		t.Fatal("cache not written after successful check")
	}
	cached, ok := c.Load()
	if !ok || cached.AvailableVersion != res.AvailableVersion {
		t.Errorf("cached result = %+v, ok=%v", cached, ok)
	}
}

func TestCheck_AlreadyOnLatest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"firmwareFilename": "PX051AEI_3.1p7s1-signed.bin",
			"firmwareVersion": "PX051AEI_3.1p7s1"
		}`))
	})
	res, err := c.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Code != busapi.UpdateNotAvailable || !strings.Contains(res.StatusText, "Already on latest version") {
		t.Errorf("result = %+v", res)
	}
}

func TestCheck_ModelMismatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"firmwareFilename": "OTHERMODEL_9.9-signed.bin",
			"firmwareVersion": "OTHERMODEL_9.9"
		}`))
	})
	res, err := c.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Code != busapi.UpdateNotAvailable || !strings.Contains(res.StatusText, "not valid for this device model") {
		t.Errorf("result = %+v", res)
	}
}

func TestCheck_NoRuleForDevice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	res, err := c.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Code != busapi.UpdateNotAvailable || !strings.Contains(res.StatusText, "No firmware configured") {
		t.Errorf("result = %+v", res)
	}
	if c.Probe() {
		t.Error("404 reply must not be cached")
	}
}

func TestCheck_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	if _, err := c.Check(context.Background()); err == nil {
		t.Fatal("want error for HTTP 500")
	}
}

func TestLoad_CorruptCacheDiscarded(t *testing.T) {
	c := New(config.XconfConfig{CacheFile: filepath.Join(t.TempDir(), "cache.txt")}, testDevice)
	if err := os.WriteFile(c.cacheFile, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Load(); ok {
		t.Fatal("corrupt cache loaded")
	}
	if c.Probe() {
		t.Error("corrupt cache not removed")
	}
}

func TestLoadDeviceInfo(t *testing.T) {
	dir := t.TempDir()
	props := filepath.Join(dir, "device.properties")
	version := filepath.Join(dir, "version.txt")
	os.WriteFile(props, []byte(
		"# device identity\nMODEL_NUM=PX051AEI\nMANUFACTURE=ACME\nBUILD_TYPE=PROD\nESTB_MAC=AA:BB:CC:DD:EE:FF\n"), 0o644)
	os.WriteFile(version, []byte("imagename:PX051AEI_3.1p7s1\nBUILD_TIME=\"2026-01-12\"\n"), 0o644)

	info, err := LoadDeviceInfo(config.DeviceConfig{PropertiesFile: props, VersionFile: version})
	if err != nil {
		t.Fatalf("LoadDeviceInfo: %v", err)
	}
	if info.Model != "PX051AEI" || info.FirmwareVersion != "PX051AEI_3.1p7s1" || info.MAC != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("info = %+v", info)
	}
}

func TestLoadDeviceInfo_MissingModel(t *testing.T) {
	dir := t.TempDir()
	props := filepath.Join(dir, "device.properties")
	version := filepath.Join(dir, "version.txt")
	os.WriteFile(props, []byte("BUILD_TYPE=PROD\n"), 0o644)
	os.WriteFile(version, []byte("imagename:X_1.0\n"), 0o644)

	if _, err := LoadDeviceInfo(config.DeviceConfig{PropertiesFile: props, VersionFile: version}); err == nil {
		t.Fatal("want error for missing MODEL_NUM")
	}
}
