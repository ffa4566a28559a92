// Package xconf talks to the remote update catalog and caches its answers.
// A successful catalog exchange is written to a cache file so later checks
// can be served without touching the network.
package xconf

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rdkcentral/rdkfwupdatemgr/internal/busapi"
	"github.com/rdkcentral/rdkfwupdatemgr/internal/config"
	"github.com/rdkcentral/rdkfwupdatemgr/internal/orchestrator"
)

// response is the catalog reply for a device query.
type response struct {
	FirmwareFilename string `json:"firmwareFilename"`
	FirmwareVersion  string `json:"firmwareVersion"`
	FirmwareLocation string `json:"firmwareLocation"`
	Protocol         string `json:"firmwareDownloadProtocol"`
	RebootImmediate  bool   `json:"rebootImmediately"`
	PDRIVersion      string `json:"additionalFwVerInfo"`
	DelayDownload    int    `json:"delayDownload"`
}

// Client queries the update catalog. It implements both the update-check
// and the check-cache collaborator interfaces of the orchestrator.
type Client struct {
	url       string
	cacheFile string
	dev       DeviceInfo
	httpc     *http.Client
}

// New creates a catalog client for the given device identity.
func New(cfg config.XconfConfig, dev DeviceInfo) *Client {
	return &Client{
		url:       cfg.URL,
		cacheFile: cfg.CacheFile,
		dev:       dev,
		httpc:     &http.Client{Timeout: 2 * time.Minute},
	}
}

// Check queries the catalog and evaluates the reply against the running
// firmware. Transport failures return an error; a catalog that has no
// update for this device is a successful check with a not-available result.
func (c *Client) Check(ctx context.Context) (orchestrator.CheckResult, error) {
	if c.url == "" {
		return orchestrator.CheckResult{}, fmt.Errorf("no catalog URL configured")
	}

	form := url.Values{}
	form.Set("eStbMac", c.dev.MAC)
	form.Set("firmwareVersion", c.dev.FirmwareVersion)
	form.Set("model", c.dev.Model)
	form.Set("manufacturer", c.dev.Manufacturer)
	form.Set("env", c.dev.Env)
	form.Set("partnerId", c.dev.PartnerID)
	form.Set("serial", c.dev.Serial)
	form.Set("localtime", time.Now().Format("2006-01-02 15:04:05"))
	form.Add("capabilities", "RCDL")
	form.Add("capabilities", "supportsFullHttpUrl")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url,
		strings.NewReader(form.Encode()))
	if err != nil {
		return orchestrator.CheckResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return orchestrator.CheckResult{}, fmt.Errorf("catalog request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return orchestrator.CheckResult{}, fmt.Errorf("reading catalog reply: %w", err)
	}
	slog.Info("catalog replied", "status", resp.StatusCode, "bytes", len(body))

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		// The catalog has no rule matching this device.
		return notAvailable("No firmware configured for this device"), nil
	default:
		return orchestrator.CheckResult{}, fmt.Errorf("catalog returned HTTP %d", resp.StatusCode)
	}

	var xr response
	if err := json.Unmarshal(body, &xr); err != nil {
		return orchestrator.CheckResult{}, fmt.Errorf("parsing catalog reply: %w", err)
	}

	res := c.evaluate(&xr)
	if err := c.save(body); err != nil {
		slog.Warn("could not write catalog cache", "file", c.cacheFile, "error", err)
	}
	return res, nil
}

// evaluate turns a catalog reply into a check result for this device.
func (c *Client) evaluate(xr *response) orchestrator.CheckResult {
	if xr.FirmwareVersion == "" {
		return notAvailable("No firmware configured for this device")
	}
	if xr.FirmwareVersion == c.dev.FirmwareVersion {
		return notAvailable("Already on latest version")
	}
	if !validImage(xr.FirmwareFilename, c.dev.Model) ||
		(xr.PDRIVersion != "" && !validImage(xr.PDRIVersion, c.dev.Model)) {
		return notAvailable("Image not valid for this device model")
	}

	return orchestrator.CheckResult{
		CurrentVersion:   c.dev.FirmwareVersion,
		AvailableVersion: xr.FirmwareVersion,
		UpdateDetails:    updateDetails(xr),
		StatusText:       "UPDATE_AVAILABLE",
		Code:             busapi.UpdateAvailable,
	}
}

// updateDetails flattens the catalog reply into the pipe-separated detail
// string carried by the check reply and completion signal.
func updateDetails(xr *response) string {
	return fmt.Sprintf("File:%s|Location:%s|Protocol:%s|Reboot:%t|PDRI:%s",
		orNA(xr.FirmwareFilename), orNA(preferHTTPS(xr.FirmwareLocation)),
		orNA(xr.Protocol), xr.RebootImmediate, orNA(xr.PDRIVersion))
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// validImage accepts an image only when its name carries the device model.
func validImage(imageName, model string) bool {
	return strings.Contains(imageName, model)
}

// preferHTTPS upgrades plain-http download locations.
func preferHTTPS(location string) string {
	if rest, ok := strings.CutPrefix(location, "http://"); ok {
		return "https://" + rest
	}
	return location
}

func notAvailable(reason string) orchestrator.CheckResult {
	return orchestrator.CheckResult{
		StatusText: "UPDATE_NOT_AVAILABLE: " + reason,
		Code:       busapi.UpdateNotAvailable,
	}
}

// Probe reports whether a cached catalog reply exists.
func (c *Client) Probe() bool {
	if c.cacheFile == "" {
		return false
	}
	fi, err := os.Stat(c.cacheFile)
	return err == nil && fi.Size() > 0
}

// Load re-evaluates the cached catalog reply against the running firmware.
func (c *Client) Load() (orchestrator.CheckResult, bool) {
	data, err := os.ReadFile(c.cacheFile)
	if err != nil {
		return orchestrator.CheckResult{}, false
	}
	var xr response
	if err := json.Unmarshal(data, &xr); err != nil {
		slog.Warn("discarding corrupt catalog cache", "file", c.cacheFile, "error", err)
		_ = os.Remove(c.cacheFile)
		return orchestrator.CheckResult{}, false
	}
	return c.evaluate(&xr), true
}

// save writes the raw catalog reply atomically.
func (c *Client) save(body []byte) error {
	if c.cacheFile == "" {
		return nil
	}
	tmp := c.cacheFile + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.cacheFile)
}
