package xconf

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/rdkcentral/rdkfwupdatemgr/internal/config"
)

// DeviceInfo identifies the device to the update catalog.
type DeviceInfo struct {
	MAC             string
	Model           string
	Manufacturer    string
	FirmwareVersion string
	Env             string
	PartnerID       string
	Serial          string
}

// LoadDeviceInfo reads the device properties file and the firmware version
// file. Missing optional keys log a warning; a missing model or firmware
// version is an error because the catalog query is meaningless without them.
func LoadDeviceInfo(cfg config.DeviceConfig) (DeviceInfo, error) {
	props, err := parseProperties(cfg.PropertiesFile)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("reading device properties: %w", err)
	}

	info := DeviceInfo{
		MAC:          props["ESTB_MAC"],
		Model:        props["MODEL_NUM"],
		Manufacturer: props["MANUFACTURE"],
		Env:          props["BUILD_TYPE"],
		PartnerID:    props["PARTNER_ID"],
		Serial:       props["SERIAL_NUMBER"],
	}
	if info.Model == "" {
		return DeviceInfo{}, fmt.Errorf("%s: MODEL_NUM not set", cfg.PropertiesFile)
	}
	for key, val := range map[string]string{"ESTB_MAC": info.MAC, "MANUFACTURE": info.Manufacturer} {
		if val == "" {
			slog.Warn("device property not set", "key", key, "file", cfg.PropertiesFile)
		}
	}

	info.FirmwareVersion, err = readImageName(cfg.VersionFile)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("reading firmware version: %w", err)
	}
	return info, nil
}

// parseProperties reads a KEY=value file, ignoring blank lines and comments.
func parseProperties(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	props := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		props[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(val), `"`)
	}
	return props, sc.Err()
}

// readImageName extracts the running image name from the version file,
// which carries an "imagename:NAME" line.
func readImageName(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if name, ok := strings.CutPrefix(line, "imagename:"); ok {
			return strings.TrimSpace(name), nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("%s: no imagename line", path)
}
