package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the daemon looks for its config when --config is not given.
const DefaultPath = "/etc/rdkfwupdatemgr/config.yaml"

// Duration wraps time.Duration with YAML unmarshalling for human-readable strings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// DeviceConfig points at the files describing the device identity sent to
// the update catalog.
type DeviceConfig struct {
	// PropertiesFile is the key=value device properties file.
	PropertiesFile string `yaml:"properties_file"`
	// VersionFile carries the running firmware image name.
	VersionFile string `yaml:"version_file"`
}

// XconfConfig holds update-catalog settings.
type XconfConfig struct {
	// URL of the remote update catalog.
	URL string `yaml:"url"`
	// CacheFile is the serialized last-known check result.
	CacheFile string `yaml:"cache_file"`
}

// DownloadConfig holds firmware download settings.
type DownloadConfig struct {
	// Dir is where downloaded firmware images are stored.
	Dir string `yaml:"dir"`
	// ProgressFile is the status file the transfer engine writes
	// percent-complete values to.
	ProgressFile string `yaml:"progress_file"`
	// MinFreeBytes rejects a download when the target filesystem has
	// less free space than this. 0 disables the preflight.
	MinFreeBytes uint64 `yaml:"min_free_bytes"`
}

// FlashConfig holds firmware flash settings.
type FlashConfig struct {
	// HelperCmd is the flash helper executable invoked with the firmware path.
	HelperCmd string `yaml:"helper_cmd"`
}

// Config is the top-level configuration file structure.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// OperationTimeout bounds a single worker run. When a leader exceeds
	// it, the operation is completed as failed so the coordinator never
	// stays busy forever. 0 disables the timeout.
	OperationTimeout Duration `yaml:"operation_timeout"`

	Device   DeviceConfig   `yaml:"device"`
	Xconf    XconfConfig    `yaml:"xconf"`
	Download DownloadConfig `yaml:"download"`
	Flash    FlashConfig    `yaml:"flash"`
}

// Defaults returns the built-in configuration used when no file is present.
func Defaults() *Config {
	return &Config{
		OperationTimeout: Duration(15 * time.Minute),
		Device: DeviceConfig{
			PropertiesFile: "/etc/device.properties",
			VersionFile:    "/version.txt",
		},
		Xconf: XconfConfig{
			CacheFile: "/tmp/xconf_response_thunder.txt",
		},
		Download: DownloadConfig{
			Dir:          "/opt/CDL",
			ProgressFile: "/opt/curl_progress",
		},
		Flash: FlashConfig{
			HelperCmd: "/lib/rdk/imageFlasher.sh",
		},
	}
}

// Load reads and parses a YAML config file on top of Defaults. If the file
// does not exist, it returns the defaults and a nil error.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
