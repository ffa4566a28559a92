package firmware

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rdkcentral/rdkfwupdatemgr/internal/config"
	"github.com/rdkcentral/rdkfwupdatemgr/internal/orchestrator"
)

// Flasher hands a downloaded image to the platform flash helper. Writing
// the image to the inactive bank is device specific, so the daemon only
// drives the helper and interprets its exit status.
type Flasher struct {
	helper string
	dir    string
}

// NewFlasher creates a Flasher using the configured helper executable and
// image directory.
func NewFlasher(flash config.FlashConfig, download config.DownloadConfig) *Flasher {
	return &Flasher{helper: flash.HelperCmd, dir: download.Dir}
}

// Flash runs the platform helper for the named image. The image must have
// been downloaded first.
func (f *Flasher) Flash(ctx context.Context, req orchestrator.FlashRequest) error {
	if f.helper == "" {
		return fmt.Errorf("no flash helper configured")
	}
	if req.FirmwareName == "" {
		return fmt.Errorf("empty firmware name")
	}

	image := filepath.Join(f.dir, filepath.Base(req.FirmwareName))
	if _, err := os.Stat(image); err != nil {
		return fmt.Errorf("image not downloaded: %w", err)
	}

	// Helper argument order matches the platform flash script:
	// protocol, server, image dir, image name, reboot flag, upgrade type.
	args := []string{
		"http",
		req.Location,
		f.dir,
		filepath.Base(req.FirmwareName),
		strconv.FormatBool(req.RebootImmediate),
		strings.ToLower(req.FirmwareType),
	}

	slog.Info("flash helper starting", "helper", f.helper, "image", image,
		"reboot_immediate", req.RebootImmediate)

	out, err := exec.CommandContext(ctx, f.helper, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("flash helper failed: %w: %s", err, lastLines(out, 5))
	}
	slog.Info("flash helper finished", "image", image)
	return nil
}

// lastLines returns the tail of helper output for error reporting.
func lastLines(out []byte, n int) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
