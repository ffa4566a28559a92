// Package firmware moves firmware images: downloading them from the CDN,
// reporting transfer progress, and handing completed images to the
// platform flash helper.
package firmware

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/rdkcentral/rdkfwupdatemgr/internal/busapi"
	"github.com/rdkcentral/rdkfwupdatemgr/internal/config"
	"github.com/rdkcentral/rdkfwupdatemgr/internal/orchestrator"
)

// Downloader fetches firmware images over HTTP into a local image directory.
type Downloader struct {
	dir          string
	progressFile string
	minFree      uint64
	httpc        *http.Client
}

// NewDownloader creates a Downloader for the configured image directory.
func NewDownloader(cfg config.DownloadConfig) *Downloader {
	return &Downloader{
		dir:          cfg.Dir,
		progressFile: cfg.ProgressFile,
		minFree:      cfg.MinFreeBytes,
		// No overall timeout: large images over slow links are bounded
		// by the orchestrator's operation watchdog instead.
		httpc: &http.Client{},
	}
}

// LocalPath reports whether the named image is already fully downloaded.
func (d *Downloader) LocalPath(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	path := filepath.Join(d.dir, filepath.Base(name))
	fi, err := os.Stat(path)
	if err != nil || fi.Size() == 0 {
		return "", false
	}
	return path, true
}

// Download fetches the requested image into the image directory. The image
// is streamed to a temporary file and renamed only once complete, so a
// partial transfer never looks like a finished image.
func (d *Downloader) Download(ctx context.Context, req orchestrator.DownloadRequest) (orchestrator.DownloadOutcome, error) {
	if err := validateRequest(req); err != nil {
		return orchestrator.DownloadOutcome{}, err
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return orchestrator.DownloadOutcome{}, fmt.Errorf("creating image dir: %w", err)
	}
	if err := d.checkFreeSpace(); err != nil {
		return orchestrator.DownloadOutcome{}, err
	}

	url := imageURL(req)
	final := filepath.Join(d.dir, filepath.Base(req.FirmwareName))
	tmp := final + ".part"

	slog.Info("download starting", "firmware", req.FirmwareName, "url", url)

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return orchestrator.DownloadOutcome{}, err
	}
	resp, err := d.httpc.Do(hreq)
	if err != nil {
		return orchestrator.DownloadOutcome{}, fmt.Errorf("fetching image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return orchestrator.DownloadOutcome{}, fmt.Errorf("image server returned HTTP %d", resp.StatusCode)
	}

	f, err := os.Create(tmp)
	if err != nil {
		return orchestrator.DownloadOutcome{}, err
	}
	written, err := d.copyWithProgress(f, resp.Body, resp.ContentLength)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return orchestrator.DownloadOutcome{}, fmt.Errorf("writing image: %w", err)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		os.Remove(tmp)
		return orchestrator.DownloadOutcome{}, fmt.Errorf("short download: %d of %d bytes", written, resp.ContentLength)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return orchestrator.DownloadOutcome{}, err
	}

	slog.Info("download finished", "firmware", req.FirmwareName, "bytes", written, "path", final)
	return orchestrator.DownloadOutcome{LocalPath: final}, nil
}

// copyWithProgress streams the image body, updating the progress file as
// whole percents complete. The transfer engine historically wrote this file
// and the progress monitor still watches it.
func (d *Downloader) copyWithProgress(dst io.Writer, src io.Reader, total int64) (int64, error) {
	var written int64
	lastPercent := -1
	buf := make([]byte, 128<<10)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
			if total > 0 {
				if pct := int(written * 100 / total); pct != lastPercent {
					lastPercent = pct
					d.writeProgress(pct)
				}
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func (d *Downloader) writeProgress(percent int) {
	if d.progressFile == "" {
		return
	}
	data := fmt.Sprintf("%d\n", percent)
	if err := os.WriteFile(d.progressFile, []byte(data), 0o644); err != nil {
		slog.Warn("could not write progress file", "file", d.progressFile, "error", err)
	}
}

// checkFreeSpace rejects a download when the image filesystem is too full.
func (d *Downloader) checkFreeSpace() error {
	if d.minFree == 0 {
		return nil
	}
	var st unix.Statfs_t
	if err := unix.Statfs(d.dir, &st); err != nil {
		return fmt.Errorf("statfs %s: %w", d.dir, err)
	}
	free := st.Bavail * uint64(st.Bsize)
	if free < d.minFree {
		return fmt.Errorf("insufficient disk space in %s: %d bytes free, need %d", d.dir, free, d.minFree)
	}
	return nil
}

func validateRequest(req orchestrator.DownloadRequest) error {
	if req.FirmwareName == "" {
		return fmt.Errorf("empty firmware name")
	}
	if req.DownloadURL == "" {
		return fmt.Errorf("no download URL for %s", req.FirmwareName)
	}
	switch req.FirmwareType {
	case busapi.FirmwareTypePCI, busapi.FirmwareTypePDRI, busapi.FirmwareTypePeripheral:
		return nil
	default:
		return fmt.Errorf("unknown firmware type %q", req.FirmwareType)
	}
}

// imageURL joins the download location and image name unless the location
// already names the image.
func imageURL(req orchestrator.DownloadRequest) string {
	if strings.HasSuffix(req.DownloadURL, req.FirmwareName) {
		return req.DownloadURL
	}
	return strings.TrimSuffix(req.DownloadURL, "/") + "/" + req.FirmwareName
}
