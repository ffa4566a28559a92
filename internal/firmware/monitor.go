package firmware

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// progressInterval is the poll fallback for platforms where the transfer
// engine rewrites the progress file in place without emitting change events.
const progressInterval = 2 * time.Second

// Monitor watches a transfer progress file and reports whole-percent
// changes. It implements the orchestrator's progress monitor interface.
type Monitor struct {
	path string
}

// NewMonitor creates a Monitor for the given progress file.
func NewMonitor(path string) *Monitor {
	return &Monitor{path: path}
}

// Run reports progress changes until ctx is cancelled. The file may not
// exist yet when Run starts; the watcher covers its directory so creation
// is observed too.
func (m *Monitor) Run(ctx context.Context, report func(int)) {
	if m.path == "" {
		<-ctx.Done()
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("progress watcher unavailable, polling only", "error", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(m.path)); err != nil {
			slog.Warn("cannot watch progress dir", "dir", filepath.Dir(m.path), "error", err)
		}
	}

	var events chan fsnotify.Event
	if watcher != nil {
		events = watcher.Events
	}

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	last := -1
	emit := func() {
		pct, ok := m.read()
		if ok && pct != last {
			last = pct
			report(pct)
		}
	}
	emit()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Name == m.path && ev.Op.Has(fsnotify.Write|fsnotify.Create) {
				emit()
			}
		case <-ticker.C:
			emit()
		}
	}
}

// read parses the last percent value from the progress file.
func (m *Monitor) read() (int, bool) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return 0, false
	}
	return parsePercent(string(data))
}

// parsePercent extracts the trailing percentage from progress file content.
// The file holds either a bare number or transfer-tool output whose last
// numeric field is the percent complete.
func parsePercent(content string) (int, bool) {
	fields := strings.Fields(content)
	for i := len(fields) - 1; i >= 0; i-- {
		tok := strings.TrimSuffix(fields[i], "%")
		val, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			continue
		}
		if val < 0 || val > 100 {
			continue
		}
		return int(val), true
	}
	return 0, false
}
