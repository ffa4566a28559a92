package daemon

import (
	"log/slog"

	"github.com/godbus/dbus/v5"

	"github.com/rdkcentral/rdkfwupdatemgr/internal/busapi"
	"github.com/rdkcentral/rdkfwupdatemgr/internal/orchestrator"
)

// busBroadcaster emits the daemon's broadcast signals. Signals carry no
// destination so passive listeners observe outcomes too. Emission failures
// are logged and dropped; the orchestration state must not depend on
// signal delivery.
type busBroadcaster struct {
	conn *dbus.Conn
}

func (b *busBroadcaster) emit(member string, values ...interface{}) {
	name := busapi.Interface + "." + member
	if err := b.conn.Emit(busapi.ObjectPath, name, values...); err != nil {
		slog.Warn("signal emission failed", "signal", member, "error", err)
	}
}

func (b *busBroadcaster) CheckForUpdateComplete(handle uint64, res orchestrator.CheckResult) {
	b.emit(busapi.SignalCheckForUpdateComplete,
		handle, res.Code, res.CurrentVersion, res.AvailableVersion, res.UpdateDetails, res.StatusText)
}

func (b *busBroadcaster) DownloadProgress(handle uint64, firmwareName string, percent int, status, message string) {
	b.emit(busapi.SignalDownloadProgress, handle, firmwareName, int32(percent), status, message)
}

func (b *busBroadcaster) DownloadError(handle uint64, firmwareName string, status, message string) {
	b.emit(busapi.SignalDownloadError, handle, firmwareName, status, message)
}

func (b *busBroadcaster) UpdateProgress(handle uint64, firmwareName string, percent int, statusCode int32, message string) {
	b.emit(busapi.SignalUpdateProgress, handle, firmwareName, int32(percent), statusCode, message)
}
