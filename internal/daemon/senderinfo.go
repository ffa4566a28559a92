package daemon

import (
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"

	"github.com/rdkcentral/rdkfwupdatemgr/internal/procutil"
)

// callerResolver turns a bus sender name into a human-readable caller
// description for audit logs. It asks the bus daemon for the sender's PID
// and walks past interposed shells to the real invoking process.
type callerResolver struct {
	conn *dbus.Conn
}

func newCallerResolver(conn *dbus.Conn) *callerResolver {
	return &callerResolver{conn: conn}
}

// Caller returns "comm [pid]" for the process behind sender, or an empty
// string when the identity cannot be determined. Lookups race against the
// sender exiting, so failures are expected and only logged at debug.
func (r *callerResolver) Caller(sender string) string {
	var pid uint32
	err := r.conn.BusObject().Call("org.freedesktop.DBus.GetConnectionUnixProcessID", 0, sender).Store(&pid)
	if err != nil {
		slog.Debug("could not resolve sender PID", "sender", sender, "error", err)
		return ""
	}
	comm, invokerPID := procutil.Invoker(pid)
	if comm == "" {
		return fmt.Sprintf("pid %d", pid)
	}
	return fmt.Sprintf("%s [%d]", comm, invokerPID)
}
