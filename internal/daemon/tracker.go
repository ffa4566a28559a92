package daemon

import (
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
)

// clientTracker watches NameOwnerChanged so registrations of clients that
// drop off the bus without calling UnregisterProcess are reaped.
type clientTracker struct {
	conn         *dbus.Conn
	onDisconnect func(sender string)
	signals      chan *dbus.Signal
	done         chan struct{}
	closeOnce    sync.Once
}

// newClientTracker subscribes to NameOwnerChanged and invokes onDisconnect
// with the unique sender name of every client that leaves the bus.
func newClientTracker(conn *dbus.Conn, onDisconnect func(sender string)) (*clientTracker, error) {
	t := &clientTracker{
		conn:         conn,
		onDisconnect: onDisconnect,
		signals:      make(chan *dbus.Signal, 16),
		done:         make(chan struct{}),
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchSender("org.freedesktop.DBus"),
	); err != nil {
		return nil, err
	}
	conn.Signal(t.signals)

	go t.processSignals()
	return t, nil
}

func (t *clientTracker) processSignals() {
	for {
		select {
		case <-t.done:
			return
		case signal, ok := <-t.signals:
			if !ok {
				return
			}
			if signal.Name != "org.freedesktop.DBus.NameOwnerChanged" {
				continue
			}
			// NameOwnerChanged(name, old_owner, new_owner)
			if len(signal.Body) != 3 {
				continue
			}
			name, ok1 := signal.Body[0].(string)
			oldOwner, ok2 := signal.Body[1].(string)
			newOwner, ok3 := signal.Body[2].(string)
			if !ok1 || !ok2 || !ok3 {
				continue
			}

			// A unique name losing its owner means that client is gone.
			if name != "" && name[0] == ':' && oldOwner != "" && newOwner == "" {
				slog.Debug("bus client disconnected", "sender", oldOwner)
				t.onDisconnect(oldOwner)
			}
		}
	}
}

func (t *clientTracker) close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.conn.RemoveSignal(t.signals)
	})
}
