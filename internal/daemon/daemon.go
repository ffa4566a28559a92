// Package daemon connects the firmware update orchestrator to the system
// D-Bus: it exports the org.rdkfwupdater.Interface methods, emits the
// progress and completion signals, and reaps registrations of clients that
// drop off the bus.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/rdkcentral/rdkfwupdatemgr/internal/busapi"
	"github.com/rdkcentral/rdkfwupdatemgr/internal/config"
	"github.com/rdkcentral/rdkfwupdatemgr/internal/firmware"
	"github.com/rdkcentral/rdkfwupdatemgr/internal/logging"
	"github.com/rdkcentral/rdkfwupdatemgr/internal/orchestrator"
	"github.com/rdkcentral/rdkfwupdatemgr/internal/xconf"
)

// Config holds daemon startup parameters.
type Config struct {
	// BusAddress is the D-Bus address to connect to. Empty means the
	// system bus (production). Non-empty connects to a custom address,
	// used by integration tests to point at a private dbus-daemon.
	BusAddress string

	// App is the daemon configuration loaded from file and flags.
	App *config.Config
}

// Run starts the daemon, registers on D-Bus, sends READY=1 via sd-notify,
// and blocks until ctx is cancelled. Returns nil on clean shutdown.
func Run(ctx context.Context, cfg Config) error {
	device, err := xconf.LoadDeviceInfo(cfg.App.Device)
	if err != nil {
		return fmt.Errorf("load device identity: %w", err)
	}
	slog.Info("device identity loaded", "model", device.Model, "firmware", device.FirmwareVersion)

	catalog := xconf.New(cfg.App.Xconf, device)
	downloader := firmware.NewDownloader(cfg.App.Download)
	flasher := firmware.NewFlasher(cfg.App.Flash, cfg.App.Download)

	var conn *dbus.Conn
	if cfg.BusAddress == "" {
		conn, err = dbus.ConnectSystemBus()
	} else {
		conn, err = dbus.Connect(cfg.BusAddress)
	}
	if err != nil {
		return fmt.Errorf("connect to D-Bus: %w", err)
	}
	defer conn.Close()

	svc := orchestrator.New(
		orchestrator.Config{
			OperationTimeout: time.Duration(cfg.App.OperationTimeout),
		},
		orchestrator.Deps{
			Checker:         catalog,
			Cache:           catalog,
			Downloader:      downloader,
			Flasher:         flasher,
			DownloadMonitor: firmware.NewMonitor(cfg.App.Download.ProgressFile),
			Broadcast:       &busBroadcaster{conn: conn},
		},
	)
	go svc.Run(ctx)

	audit := logging.NewWithLogger(slog.Default())
	server := NewServer(svc, audit, newCallerResolver(conn).Caller)
	if err := conn.Export(server, busapi.ObjectPath, busapi.Interface); err != nil {
		return fmt.Errorf("export server: %w", err)
	}

	// Always export Introspectable — without it busctl introspect gives
	// opaque errors.
	node := &introspect.Node{
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    busapi.Interface,
				Methods: introspect.Methods(server),
				Signals: signalIntrospection(),
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), busapi.ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export introspectable: %w", err)
	}

	tracker, err := newClientTracker(conn, svc.DropSender)
	if err != nil {
		return fmt.Errorf("track bus clients: %w", err)
	}
	defer tracker.close()

	reply, err := conn.RequestName(busapi.BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request bus name %q: %w", busapi.BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("not primary owner of %q (reply=%d); policy rejected or name already taken", busapi.BusName, reply)
	}

	slog.Info("daemon ready", "bus_name", busapi.BusName)
	SdNotify("READY=1")

	<-ctx.Done()

	slog.Info("daemon shutting down")
	SdNotify("STOPPING=1")
	return nil
}

// signalIntrospection describes the broadcast signals so clients can
// discover their argument shapes.
func signalIntrospection() []introspect.Signal {
	return []introspect.Signal{
		{
			Name: busapi.SignalCheckForUpdateComplete,
			Args: []introspect.Arg{
				{Name: "handler_id", Type: "t"},
				{Name: "result_code", Type: "i"},
				{Name: "current_version", Type: "s"},
				{Name: "available_version", Type: "s"},
				{Name: "update_details", Type: "s"},
				{Name: "status_message", Type: "s"},
			},
		},
		{
			Name: busapi.SignalDownloadProgress,
			Args: []introspect.Arg{
				{Name: "handler_id", Type: "t"},
				{Name: "firmware_name", Type: "s"},
				{Name: "progress_percent", Type: "i"},
				{Name: "status_tag", Type: "s"},
				{Name: "message", Type: "s"},
			},
		},
		{
			Name: busapi.SignalDownloadError,
			Args: []introspect.Arg{
				{Name: "handler_id", Type: "t"},
				{Name: "firmware_name", Type: "s"},
				{Name: "status_tag", Type: "s"},
				{Name: "error_message", Type: "s"},
			},
		},
		{
			Name: busapi.SignalUpdateProgress,
			Args: []introspect.Arg{
				{Name: "handler_id", Type: "t"},
				{Name: "firmware_name", Type: "s"},
				{Name: "progress_percent", Type: "i"},
				{Name: "status_code", Type: "i"},
				{Name: "message", Type: "s"},
			},
		},
	}
}
