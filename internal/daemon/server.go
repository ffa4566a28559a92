package daemon

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/godbus/dbus/v5"

	"github.com/rdkcentral/rdkfwupdatemgr/internal/busapi"
	"github.com/rdkcentral/rdkfwupdatemgr/internal/logging"
	"github.com/rdkcentral/rdkfwupdatemgr/internal/orchestrator"
	"github.com/rdkcentral/rdkfwupdatemgr/internal/registry"
)

// Server is the D-Bus object exported under busapi.ObjectPath. Each method
// validates its arguments, then defers to the orchestrator, which answers
// synchronously; long-running work continues on worker goroutines and is
// reported through broadcast signals.
type Server struct {
	svc      *orchestrator.Service
	audit    *logging.Logger
	callerOf func(sender string) string
}

// NewServer creates the bus-facing Server for the given orchestrator.
// callerOf resolves a bus sender to a caller description for audit logs;
// it may be nil.
func NewServer(svc *orchestrator.Service, audit *logging.Logger, callerOf func(sender string) string) *Server {
	if audit == nil {
		audit = logging.NewWithLogger(slog.Default())
	}
	if callerOf == nil {
		callerOf = func(string) string { return "" }
	}
	return &Server{svc: svc, audit: audit, callerOf: callerOf}
}

// RegisterProcess registers the calling process under the given name and
// returns its handle. Re-registration by the same sender and name returns
// the original handle.
func (s *Server) RegisterProcess(sender dbus.Sender, processName, libVersion string) (uint64, *dbus.Error) {
	caller := s.callerOf(string(sender))
	handle, err := s.svc.Register(processName, libVersion, string(sender))
	audit := s.audit.WithSender(string(sender))
	switch {
	case err == nil:
		audit.LogRegister(context.Background(), processName, caller, handle, "ok", nil)
		return handle, nil
	case errors.Is(err, registry.ErrEmptyName):
		audit.LogRegister(context.Background(), processName, caller, 0, "rejected", err)
		return 0, busapi.NewDBusError(busapi.ErrInvalidArgs, "process name must not be empty")
	case errors.Is(err, registry.ErrSenderRegistered), errors.Is(err, registry.ErrNameClaimed):
		audit.LogRegister(context.Background(), processName, caller, 0, "conflict", err)
		return 0, busapi.ErrRegistrationConflict(err.Error())
	default:
		audit.LogRegister(context.Background(), processName, caller, 0, "error", err)
		return 0, busapi.NewDBusError(busapi.ErrFailed, err.Error())
	}
}

// UnregisterProcess removes the registration for the given handle and
// reports whether it existed. Handle 0 is never valid.
func (s *Server) UnregisterProcess(sender dbus.Sender, handle uint64) (bool, *dbus.Error) {
	if handle == 0 {
		return false, busapi.NewDBusError(busapi.ErrInvalidArgs, "handle 0 is not a valid registration")
	}
	found, err := s.svc.Unregister(handle)
	if err != nil {
		return false, busapi.NewDBusError(busapi.ErrFailed, err.Error())
	}
	if !found {
		slog.Info("unregister for unknown handle", "handle", handle, "sender", sender)
	}
	s.audit.WithSender(string(sender)).LogUnregister(context.Background(), handle, found)
	return found, nil
}

// CheckForUpdate asks the update catalog whether newer firmware exists.
// With a cached catalog answer the reply carries the real result; otherwise
// the reply is a sentinel and the result arrives via the
// CheckForUpdateComplete broadcast.
func (s *Server) CheckForUpdate(sender dbus.Sender, handle string) (string, string, string, string, int32, *dbus.Error) {
	id, derr := parseHandle(handle)
	if derr != nil {
		return "", "", "", "", 0, derr
	}
	res, err := s.svc.CheckForUpdate(id, string(sender))
	audit := s.audit.WithSender(string(sender))
	if err != nil {
		audit.LogCheckForUpdate(context.Background(), handle, 0, "error", err)
		return "", "", "", "", 0, mapOperationError(err, handle)
	}
	audit.LogCheckForUpdate(context.Background(), handle, res.Code, res.StatusText, nil)
	return res.CurrentVersion, res.AvailableVersion, res.UpdateDetails, res.StatusText, res.Code, nil
}

// DownloadFirmware starts (or joins) a firmware download. Progress and the
// terminal outcome are signal-only.
func (s *Server) DownloadFirmware(sender dbus.Sender, handle, firmwareName, downloadURL, firmwareType string) (string, string, string, *dbus.Error) {
	id, derr := parseHandle(handle)
	if derr != nil {
		return "", "", "", derr
	}
	if firmwareName == "" {
		return "", "", "", busapi.NewDBusError(busapi.ErrInvalidArgs, "firmware name must not be empty")
	}
	ack, err := s.svc.Download(id, string(sender), orchestrator.DownloadRequest{
		FirmwareName: firmwareName,
		DownloadURL:  downloadURL,
		FirmwareType: firmwareType,
	})
	audit := s.audit.WithSender(string(sender))
	if err != nil {
		audit.LogDownload(context.Background(), handle, firmwareName, "error", err)
		return "", "", "", mapOperationError(err, handle)
	}
	audit.LogDownload(context.Background(), handle, firmwareName, ack.Result, nil)
	return ack.Result, ack.Status, ack.Message, nil
}

// UpdateFirmware starts (or joins) flashing a previously downloaded image.
// Progress and the terminal outcome arrive via UpdateProgress signals.
func (s *Server) UpdateFirmware(sender dbus.Sender, handle, firmwareName, firmwareType, location string, rebootFlag bool) (string, string, string, *dbus.Error) {
	id, derr := parseHandle(handle)
	if derr != nil {
		return "", "", "", derr
	}
	if firmwareName == "" {
		return "", "", "", busapi.NewDBusError(busapi.ErrInvalidArgs, "firmware name must not be empty")
	}
	ack, err := s.svc.Flash(id, string(sender), orchestrator.FlashRequest{
		FirmwareName:    firmwareName,
		FirmwareType:    firmwareType,
		Location:        location,
		RebootImmediate: rebootFlag,
	})
	audit := s.audit.WithSender(string(sender))
	if err != nil {
		audit.LogFlash(context.Background(), handle, firmwareName, rebootFlag, "error", err)
		return "", "", "", mapOperationError(err, handle)
	}
	audit.LogFlash(context.Background(), handle, firmwareName, rebootFlag, ack.Result, nil)
	return ack.Result, ack.Status, ack.Message, nil
}

// parseHandle converts the string handle clients pass on operation calls.
// A malformed handle is an InvalidArgs error, distinct from a well-formed
// handle that is simply not registered.
func parseHandle(handle string) (uint64, *dbus.Error) {
	id, err := strconv.ParseUint(handle, 10, 64)
	if err != nil || id == 0 {
		return 0, busapi.ErrInvalidHandle(handle)
	}
	return id, nil
}

func mapOperationError(err error, handle string) *dbus.Error {
	switch {
	case errors.Is(err, orchestrator.ErrNotRegistered):
		return busapi.ErrNotRegistered(handle)
	default:
		return busapi.NewDBusError(busapi.ErrFailed, err.Error())
	}
}
