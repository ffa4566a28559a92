// Package busapi provides D-Bus type definitions for the firmware update
// manager interface.
package busapi

import "github.com/godbus/dbus/v5"

// D-Bus identity of the firmware update manager daemon.
const (
	BusName    = "org.rdkfwupdater.Service"
	ObjectPath = dbus.ObjectPath("/org/rdkfwupdater/Service")
	Interface  = "org.rdkfwupdater.Interface"
)

// Broadcast signal members emitted under Interface.
const (
	SignalCheckForUpdateComplete = "CheckForUpdateComplete"
	SignalDownloadProgress       = "DownloadProgress"
	SignalDownloadError          = "DownloadError"
	SignalUpdateProgress         = "UpdateProgress"
)

// CheckForUpdate result codes.
const (
	UpdateAvailable    int32 = 0
	UpdateNotAvailable int32 = 1
	UpdateError        int32 = 2
)

// Flash status codes carried by the UpdateProgress signal.
const (
	FlashStatusInProgress int32 = 0
	FlashStatusCompleted  int32 = 1
	FlashStatusError      int32 = 2
)

// Result tags returned by DownloadFirmware and UpdateFirmware.
const (
	DownloadResultSuccess = "RDKFW_DWNL_SUCCESS"
	DownloadResultFailed  = "RDKFW_DWNL_FAILED"
	UpdateResultSuccess   = "RDKFW_UPDATE_SUCCESS"
	UpdateResultFailed    = "RDKFW_UPDATE_FAILED"
)

// Status tags carried in method replies and progress signals.
const (
	StatusInProgress      = "INPROGRESS"
	StatusCompleted       = "COMPLETED"
	StatusDownloadError   = "DWNL_ERROR"
	StatusValidationError = "VALIDATION_ERROR"
)

// Firmware types accepted by DownloadFirmware and UpdateFirmware.
const (
	FirmwareTypePCI        = "PCI"
	FirmwareTypePDRI       = "PDRI"
	FirmwareTypePeripheral = "PERIPHERAL"
)

// Error names used for synchronous rejections at the bus boundary.
const (
	ErrInvalidArgs    = "org.freedesktop.DBus.Error.InvalidArgs"
	ErrAccessDenied   = "org.freedesktop.DBus.Error.AccessDenied"
	ErrLimitsExceeded = "org.freedesktop.DBus.Error.LimitsExceeded"
	ErrFailed         = "org.freedesktop.DBus.Error.Failed"
)

// NewDBusError creates a D-Bus error with the given name and message.
func NewDBusError(name, message string) *dbus.Error {
	return &dbus.Error{
		Name: name,
		Body: []interface{}{message},
	}
}

// ErrInvalidHandle returns an InvalidArgs error for a malformed handle.
func ErrInvalidHandle(handle string) *dbus.Error {
	return NewDBusError(ErrInvalidArgs, "Invalid handle "+handle)
}

// ErrNotRegistered returns an AccessDenied error for an unknown handle.
func ErrNotRegistered(handle string) *dbus.Error {
	return NewDBusError(ErrAccessDenied, "Handler "+handle+" not registered. Call RegisterProcess first.")
}

// ErrRegistrationConflict returns a LimitsExceeded error with the given
// conflict-specific message.
func ErrRegistrationConflict(message string) *dbus.Error {
	return NewDBusError(ErrLimitsExceeded, message)
}
