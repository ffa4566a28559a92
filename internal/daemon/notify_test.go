package daemon_test

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rdkcentral/rdkfwupdatemgr/internal/daemon"
)

// TestSdNotify_NoSocket verifies SdNotify is a silent no-op when NOTIFY_SOCKET is unset.
func TestSdNotify_NoSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	// Must not panic or error.
	daemon.SdNotify("READY=1")
}

// TestSdNotify_WithSocket verifies SdNotify sends the state string to the socket.
func TestSdNotify_WithSocket(t *testing.T) {
	tmpDir := t.TempDir()
	sockPath := filepath.Join(tmpDir, "notify.sock")

	// Create a Unix datagram listener.
	ln, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Net: "unixgram", Name: sockPath})
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	t.Setenv("NOTIFY_SOCKET", sockPath)
	daemon.SdNotify("READY=1")

	// Read what was sent.
	buf := make([]byte, 128)
	ln.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	n, err := ln.Read(buf)
	if err != nil {
		t.Fatalf("read from socket: %v", err)
	}
	got := string(buf[:n])
	if got != "READY=1" {
		t.Errorf("SdNotify sent %q, want %q", got, "READY=1")
	}
}
