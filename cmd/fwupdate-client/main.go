// fwupdate-client is a debug client for the firmware update manager. It
// registers on the bus, runs one operation, and prints the broadcast
// signals until the operation reaches a terminal state.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/rdkcentral/rdkfwupdatemgr/internal/busapi"
)

const clientVersion = "1.0.0"

func main() {
	var (
		busAddress  = flag.String("bus-address", "", "D-Bus address to connect to (default: system bus)")
		processName = flag.String("name", "fwupdate-client", "Process name to register under")
		timeout     = flag.Duration("timeout", 10*time.Minute, "Give up waiting for a terminal signal after this long")
		reboot      = flag.Bool("reboot", false, "update: reboot immediately after flashing")
	)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	conn, err := connect(*busAddress)
	if err != nil {
		fatalf("connect to bus: %v", err)
	}
	defer conn.Close()

	c := &client{
		conn:    conn,
		obj:     conn.Object(busapi.BusName, busapi.ObjectPath),
		timeout: *timeout,
	}
	if err := c.subscribe(); err != nil {
		fatalf("subscribe to signals: %v", err)
	}
	if err := c.register(*processName); err != nil {
		fatalf("register: %v", err)
	}
	defer c.unregister()

	switch cmd := flag.Arg(0); cmd {
	case "check":
		err = c.check()
	case "download":
		if flag.NArg() < 4 {
			fatalf("usage: download <firmware-name> <url> <type>")
		}
		err = c.download(flag.Arg(1), flag.Arg(2), flag.Arg(3))
	case "update":
		if flag.NArg() < 4 {
			fatalf("usage: update <firmware-name> <type> <location>")
		}
		err = c.update(flag.Arg(1), flag.Arg(2), flag.Arg(3), *reboot)
	default:
		fatalf("unknown command: %s", cmd)
	}
	if err != nil {
		fatalf("%v", err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: fwupdate-client [options] <command> [args]

Commands:
  check                                  Ask whether a firmware update is available
  download <firmware-name> <url> <type>  Download a firmware image (type: PCI, PDRI, PERIPHERAL)
  update <firmware-name> <type> <location>  Flash a previously downloaded image

Options:
`)
	flag.PrintDefaults()
}

func connect(address string) (*dbus.Conn, error) {
	if address == "" {
		return dbus.ConnectSystemBus()
	}
	return dbus.Connect(address)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

type client struct {
	conn    *dbus.Conn
	obj     dbus.BusObject
	handle  uint64
	signals chan *dbus.Signal
	timeout time.Duration
}

func (c *client) subscribe() error {
	if err := c.conn.AddMatchSignal(
		dbus.WithMatchInterface(busapi.Interface),
		dbus.WithMatchObjectPath(busapi.ObjectPath),
	); err != nil {
		return err
	}
	c.signals = make(chan *dbus.Signal, 16)
	c.conn.Signal(c.signals)
	return nil
}

func (c *client) register(name string) error {
	if err := c.obj.Call(busapi.Interface+".RegisterProcess", 0, name, clientVersion).Store(&c.handle); err != nil {
		return err
	}
	fmt.Printf("registered %q, handle %d\n", name, c.handle)
	return nil
}

func (c *client) unregister() {
	var found bool
	if err := c.obj.Call(busapi.Interface+".UnregisterProcess", 0, c.handle).Store(&found); err != nil {
		fmt.Fprintf(os.Stderr, "warning: unregister: %v\n", err)
	}
}

func (c *client) handleStr() string {
	return fmt.Sprintf("%d", c.handle)
}

func (c *client) check() error {
	var (
		current, available, details, status string
		code                                int32
	)
	err := c.obj.Call(busapi.Interface+".CheckForUpdate", 0, c.handleStr()).
		Store(&current, &available, &details, &status, &code)
	if err != nil {
		return err
	}
	fmt.Printf("reply: code=%d current=%q available=%q status=%q\n", code, current, available, status)
	if code != busapi.UpdateError {
		// Answered from cache; the reply already carries the result.
		return nil
	}
	return c.wait(func(sig *dbus.Signal) (bool, error) {
		if member(sig) != busapi.SignalCheckForUpdateComplete || !mine(sig, c.handle) {
			return false, nil
		}
		fmt.Printf("CheckForUpdateComplete: code=%v current=%v available=%v details=%v status=%v\n",
			sig.Body[1], sig.Body[2], sig.Body[3], sig.Body[4], sig.Body[5])
		return true, nil
	})
}

func (c *client) download(name, url, fwType string) error {
	var result, status, message string
	err := c.obj.Call(busapi.Interface+".DownloadFirmware", 0, c.handleStr(), name, url, fwType).
		Store(&result, &status, &message)
	if err != nil {
		return err
	}
	fmt.Printf("reply: result=%q status=%q message=%q\n", result, status, message)
	if result == busapi.DownloadResultFailed {
		return fmt.Errorf("download rejected: %s", message)
	}
	return c.wait(func(sig *dbus.Signal) (bool, error) {
		if !mine(sig, c.handle) {
			return false, nil
		}
		switch member(sig) {
		case busapi.SignalDownloadProgress:
			fmt.Printf("DownloadProgress: firmware=%v percent=%v status=%v message=%v\n",
				sig.Body[1], sig.Body[2], sig.Body[3], sig.Body[4])
			return sig.Body[3] == busapi.StatusCompleted, nil
		case busapi.SignalDownloadError:
			return true, fmt.Errorf("download failed: status=%v message=%v", sig.Body[2], sig.Body[3])
		}
		return false, nil
	})
}

func (c *client) update(name, fwType, location string, reboot bool) error {
	var result, status, message string
	err := c.obj.Call(busapi.Interface+".UpdateFirmware", 0, c.handleStr(), name, fwType, location, reboot).
		Store(&result, &status, &message)
	if err != nil {
		return err
	}
	fmt.Printf("reply: result=%q status=%q message=%q\n", result, status, message)
	if result == busapi.UpdateResultFailed {
		return fmt.Errorf("update rejected: %s", message)
	}
	return c.wait(func(sig *dbus.Signal) (bool, error) {
		if member(sig) != busapi.SignalUpdateProgress || !mine(sig, c.handle) {
			return false, nil
		}
		fmt.Printf("UpdateProgress: firmware=%v percent=%v status=%v message=%v\n",
			sig.Body[1], sig.Body[2], sig.Body[3], sig.Body[4])
		switch sig.Body[3] {
		case busapi.FlashStatusCompleted:
			return true, nil
		case busapi.FlashStatusError:
			return true, fmt.Errorf("flash failed: %v", sig.Body[4])
		}
		return false, nil
	})
}

// wait feeds broadcast signals to done until it reports a terminal state.
func (c *client) wait(done func(*dbus.Signal) (bool, error)) error {
	deadline := time.After(c.timeout)
	for {
		select {
		case sig, ok := <-c.signals:
			if !ok {
				return fmt.Errorf("bus connection closed")
			}
			terminal, err := done(sig)
			if terminal {
				return err
			}
		case <-deadline:
			return fmt.Errorf("timed out after %s waiting for completion", c.timeout)
		}
	}
}

func member(sig *dbus.Signal) string {
	if i := strings.LastIndexByte(sig.Name, '.'); i >= 0 {
		return sig.Name[i+1:]
	}
	return sig.Name
}

func mine(sig *dbus.Signal, handle uint64) bool {
	if len(sig.Body) == 0 {
		return false
	}
	id, ok := sig.Body[0].(uint64)
	return ok && id == handle
}
