// Package procutil resolves the program behind a bus caller by walking the
// Linux process tree via /proc. The bus only hands out a PID; the comm name
// and ancestry make audit log entries attributable to an actual application.
package procutil

import (
	"fmt"
	"os"
	"strings"
)

// shells is the set of known shell process names to skip when walking up
// the process tree to find the user-facing invoker.
var shells = map[string]bool{
	"sh": true, "bash": true, "zsh": true, "fish": true,
	"dash": true, "csh": true, "tcsh": true, "ksh": true,
}

// IsShell reports whether the given comm name is a known shell.
func IsShell(comm string) bool {
	return shells[comm]
}

// Comm reads the process name from /proc/<pid>/comm.
// Returns empty string on error.
func Comm(pid uint32) string {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// PPID reads the parent PID from /proc/<pid>/stat.
// Returns 0 on any error.
func PPID(pid uint32) uint32 {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0
	}
	// Format: "pid (comm) state ppid ..." — comm may contain spaces, so
	// parse after the closing paren.
	s := string(data)
	i := strings.LastIndexByte(s, ')')
	if i < 0 || i+2 >= len(s) {
		return 0
	}
	fields := strings.Fields(s[i+2:])
	if len(fields) < 2 {
		return 0
	}
	var ppid uint32
	fmt.Sscanf(fields[1], "%d", &ppid)
	return ppid
}

// Invoker walks from pid up toward init, skipping shell processes, to find
// the user-facing program. Returns the invoker's comm name and PID, or
// ("", 0) if /proc is unreadable.
func Invoker(pid uint32) (string, uint32) {
	comm := Comm(pid)
	if comm == "" {
		return "", 0
	}
	if !IsShell(comm) {
		return comm, pid
	}

	for p := PPID(pid); p > 1; p = PPID(p) {
		c := Comm(p)
		if c == "" {
			break
		}
		if !IsShell(c) {
			return c, p
		}
	}

	// All ancestors are shells; settle for the original process.
	return comm, pid
}
