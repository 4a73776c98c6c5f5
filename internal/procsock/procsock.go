// Package procsock passes already-bound listening sockets from the
// supervisor process to worker processes across exec, the same way
// sd_listen_fds does for systemd-activated services, but driven by the
// supervisor itself instead of an init system.
//
// The supervisor binds every configured listener (while still root, if
// needed) and then forks one worker per config.Config.Workers, handing each
// one the full set of listening sockets via os/exec.Cmd.ExtraFiles. The
// worker reconstructs net.Listeners from the inherited file descriptors
// using NumFDEnv/FirstFD, in the same order they were passed.
package procsock

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
)

// NumFDEnv is the environment variable a worker reads to learn how many
// inherited listening sockets it was handed.
const NumFDEnv = "BLACKHOLE_LISTENER_COUNT"

// FirstFD is the first file descriptor number a worker's inherited sockets
// start at. Descriptors 0, 1 and 2 are stdin/stdout/stderr; ExtraFiles
// starts immediately after stderr, same convention as sd_listen_fds.
const FirstFD = 3

// Inherit attaches ls to cmd as inherited file descriptors and sets the
// environment variable the worker uses to find them. It must be called
// before cmd.Start.
func Inherit(cmd *exec.Cmd, ls []*net.TCPListener) error {
	files := make([]*os.File, 0, len(ls))
	for _, l := range ls {
		f, err := l.File()
		if err != nil {
			return fmt.Errorf("getting fd for listener %s: %w", l.Addr(), err)
		}
		files = append(files, f)
	}

	cmd.ExtraFiles = append(cmd.ExtraFiles, files...)
	cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%d", NumFDEnv, len(files)))
	return nil
}

// Inherited reconstructs the listeners passed to this process via Inherit,
// in the same order they were handed over. It returns (nil, nil) if this
// process was not started with any inherited sockets.
func Inherited() ([]net.Listener, error) {
	nStr := os.Getenv(NumFDEnv)
	if nStr == "" {
		return nil, nil
	}

	n, err := strconv.Atoi(nStr)
	if err != nil {
		return nil, fmt.Errorf("invalid %s=%q: %w", NumFDEnv, nStr, err)
	}

	out := make([]net.Listener, 0, n)
	for i := 0; i < n; i++ {
		fd := FirstFD + i
		name := fmt.Sprintf("[inherited-fd-%d]", fd)
		f := os.NewFile(uintptr(fd), name)
		l, err := net.FileListener(f)
		if err != nil {
			return nil, fmt.Errorf("reconstructing listener from fd %d: %w", fd, err)
		}
		// FileListener dup()s the fd; close our copy of the os.File so it
		// isn't leaked, without closing the listener's own underlying fd.
		f.Close()
		out = append(out, l)
	}

	os.Unsetenv(NumFDEnv)
	return out, nil
}
