// Package pidfile writes and removes the supervisor's PID file.
package pidfile

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/wildernesstechie/blackhole/internal/safeio"
)

// Write the current process's PID to path, atomically.
func Write(path string) error {
	if path == "" {
		return nil
	}
	data := []byte(strconv.Itoa(os.Getpid()) + "\n")
	return safeio.WriteFile(path, data, 0644)
}

// Remove the PID file at path, but only if it still contains our PID: this
// avoids a slow-to-exit old process clobbering a newer one's pidfile.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("pidfile %s has unexpected contents %q: %v", path, data, err)
	}
	if pid != os.Getpid() {
		return nil
	}
	return os.Remove(path)
}

// Read the PID recorded in the pidfile at path.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}
