package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sink.pid")

	if err := Write(path); err != nil {
		t.Fatalf("Write: %v", err)
	}

	pid, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if pid != os.Getpid() {
		t.Fatalf("got pid %d, want %d", pid, os.Getpid())
	}
}

func TestWriteEmptyPathIsNoop(t *testing.T) {
	if err := Write(""); err != nil {
		t.Fatalf("Write(\"\"): %v", err)
	}
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sink.pid")

	if err := Write(path); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected pidfile to be gone, stat err = %v", err)
	}
}

func TestRemoveDoesNotTouchOtherProcessesPidfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sink.pid")

	otherPid := os.Getpid() + 1
	if err := os.WriteFile(path, []byte(strconv.Itoa(otherPid)+"\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("pidfile was removed even though it belonged to another pid: %v", err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(otherPid) {
		t.Fatalf("pidfile contents changed: %q", data)
	}
}

func TestRemoveMissingFileIsNoop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.pid")
	if err := Remove(path); err != nil {
		t.Fatalf("Remove of missing pidfile: %v", err)
	}
}
