package supervisor

import (
	"os"
	"os/exec"
	"testing"
)

func TestDropPrivilegesNoopWithoutUserOrGroup(t *testing.T) {
	if err := dropPrivileges("", ""); err != nil {
		t.Fatalf("dropPrivileges(\"\", \"\"): %v", err)
	}
}

func TestDropPrivilegesUnknownUserErrors(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("privilege drop only meaningfully testable running as root")
	}
	if err := dropPrivileges("blackhole-nonexistent-test-user", ""); err == nil {
		t.Fatalf("expected error looking up a nonexistent user")
	}
}

func TestRemoveCmdLocked(t *testing.T) {
	s := &Supervisor{}
	a, b, c := exec.Command("true"), exec.Command("true"), exec.Command("true")
	s.cmds = []*exec.Cmd{a, b, c}
	s.removeCmdLocked(b)
	if len(s.cmds) != 2 {
		t.Fatalf("expected 2 remaining cmds, got %d", len(s.cmds))
	}
	for _, cmd := range s.cmds {
		if cmd == b {
			t.Fatalf("removed cmd is still present")
		}
	}
}
