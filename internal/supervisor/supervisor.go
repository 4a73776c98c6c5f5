// Package supervisor implements the parent process: it opens every
// configured listening socket while it still has the privileges to do so,
// drops privileges, writes the pidfile, then forks one worker process per
// config.Config.Workers, handing each the already-bound sockets. It
// monitors the children, restarting any that exit non-zero with a small
// backoff, and propagates SIGTERM/SIGINT/SIGHUP.
package supervisor

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"os/user"
	"strconv"
	"sync"
	"syscall"
	"time"

	"blitiri.com.ar/go/log"

	"github.com/wildernesstechie/blackhole/internal/config"
	"github.com/wildernesstechie/blackhole/internal/listener"
	"github.com/wildernesstechie/blackhole/internal/pidfile"
	"github.com/wildernesstechie/blackhole/internal/procsock"
)

// WorkerEnv is the environment variable the supervisor sets on forked
// children to tell cmd/blackhole-smtpd to run as a worker instead of
// re-entering supervisor mode.
const WorkerEnv = "BLACKHOLE_WORKER"

// minBackoff and maxBackoff bound the delay before respawning a worker
// that exited non-zero, so a worker stuck in a fast crash loop doesn't
// spin the supervisor.
const (
	minBackoff = 1 * time.Second
	maxBackoff = 30 * time.Second
)

// Supervisor owns the bound listening sockets and the worker processes
// using them.
type Supervisor struct {
	cfg        *config.Config
	configPath string
	selfPath   string

	mu       sync.Mutex
	ls       []listener.Bound
	cmds     []*exec.Cmd
	draining bool
}

// New returns a Supervisor for cfg, which was loaded from configPath.
// selfPath is the path to re-exec as a worker (normally the running
// executable, as reported by os.Executable).
func New(cfg *config.Config, configPath, selfPath string) *Supervisor {
	return &Supervisor{cfg: cfg, configPath: configPath, selfPath: selfPath}
}

// Run opens the listeners, drops privileges, writes the pidfile, forks the
// configured number of workers, and blocks monitoring them until a
// shutdown signal is received. It always runs at least one worker, even if
// Workers is configured as 0, since a supervisor with zero live workers
// serves nothing.
func (s *Supervisor) Run() error {
	ls, err := listener.OpenRaw(s.cfg)
	if err != nil {
		return fmt.Errorf("opening listeners: %w", err)
	}
	s.ls = ls

	if err := dropPrivileges(s.cfg.User, s.cfg.Group); err != nil {
		closeAll(ls)
		return fmt.Errorf("dropping privileges: %w", err)
	}

	if err := pidfile.Write(s.cfg.PIDFile); err != nil {
		closeAll(ls)
		return fmt.Errorf("writing pidfile: %w", err)
	}
	defer pidfile.Remove(s.cfg.PIDFile)

	n := s.cfg.Workers
	if n < 1 {
		n = 1
	}

	tcpLs, err := listener.FDs(ls)
	if err != nil {
		closeAll(ls)
		return fmt.Errorf("preparing listeners for handoff: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGCHLD)

	for i := 0; i < n; i++ {
		if err := s.spawnWorker(tcpLs); err != nil {
			s.shutdown()
			return fmt.Errorf("spawning worker: %w", err)
		}
	}

	for sig := range sigCh {
		switch sig {
		case syscall.SIGTERM, syscall.SIGINT:
			log.Infof("supervisor received %v, shutting down", sig)
			s.shutdown()
			return nil
		case syscall.SIGHUP:
			log.Infof("supervisor received SIGHUP, reloading workers")
			if err := s.reload(tcpLs); err != nil {
				log.Errorf("reload failed: %v", err)
			}
		case syscall.SIGCHLD:
			s.reapAndRespawn(tcpLs)
		}
	}
	return nil
}

func (s *Supervisor) spawnWorker(ls []*net.TCPListener) error {
	cmd := exec.Command(s.selfPath, "-c", s.configPath)
	cmd.Env = append(os.Environ(), WorkerEnv+"=1")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := procsock.Inherit(cmd, ls); err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	s.mu.Lock()
	s.cmds = append(s.cmds, cmd)
	s.mu.Unlock()

	log.Infof("spawned worker pid %d", cmd.Process.Pid)
	go s.wait(cmd, ls)
	return nil
}

// wait reaps cmd and, unless the supervisor is draining, respawns a
// replacement after a backoff if the worker exited non-zero. A clean exit
// (e.g. in response to a SIGHUP reload) is replaced immediately.
func (s *Supervisor) wait(cmd *exec.Cmd, ls []*net.TCPListener) {
	err := cmd.Wait()

	s.mu.Lock()
	draining := s.draining
	s.removeCmdLocked(cmd)
	s.mu.Unlock()

	if draining {
		return
	}

	backoff := time.Duration(0)
	if err != nil {
		log.Errorf("worker pid %d exited: %v", cmd.Process.Pid, err)
		backoff = minBackoff
	} else {
		log.Infof("worker pid %d exited cleanly", cmd.Process.Pid)
	}

	for {
		time.Sleep(backoff)
		if err := s.spawnWorker(ls); err != nil {
			log.Errorf("respawning worker failed: %v", err)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			if backoff == 0 {
				backoff = minBackoff
			}
			continue
		}
		return
	}
}

func (s *Supervisor) removeCmdLocked(cmd *exec.Cmd) {
	for i, c := range s.cmds {
		if c == cmd {
			s.cmds = append(s.cmds[:i], s.cmds[i+1:]...)
			return
		}
	}
}

// reload re-reads the config from disk and replaces every running worker
// with one spawned from the new configuration. It does not attempt to
// re-open listeners: socket topology changes require a full restart.
func (s *Supervisor) reload(ls []*net.TCPListener) error {
	newCfg, err := config.Load(s.configPath)
	if err != nil {
		return fmt.Errorf("reloading config: %w", err)
	}
	s.cfg = newCfg

	s.mu.Lock()
	old := append([]*exec.Cmd(nil), s.cmds...)
	s.mu.Unlock()

	for _, cmd := range old {
		if cmd.Process != nil {
			cmd.Process.Signal(syscall.SIGTERM)
		}
	}
	return nil
}

func (s *Supervisor) reapAndRespawn(ls []*net.TCPListener) {
	// SIGCHLD is advisory here: the blocking cmd.Wait() call in each
	// worker's own goroutine (started by spawnWorker) is what actually
	// reaps and respawns. This handler exists so the signal is not left
	// unhandled and does not interrupt the main select loop.
}

func (s *Supervisor) shutdown() {
	s.mu.Lock()
	s.draining = true
	cmds := append([]*exec.Cmd(nil), s.cmds...)
	s.mu.Unlock()

	for _, cmd := range cmds {
		if cmd.Process != nil {
			cmd.Process.Signal(syscall.SIGTERM)
		}
	}
	for _, cmd := range cmds {
		cmd.Wait()
	}

	closeAll(s.ls)
}

func closeAll(ls []listener.Bound) {
	for _, l := range ls {
		l.Close()
	}
}

func dropPrivileges(userName, groupName string) error {
	if userName == "" && groupName == "" {
		return nil
	}

	if groupName != "" {
		g, err := user.LookupGroup(groupName)
		if err != nil {
			return fmt.Errorf("looking up group %q: %w", groupName, err)
		}
		gid, err := strconv.Atoi(g.Gid)
		if err != nil {
			return fmt.Errorf("invalid gid %q: %w", g.Gid, err)
		}
		if err := syscall.Setgid(gid); err != nil {
			return fmt.Errorf("setgid(%d): %w", gid, err)
		}
	}

	if userName != "" {
		u, err := user.Lookup(userName)
		if err != nil {
			return fmt.Errorf("looking up user %q: %w", userName, err)
		}
		uid, err := strconv.Atoi(u.Uid)
		if err != nil {
			return fmt.Errorf("invalid uid %q: %w", u.Uid, err)
		}
		if err := syscall.Setuid(uid); err != nil {
			return fmt.Errorf("setuid(%d): %w", uid, err)
		}
	}

	return nil
}
