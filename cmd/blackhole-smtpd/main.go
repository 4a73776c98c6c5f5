// blackhole-smtpd is an SMTP sink: it accepts connections according to
// configured response modes (accept, bounce, random, offline, with
// optional delay) and never delivers or stores mail.
//
// See https://github.com/wildernesstechie/blackhole for more details.
package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"syscall"
	"time"

	"blitiri.com.ar/go/log"

	"github.com/wildernesstechie/blackhole/internal/config"
	"github.com/wildernesstechie/blackhole/internal/listener"
	"github.com/wildernesstechie/blackhole/internal/monitor"
	"github.com/wildernesstechie/blackhole/internal/procsock"
	"github.com/wildernesstechie/blackhole/internal/supervisor"
	"github.com/wildernesstechie/blackhole/internal/worker"
)

// Exit codes, matching the BSD sysexits.h convention chasquid also follows.
const (
	exitOK      = 0
	exitUsage   = 64
	exitConfErr = 78
)

var (
	configPath  = flag.String("c", "/etc/blackhole/blackhole.conf", "path to configuration file")
	testConfig  = flag.Bool("t", false, "test the configuration and exit")
	foreground  = flag.Bool("b", false, "run in the foreground (do not daemonize)")
	daemonize   = flag.Bool("d", false, "daemonize (fork to background)")
	showVer     = flag.Bool("v", false, "show version and exit")
	listCiphers = flag.Bool("l", false, "list TLS ciphers and protocols and exit")
)

var version = "undefined"

func main() {
	flag.Parse()
	log.Init()

	if *showVer {
		fmt.Printf("blackhole-smtpd %s\n", version)
		os.Exit(exitOK)
	}

	if *listCiphers {
		printCiphers()
		os.Exit(exitOK)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config %s: %v\n", *configPath, err)
		os.Exit(exitConfErr)
	}

	if *testConfig {
		config.LogConfig(cfg)
		fmt.Println("configuration OK")
		os.Exit(exitOK)
	}

	config.LogConfig(cfg)

	if os.Getenv(supervisor.WorkerEnv) == "1" {
		runWorker(cfg)
		return
	}

	// -d (daemonize) is honored by re-executing this binary in a new session
	// (see daemonizeSelf); -b (foreground) is the default absent -d, same
	// as chasquid's own flag pair.
	if *daemonize && !*foreground {
		daemonizeSelf()
	}

	selfPath, err := os.Executable()
	if err != nil {
		log.Fatalf("cannot determine own executable path: %v", err)
	}

	if cfg.MonitorAddress != "" {
		go monitor.Serve(cfg)
	}

	sv := supervisor.New(cfg, *configPath, selfPath)
	if err := sv.Run(); err != nil {
		log.Fatalf("supervisor exited with error: %v", err)
	}
}

// runWorker is the code path taken by a process forked by the supervisor:
// it reconstructs its listeners from the inherited file descriptors, loads
// its own copy of the TLS material (a *tls.Config cannot cross exec), and
// serves sessions until told to drain.
func runWorker(cfg *config.Config) {
	inherited, err := procsock.Inherited()
	if err != nil {
		log.Fatalf("reconstructing inherited listeners: %v", err)
	}

	tlsConfig, err := loadTLSConfig(cfg)
	if err != nil {
		log.Fatalf("loading TLS material: %v", err)
	}

	specs := make([]config.Listener, len(cfg.Listeners))
	copy(specs, cfg.Listeners)

	ls, err := listener.Rebind(inherited, specs, tlsConfig)
	if err != nil {
		log.Fatalf("rebinding inherited listeners: %v", err)
	}

	worker.Run(cfg, ls, tlsConfig, shutdownGrace(cfg))
}

// shutdownGrace bounds how long a worker waits for in-flight sessions to
// finish after a drain signal. It follows the configured idle timeout,
// since that's the longest a well-behaved session should need; timeout=0
// (disabled) falls back to a fixed grace period instead of an instant cut.
func shutdownGrace(cfg *config.Config) time.Duration {
	if cfg.Timeout <= 0 {
		return 30 * time.Second
	}
	return cfg.Timeout
}

// loadTLSConfig builds the *tls.Config shared read-only by every Session
// on a worker, if any listener needs TLS. tls_dhparams is accepted as a
// configuration key for compatibility with the legacy format but has no
// effect: crypto/tls negotiates ECDHE automatically and exposes no
// equivalent of OpenSSL's static DH parameter files.
func loadTLSConfig(cfg *config.Config) (*tls.Config, error) {
	needsTLS := false
	for _, l := range cfg.Listeners {
		if l.TLS {
			needsTLS = true
			break
		}
	}
	if cfg.StartTLSOnPlain {
		needsTLS = true
	}
	if !needsTLS {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
	if err != nil {
		return nil, fmt.Errorf("loading cert/key: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// printCiphers lists the cipher suites and protocol versions the running
// Go toolchain's crypto/tls will negotiate.
func printCiphers() {
	fmt.Println("protocols: TLS-1.2, TLS-1.3")
	fmt.Println("cipher suites:")
	for _, cs := range tls.CipherSuites() {
		fmt.Printf("  %s\n", cs.Name)
	}
	fmt.Println("insecure (disabled by default):")
	for _, cs := range tls.InsecureCipherSuites() {
		fmt.Printf("  %s\n", cs.Name)
	}
}

// daemonizeSelf re-execs the current process detached from the controlling
// terminal and exits the parent, the same double-fork-free approach
// chasquid's packaging relies on its init system for; here it is done
// in-process since the sink has no service manager dependency.
func daemonizeSelf() {
	exe, err := os.Executable()
	if err != nil {
		log.Fatalf("cannot daemonize: %v", err)
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		log.Fatalf("cannot daemonize: %v", err)
	}

	args := append([]string{}, os.Args[1:]...)
	args = append(args, "-b")

	proc, err := os.StartProcess(exe, append([]string{exe}, args...), &os.ProcAttr{
		Files: []*os.File{devNull, devNull, devNull},
		Env:   os.Environ(),
		Sys:   &syscall.SysProcAttr{Setsid: true},
	})
	if err != nil {
		log.Fatalf("cannot daemonize: %v", err)
	}

	fmt.Printf("blackhole-smtpd daemonized, pid %d\n", proc.Pid)
	os.Exit(exitOK)
}
