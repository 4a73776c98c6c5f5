// blackhole-ctl is an operator utility for inspecting a blackhole-smtpd
// configuration file without starting the daemon.
package main

import (
	"fmt"
	"os"

	"github.com/docopt/docopt-go"

	"github.com/wildernesstechie/blackhole/internal/config"
)

const usage = `blackhole-ctl: inspect a blackhole-smtpd configuration.

Usage:
  blackhole-ctl check-config <path>
  blackhole-ctl list-listeners <path>
  blackhole-ctl -h | --help

Commands:
  check-config    Load and validate the configuration file, report errors.
  list-listeners  Print the resolved address/family/mode/delay/tls table.

Options:
  -h, --help  Show this help.
`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], "blackhole-ctl")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(64)
	}

	path, _ := opts.String("<path>")

	switch {
	case mustBool(opts, "check-config"):
		checkConfig(path)
	case mustBool(opts, "list-listeners"):
		listListeners(path)
	}
}

func mustBool(opts docopt.Opts, key string) bool {
	v, err := opts.Bool(key)
	if err != nil {
		return false
	}
	return v
}

func checkConfig(path string) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(78)
	}
	fmt.Printf("%s: OK (%d listener(s), %d worker(s))\n", path, len(cfg.Listeners), cfg.Workers)
}

func listListeners(path string) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(78)
	}

	fmt.Printf("%-25s %-6s %-4s %-15s %s\n", "ADDRESS", "FAMILY", "TLS", "MODE", "DELAY")
	for _, l := range cfg.Listeners {
		mode := cfg.EffectiveMode(l)
		delay := cfg.EffectiveDelay(l)
		fmt.Printf("%-25s %-6s %-4v %-15s %s\n",
			l.Addr(), l.Family, l.TLS, mode, delayString(delay))
	}
}

func delayString(d config.DelayRange) string {
	if d.Zero() {
		return "0"
	}
	if d.Lo == d.Hi {
		return fmt.Sprintf("%s", d.Lo)
	}
	return fmt.Sprintf("%s-%s", d.Lo, d.Hi)
}
