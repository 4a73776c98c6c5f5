// Package maillog implements a log specifically for the messages that pass
// through the sink, separate from the operational logging in
// blitiri.com.ar/go/log.
package maillog

import (
	"fmt"
	"io"
	"io/ioutil"
	"log/syslog"
	"net"
	"sync"
	"time"

	"blitiri.com.ar/go/log"

	"github.com/wildernesstechie/blackhole/internal/trace"
)

// Global event log, visible on the monitoring server's /debug/events.
var sessionLog = trace.NewEventLog("Session", "Incoming SMTP")

// A writer that prepends timing information.
type timedWriter struct {
	w io.Writer
}

func (t timedWriter) Write(b []byte) (int, error) {
	fmt.Fprintf(t.w, "%s  ", time.Now().Format("2006-01-02 15:04:05.000000"))
	return t.w.Write(b)
}

// Logger contains a backend used to log data to, such as a file or syslog.
type Logger struct {
	w    io.Writer
	once sync.Once
}

// New creates a new Logger which will write messages to the given writer.
func New(w io.Writer) *Logger {
	return &Logger{w: timedWriter{w}}
}

// NewSyslog creates a new Logger which will write messages to syslog.
func NewSyslog() (*Logger, error) {
	w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_MAIL, "blackhole")
	if err != nil {
		return nil, err
	}
	return &Logger{w: w}, nil
}

func (l *Logger) printf(format string, args ...interface{}) {
	_, err := fmt.Fprintf(l.w, format, args...)
	if err != nil {
		l.once.Do(func() {
			log.Errorf("failed to write to maillog: %v", err)
			log.Errorf("(will not report this again)")
		})
	}
}

// Listening logs that a listener has come up on the given address.
func (l *Logger) Listening(a string, tlsEnabled bool) {
	l.printf("listening on %s (tls=%v)\n", a, tlsEnabled)
}

// Accepted logs that a message was accepted (mode accept, or random
// resolving to accept).
func (l *Logger) Accepted(netAddr net.Addr, from string, to []string, msgID string) {
	msg := fmt.Sprintf("%s from=%s queued ip=%s to=%v\n", msgID, from, netAddr, to)
	l.printf(msg)
	sessionLog.Debugf(msg)
}

// Bounced logs that a message was rejected with the given SMTP code (mode
// bounce, or random resolving to bounce, or a hard protocol failure such as
// 552 oversize).
func (l *Logger) Bounced(netAddr net.Addr, from string, to []string, code int, text string) {
	msg := fmt.Sprintf("%d from=%s ip=%s to=%v bounced: %s\n",
		code, from, netAddr, to, text)
	l.printf(msg)
	sessionLog.Debugf(msg)
}

// Offline logs that a connection was dropped immediately, per the offline
// response mode.
func (l *Logger) Offline(netAddr net.Addr) {
	l.printf("%s offline, connection closed\n", netAddr)
}

// Timeout logs that a session was terminated for exceeding its idle timeout.
func (l *Logger) Timeout(netAddr net.Addr) {
	l.printf("%s timed out\n", netAddr)
}

// Default logger, used in the following top-level functions.
var Default = New(ioutil.Discard)

func Listening(a string, tlsEnabled bool) { Default.Listening(a, tlsEnabled) }

func Accepted(netAddr net.Addr, from string, to []string, msgID string) {
	Default.Accepted(netAddr, from, to, msgID)
}

func Bounced(netAddr net.Addr, from string, to []string, code int, text string) {
	Default.Bounced(netAddr, from, to, code, text)
}

func Offline(netAddr net.Addr) { Default.Offline(netAddr) }

func Timeout(netAddr net.Addr) { Default.Timeout(netAddr) }
