// Package envelope implements functions related to handling the SMTP
// envelope (the MAIL FROM / RCPT TO / DATA triple) and the RFC 5322 header
// block embedded in the DATA payload.
package envelope

import (
	"bufio"
	"bytes"
	"strings"
)

// Split an user@domain address into user and domain.
func Split(addr string) (string, string) {
	ps := strings.SplitN(addr, "@", 2)
	if len(ps) != 2 {
		return addr, ""
	}
	return ps[0], ps[1]
}

// Headers returns the RFC 5322 header block of a message: the lines before
// the first blank line, unfolded (continuation lines starting with
// whitespace are joined onto the header they continue).
func Headers(data []byte) []string {
	var headers []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 4096), 1<<20)

	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			break
		}
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && len(headers) > 0 {
			headers[len(headers)-1] += " " + strings.TrimSpace(line)
			continue
		}
		headers = append(headers, line)
	}
	return headers
}

// HeaderValue returns the value of the first header matching name
// (case-insensitive), and whether it was present at all.
func HeaderValue(data []byte, name string) (string, bool) {
	prefix := strings.ToLower(name) + ":"
	for _, h := range Headers(data) {
		if strings.HasPrefix(strings.ToLower(h), prefix) {
			return strings.TrimSpace(h[len(prefix):]), true
		}
	}
	return "", false
}
