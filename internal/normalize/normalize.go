// Package normalize contains functions to normalize the addresses we log
// and trace, so that two spellings of the same mailbox look the same in
// the maillog and in traces.
package normalize

import (
	"github.com/wildernesstechie/blackhole/internal/envelope"
	"golang.org/x/text/secure/precis"
)

// User normalizes a username using PRECIS.
// On error, it also returns the original username, to simplify callers.
func User(user string) (string, error) {
	norm, err := precis.UsernameCaseMapped.String(user)
	if err != nil {
		return user, err
	}
	return norm, nil
}

// Addr normalizes the local part of an email address using PRECIS, leaving
// the domain untouched. We never reject a message over this: the sink
// accepts any syntactically-plausible address, so normalization is used
// only for consistent logging, not for validation.
func Addr(addr string) (string, error) {
	user, domain := envelope.Split(addr)
	if domain == "" {
		return addr, nil
	}

	user, err := User(user)
	if err != nil {
		return addr, err
	}
	return user + "@" + domain, nil
}
