// Package policy implements the response policy: the pure function that
// decides, for a given response mode and a per-session source of
// randomness, what SMTP reply a message gets once its DATA phase has
// completed.
package policy

import (
	"fmt"
	"math/rand"
)

// Mode is the response mode a listener (or, for a single message, a
// dynamic-switch header) can be configured with.
type Mode string

// The seven response modes recognised throughout the system.
const (
	ModeAccept      Mode = "accept"
	ModeBounce      Mode = "bounce"
	ModeRandom      Mode = "random"
	ModeAcceptDelay Mode = "accept_delay"
	ModeBounceDelay Mode = "bounce_delay"
	ModeRandomDelay Mode = "random_delay"
	ModeOffline     Mode = "offline"
)

var validModes = map[Mode]bool{
	ModeAccept: true, ModeBounce: true, ModeRandom: true,
	ModeAcceptDelay: true, ModeBounceDelay: true, ModeRandomDelay: true,
	ModeOffline: true,
}

// ParseMode returns the Mode for s if it is one of the recognised variant
// names, and whether it was recognised at all. Matching is exact (not
// case-folded): the configuration format and the dynamic-switch header
// both spell modes in lower_snake_case.
func ParseMode(s string) (Mode, bool) {
	m := Mode(s)
	return m, validModes[m]
}

// base strips the "_delay" suffix some mode names carry, since the delay
// itself is tracked as a separate axis (ListenerSpec.Delay / the
// X-Blackhole-Delay override) and doesn't change which reply code a mode
// resolves to.
func (m Mode) base() Mode {
	switch m {
	case ModeAcceptDelay:
		return ModeAccept
	case ModeBounceDelay:
		return ModeBounce
	case ModeRandomDelay:
		return ModeRandom
	default:
		return m
	}
}

// BounceCode pairs one of the ten fixed bounce codes with its canonical
// reply text.
type BounceCode struct {
	Code int
	Text string
}

// bounceCodes is the fixed set of codes bounce mode selects from uniformly.
var bounceCodes = []BounceCode{
	{450, "Requested mail action not taken: mailbox unavailable"},
	{451, "Requested action aborted: local error in processing"},
	{452, "Requested action not taken: insufficient system storage"},
	{458, "Unable to queue mail for this recipient"},
	{521, "Host does not accept mail"},
	{550, "Requested action not taken: mailbox unavailable"},
	{551, "User not local; please try forwarding"},
	{552, "Requested mail action aborted: exceeded storage allocation"},
	{553, "Requested action not taken: mailbox name not allowed"},
	{571, "Delivery not authorized, message refused"},
}

// BounceCodes returns a copy of the fixed bounce code set, in the order
// used for deterministic tests.
func BounceCodes() []BounceCode {
	cp := make([]BounceCode, len(bounceCodes))
	copy(cp, bounceCodes)
	return cp
}

// Reply is a resolved response: either the accept code (250) or one of the
// ten bounce codes, with its canonical text.
type Reply struct {
	Code int
	Text string
}

// acceptText is used both standalone and as the base of the "queued as"
// line; kept separate so AcceptLine can append the message ID.
const acceptText = "OK"

// Decide resolves mode (already any dynamic-switch override applied) to a
// single reply, drawing from rng as needed. rng must be the session's own
// RNG: sharing one across sessions would let one client's history
// influence another's code distribution.
func Decide(mode Mode, rng *rand.Rand) Reply {
	switch mode.base() {
	case ModeBounce:
		return bounceReply(rng)
	case ModeRandom:
		if rng.Intn(2) == 0 {
			return Reply{250, acceptText}
		}
		return bounceReply(rng)
	case ModeOffline:
		// The offline mode closes the connection right after the banner and
		// never reaches DATA; Decide is not called for it. Treat it the same
		// as accept if it's ever reached, rather than panic on a
		// configuration mistake.
		return Reply{250, acceptText}
	default: // ModeAccept and any unrecognised value.
		return Reply{250, acceptText}
	}
}

func bounceReply(rng *rand.Rand) Reply {
	bc := bounceCodes[rng.Intn(len(bounceCodes))]
	return Reply{bc.Code, bc.Text}
}

// AcceptLine formats the final accept reply line, embedding the message ID
// queued for this delivery.
func AcceptLine(msgID string) string {
	return fmt.Sprintf("250 %s: queued as %s", acceptText, msgID)
}

// BounceLine formats a final bounce/error reply line.
func BounceLine(code int, text string) string {
	return fmt.Sprintf("%d %s", code, text)
}

// Line formats whatever Reply Decide returned into the final wire line. For
// the accept code it needs the message ID; for a bounce code the ID is
// irrelevant and ignored.
func (r Reply) Line(msgID string) string {
	if r.Code == 250 {
		return AcceptLine(msgID)
	}
	return BounceLine(r.Code, r.Text)
}
