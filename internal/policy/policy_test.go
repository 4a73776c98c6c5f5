package policy

import (
	"math/rand"
	"testing"
)

func TestParseMode(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"accept", true},
		{"bounce", true},
		{"random", true},
		{"accept_delay", true},
		{"bounce_delay", true},
		{"random_delay", true},
		{"offline", true},
		{"Accept", false},
		{"", false},
		{"bogus", false},
	}
	for _, c := range cases {
		_, ok := ParseMode(c.in)
		if ok != c.ok {
			t.Errorf("ParseMode(%q) ok = %v, want %v", c.in, ok, c.ok)
		}
	}
}

func TestDecideAccept(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	r := Decide(ModeAccept, rng)
	if r.Code != 250 {
		t.Errorf("ModeAccept decided %d, want 250", r.Code)
	}
}

func TestDecideBounceIsAlwaysOneOfTheTenCodes(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	valid := map[int]bool{}
	for _, bc := range BounceCodes() {
		valid[bc.Code] = true
	}
	for i := 0; i < 200; i++ {
		r := Decide(ModeBounce, rng)
		if !valid[r.Code] {
			t.Fatalf("ModeBounce decided %d, not in the fixed bounce code set", r.Code)
		}
	}
}

func TestDecideBounceDelaySameCodesAsBounce(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	valid := map[int]bool{}
	for _, bc := range BounceCodes() {
		valid[bc.Code] = true
	}
	for i := 0; i < 50; i++ {
		r := Decide(ModeBounceDelay, rng)
		if !valid[r.Code] {
			t.Fatalf("ModeBounceDelay decided %d, not in the fixed bounce code set", r.Code)
		}
	}
}

func TestDecideRandomSeesBothOutcomes(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	sawAccept, sawBounce := false, false
	for i := 0; i < 200 && !(sawAccept && sawBounce); i++ {
		r := Decide(ModeRandom, rng)
		if r.Code == 250 {
			sawAccept = true
		} else {
			sawBounce = true
		}
	}
	if !sawAccept || !sawBounce {
		t.Fatalf("ModeRandom over 200 draws: sawAccept=%v sawBounce=%v", sawAccept, sawBounce)
	}
}

func TestReplyLine(t *testing.T) {
	accept := Reply{250, acceptText}
	if got := accept.Line("deadbeef"); got != "250 OK: queued as deadbeef" {
		t.Errorf("accept.Line = %q", got)
	}

	bounce := Reply{550, "Requested action not taken: mailbox unavailable"}
	if got := bounce.Line("deadbeef"); got != "550 Requested action not taken: mailbox unavailable" {
		t.Errorf("bounce.Line = %q", got)
	}
}
