// Package backoff implements the deterministic-jitter exponential backoff
// used by the upstream clients' retry loop. Jitter is
// seeded from the call site's identifying parts instead of math/rand, so
// retry schedules are reproducible in tests.
package backoff

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// Policy describes an exponential backoff with a cap and bounded jitter.
type Policy struct {
	Base      time.Duration
	Cap       time.Duration
	JitterPct int // 0-50
}

// Delay returns the backoff delay for the given attempt (0-indexed),
// deterministic given the same parts — so retries are reproducible in
// tests instead of relying on math/rand.
func (p Policy) Delay(attempt int, parts ...any) time.Duration {
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	cap := p.Cap
	if cap <= 0 {
		cap = 60 * time.Second
	}
	jp := p.JitterPct
	if jp < 0 || jp > 50 {
		jp = 20
	}
	if attempt < 0 {
		attempt = 0
	}
	shift := attempt
	if shift > 20 {
		shift = 20
	}
	d := base * time.Duration(int64(1)<<uint(shift))
	if d > cap || d <= 0 {
		d = cap
	}
	return deterministicJitter(d, jp, append([]any{"backoff"}, parts...)...)
}

func deterministicJitter(base time.Duration, pct int, parts ...any) time.Duration {
	h := sha256.New()
	for _, p := range parts {
		_, _ = h.Write([]byte(fmt.Sprint(p)))
		_, _ = h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	u := binary.LittleEndian.Uint64(sum[:8])
	span := uint64(pct*2 + 1)
	deltaPct := int(u%span) - pct
	delta := (base * time.Duration(deltaPct)) / 100
	out := base + delta
	if out < 0 {
		return 0
	}
	return out
}
