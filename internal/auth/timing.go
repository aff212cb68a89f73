package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig sets the minimum duration of a failed credential check.
type TimingConfig struct {
	BaseDelayMs    int
	RandomDelayMs  int  // jitter added on top of the base
	DelayOnSuccess bool // also pad successful attempts
}

// TimingDelay pads credential checks so that unknown accounts, wrong
// passwords and locked accounts answer in similar time.
type TimingDelay struct {
	config TimingConfig
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config}
}

// cryptoRandIntn returns a random number in [0, max).
func cryptoRandIntn(max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint64(b[:]) % uint64(max)), nil
}

func (td *TimingDelay) target() time.Duration {
	d := time.Duration(td.config.BaseDelayMs) * time.Millisecond
	if td.config.RandomDelayMs > 0 {
		if n, err := cryptoRandIntn(td.config.RandomDelayMs); err == nil {
			d += time.Duration(n) * time.Millisecond
		}
	}
	return d
}

// WaitFrom blocks until at least the configured delay has passed since
// start. It returns early if ctx is done. A nil TimingDelay never waits.
func (td *TimingDelay) WaitFrom(ctx context.Context, start time.Time, success bool) {
	if td == nil || (success && !td.config.DelayOnSuccess) {
		return
	}

	remaining := td.target() - time.Since(start)
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
