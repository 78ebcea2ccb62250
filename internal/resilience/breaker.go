package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned while a breaker is rejecting calls.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// Breaker trips after Threshold consecutive failures that occur within
// Window of each other, then rejects calls for Cooldown. The first call after
// the cooldown is a probe: success closes the breaker, failure re-opens it.
type Breaker struct {
	name      string
	threshold int
	window    time.Duration
	cooldown  time.Duration

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	openUntil   time.Time

	now func() time.Time
}

// NewBreaker creates a named breaker.
func NewBreaker(name string, threshold int, window, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Open reports whether calls are currently being rejected.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now().Before(b.openUntil)
}

// Allow returns ErrCircuitOpen while the breaker is open.
func (b *Breaker) Allow() error {
	if b.Open() {
		return ErrCircuitOpen
	}
	return nil
}

// Record feeds the outcome of a call into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		return
	}

	now := b.now()
	if b.window > 0 && now.Sub(b.lastFailure) > b.window {
		b.failures = 0
	}
	b.failures++
	b.lastFailure = now

	if b.failures >= b.threshold {
		b.openUntil = now.Add(b.cooldown)
		b.failures = 0
		zap.L().Warn("resilience: circuit breaker opened",
			zap.String("breaker", b.name),
			zap.Duration("cooldown", b.cooldown),
		)
	}
}
