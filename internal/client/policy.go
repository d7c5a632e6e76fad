package client

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is the single reconnect policy shared by every client surface
type Policy struct {
	BaseDelay    time.Duration
	CapDelay     time.Duration
	MaxAttempts  int // scheduled retries before giving up
	Multiplier   float64
	PingInterval time.Duration
}

// DefaultPolicy: 2s base, x1.5, 30s cap, 5 retries, ping every 30s
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:    2 * time.Second,
		CapDelay:     30 * time.Second,
		MaxAttempts:  5,
		Multiplier:   1.5,
		PingInterval: 30 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.CapDelay <= 0 {
		p.CapDelay = d.CapDelay
	}
	if p.CapDelay < p.BaseDelay {
		p.CapDelay = p.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	if p.PingInterval <= 0 {
		p.PingInterval = d.PingInterval
	}
	return p
}

// Delay is min(BaseDelay * Multiplier^attempt, CapDelay)
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d >= float64(p.CapDelay) || math.IsInf(d, 0) {
		return p.CapDelay
	}
	return time.Duration(d)
}

// newBackOff builds the jitter-free engine that yields Delay(0), Delay(1), ...
func (p Policy) newBackOff() *backoff.ExponentialBackOff {
	p = p.withDefaults()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.CapDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
