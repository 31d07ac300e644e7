package sync

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/lightera/checkin-station/internal/logging"
	"github.com/lightera/checkin-station/internal/models"
)

// Mode overrides connectivity detection.
type Mode int32

const (
	ModeAuto Mode = iota // Probe the server
	ModeForceOnline
	ModeForceOffline // Operator switched the station to offline mode
)

// String returns the mode name used in API responses.
func (m Mode) String() string {
	switch m {
	case ModeForceOnline:
		return "online"
	case ModeForceOffline:
		return "offline"
	default:
		return "auto"
	}
}

// ParseMode converts an API/config string to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "auto", "":
		return ModeAuto, true
	case "online":
		return ModeForceOnline, true
	case "offline":
		return ModeForceOffline, true
	}
	return ModeAuto, false
}

// HealthProber is implemented by Client.
type HealthProber interface {
	Health(ctx context.Context) (*models.HealthStatus, error)
}

const onlineKey = "online"

// Connectivity answers "is the check-in server reachable" from a cached
// health probe.
type Connectivity struct {
	prober       HealthProber
	probeTimeout time.Duration
	results      *cache.Cache
	mode         atomic.Int32
}

// NewConnectivity creates a checker whose probe result is reused for ttl.
func NewConnectivity(prober HealthProber, ttl, probeTimeout time.Duration) *Connectivity {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if probeTimeout <= 0 {
		probeTimeout = 3 * time.Second
	}
	return &Connectivity{
		prober:       prober,
		probeTimeout: probeTimeout,
		results:      cache.New(ttl, 2*ttl),
	}
}

// IsOnline reports whether the server is reachable, probing only when the
// cached answer has expired.
func (c *Connectivity) IsOnline(ctx context.Context) bool {
	switch c.Mode() {
	case ModeForceOnline:
		return true
	case ModeForceOffline:
		return false
	}

	if cached, found := c.results.Get(onlineKey); found {
		return cached.(bool)
	}
	return c.Refresh(ctx)
}

// Refresh probes the server now and caches the answer.
func (c *Connectivity) Refresh(ctx context.Context) bool {
	switch c.Mode() {
	case ModeForceOnline:
		return true
	case ModeForceOffline:
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	health, err := c.prober.Health(probeCtx)
	online := err == nil && health != nil && health.Status == "ok"
	if err != nil {
		logging.Debug("Connectivity probe failed", map[string]interface{}{"error": err.Error()})
	}

	c.results.Set(onlineKey, online, cache.DefaultExpiration)
	return online
}

// Invalidate drops the cached answer so the next IsOnline probes again.
// Callers use it after a request fails at the transport level.
func (c *Connectivity) Invalidate() {
	c.results.Delete(onlineKey)
}

// SetMode switches between probing and a forced state.
func (c *Connectivity) SetMode(mode Mode) {
	old := Mode(c.mode.Swap(int32(mode)))
	if old != mode {
		c.Invalidate()
		logging.Info("Connectivity mode changed", map[string]interface{}{
			"from": old.String(),
			"to":   mode.String(),
		})
	}
}

// Mode returns the current connectivity mode.
func (c *Connectivity) Mode() Mode {
	return Mode(c.mode.Load())
}
