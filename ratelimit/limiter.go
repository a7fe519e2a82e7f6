// Package ratelimit tracks failed login attempts per client IP in the shared
// cache. Best effort: the increment is a read-modify-write and may undercount
// under concurrent requests from one IP, which is acceptable for a cool-down
// window (this is not a hard security boundary).
package ratelimit

import (
	"context"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rjantos/go-session-gate/cache"
)

// Config controls the fixed-window counter. When Enabled is false every
// check is permissive and Reset is a no-op.
type Config struct {
	Enabled bool
	Max     int           // attempts allowed before 429
	Window  time.Duration // counter TTL
}

// DefaultConfig matches the historical limits: four attempts per 15 minutes.
func DefaultConfig() Config {
	return Config{Enabled: true, Max: 4, Window: 900 * time.Second}
}

// Limiter evaluates and maintains per-IP failed-attempt counters.
type Limiter struct {
	store     cache.Store
	namespace string
	config    Config
}

// New builds a Limiter. Keys are stored under <namespace>/login-attempts/<ip>.
func New(store cache.Store, namespace string, config Config) *Limiter {
	return &Limiter{store: store, namespace: namespace, config: config}
}

// TooMany reports whether the recorded count for ip has reached the maximum.
func (l *Limiter) TooMany(ctx context.Context, ip string) (bool, error) {
	if !l.config.Enabled {
		return false, nil
	}
	count, err := l.count(ctx, ip)
	if err != nil {
		return false, err
	}
	return count >= l.config.Max, nil
}

// TooManyWithIncrement records one more failed attempt and reports whether
// the new count reaches the maximum.
func (l *Limiter) TooManyWithIncrement(ctx context.Context, ip string) (bool, error) {
	if !l.config.Enabled {
		return false, nil
	}
	count, err := l.count(ctx, ip)
	if err != nil {
		return false, err
	}
	count++
	if err := l.store.Set(ctx, l.key(ip), strconv.Itoa(count), l.config.Window); err != nil {
		return false, pkgerrors.Wrap(err, "[Limiter.TooManyWithIncrement] store counter")
	}
	return count >= l.config.Max, nil
}

// Warning reports whether ip is one failed attempt away from the limit, so
// the login form can show a final-attempt notice.
func (l *Limiter) Warning(ctx context.Context, ip string) (bool, error) {
	if !l.config.Enabled {
		return false, nil
	}
	count, err := l.count(ctx, ip)
	if err != nil {
		return false, err
	}
	return count >= l.config.Max-1, nil
}

// Reset clears the counter for ip. Called only on a fully successful stage
// transition, never on merely entering a stage.
func (l *Limiter) Reset(ctx context.Context, ip string) error {
	if !l.config.Enabled {
		return nil
	}
	return l.store.Set(ctx, l.key(ip), "0", l.config.Window)
}

func (l *Limiter) count(ctx context.Context, ip string) (int, error) {
	value, found, err := l.store.Get(ctx, l.key(ip))
	if err != nil {
		return 0, pkgerrors.Wrap(err, "[Limiter.count] read counter")
	}
	if !found {
		return 0, nil
	}
	count, err := strconv.Atoi(value)
	if err != nil {
		// A mangled counter counts as zero rather than locking the IP out.
		return 0, nil
	}
	return count, nil
}

func (l *Limiter) key(ip string) string {
	return l.namespace + "/login-attempts/" + ip
}
