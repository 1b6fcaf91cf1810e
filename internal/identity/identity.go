// Package identity resolves the acting operator for writes. Identity may be
// asynchronously available at call time (session refresh in flight), so the
// resolver retries a bounded number of times before failing the write with
// the authentication sentinel.
package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/crestline/opsdeck/internal/store"
)

// SystemActor attributes synthetic mutations (lazy status defaults) to the
// system rather than a real operator.
const SystemActor = "system"

// Actor is the resolved caller identity attached to writes and audit entries.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Provider supplies the current actor. An empty-ID actor with a nil error
// means "not available yet"; the resolver treats it like a transient miss.
type Provider interface {
	Current(ctx context.Context) (Actor, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (Actor, error)

func (f ProviderFunc) Current(ctx context.Context) (Actor, error) { return f(ctx) }

// Static always returns the same actor. Test and CLI convenience.
func Static(id, name string) Provider {
	return ProviderFunc(func(context.Context) (Actor, error) {
		return Actor{ID: id, Name: name}, nil
	})
}

type actorKey struct{}

// WithActor stashes a request's actor in the context; the HTTP layer sets it
// from the configured identity header.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// FromContext is a Provider reading the actor stashed by WithActor.
func FromContext() Provider {
	return ProviderFunc(func(ctx context.Context) (Actor, error) {
		actor, _ := ctx.Value(actorKey{}).(Actor)
		return actor, nil
	})
}

// Resolver wraps a Provider with the bounded retry window.
type Resolver struct {
	provider Provider
	attempts int
	delay    time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewResolver builds a resolver that asks the provider up to attempts times,
// pausing delay between tries. Non-positive arguments fall back to 3 tries
// 100ms apart.
func NewResolver(provider Provider, attempts int, delay time.Duration) *Resolver {
	if attempts <= 0 {
		attempts = 3
	}
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	return &Resolver{
		provider: provider,
		attempts: attempts,
		delay:    delay,
		sleep:    sleepContext,
	}
}

// SetSleep overrides the inter-attempt pause. Test hook.
func (r *Resolver) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	if sleep != nil {
		r.sleep = sleep
	}
}

// Resolve returns the current actor or ErrAuthenticationRequired once the
// retry window is exhausted. Provider errors are retried too: the window is
// for transient unavailability, not for distinguishing failure modes.
func (r *Resolver) Resolve(ctx context.Context) (Actor, error) {
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, r.delay); err != nil {
				return Actor{}, fmt.Errorf("identity: %w: %v", store.ErrAuthenticationRequired, err)
			}
		}
		actor, err := r.provider.Current(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if strings.TrimSpace(actor.ID) != "" {
			return actor, nil
		}
	}
	if lastErr != nil {
		return Actor{}, fmt.Errorf("identity: %w: %v", store.ErrAuthenticationRequired, lastErr)
	}
	return Actor{}, fmt.Errorf("identity: %w", store.ErrAuthenticationRequired)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
