package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vnmchuo/assistant-queue/internal/apperr"
	"github.com/vnmchuo/assistant-queue/internal/metrics"
)

// Client roles used by the handlers.
const (
	ClientStream = "stream"
	ClientSync   = "sync"
	ClientTools  = "tools"
)

// Router binds providers to client roles and guards each with a circuit
// breaker.
type Router struct {
	providers map[string]Provider
	breakers  map[string]*gobreaker.CircuitBreaker
	metrics   *metrics.Metrics
}

func NewRouter(byRole map[string]Provider, m *metrics.Metrics) *Router {
	breakers := make(map[string]*gobreaker.CircuitBreaker)
	for role, p := range byRole {
		settings := gobreaker.Settings{
			Name:        role + ":" + p.Name(),
			MaxRequests: 3,
			Interval:    5 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}
		breakers[role] = gobreaker.NewCircuitBreaker(settings)
	}
	return &Router{
		providers: byRole,
		breakers:  breakers,
		metrics:   m,
	}
}

func (r *Router) lookup(role string) (Provider, *gobreaker.CircuitBreaker, error) {
	p, ok := r.providers[role]
	if !ok {
		return nil, nil, fmt.Errorf("no provider configured for %q", role)
	}
	return p, r.breakers[role], nil
}

// State reports the breaker state for a role.
func (r *Router) State(role string) gobreaker.State {
	if cb, ok := r.breakers[role]; ok {
		return cb.State()
	}
	return gobreaker.StateOpen
}

func (r *Router) Execute(ctx context.Context, role string, req *Request) (*Response, error) {
	p, cb, err := r.lookup(role)
	if err != nil {
		return nil, err
	}
	result, err := cb.Execute(func() (interface{}, error) {
		return p.Complete(ctx, req)
	})
	r.metrics.ObserveLLM(role, err)
	if err != nil {
		return nil, apperr.Upstream(err, "%s completion failed", role)
	}
	return result.(*Response), nil
}

func (r *Router) ExecuteStream(ctx context.Context, role string, req *Request) (<-chan *Chunk, error) {
	p, cb, err := r.lookup(role)
	if err != nil {
		return nil, err
	}
	if cb.State() == gobreaker.StateOpen {
		r.metrics.ObserveLLM(role, gobreaker.ErrOpenState)
		return nil, apperr.Upstream(gobreaker.ErrOpenState, "circuit breaker is open for %s", role)
	}

	origCh, err := p.CompleteStream(ctx, req)
	if err != nil {
		_, _ = cb.Execute(func() (interface{}, error) {
			return nil, err
		})
		r.metrics.ObserveLLM(role, err)
		return nil, apperr.Upstream(err, "%s stream failed", role)
	}

	wrappedCh := make(chan *Chunk)
	go func() {
		defer close(wrappedCh)
		for chunk := range origCh {
			if chunk.Err != nil {
				_, _ = cb.Execute(func() (interface{}, error) {
					return nil, chunk.Err
				})
				r.metrics.ObserveLLM(role, chunk.Err)
			} else if chunk.Done {
				_, _ = cb.Execute(func() (interface{}, error) {
					return nil, nil
				})
				r.metrics.ObserveLLM(role, nil)
			}
			select {
			case wrappedCh <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return wrappedCh, nil
}
