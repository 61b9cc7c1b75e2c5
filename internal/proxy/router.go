package proxy

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"github.com/vnmchuo/llm-meter/internal/provider"
)

var ErrAllProvidersUnavailable = errors.New("all providers unavailable")

// Router fronts the configured upstream providers with one circuit breaker
// each. It satisfies the chat service's upstream dependency.
type Router struct {
	providers []provider.Provider
	breakers  map[string]*gobreaker.CircuitBreaker
}

func NewRouter(providers []provider.Provider) *Router {
	breakers := make(map[string]*gobreaker.CircuitBreaker)
	for _, p := range providers {
		settings := gobreaker.Settings{
			Name:        p.Name(),
			MaxRequests: 3,
			Interval:    5 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}
		breakers[p.Name()] = gobreaker.NewCircuitBreaker(settings)
	}
	return &Router{
		providers: providers,
		breakers:  breakers,
	}
}

// Route picks the first healthy provider that lists the requested model.
// Models no provider claims go to the first healthy provider, so an
// OpenAI-compatible upstream can serve models it does not advertise.
func (r *Router) Route(ctx context.Context, req *provider.Request) (provider.Provider, error) {
	var fallback provider.Provider
	for _, p := range r.providers {
		if r.breakers[p.Name()].State() == gobreaker.StateOpen {
			continue
		}
		if fallback == nil {
			fallback = p
		}
		for _, m := range p.SupportedModels() {
			if m == req.Model {
				return p, nil
			}
		}
	}

	if fallback == nil {
		return nil, ErrAllProvidersUnavailable
	}
	return fallback, nil
}

func (r *Router) Execute(ctx context.Context, req *provider.Request, p provider.Provider) (*provider.Response, error) {
	cb := r.breakers[p.Name()]
	result, err := cb.Execute(func() (interface{}, error) {
		return p.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*provider.Response), nil
}

// Complete routes and executes req in one step.
func (r *Router) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	p, err := r.Route(ctx, req)
	if err != nil {
		return nil, err
	}
	return r.Execute(ctx, req, p)
}

// ListModels merges the model lists of every healthy provider. A provider
// whose listing fails contributes its static SupportedModels instead.
func (r *Router) ListModels(ctx context.Context) ([]provider.Model, error) {
	models := []provider.Model{}
	healthy := 0
	for _, p := range r.providers {
		if r.breakers[p.Name()].State() == gobreaker.StateOpen {
			continue
		}
		healthy++
		listed, err := p.ListModels(ctx)
		if err != nil {
			for _, id := range p.SupportedModels() {
				models = append(models, provider.Model{ID: id, Provider: p.Name()})
			}
			continue
		}
		models = append(models, listed...)
	}

	if healthy == 0 && len(r.providers) > 0 {
		return nil, ErrAllProvidersUnavailable
	}
	return models, nil
}
