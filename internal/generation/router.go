package generation

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoProvider indicates no registered provider can serve the model.
var ErrNoProvider = errors.New("generation: no provider for model")

// Router dispatches requests to the provider registered for the requested
// model. It implements Service so the orchestrator sees one backend.
type Router struct {
	providers map[string]Service
}

// NewRouter builds a router over the given providers, keyed by Name().
func NewRouter(providers ...Service) *Router {
	m := make(map[string]Service, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Router{providers: m}
}

func (r *Router) pick(modelID string) (Service, error) {
	cap, ok := Lookup(modelID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, modelID)
	}
	svc, ok := r.providers[cap.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s (provider %s not configured)", ErrNoProvider, modelID, cap.Provider)
	}
	return svc, nil
}

// Name implements Service.
func (r *Router) Name() string { return "router" }

// StreamGenerate implements Service.
func (r *Router) StreamGenerate(ctx context.Context, req *Request, h StreamHandler) (*Result, error) {
	svc, err := r.pick(req.Model)
	if err != nil {
		return nil, err
	}
	return svc.StreamGenerate(ctx, req, h)
}

// Generate implements Service.
func (r *Router) Generate(ctx context.Context, req *Request) (*Result, error) {
	svc, err := r.pick(req.Model)
	if err != nil {
		return nil, err
	}
	return svc.Generate(ctx, req)
}

// GenerateMedia implements Service.
func (r *Router) GenerateMedia(ctx context.Context, req *Request) (*Result, error) {
	svc, err := r.pick(req.Model)
	if err != nil {
		return nil, err
	}
	return svc.GenerateMedia(ctx, req)
}
