package routing

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// HandleState is the lifecycle state of a provider handle.
type HandleState int32

const (
	// HandleNotReady means the provider has not been initialized yet.
	HandleNotReady HandleState = iota
	// HandleInitializing means initialization is in progress.
	HandleInitializing
	// HandleReady means the provider is initialized and usable.
	HandleReady
	// HandleFailed means the last initialization attempt failed.
	// The next call retries initialization.
	HandleFailed
)

func (s HandleState) String() string {
	switch s {
	case HandleNotReady:
		return "not_ready"
	case HandleInitializing:
		return "initializing"
	case HandleReady:
		return "ready"
	case HandleFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ProviderFactory builds a provider. It is called at most once per successful
// initialization.
type ProviderFactory func(ctx context.Context) (Provider, error)

// Handle is a lazily-initialized provider. It is created explicitly and passed
// to the components that need it rather than living in a package-level variable.
type Handle struct {
	name    string
	factory ProviderFactory

	mu       sync.Mutex
	provider Provider
	lastErr  error
	state    atomic.Int32
}

// NewHandle creates a handle that builds its provider on first use.
func NewHandle(name string, factory ProviderFactory) *Handle {
	return &Handle{
		name:    name,
		factory: factory,
	}
}

// Get returns the initialized provider, initializing it if needed.
func (h *Handle) Get(ctx context.Context) (Provider, error) {
	if h.State() == HandleReady {
		h.mu.Lock()
		p := h.provider
		h.mu.Unlock()
		return p, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.provider != nil {
		return h.provider, nil
	}

	h.state.Store(int32(HandleInitializing))

	p, err := h.factory(ctx)
	if err != nil {
		h.lastErr = err
		h.state.Store(int32(HandleFailed))
		return nil, &Error{
			Provider: h.name,
			Code:     "INIT_FAILED",
			Message:  fmt.Sprintf("initializing %s provider", h.name),
			Err:      fmt.Errorf("%w: %w", ErrProviderUnavailable, err),
		}
	}

	h.provider = p
	h.lastErr = nil
	h.state.Store(int32(HandleReady))
	return p, nil
}

// State returns the current lifecycle state without blocking on initialization.
func (h *Handle) State() HandleState {
	return HandleState(h.state.Load())
}

// LastError returns the error from the most recent failed initialization.
func (h *Handle) LastError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// Name returns the provider name.
func (h *Handle) Name() string {
	return h.name
}

// GetDirections initializes the provider if needed and delegates to it.
func (h *Handle) GetDirections(ctx context.Context, req DirectionsRequest) (*DirectionsResponse, error) {
	p, err := h.Get(ctx)
	if err != nil {
		return nil, err
	}
	return p.GetDirections(ctx, req)
}

var _ Provider = (*Handle)(nil)
