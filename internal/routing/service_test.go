package routing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// mockProvider is a mock routing provider for testing.
type mockProvider struct {
	name      string
	response  *DirectionsResponse
	err       error
	callCount atomic.Int32
	delay     time.Duration

	mu      sync.Mutex
	lastReq DirectionsRequest
}

func (m *mockProvider) GetDirections(ctx context.Context, req DirectionsRequest) (*DirectionsResponse, error) {
	m.callCount.Add(1)
	m.mu.Lock()
	m.lastReq = req
	err := m.err
	m.mu.Unlock()
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return m.response, nil
}

func (m *mockProvider) Name() string {
	return m.name
}

func (m *mockProvider) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func amsterdamToUtrecht() DirectionsRequest {
	return DirectionsRequest{
		Origin:          Coordinate{Lat: 52.3676, Lon: 4.9041},
		Destination:     Coordinate{Lat: 52.0907, Lon: 5.1214},
		MaxAlternatives: 3,
	}
}

func newTestProvider() *mockProvider {
	return &mockProvider{
		name: "test-provider",
		response: &DirectionsResponse{
			Routes: []RawRoute{
				{ETAMinutes: 41, DistanceKm: 45.3, Polyline: "_p~iF~ps|U_ulLnnqC", Summary: "A2"},
				{ETAMinutes: 55, DistanceKm: 48.1, Polyline: "_p~iF~ps|U", Summary: "N201"},
			},
			Provider:  "test-provider",
			FetchedAt: time.Now(),
		},
	}
}

func TestService_GetDirections_CacheMiss(t *testing.T) {
	provider := newTestProvider()

	service := NewService(ServiceConfig{
		Provider: provider,
		CacheTTL: 5 * time.Minute,
	})

	resp, err := service.GetDirections(context.Background(), amsterdamToUtrecht())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if provider.callCount.Load() != 1 {
		t.Errorf("expected 1 provider call, got %d", provider.callCount.Load())
	}
	if len(resp.Routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(resp.Routes))
	}
	if resp.Routes[0].ETAMinutes != 41 {
		t.Errorf("expected eta 41, got %d", resp.Routes[0].ETAMinutes)
	}
	if provider.lastReq.MaxAlternatives != 3 {
		t.Errorf("expected max alternatives 3 to reach provider, got %d", provider.lastReq.MaxAlternatives)
	}
}

func TestService_GetDirections_CacheHit(t *testing.T) {
	provider := newTestProvider()

	service := NewService(ServiceConfig{
		Provider: provider,
		CacheTTL: 5 * time.Minute,
	})

	req := amsterdamToUtrecht()

	if _, err := service.GetDirections(context.Background(), req); err != nil {
		t.Fatalf("unexpected error on first call: %v", err)
	}
	if _, err := service.GetDirections(context.Background(), req); err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}

	if provider.callCount.Load() != 1 {
		t.Errorf("expected 1 provider call (cache hit), got %d", provider.callCount.Load())
	}
}

func TestService_GetDirections_GeohashBucketing(t *testing.T) {
	provider := newTestProvider()

	service := NewService(ServiceConfig{
		Provider:         provider,
		CacheTTL:         5 * time.Minute,
		GeohashPrecision: 5, // ~4.9km cells
	})

	_, _ = service.GetDirections(context.Background(), amsterdamToUtrecht())

	// Slightly different coordinates inside the same cells
	_, _ = service.GetDirections(context.Background(), DirectionsRequest{
		Origin:          Coordinate{Lat: 52.3678, Lon: 4.9045},
		Destination:     Coordinate{Lat: 52.0909, Lon: 5.1210},
		MaxAlternatives: 3,
	})

	if provider.callCount.Load() != 1 {
		t.Errorf("expected 1 provider call (geohash cache hit), got %d", provider.callCount.Load())
	}
}

func TestService_GetDirections_DifferentAlternativesNotShared(t *testing.T) {
	provider := newTestProvider()

	service := NewService(ServiceConfig{
		Provider: provider,
		CacheTTL: 5 * time.Minute,
	})

	req := amsterdamToUtrecht()
	_, _ = service.GetDirections(context.Background(), req)

	req.MaxAlternatives = 1
	_, _ = service.GetDirections(context.Background(), req)

	if provider.callCount.Load() != 2 {
		t.Errorf("expected 2 provider calls (different alternative counts), got %d", provider.callCount.Load())
	}
}

func TestService_GetDirections_EmptyResultIsCached(t *testing.T) {
	provider := &mockProvider{
		name: "test-provider",
		response: &DirectionsResponse{
			Routes:   []RawRoute{},
			Provider: "test-provider",
		},
	}

	service := NewService(ServiceConfig{Provider: provider})

	resp, err := service.GetDirections(context.Background(), amsterdamToUtrecht())
	if err != nil {
		t.Fatalf("empty result must not be an error: %v", err)
	}
	if len(resp.Routes) != 0 {
		t.Errorf("expected 0 routes, got %d", len(resp.Routes))
	}
}

func TestService_GetDirections_StaleIfError(t *testing.T) {
	provider := newTestProvider()

	service := NewService(ServiceConfig{
		Provider:        provider,
		CacheTTL:        50 * time.Millisecond,
		StaleIfErrorTTL: 500 * time.Millisecond,
	})

	req := amsterdamToUtrecht()

	if _, err := service.GetDirections(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Wait for cache to expire (but still within stale window)
	time.Sleep(100 * time.Millisecond)

	provider.setErr(errors.New("provider error"))

	resp, err := service.GetDirections(context.Background(), req)
	if err != nil {
		t.Fatalf("expected stale data to be served, got error: %v", err)
	}
	if resp.Routes[0].ETAMinutes != 41 {
		t.Errorf("expected stale eta 41, got %d", resp.Routes[0].ETAMinutes)
	}
}

func TestService_GetDirections_StaleDisabled(t *testing.T) {
	provider := newTestProvider()

	service := NewService(ServiceConfig{
		Provider:        provider,
		CacheTTL:        10 * time.Millisecond,
		StaleIfErrorTTL: time.Minute,
		ServeStale:      func(context.Context) bool { return false },
	})

	req := amsterdamToUtrecht()
	if _, err := service.GetDirections(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	providerErr := &Error{Provider: "test-provider", Message: "down", Err: ErrProviderUnavailable}
	provider.setErr(providerErr)

	_, err := service.GetDirections(context.Background(), req)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestService_GetDirections_InvalidCoordinates(t *testing.T) {
	provider := &mockProvider{
		name: "test-provider",
	}

	service := NewService(ServiceConfig{
		Provider: provider,
	})

	tests := []struct {
		name string
		req  DirectionsRequest
	}{
		{
			name: "invalid origin latitude",
			req: DirectionsRequest{
				Origin:      Coordinate{Lat: 91, Lon: 0},
				Destination: Coordinate{Lat: 0, Lon: 0},
			},
		},
		{
			name: "invalid destination longitude",
			req: DirectionsRequest{
				Origin:      Coordinate{Lat: 0, Lon: 0},
				Destination: Coordinate{Lat: 0, Lon: 181},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.GetDirections(context.Background(), tt.req)
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			var routingErr *Error
			if !errors.As(err, &routingErr) {
				t.Fatalf("expected Error, got %T", err)
			}
			if !errors.Is(routingErr.Err, ErrInvalidCoordinates) {
				t.Errorf("expected ErrInvalidCoordinates, got %v", routingErr.Err)
			}
			if routingErr.IsRetryable() {
				t.Error("invalid coordinates must not be retryable")
			}
		})
	}

	if provider.callCount.Load() != 0 {
		t.Errorf("provider must not be called for invalid input, got %d calls", provider.callCount.Load())
	}
}

func TestService_GetDirections_ConcurrentRequests(t *testing.T) {
	provider := newTestProvider()
	provider.delay = 50 * time.Millisecond

	service := NewService(ServiceConfig{
		Provider: provider,
		CacheTTL: 5 * time.Minute,
	})

	req := amsterdamToUtrecht()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := service.GetDirections(context.Background(), req); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	calls := provider.callCount.Load()
	if calls > 3 {
		t.Errorf("expected <= 3 provider calls with request coalescing, got %d", calls)
	}
}

func TestService_GetDirections_CanceledCallerDoesNotFailSharedFetch(t *testing.T) {
	provider := newTestProvider()
	provider.delay = 150 * time.Millisecond

	service := NewService(ServiceConfig{
		Provider: provider,
		CacheTTL: 5 * time.Minute,
	})

	req := amsterdamToUtrecht()
	firstCtx, cancelFirst := context.WithCancel(context.Background())

	firstErr := make(chan error, 1)
	go func() {
		_, err := service.GetDirections(firstCtx, req)
		firstErr <- err
	}()

	// Let the first caller start the provider call before the second joins it.
	time.Sleep(30 * time.Millisecond)

	type result struct {
		resp *DirectionsResponse
		err  error
	}
	second := make(chan result, 1)
	go func() {
		resp, err := service.GetDirections(context.Background(), req)
		second <- result{resp, err}
	}()

	time.Sleep(30 * time.Millisecond)
	cancelFirst()

	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("expected first caller to see context.Canceled, got %v", err)
	}

	res := <-second
	if res.err != nil {
		t.Fatalf("second caller must not inherit the first caller's cancellation: %v", res.err)
	}
	if len(res.resp.Routes) != 2 {
		t.Errorf("expected 2 routes, got %d", len(res.resp.Routes))
	}
	if calls := provider.callCount.Load(); calls != 1 {
		t.Errorf("expected 1 shared provider call, got %d", calls)
	}

	// The shared fetch still populated the cache.
	if _, err := service.GetDirections(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls := provider.callCount.Load(); calls != 1 {
		t.Errorf("expected cache hit after shared fetch, got %d provider calls", calls)
	}
}

func TestService_GetDirections_FetchTimeout(t *testing.T) {
	provider := newTestProvider()
	provider.delay = time.Second

	service := NewService(ServiceConfig{
		Provider:     provider,
		FetchTimeout: 20 * time.Millisecond,
	})

	_, err := service.GetDirections(context.Background(), amsterdamToUtrecht())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("expected a provider timeout to count as unavailable, got %v", err)
	}
}

func TestService_CacheStats(t *testing.T) {
	provider := newTestProvider()

	service := NewService(ServiceConfig{
		Provider: provider,
		CacheTTL: 5 * time.Minute,
	})

	stats := service.CacheStats()
	if stats.TotalEntries != 0 {
		t.Errorf("expected 0 entries, got %d", stats.TotalEntries)
	}
	if stats.Provider != "test-provider" {
		t.Errorf("expected provider 'test-provider', got '%s'", stats.Provider)
	}

	_, _ = service.GetDirections(context.Background(), amsterdamToUtrecht())

	stats = service.CacheStats()
	if stats.TotalEntries != 1 {
		t.Errorf("expected 1 entry, got %d", stats.TotalEntries)
	}
	if stats.FreshEntries != 1 {
		t.Errorf("expected 1 fresh entry, got %d", stats.FreshEntries)
	}
}

func TestService_InvalidateCache(t *testing.T) {
	provider := newTestProvider()

	service := NewService(ServiceConfig{
		Provider: provider,
		CacheTTL: 5 * time.Minute,
	})

	req := amsterdamToUtrecht()
	_, _ = service.GetDirections(context.Background(), req)

	service.InvalidateCache()

	if stats := service.CacheStats(); stats.TotalEntries != 0 {
		t.Errorf("expected 0 entries after invalidation, got %d", stats.TotalEntries)
	}

	_, _ = service.GetDirections(context.Background(), req)
	if provider.callCount.Load() != 2 {
		t.Errorf("expected 2 provider calls after invalidation, got %d", provider.callCount.Load())
	}
}
