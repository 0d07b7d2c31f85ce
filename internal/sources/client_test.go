package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kosarica/place-service/internal/faults"
	"github.com/kosarica/place-service/internal/scanner"
	"github.com/kosarica/place-service/internal/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		Name:              "test",
		BaseURL:           srv.URL,
		APIKey:            "secret",
		Timeout:           time.Second,
		RequestsPerSecond: 1000,
		Burst:             100,
		PageSize:          2,
		Breaker:           CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute, HalfOpenMaxCalls: 1},
	}, nil, nil)
	require.NoError(t, err)
	return c
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "not a url"}, nil, nil)
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "pizza", r.URL.Query().Get("query"))
		assert.Equal(t, "45.81", r.URL.Query().Get("lat"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "2", r.URL.Query().Get("size"))
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))

		_ = json.NewEncoder(w).Encode(SearchPage{
			Items: []types.Candidate{
				{SourceID: "a", Name: "Pizzeria A"},
				{SourceID: "b", Name: "Pizzeria B", Region: "Split"},
			},
			HasMore: true,
		})
	})

	page, err := c.Search(context.Background(), scanner.SearchContext{
		Region:     "Zagreb",
		Coordinate: scanner.Coordinate{Lat: 45.81, Lng: 15.98},
		Query:      "pizza",
		Page:       2,
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "test", page.Items[0].Source)
	assert.Equal(t, "Zagreb", page.Items[0].Region)
	assert.Equal(t, "Split", page.Items[1].Region)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		kind   faults.Kind
	}{
		{http.StatusNotFound, faults.KindNotFound},
		{http.StatusGone, faults.KindNotFound},
		{http.StatusTooManyRequests, faults.KindTransient},
		{http.StatusBadGateway, faults.KindTransient},
		{http.StatusBadRequest, faults.KindValidation},
		{http.StatusForbidden, faults.KindValidation},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := c.Details(context.Background(), "x")
			require.Error(t, err)
			kind, _ := faults.KindOf(err)
			assert.Equal(t, tt.kind, kind)

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.Status)
		})
	}
}

func TestDecodeErrorIsValidation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	})
	_, err := c.Details(context.Background(), "x")
	assert.True(t, faults.Is(err, faults.KindValidation))
}

func TestTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond}, nil, nil)
	require.NoError(t, err)

	_, err = c.Details(context.Background(), "slow")
	kind, class := faults.KindOf(err)
	assert.Equal(t, faults.KindTransient, kind)
	assert.Equal(t, faults.ClassTimeout, class)
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 2; i++ {
		_, err := c.Details(context.Background(), "x")
		require.Error(t, err)
	}
	assert.Equal(t, CircuitOpen, c.Breaker().State())

	_, err := c.Details(context.Background(), "x")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, faults.Is(err, faults.KindTransient))
	assert.Equal(t, 2, calls)
}

func TestNotFoundDoesNotTripBreaker(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	for i := 0; i < 5; i++ {
		_, _ = c.Details(context.Background(), "gone")
	}
	assert.Equal(t, CircuitClosed, c.Breaker().State())
}

func TestEnrichFetchesSelectedKinds(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":1}]`))
	})

	e, err := c.Enrich(context.Background(), "p1", types.WorkFlags{Menus: true, Reviews: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"/places/p1/menus", "/places/p1/reviews"}, paths)
	assert.JSONEq(t, `[{"id":1}]`, string(e.Menus))
	assert.Empty(t, e.Images)
	assert.False(t, e.Empty())
}

func TestCanceledContextIsNotAFault(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Details(ctx, "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, CircuitClosed, c.Breaker().State())
}
