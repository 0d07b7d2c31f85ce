package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kosarica/place-service/config"
	"github.com/kosarica/place-service/internal/checkpoint"
	"github.com/kosarica/place-service/internal/scanner"
	"github.com/kosarica/place-service/internal/sources"
	"github.com/kosarica/place-service/internal/taskqueue"
	"github.com/kosarica/place-service/internal/types"
)

func fakeProvider(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/search":
			page := sources.SearchPage{}
			if r.URL.Query().Get("page") == "0" {
				q := r.URL.Query().Get("query")
				page.Items = []types.Candidate{
					{SourceID: q + "-1", Name: "First " + q, Lat: 45.8, Lng: 15.9},
					{SourceID: q + "-2", Name: "Second " + q, Lat: 45.8, Lng: 15.9},
				}
			}
			_ = json.NewEncoder(w).Encode(page)
		case strings.HasSuffix(r.URL.Path, "/menus"):
			_, _ = w.Write([]byte(`{"items":[]}`))
		case strings.HasPrefix(r.URL.Path, "/places/"):
			id := strings.TrimPrefix(r.URL.Path, "/places/")
			_ = json.NewEncoder(w).Encode(types.Candidate{SourceID: id, Name: "Place " + id, Lat: 45.8, Lng: 15.9})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func memoryConfig(baseURL string) *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{Driver: config.DriverMemory},
		Cache:   config.CacheConfig{Driver: config.CacheMemory, TTL: time.Hour},
		Controller: config.ControllerConfig{
			BaseBackoff:       10 * time.Millisecond,
			BackoffMultiplier: 2,
			MaxBackoff:        50 * time.Millisecond,
		},
		Pipeline: config.PipelineConfig{
			BatchSize:    5,
			ChunksPerRun: 10,
			Concurrency:  2,
			SkipLimit:    10,
			MaxPages:     2,
			Queries:      []string{"cafe", "bar"},
			Followup:     config.FollowupConfig{Menus: true, Priority: 1},
		},
		Queue: config.QueueConfig{MaxRetryAttempts: 3, BackoffMultiplier: 2},
		Workers: config.WorkersConfig{
			Enabled:           true,
			Threads:           2,
			PollInterval:      10 * time.Millisecond,
			HeartbeatInterval: 50 * time.Millisecond,
			TaskTimeout:       time.Second,
			StaleAfter:        time.Minute,
			SweepInterval:     time.Minute,
		},
		Sources: config.SourcesConfig{Name: "test", BaseURL: baseURL, RequestsPerSecond: 1000, Burst: 100},
		Regions: config.RegionsConfig{Items: []scanner.Region{
			{Name: "Zagreb", Priority: 1, Coordinates: []scanner.Coordinate{{Lat: 45.81, Lng: 15.98}}},
		}},
		Maintenance: config.MaintenanceConfig{Enabled: true, Schedule: "0 3 * * *"},
	}
}

func TestAppRunsPassAndEnrichesNewPlaces(t *testing.T) {
	srv := fakeProvider(t)
	ctx := context.Background()

	a, err := New(ctx, memoryConfig(srv.URL), nil)
	require.NoError(t, err)
	require.Nil(t, a.DB)
	require.NotNil(t, a.Pool)
	require.NotNil(t, a.Cleanup)

	a.Start(ctx)
	assert.False(t, a.Controller.Running(), "auto start is off")
	require.True(t, a.Controller.Start())

	require.Eventually(t, func() bool {
		st, err := a.Checkpoints.Load(ctx, "place-ingestion")
		return err == nil && st != nil && st.Cursor.Pass >= 1
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		stats, err := a.Queue.Stats(ctx)
		return err == nil && stats.CompletedCount == 4
	}, 5*time.Second, 10*time.Millisecond)

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, a.Close(closeCtx))
	assert.False(t, a.Controller.Running())

	st, err := a.Checkpoints.Load(ctx, "place-ingestion")
	require.NoError(t, err)
	assert.Contains(t, []string{checkpoint.StatusPassDone, checkpoint.StatusCompleted}, st.LastExecutionStatus)

	status := a.Controller.Status()
	assert.Zero(t, status.FailedBatches)
	assert.Positive(t, status.SuccessfulBatches)
}

func TestAppRejectsMissingRegions(t *testing.T) {
	cfg := memoryConfig("http://localhost:1")
	cfg.Regions.Items = nil

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scan regions")
}

func TestAppRejectsBadSourceURL(t *testing.T) {
	cfg := memoryConfig("not a url")

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestLoadRegionsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regions.csv")
	require.NoError(t, os.WriteFile(path, []byte("region,priority,label,lat,lng\nSplit,2,riva,43.50,16.44\nZagreb,1,centar,45.81,15.98\n"), 0o644))

	plan, err := LoadRegions(config.RegionsConfig{
		File:  path,
		Items: []scanner.Region{{Name: "ignored"}},
	})
	require.NoError(t, err)
	require.Len(t, plan, 2)

	names := []string{plan[0].Name, plan[1].Name}
	assert.ElementsMatch(t, []string{"Zagreb", "Split"}, names)
}

func TestQueueStoreFollowsStorageDriver(t *testing.T) {
	a := &App{}
	_, ok := a.queueStore().(*taskqueue.MemoryStore)
	assert.True(t, ok)
}
