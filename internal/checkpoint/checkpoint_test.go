package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kosarica/place-service/internal/database/dbtest"
	"github.com/kosarica/place-service/internal/faults"
)

var stateColumns = []string{
	"job_name", "last_processed_page", "last_processed_timestamp",
	"total_processed_records", "last_execution_status", "cursor", "updated_at",
}

// ---------------------------------------------------------------------------
// Cursor
// ---------------------------------------------------------------------------

func TestCursorAddErrorKeepsRecent(t *testing.T) {
	var c Cursor
	for i := 0; i < maxCursorErrors+10; i++ {
		c.AddError(fmt.Sprintf("err %d", i))
	}
	require.Len(t, c.Errors, maxCursorErrors)
	assert.Equal(t, "err 10", c.Errors[0])
	assert.Equal(t, fmt.Sprintf("err %d", maxCursorErrors+9), c.Errors[maxCursorErrors-1])
}

func TestCursorCloneIsDeep(t *testing.T) {
	c := Cursor{CompletedRegions: []string{"north"}}
	clone := c.Clone()
	clone.CompletedRegions[0] = "south"
	assert.Equal(t, "north", c.CompletedRegions[0])
	assert.True(t, c.RegionCompleted("north"))
	assert.False(t, c.RegionCompleted("south"))
}

// ---------------------------------------------------------------------------
// MemoryStore
// ---------------------------------------------------------------------------

func TestMemoryStoreLoadMissing(t *testing.T) {
	s := NewMemoryStore()
	st, err := s.Load(context.Background(), "places")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestMemoryStorePageNeverRegresses(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Save(ctx, State{JobName: "places", LastProcessedPage: 5, TotalProcessedRecords: 50}))
	require.NoError(t, s.Save(ctx, State{JobName: "places", LastProcessedPage: 5, TotalProcessedRecords: 55}))

	err := s.Save(ctx, State{JobName: "places", LastProcessedPage: 4})
	assert.ErrorIs(t, err, ErrRegression)

	st, err := s.Load(ctx, "places")
	require.NoError(t, err)
	assert.EqualValues(t, 5, st.LastProcessedPage)
	assert.EqualValues(t, 55, st.TotalProcessedRecords)

	// Other jobs are independent
	require.NoError(t, s.Save(ctx, State{JobName: "other", LastProcessedPage: 1}))
}

func TestMemoryStoreConcurrentSavesAreMonotonic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(page int64) {
			defer wg.Done()
			_ = s.Save(ctx, State{JobName: "places", LastProcessedPage: page})
		}(int64(i))
	}
	wg.Wait()

	st, err := s.Load(ctx, "places")
	require.NoError(t, err)
	assert.EqualValues(t, 100, st.LastProcessedPage)
}

// ---------------------------------------------------------------------------
// PostgresStore
// ---------------------------------------------------------------------------

func TestPostgresStoreSaveUpserts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewPostgresStore(mock)
	store.now = func() time.Time { return now }

	state := State{
		JobName:               "places",
		LastProcessedPage:     12,
		TotalProcessedRecords: 240,
		LastExecutionStatus:   StatusCompleted,
		Cursor:                Cursor{CurrentRegion: "north", QueryIndex: 1, Page: 2},
	}
	cursorRaw, err := json.Marshal(state.Cursor)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO job_execution_state").
		WithArgs("places", int64(12), now, int64(240), StatusCompleted, cursorRaw, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Save(context.Background(), state))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreSaveRegression(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)
	mock.ExpectExec("INSERT INTO job_execution_state").
		WithArgs("places", int64(3), pgxmock.AnyArg(), int64(0), "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err = store.Save(context.Background(), State{JobName: "places", LastProcessedPage: 3})
	assert.ErrorIs(t, err, ErrRegression)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreSaveStorageError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)
	mock.ExpectExec("INSERT INTO job_execution_state").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection refused"))

	err = store.Save(context.Background(), State{JobName: "places"})
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.KindStorage))
}

func TestPostgresStoreLoad(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT job_name").
		WithArgs("places").
		WillReturnRows(pgxmock.NewRows(stateColumns).
			AddRow("places", int64(7), ts, int64(70), StatusCompleted,
				[]byte(`{"currentRegion":"south","queryIndex":2,"page":1,"pass":3}`), ts))

	st, err := store.Load(context.Background(), "places")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.EqualValues(t, 7, st.LastProcessedPage)
	assert.Equal(t, "south", st.Cursor.CurrentRegion)
	assert.Equal(t, 2, st.Cursor.QueryIndex)
	assert.Equal(t, 3, st.Cursor.Pass)

	mock.ExpectQuery("SELECT job_name").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(stateColumns))

	st, err = store.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, st)
	require.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Integration
// ---------------------------------------------------------------------------

func TestPostgresStoreIntegration(t *testing.T) {
	pool := dbtest.Start(t)
	ctx := context.Background()
	store := NewPostgresStore(pool)

	require.NoError(t, store.Save(ctx, State{
		JobName:           "places",
		LastProcessedPage: 10,
		Cursor:            Cursor{CurrentRegion: "north", CompletedRegions: []string{"capital"}},
	}))

	err := store.Save(ctx, State{JobName: "places", LastProcessedPage: 9})
	assert.ErrorIs(t, err, ErrRegression)

	require.NoError(t, store.Save(ctx, State{JobName: "places", LastProcessedPage: 11, TotalProcessedRecords: 5}))

	st, err := store.Load(ctx, "places")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.EqualValues(t, 11, st.LastProcessedPage)
	assert.EqualValues(t, 5, st.TotalProcessedRecords)
}
