package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kosarica/place-service/internal/database"
	"github.com/kosarica/place-service/internal/faults"
)

const upsertStateSQL = `
	INSERT INTO job_execution_state (
		job_name, last_processed_page, last_processed_timestamp,
		total_processed_records, last_execution_status, cursor, updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (job_name) DO UPDATE SET
		last_processed_page = EXCLUDED.last_processed_page,
		last_processed_timestamp = EXCLUDED.last_processed_timestamp,
		total_processed_records = EXCLUDED.total_processed_records,
		last_execution_status = EXCLUDED.last_execution_status,
		cursor = EXCLUDED.cursor,
		updated_at = EXCLUDED.updated_at
	WHERE job_execution_state.last_processed_page <= EXCLUDED.last_processed_page
`

const loadStateSQL = `
	SELECT job_name, last_processed_page, last_processed_timestamp,
	       total_processed_records, last_execution_status, cursor, updated_at
	FROM job_execution_state
	WHERE job_name = $1
`

// PostgresStore keeps checkpoints in job_execution_state
type PostgresStore struct {
	db    database.DB
	locks sync.Map // job name -> *sync.Mutex
	now   func() time.Time
}

// NewPostgresStore creates a checkpoint store backed by db
func NewPostgresStore(db database.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func (s *PostgresStore) lock(jobName string) *sync.Mutex {
	m, _ := s.locks.LoadOrStore(jobName, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// Load returns the stored state for jobName, or nil if none exists
func (s *PostgresStore) Load(ctx context.Context, jobName string) (*State, error) {
	var (
		st        State
		cursorRaw []byte
	)
	err := s.db.QueryRow(ctx, loadStateSQL, jobName).Scan(
		&st.JobName, &st.LastProcessedPage, &st.LastProcessedTimestamp,
		&st.TotalProcessedRecords, &st.LastExecutionStatus, &cursorRaw, &st.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, faults.Storage(fmt.Errorf("failed to load checkpoint %s: %w", jobName, err))
	}

	if len(cursorRaw) > 0 {
		if err := json.Unmarshal(cursorRaw, &st.Cursor); err != nil {
			return nil, faults.Storage(fmt.Errorf("failed to decode checkpoint cursor %s: %w", jobName, err))
		}
	}
	return &st, nil
}

// Save upserts state. The page guard lives in the upsert's WHERE clause so
// concurrent writers from other processes cannot regress it either.
func (s *PostgresStore) Save(ctx context.Context, state State) error {
	mu := s.lock(state.JobName)
	mu.Lock()
	defer mu.Unlock()

	cursorRaw, err := json.Marshal(state.Cursor)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint cursor: %w", err)
	}

	if state.LastProcessedTimestamp.IsZero() {
		state.LastProcessedTimestamp = s.now()
	}

	tag, err := s.db.Exec(ctx, upsertStateSQL,
		state.JobName, state.LastProcessedPage, state.LastProcessedTimestamp,
		state.TotalProcessedRecords, state.LastExecutionStatus, cursorRaw, s.now(),
	)
	if err != nil {
		return faults.Storage(fmt.Errorf("failed to save checkpoint %s: %w", state.JobName, err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s page %d", ErrRegression, state.JobName, state.LastProcessedPage)
	}
	return nil
}
