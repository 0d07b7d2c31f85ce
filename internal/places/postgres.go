package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kosarica/place-service/internal/database"
	"github.com/kosarica/place-service/internal/faults"
	"github.com/kosarica/place-service/internal/types"
)

const upsertPlaceSQL = `
	INSERT INTO places (
		id, natural_key, source, source_id, name, region, address, category,
		categories, lat, lng, rating, review_count, phone, website,
		first_seen_at, updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
	ON CONFLICT (natural_key) DO UPDATE SET
		source = EXCLUDED.source,
		source_id = EXCLUDED.source_id,
		name = EXCLUDED.name,
		address = EXCLUDED.address,
		category = EXCLUDED.category,
		categories = EXCLUDED.categories,
		lat = EXCLUDED.lat,
		lng = EXCLUDED.lng,
		rating = EXCLUDED.rating,
		review_count = EXCLUDED.review_count,
		phone = EXCLUDED.phone,
		website = EXCLUDED.website,
		updated_at = EXCLUDED.updated_at
	RETURNING id, first_seen_at, (xmax = 0) AS inserted
`

const deleteBySourceSQL = `DELETE FROM places WHERE source = $1 AND source_id = $2`

const upsertEnrichmentSQL = `
	INSERT INTO place_enrichments (place_id, kind, payload, fetched_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (place_id, kind) DO UPDATE SET
		payload = EXCLUDED.payload,
		fetched_at = EXCLUDED.fetched_at
`

const getPlaceSQL = `
	SELECT id, natural_key, source, source_id, name, region, address, category,
	       categories, lat, lng, rating, review_count, phone, website,
	       first_seen_at, updated_at
	FROM places
	WHERE id = $1
`

const unenrichedSQL = `
	SELECT p.id
	FROM places p
	WHERE p.id = ANY($1)
	  AND NOT EXISTS (SELECT 1 FROM place_enrichments e WHERE e.place_id = p.id)
`

// foreignKeyViolation is the Postgres SQLSTATE for a missing referenced row
const foreignKeyViolation = "23503"

type execQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores places in Postgres
type PostgresRepository struct {
	db  database.DB
	now func() time.Time
}

// NewPostgresRepository creates a repository backed by db
func NewPostgresRepository(db database.DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

func (r *PostgresRepository) upsert(ctx context.Context, q execQuerier, p *types.Place) (bool, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.NaturalKey == "" {
		p.NaturalKey = NaturalKey(p.Region, p.Name)
	}
	p.UpdatedAt = r.now()

	categories := p.Categories
	if categories == nil {
		categories = []string{}
	}

	var inserted bool
	err := q.QueryRow(ctx, upsertPlaceSQL,
		p.ID, p.NaturalKey, p.Source, p.SourceID, p.Name, p.Region, p.Address, p.Category,
		categories, p.Lat, p.Lng, p.Rating, p.ReviewCount, p.Phone, p.Website,
		p.UpdatedAt,
	).Scan(&p.ID, &p.FirstSeenAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert place %s: %w", p.NaturalKey, err)
	}
	return inserted, nil
}

func (r *PostgresRepository) UpsertByNaturalKey(ctx context.Context, p types.Place) (string, bool, error) {
	inserted, err := r.upsert(ctx, r.db, &p)
	if err != nil {
		return "", false, faults.Storage(err)
	}
	return p.ID, inserted, nil
}

func (r *PostgresRepository) DeleteBySource(ctx context.Context, ref SourceRef) (int64, error) {
	tag, err := r.db.Exec(ctx, deleteBySourceSQL, ref.Source, ref.SourceID)
	if err != nil {
		return 0, faults.Storage(fmt.Errorf("failed to delete place %s/%s: %w", ref.Source, ref.SourceID, err))
	}
	return tag.RowsAffected(), nil
}

// WriteChunk applies the chunk atomically; on any error nothing is written.
func (r *PostgresRepository) WriteChunk(ctx context.Context, chunk Chunk) (WriteResult, error) {
	var result WriteResult

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return result, faults.Storage(fmt.Errorf("failed to begin chunk transaction: %w", err))
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for i := range chunk.Upserts {
		p := chunk.Upserts[i]
		inserted, err := r.upsert(ctx, tx, &p)
		if err != nil {
			return WriteResult{}, faults.Storage(err)
		}
		result.Upserted = append(result.Upserted, p)
		if inserted {
			result.Inserted = append(result.Inserted, p)
		} else {
			result.Updated++
		}
	}

	for _, ref := range chunk.Deletes {
		tag, err := tx.Exec(ctx, deleteBySourceSQL, ref.Source, ref.SourceID)
		if err != nil {
			return WriteResult{}, faults.Storage(fmt.Errorf("failed to delete place %s/%s: %w", ref.Source, ref.SourceID, err))
		}
		result.Deleted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return WriteResult{}, faults.Storage(fmt.Errorf("failed to commit chunk: %w", err))
	}
	return result, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*types.Place, error) {
	var p types.Place
	err := r.db.QueryRow(ctx, getPlaceSQL, id).Scan(
		&p.ID, &p.NaturalKey, &p.Source, &p.SourceID, &p.Name, &p.Region, &p.Address, &p.Category,
		&p.Categories, &p.Lat, &p.Lng, &p.Rating, &p.ReviewCount, &p.Phone, &p.Website,
		&p.FirstSeenAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, faults.Storage(fmt.Errorf("failed to get place %s: %w", id, err))
	}
	return &p, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM places WHERE id = $1`, id)
	if err != nil {
		return 0, faults.Storage(fmt.Errorf("failed to delete place %s: %w", id, err))
	}
	return tag.RowsAffected(), nil
}

// SaveEnrichment upserts one row per fetched payload kind
func (r *PostgresRepository) SaveEnrichment(ctx context.Context, e types.Enrichment) error {
	if e.FetchedAt.IsZero() {
		e.FetchedAt = r.now()
	}

	payloads := []struct {
		kind string
		data json.RawMessage
	}{
		{"menus", e.Menus},
		{"images", e.Images},
		{"reviews", e.Reviews},
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return faults.Storage(fmt.Errorf("failed to begin enrichment transaction: %w", err))
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, pl := range payloads {
		if len(pl.data) == 0 {
			continue
		}
		if _, err := tx.Exec(ctx, upsertEnrichmentSQL, e.TargetID, pl.kind, []byte(pl.data), e.FetchedAt); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
				return fmt.Errorf("%w: %s", ErrNotFound, e.TargetID)
			}
			return faults.Storage(fmt.Errorf("failed to save %s for %s: %w", pl.kind, e.TargetID, err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return faults.Storage(fmt.Errorf("failed to commit enrichment: %w", err))
	}
	return nil
}

func (r *PostgresRepository) Unenriched(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, unenrichedSQL, ids)
	if err != nil {
		return nil, faults.Storage(fmt.Errorf("failed to query unenriched places: %w", err))
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, faults.Storage(fmt.Errorf("failed to read unenriched places: %w", err))
	}

	missing := make(map[string]bool, len(found))
	for _, id := range found {
		missing[id] = true
	}
	out := make([]string, 0, len(found))
	for _, id := range ids {
		if missing[id] {
			out = append(out, id)
			delete(missing, id)
		}
	}
	return out, nil
}

func (r *PostgresRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM places`).Scan(&n); err != nil {
		return 0, faults.Storage(fmt.Errorf("failed to count places: %w", err))
	}
	return n, nil
}
