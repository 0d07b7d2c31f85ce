// Package pipeline turns scanner search pages into persisted places one
// chunk at a time. Each committed chunk is followed by a checkpoint so a
// restart resumes at the first uncommitted item.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/kosarica/place-service/internal/cache"
	"github.com/kosarica/place-service/internal/checkpoint"
	"github.com/kosarica/place-service/internal/faults"
	"github.com/kosarica/place-service/internal/filter"
	"github.com/kosarica/place-service/internal/metrics"
	"github.com/kosarica/place-service/internal/places"
	"github.com/kosarica/place-service/internal/scanner"
	"github.com/kosarica/place-service/internal/sources"
	"github.com/kosarica/place-service/internal/taskqueue"
	"github.com/kosarica/place-service/internal/types"
)

// DefaultJobName is the checkpoint key of the ingestion job
const DefaultJobName = "place-ingestion"

// Config holds the chunking and follow-up settings
type Config struct {
	JobName      string
	BatchSize    int
	ChunksPerRun int
	Concurrency  int
	// RetryDelay is multiplied by the attempt number between item retries.
	RetryDelay       time.Duration
	FollowupFlags    types.WorkFlags
	FollowupPriority taskqueue.Priority
}

// DefaultConfig returns the default pipeline configuration
func DefaultConfig() Config {
	return Config{
		JobName:      DefaultJobName,
		BatchSize:    50,
		ChunksPerRun: 10,
		Concurrency:  4,
		RetryDelay:   500 * time.Millisecond,
	}
}

// Enqueuer receives follow-up tasks for places that still lack enrichment.
// A target with a live task must not get a second one.
type Enqueuer interface {
	EnqueueUnique(ctx context.Context, targetID string, flags types.WorkFlags, priority taskqueue.Priority) (*taskqueue.Task, bool, error)
}

// Deps are the collaborators a pipeline drives. Filter, Cache and Queue
// are optional.
type Deps struct {
	Scanner     *scanner.Scanner
	Searcher    sources.Searcher
	Details     sources.DetailFetcher
	Places      places.Repository
	Checkpoints checkpoint.Store
	Filter      *filter.CategoryFilter
	Cache       cache.Recent
	Queue       Enqueuer
	Policy      faults.Policy
}

// ChunkResult counts what one chunk did with the items it read
type ChunkResult struct {
	Read      int  `json:"read"`
	Processed int  `json:"processed"`
	Skipped   int  `json:"skipped"`
	Failed    int  `json:"failed"`
	Filtered  int  `json:"filtered"`
	Deleted   int  `json:"deleted"`
	Inserted  int  `json:"inserted"`
	Pages     int  `json:"pages"`
	EndOfPass bool `json:"endOfPass"`
}

func (r *ChunkResult) add(o ChunkResult) {
	r.Read += o.Read
	r.Processed += o.Processed
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.Filtered += o.Filtered
	r.Deleted += o.Deleted
	r.Inserted += o.Inserted
	r.Pages += o.Pages
}

// RunResult summarizes one Run
type RunResult struct {
	ChunkResult
	Chunks        int  `json:"chunks"`
	PassCompleted bool `json:"passCompleted"`
	Pass          int  `json:"pass"`
}

// Pipeline processes chunks. It must be driven by one caller at a time;
// Process and Run serialize on an internal lock.
type Pipeline struct {
	cfg    Config
	deps   Deps
	budget *faults.Budget

	metrics *metrics.Recorder
	logger  zerolog.Logger
	tracer  trace.Tracer

	mu       sync.Mutex
	state    checkpoint.State
	buffer   *pageBuffer
	initDone bool
}

// New validates cfg and deps and creates a pipeline
func New(cfg Config, deps Deps, m *metrics.Recorder, logger *zerolog.Logger) (*Pipeline, error) {
	def := DefaultConfig()
	if cfg.JobName == "" {
		cfg.JobName = def.JobName
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.ChunksPerRun <= 0 {
		cfg.ChunksPerRun = def.ChunksPerRun
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}

	switch {
	case deps.Scanner == nil:
		return nil, errors.New("pipeline: scanner is required")
	case deps.Searcher == nil:
		return nil, errors.New("pipeline: searcher is required")
	case deps.Details == nil:
		return nil, errors.New("pipeline: detail fetcher is required")
	case deps.Places == nil:
		return nil, errors.New("pipeline: place repository is required")
	case deps.Checkpoints == nil:
		return nil, errors.New("pipeline: checkpoint store is required")
	}
	if deps.Cache == nil {
		deps.Cache = cache.Nop{}
	}
	if deps.Policy.RetryLimits == nil {
		deps.Policy = faults.NewPolicy(deps.Policy.SkipLimit, nil)
	}

	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Pipeline{
		cfg:     cfg,
		deps:    deps,
		budget:  faults.NewBudget(deps.Policy),
		metrics: m,
		logger:  logger.With().Str("component", "pipeline").Str("job", cfg.JobName).Logger(),
		tracer:  otel.Tracer("place-service/pipeline"),
		state:   checkpoint.State{JobName: cfg.JobName},
	}, nil
}

// Config returns the effective configuration
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Init seeds the scanner from the stored checkpoint. Without a checkpoint
// the scan starts at the first region.
func (p *Pipeline) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initLocked(ctx)
}

func (p *Pipeline) initLocked(ctx context.Context) error {
	st, err := p.deps.Checkpoints.Load(ctx, p.cfg.JobName)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	p.buffer = nil
	p.initDone = true

	if st == nil {
		p.logger.Info().Msg("No checkpoint found, starting a new scan")
		return nil
	}

	p.state = *st
	p.deps.Scanner.Seed(st.Cursor)
	p.logger.Info().
		Str("region", st.Cursor.CurrentRegion).
		Int("coordinate", st.Cursor.CoordinateIndex).
		Int("query", st.Cursor.QueryIndex).
		Int("page", st.Cursor.Page).
		Int("item_offset", st.Cursor.ItemOffset).
		Int("pass", st.Cursor.Pass).
		Int64("last_processed_page", st.LastProcessedPage).
		Msg("Resuming from checkpoint")
	return nil
}

// Checkpoint returns the last committed state
func (p *Pipeline) Checkpoint() checkpoint.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.state
	st.Cursor = st.Cursor.Clone()
	return st
}

// Process reads and commits one chunk of up to batchSize items
func (p *Pipeline) Process(ctx context.Context, batchSize int) (ChunkResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initDone {
		if err := p.initLocked(ctx); err != nil {
			return ChunkResult{}, err
		}
	}
	if batchSize <= 0 {
		batchSize = p.cfg.BatchSize
	}
	return p.processLocked(ctx, batchSize)
}

// Run is one controller batch: up to ChunksPerRun chunks or the end of the
// current pass, whichever comes first. The skip budget is reset per run.
func (p *Pipeline) Run(ctx context.Context) (RunResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result RunResult
	if !p.initDone {
		if err := p.initLocked(ctx); err != nil {
			return result, err
		}
	}

	p.budget.Reset()
	start := time.Now()

	for result.Chunks < p.cfg.ChunksPerRun {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		chunk, err := p.processLocked(ctx, p.cfg.BatchSize)
		result.Chunks++
		result.add(chunk)
		if err != nil {
			p.markFailed(ctx, err)
			return result, err
		}

		if chunk.EndOfPass {
			if err := p.completePass(ctx); err != nil {
				return result, err
			}
			result.PassCompleted = true
			break
		}
	}

	result.Pass = p.state.Cursor.Pass
	p.logger.Info().
		Int("chunks", result.Chunks).
		Int("read", result.Read).
		Int("processed", result.Processed).
		Int("skipped", result.Skipped).
		Int("filtered", result.Filtered).
		Int("deleted", result.Deleted).
		Bool("pass_completed", result.PassCompleted).
		Dur("duration", time.Since(start)).
		Msg("Pipeline run finished")
	return result, nil
}

// completePass starts the next pass and records it
func (p *Pipeline) completePass(ctx context.Context) error {
	p.deps.Scanner.Reset()
	p.buffer = nil

	next := p.state
	next.Cursor = p.deps.Scanner.Cursor()
	next.LastExecutionStatus = checkpoint.StatusPassDone
	next.LastProcessedTimestamp = time.Now()
	if err := p.deps.Checkpoints.Save(ctx, next); err != nil {
		p.deps.Scanner.Seed(p.state.Cursor)
		return fmt.Errorf("failed to save pass checkpoint: %w", err)
	}
	p.state = next
	p.metrics.RecordPassCompleted()
	p.logger.Info().
		Int("pass", next.Cursor.Pass).
		Int64("total_processed", next.TotalProcessedRecords).
		Msg("Scan pass completed")
	return nil
}

// markFailed records a failed execution without moving the cursor
func (p *Pipeline) markFailed(ctx context.Context, cause error) {
	p.deps.Scanner.RecordError(cause.Error())

	failed := p.state
	failed.Cursor = p.deps.Scanner.Cursor()
	failed.LastExecutionStatus = checkpoint.StatusFailed

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.deps.Checkpoints.Save(saveCtx, failed); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to record failed execution")
		return
	}
	p.state = failed
}
