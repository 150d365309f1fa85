// Package ingest is the result-upload boundary: it turns per-generation
// statistics and match records from workers into Generation and Match
// rows, and is the single feed that can trigger completion reconciliation.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jdefouw/EvoNash-sub001/pkg/config"
	"github.com/jdefouw/EvoNash-sub001/pkg/core"
	"github.com/jdefouw/EvoNash-sub001/pkg/events"
	"github.com/jdefouw/EvoNash-sub001/pkg/reconcile"
	"github.com/jdefouw/EvoNash-sub001/pkg/security"
)

// GenerationStats is the per-generation payload produced by a worker.
type GenerationStats struct {
	Generation int `json:"generation"`

	AvgElo  float64 `json:"avg_elo"`
	PeakElo float64 `json:"peak_elo"`
	MinElo  float64 `json:"min_elo"`
	StdElo  float64 `json:"std_elo"`

	AvgFitness float64 `json:"avg_fitness"`
	MinFitness float64 `json:"min_fitness"`
	MaxFitness float64 `json:"max_fitness"`

	PolicyEntropy       float64 `json:"policy_entropy"`
	EntropyVariance     float64 `json:"entropy_variance"`
	PopulationDiversity float64 `json:"population_diversity"`
	MutationRate        float64 `json:"mutation_rate"`
}

// MatchRecord is one uploaded game result.
type MatchRecord struct {
	AgentAID    string          `json:"agent_a_id"`
	AgentBID    string          `json:"agent_b_id"`
	WinnerID    string          `json:"winner_id"`
	MoveHistory json.RawMessage `json:"move_history,omitempty"`
	Telemetry   json.RawMessage `json:"telemetry,omitempty"`
}

// Upload is one generation's worth of results. Checkpoint optionally
// carries a population snapshot taken at this generation.
type Upload struct {
	JobID        string          `json:"job_id"`
	ExperimentID string          `json:"experiment_id"`
	Stats        GenerationStats `json:"generation_stats"`
	Matches      []MatchRecord   `json:"matches,omitempty"`
	Checkpoint   []byte          `json:"checkpoint,omitempty"`
}

// Result reports what an upload changed.
type Result struct {
	GenerationCreated bool `json:"generation_created"`
	MatchesRecorded   int  `json:"matches_recorded"`
	CheckpointSaved   bool `json:"checkpoint_saved,omitempty"`

	// ExperimentCompleted is set when this upload tipped the experiment
	// over the completion criteria.
	ExperimentCompleted bool `json:"experiment_completed"`
}

// Ingestor accepts result uploads.
type Ingestor struct {
	store      core.Store
	cfg        config.Config
	reconciler *reconcile.Reconciler
	bus        *events.Bus
	logger     *slog.Logger
}

// New creates an ingestor. The bus may be nil.
func New(store core.Store, cfg config.Config, rec *reconcile.Reconciler, bus *events.Bus, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{store: store, cfg: cfg, reconciler: rec, bus: bus, logger: logger}
}

// Submit ingests a single generation upload: the generation row is
// upserted (duplicates by (experiment_id, generation_number) are ignored),
// matches attach to it, the owning assignment advances assigned →
// processing if it had not yet, and the reconciler runs.
func (i *Ingestor) Submit(ctx context.Context, up Upload) (*Result, error) {
	if err := i.validate(&up); err != nil {
		return nil, err
	}

	res := &Result{}

	g := up.Stats.toGeneration(up.ExperimentID)
	created, err := i.store.UpsertGeneration(ctx, g)
	if err != nil {
		return nil, err
	}
	res.GenerationCreated = created

	// Matches only attach on first sight of the generation, so a
	// duplicate upload cannot double-count games.
	if created && len(up.Matches) > 0 {
		matches := make([]*core.Match, len(up.Matches))
		for idx, m := range up.Matches {
			matches[idx] = &core.Match{
				GenerationID: g.ID,
				ExperimentID: up.ExperimentID,
				AgentAID:     m.AgentAID,
				AgentBID:     m.AgentBID,
				WinnerID:     m.WinnerID,
				MoveHistory:  m.MoveHistory,
				Telemetry:    m.Telemetry,
			}
		}
		if err := i.store.CreateMatches(ctx, matches); err != nil {
			return nil, err
		}
		res.MatchesRecorded = len(matches)
	}

	// Checkpoints follow the same first-sight rule as matches, so a
	// retried duplicate upload cannot stack snapshot rows.
	if created && len(up.Checkpoint) > 0 {
		if err := i.store.SaveCheckpoint(ctx, &core.Checkpoint{
			ExperimentID: up.ExperimentID,
			Generation:   up.Stats.Generation,
			Data:         up.Checkpoint,
		}); err != nil {
			return nil, err
		}
		res.CheckpointSaved = true
	}

	if created {
		i.bus.Publish(&core.GenerationRecorded{
			ExperimentID: up.ExperimentID,
			Generation:   up.Stats.Generation,
			Timestamp:    time.Now(),
		})
	}

	i.advanceAssignment(ctx, up.JobID)

	out, err := i.reconciler.Evaluate(ctx, up.ExperimentID)
	if err != nil {
		return nil, err
	}
	res.ExperimentCompleted = out.Completed && !out.AlreadyCompleted
	return res, nil
}

// SubmitBatch ingests a batch of generation uploads for one experiment,
// reconciling once at the end.
func (i *Ingestor) SubmitBatch(ctx context.Context, uploads []Upload) (*Result, error) {
	if len(uploads) == 0 {
		return nil, core.Validationf("generations", "batch must not be empty")
	}
	if len(uploads) > security.MaxBatchGenerations {
		return nil, &core.PayloadTooLargeError{
			SizeBytes:  len(uploads),
			LimitBytes: security.MaxBatchGenerations,
			Hint:       "split the batch into smaller uploads",
		}
	}

	// Reject the whole batch before the first write, so a bad item
	// cannot leave earlier generations behind.
	experimentID := uploads[0].ExperimentID
	for idx := range uploads {
		up := &uploads[idx]
		if up.ExperimentID != experimentID {
			return nil, core.Validationf("experiment_id", "batch must target a single experiment")
		}
		if err := i.validate(up); err != nil {
			return nil, err
		}
	}

	res := &Result{}
	for idx := range uploads {
		up := &uploads[idx]

		g := up.Stats.toGeneration(up.ExperimentID)
		created, err := i.store.UpsertGeneration(ctx, g)
		if err != nil {
			return nil, err
		}
		if !created {
			continue
		}
		res.GenerationCreated = true

		if len(up.Matches) > 0 {
			matches := make([]*core.Match, len(up.Matches))
			for mi, m := range up.Matches {
				matches[mi] = &core.Match{
					GenerationID: g.ID,
					ExperimentID: up.ExperimentID,
					AgentAID:     m.AgentAID,
					AgentBID:     m.AgentBID,
					WinnerID:     m.WinnerID,
					MoveHistory:  m.MoveHistory,
					Telemetry:    m.Telemetry,
				}
			}
			if err := i.store.CreateMatches(ctx, matches); err != nil {
				return nil, err
			}
			res.MatchesRecorded += len(matches)
		}

		if len(up.Checkpoint) > 0 {
			if err := i.store.SaveCheckpoint(ctx, &core.Checkpoint{
				ExperimentID: up.ExperimentID,
				Generation:   up.Stats.Generation,
				Data:         up.Checkpoint,
			}); err != nil {
				return nil, err
			}
			res.CheckpointSaved = true
		}
	}

	i.advanceAssignment(ctx, uploads[0].JobID)

	out, err := i.reconciler.Evaluate(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	res.ExperimentCompleted = out.Completed && !out.AlreadyCompleted
	return res, nil
}

func (i *Ingestor) validate(up *Upload) error {
	if err := security.ValidateID("job_id", up.JobID); err != nil {
		return err
	}
	if up.ExperimentID == "" {
		return core.Validationf("experiment_id", "must not be empty")
	}
	if up.Stats.Generation < 0 {
		return core.Validationf("generation", "must not be negative")
	}
	if len(up.Matches) > security.MaxMatchesPerGeneration {
		return &core.PayloadTooLargeError{
			SizeBytes:  len(up.Matches),
			LimitBytes: security.MaxMatchesPerGeneration,
			Hint:       "upload fewer matches per generation or sample them",
		}
	}
	return nil
}

// advanceAssignment moves the owning assignment assigned → processing when
// an upload arrives before an explicit claim. Ownership or status races
// are ignored; completion is left to the normal flow.
func (i *Ingestor) advanceAssignment(ctx context.Context, jobID string) {
	a, err := i.store.GetAssignmentByJobID(ctx, jobID)
	if err != nil || a.Status != core.AssignmentAssigned || a.WorkerID == "" {
		return
	}
	if _, err := i.store.ClaimAssignment(ctx, jobID, a.WorkerID); err != nil {
		i.logger.Debug("upload-time claim skipped", "job_id", jobID, "error", err)
	}
}

func (g *GenerationStats) toGeneration(experimentID string) *core.Generation {
	return &core.Generation{
		ExperimentID:        experimentID,
		Number:              g.Generation,
		AvgElo:              g.AvgElo,
		PeakElo:             g.PeakElo,
		MinElo:              g.MinElo,
		StdElo:              g.StdElo,
		AvgFitness:          g.AvgFitness,
		MinFitness:          g.MinFitness,
		MaxFitness:          g.MaxFitness,
		PolicyEntropy:       g.PolicyEntropy,
		EntropyVariance:     g.EntropyVariance,
		PopulationDiversity: g.PopulationDiversity,
		MutationRate:        g.MutationRate,
	}
}
