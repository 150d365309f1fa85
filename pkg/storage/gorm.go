// Package storage provides the GORM-backed persistence layer for the
// coordination service.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdefouw/EvoNash-sub001/pkg/core"
)

// GormStore implements core.Store using GORM.
//
// The atomic claim/release/complete primitives run as single transactions
// built on conditionally-guarded UPDATEs: the WHERE clause restates the
// precondition and RowsAffected == 0 means it no longer held. This is the
// only concurrency-safety mechanism in the system; callers run on
// independent machines and share nothing but this database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB returns the underlying GORM handle.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Migrate creates the necessary tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&core.Experiment{},
		&core.Generation{},
		&core.Match{},
		&core.Checkpoint{},
		&core.JobAssignment{},
		&core.Worker{},
	)
}

// ──────────────────────────────────────────────────────────────────────────
// Experiments
// ──────────────────────────────────────────────────────────────────────────

// CreateExperiment inserts a new experiment in PENDING state.
func (s *GormStore) CreateExperiment(ctx context.Context, exp *core.Experiment) error {
	if exp.ID == "" {
		exp.ID = uuid.New().String()
	}
	if exp.Status == "" {
		exp.Status = core.ExperimentPending
	}
	return s.db.WithContext(ctx).Create(exp).Error
}

// GetExperiment retrieves an experiment by ID.
func (s *GormStore) GetExperiment(ctx context.Context, id string) (*core.Experiment, error) {
	var exp core.Experiment
	err := s.db.WithContext(ctx).First(&exp, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &exp, nil
}

// ListExperiments retrieves experiments, optionally filtered by status.
func (s *GormStore) ListExperiments(ctx context.Context, status core.ExperimentStatus, limit int) ([]*core.Experiment, error) {
	var exps []*core.Experiment
	q := s.db.WithContext(ctx).Order("created_at ASC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&exps).Error
	return exps, err
}

// TransitionExperiment conditionally moves an experiment between statuses.
func (s *GormStore) TransitionExperiment(ctx context.Context, id string, from []core.ExperimentStatus, to core.ExperimentStatus) (bool, error) {
	updates := map[string]any{"status": to}
	if to == core.ExperimentPending {
		// Re-queued experiments lose any stale completion stamp.
		updates["completed_at"] = nil
	}
	result := s.db.WithContext(ctx).
		Model(&core.Experiment{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkExperimentCompleted idempotently stamps COMPLETED with completed_at.
// Only PENDING and RUNNING experiments are eligible; a STOPPED, FAILED or
// already-completed experiment is left untouched and reported as unmarked.
func (s *GormStore) MarkExperimentCompleted(ctx context.Context, id string, convergence *int) (bool, error) {
	now := time.Now()
	updates := map[string]any{
		"status":       core.ExperimentCompleted,
		"completed_at": now,
	}
	if convergence != nil {
		updates["convergence_generation"] = *convergence
	}

	result := s.db.WithContext(ctx).
		Model(&core.Experiment{}).
		Where("id = ? AND status IN ?", id,
			[]core.ExperimentStatus{core.ExperimentPending, core.ExperimentRunning}).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	// Distinguish "present but ineligible" from "no such experiment".
	var count int64
	if err := s.db.WithContext(ctx).Model(&core.Experiment{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, core.ErrNotFound
	}
	return false, nil
}

// StopExperiment moves a RUNNING experiment to STOPPED and cancels its
// active assignments in the same transaction.
func (s *GormStore) StopExperiment(ctx context.Context, id string) (int64, error) {
	var cancelled int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&core.Experiment{}).
			Where("id = ? AND status = ?", id, core.ExperimentRunning).
			Update("status", core.ExperimentStopped)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&core.Experiment{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return core.ErrNotFound
			}
			return core.ErrInvalidTransition
		}

		var err error
		cancelled, err = s.resolveActiveAssignments(tx, id, core.AssignmentCancelled, "experiment stopped")
		return err
	})
	return cancelled, err
}

// DeleteExperiment removes the experiment and cascades over its
// generations, matches, assignments and checkpoints.
func (s *GormStore) DeleteExperiment(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exp core.Experiment
		if err := tx.First(&exp, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return core.ErrNotFound
			}
			return err
		}

		for _, model := range []any{&core.Match{}, &core.Checkpoint{}, &core.Generation{}, &core.JobAssignment{}} {
			if err := tx.Where("experiment_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&exp).Error
	})
}

// ReconcilableExperimentIDs lists experiments the background sweep should
// re-check.
func (s *GormStore) ReconcilableExperimentIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&core.Experiment{}).
		Where("status IN ?", []core.ExperimentStatus{core.ExperimentRunning, core.ExperimentPending}).
		Pluck("id", &ids).Error
	return ids, err
}

// ──────────────────────────────────────────────────────────────────────────
// Job assignments
// ──────────────────────────────────────────────────────────────────────────

// CreateAssignment inserts a new assignment bound to its worker.
func (s *GormStore) CreateAssignment(ctx context.Context, a *core.JobAssignment) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.JobID == "" {
		a.JobID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = core.AssignmentAssigned
	}
	return s.db.WithContext(ctx).Create(a).Error
}

// GetAssignmentByJobID retrieves an assignment by its external correlation key.
func (s *GormStore) GetAssignmentByJobID(ctx context.Context, jobID string) (*core.JobAssignment, error) {
	var a core.JobAssignment
	err := s.db.WithContext(ctx).First(&a, "job_id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ClaimAssignment transitions an assignment assigned → processing and
// increments the owning worker's active_jobs_count, in one transaction.
// A concurrent claim observes the post-state and fails with ErrConflict.
func (s *GormStore) ClaimAssignment(ctx context.Context, jobID, workerID string) (*core.JobAssignment, error) {
	var claimed core.JobAssignment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ownedAssignment(tx, jobID, workerID); err != nil {
			return err
		}

		now := time.Now()
		result := tx.Model(&core.JobAssignment{}).
			Where("job_id = ? AND worker_id = ? AND status = ?", jobID, workerID, core.AssignmentAssigned).
			Updates(map[string]any{
				"status":     core.AssignmentProcessing,
				"started_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Ownership held but the status precondition raced away.
			return core.ErrConflict
		}

		if err := tx.Model(&core.Worker{}).
			Where("id = ?", workerID).
			Updates(map[string]any{
				"active_jobs_count": gorm.Expr("active_jobs_count + 1"),
				"status":            core.WorkerProcessing,
			}).Error; err != nil {
			return err
		}

		return tx.First(&claimed, "job_id = ?", jobID).Error
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

// ReleaseAssignment gives a batch back gracefully: ownership required,
// source status assigned or processing, target status failed so the batch
// becomes eligible for reassignment. The worker counter decrement pairs
// with the claim's increment.
func (s *GormStore) ReleaseAssignment(ctx context.Context, jobID, workerID, reason string) (*core.JobAssignment, error) {
	var released core.JobAssignment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := s.ownedAssignment(tx, jobID, workerID)
		if err != nil {
			return err
		}
		if !a.Active() {
			return core.ErrConflict
		}

		now := time.Now()
		result := tx.Model(&core.JobAssignment{}).
			Where("job_id = ? AND worker_id = ? AND status IN ?", jobID, workerID,
				[]core.AssignmentStatus{core.AssignmentAssigned, core.AssignmentProcessing}).
			Updates(map[string]any{
				"status":         core.AssignmentFailed,
				"release_reason": reason,
				"worker_id":      "",
				"completed_at":   now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return core.ErrConflict
		}

		// Only processing assignments were counted against the worker.
		if a.Status == core.AssignmentProcessing {
			if err := decrementWorker(tx, workerID); err != nil {
				return err
			}
		}
		return tx.First(&released, "job_id = ?", jobID).Error
	})
	if err != nil {
		return nil, err
	}
	return &released, nil
}

// CompleteAssignment transitions processing → completed|failed and
// decrements the owning worker's active_jobs_count, in one transaction.
func (s *GormStore) CompleteAssignment(ctx context.Context, jobID, workerID string, failed bool, errMsg string) (*core.JobAssignment, error) {
	target := core.AssignmentCompleted
	if failed {
		target = core.AssignmentFailed
	}

	var completed core.JobAssignment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ownedAssignment(tx, jobID, workerID); err != nil {
			return err
		}

		now := time.Now()
		result := tx.Model(&core.JobAssignment{}).
			Where("job_id = ? AND worker_id = ? AND status = ?", jobID, workerID, core.AssignmentProcessing).
			Updates(map[string]any{
				"status":         target,
				"completed_at":   now,
				"worker_id":      "",
				"release_reason": errMsg,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return core.ErrConflict
		}

		if err := decrementWorker(tx, workerID); err != nil {
			return err
		}
		return tx.First(&completed, "job_id = ?", jobID).Error
	})
	if err != nil {
		return nil, err
	}
	return &completed, nil
}

// ActiveAssignments returns assignments with status assigned or processing.
func (s *GormStore) ActiveAssignments(ctx context.Context, experimentID string) ([]*core.JobAssignment, error) {
	var list []*core.JobAssignment
	err := s.db.WithContext(ctx).
		Where("experiment_id = ? AND status IN ?", experimentID,
			[]core.AssignmentStatus{core.AssignmentAssigned, core.AssignmentProcessing}).
		Find(&list).Error
	return list, err
}

// HighWaterMark returns the highest generation_end covered by a live
// assignment of the experiment.
func (s *GormStore) HighWaterMark(ctx context.Context, experimentID string) (int, error) {
	var hwm int
	err := s.db.WithContext(ctx).
		Model(&core.JobAssignment{}).
		Where("experiment_id = ? AND status NOT IN ?", experimentID,
			[]core.AssignmentStatus{core.AssignmentFailed, core.AssignmentCancelled}).
		Select("COALESCE(MAX(generation_end), 0)").
		Scan(&hwm).Error
	return hwm, err
}

// PartitionAssignment carves the next uncovered generation range of the
// experiment into a fresh assignment bound to the worker. The high-water
// read and the insert share one transaction so concurrent dispatchers
// cannot hand out the same range twice. Returns nil when the experiment
// is fully covered.
func (s *GormStore) PartitionAssignment(ctx context.Context, experimentID, workerID string, batch, maxGenerations int) (*core.JobAssignment, error) {
	var a *core.JobAssignment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var hwm int
		if err := tx.Model(&core.JobAssignment{}).
			Where("experiment_id = ? AND status NOT IN ?", experimentID,
				[]core.AssignmentStatus{core.AssignmentFailed, core.AssignmentCancelled}).
			Select("COALESCE(MAX(generation_end), 0)").
			Scan(&hwm).Error; err != nil {
			return err
		}
		if hwm >= maxGenerations {
			return nil
		}

		end := hwm + batch
		if end > maxGenerations {
			end = maxGenerations
		}
		a = &core.JobAssignment{
			ID:              uuid.New().String(),
			JobID:           uuid.New().String(),
			ExperimentID:    experimentID,
			WorkerID:        workerID,
			GenerationStart: hwm,
			GenerationEnd:   end,
			Status:          core.AssignmentAssigned,
		}
		return tx.Create(a).Error
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ReassignFailedBatch rebinds the oldest failed batch of a dispatchable
// experiment to the given worker. Returns nil when none exists or a
// concurrent dispatcher won the race.
func (s *GormStore) ReassignFailedBatch(ctx context.Context, workerID string) (*core.JobAssignment, error) {
	var reassigned *core.JobAssignment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dispatchable := tx.Model(&core.Experiment{}).
			Select("id").
			Where("status IN ?", []core.ExperimentStatus{core.ExperimentPending, core.ExperimentRunning})

		var a core.JobAssignment
		err := tx.Where("status = ? AND experiment_id IN (?)", core.AssignmentFailed, dispatchable).
			Order("assigned_at ASC").
			First(&a).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		now := time.Now()
		result := tx.Model(&core.JobAssignment{}).
			Where("id = ? AND status = ?", a.ID, core.AssignmentFailed).
			Updates(map[string]any{
				"status":         core.AssignmentAssigned,
				"worker_id":      workerID,
				"assigned_at":    now,
				"started_at":     nil,
				"completed_at":   nil,
				"release_reason": "",
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		var fresh core.JobAssignment
		if err := tx.First(&fresh, "id = ?", a.ID).Error; err != nil {
			return err
		}
		reassigned = &fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reassigned, nil
}

// CompleteStuckAssignments force-marks the experiment's remaining active
// assignments completed. Used by force-complete and equilibrium.
func (s *GormStore) CompleteStuckAssignments(ctx context.Context, experimentID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		n, err = s.resolveActiveAssignments(tx, experimentID, core.AssignmentCompleted, "force completed")
		return err
	})
	return n, err
}

// ownedAssignment loads an assignment and verifies the caller owns it.
// An empty worker_id means the assignment already reached a terminal
// status, which is a precondition conflict rather than theft.
func (s *GormStore) ownedAssignment(tx *gorm.DB, jobID, workerID string) (*core.JobAssignment, error) {
	var a core.JobAssignment
	if err := tx.First(&a, "job_id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	if a.WorkerID == workerID {
		return &a, nil
	}
	if a.WorkerID == "" {
		return nil, core.ErrConflict
	}
	return nil, core.ErrNotOwner
}

// resolveActiveAssignments moves all active assignments of an experiment to
// a settled status and re-derives the counters of every affected worker.
func (s *GormStore) resolveActiveAssignments(tx *gorm.DB, experimentID string, target core.AssignmentStatus, reason string) (int64, error) {
	var workerIDs []string
	if err := tx.Model(&core.JobAssignment{}).
		Where("experiment_id = ? AND status IN ? AND worker_id <> ''", experimentID,
			[]core.AssignmentStatus{core.AssignmentAssigned, core.AssignmentProcessing}).
		Distinct().
		Pluck("worker_id", &workerIDs).Error; err != nil {
		return 0, err
	}

	now := time.Now()
	result := tx.Model(&core.JobAssignment{}).
		Where("experiment_id = ? AND status IN ?", experimentID,
			[]core.AssignmentStatus{core.AssignmentAssigned, core.AssignmentProcessing}).
		Updates(map[string]any{
			"status":         target,
			"worker_id":      "",
			"completed_at":   now,
			"release_reason": reason,
		})
	if result.Error != nil {
		return 0, result.Error
	}

	for _, id := range workerIDs {
		if err := recountWorker(tx, id); err != nil {
			return 0, err
		}
	}
	return result.RowsAffected, nil
}

// ──────────────────────────────────────────────────────────────────────────
// Workers
// ──────────────────────────────────────────────────────────────────────────

// RegisterWorker creates a worker row, or restores bookkeeping for a known
// id: active_jobs_count is re-derived from the live count of its active
// assignments so a worker restarting mid-job does not lose its jobs.
func (s *GormStore) RegisterWorker(ctx context.Context, w *core.Worker) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		var existing core.Worker
		err := tx.First(&existing, "id = ?", w.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			w.LastHeartbeat = now
			if w.Status == "" {
				w.Status = core.WorkerIdle
			}
			if err := tx.Create(w).Error; err != nil {
				return err
			}
			return nil
		}
		if err != nil {
			return err
		}

		var active int64
		if err := tx.Model(&core.JobAssignment{}).
			Where("worker_id = ? AND status IN ?", w.ID,
				[]core.AssignmentStatus{core.AssignmentAssigned, core.AssignmentProcessing}).
			Count(&active).Error; err != nil {
			return err
		}

		status := core.WorkerIdle
		if active > 0 {
			status = core.WorkerProcessing
		}

		if err := tx.Model(&core.Worker{}).
			Where("id = ?", w.ID).
			Updates(map[string]any{
				"gpu_type":          w.GPUType,
				"vram_gb":           w.VRAMGB,
				"max_parallel_jobs": w.MaxParallelJobs,
				"active_jobs_count": active,
				"status":            status,
				"last_heartbeat":    now,
			}).Error; err != nil {
			return err
		}
		return tx.First(w, "id = ?", w.ID).Error
	})
}

// GetWorker retrieves a worker by ID.
func (s *GormStore) GetWorker(ctx context.Context, id string) (*core.Worker, error) {
	var w core.Worker
	err := s.db.WithContext(ctx).First(&w, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWorkers retrieves all workers.
func (s *GormStore) ListWorkers(ctx context.Context) ([]*core.Worker, error) {
	var workers []*core.Worker
	err := s.db.WithContext(ctx).Order("created_at ASC").Find(&workers).Error
	return workers, err
}

// HeartbeatWorker stamps last_heartbeat and applies status and
// active_jobs_count only when explicitly provided. A heartbeat without a
// status never downgrades a processing worker.
func (s *GormStore) HeartbeatWorker(ctx context.Context, id string, status *core.WorkerStatus, activeJobs *int) (*core.Worker, error) {
	updates := map[string]any{"last_heartbeat": time.Now()}
	if status != nil {
		updates["status"] = *status
	}
	if activeJobs != nil {
		updates["active_jobs_count"] = *activeJobs
	}

	result := s.db.WithContext(ctx).
		Model(&core.Worker{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, core.ErrNotFound
	}
	return s.GetWorker(ctx, id)
}

// DisconnectWorker persists offline and releases all of the worker's
// active assignments. This is the graceful-shutdown path; heartbeat
// staleness alone never releases jobs.
func (s *GormStore) DisconnectWorker(ctx context.Context, id, reason string) (int64, error) {
	var released int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var w core.Worker
		if err := tx.First(&w, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return core.ErrNotFound
			}
			return err
		}

		now := time.Now()
		result := tx.Model(&core.JobAssignment{}).
			Where("worker_id = ? AND status IN ?", id,
				[]core.AssignmentStatus{core.AssignmentAssigned, core.AssignmentProcessing}).
			Updates(map[string]any{
				"status":         core.AssignmentFailed,
				"worker_id":      "",
				"completed_at":   now,
				"release_reason": reason,
			})
		if result.Error != nil {
			return result.Error
		}
		released = result.RowsAffected

		return tx.Model(&core.Worker{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":            core.WorkerOffline,
				"active_jobs_count": 0,
			}).Error
	})
	return released, err
}

// decrementWorker decrements active_jobs_count floored at zero and sets the
// worker idle only when the resulting count is zero.
func decrementWorker(tx *gorm.DB, workerID string) error {
	if err := tx.Model(&core.Worker{}).
		Where("id = ?", workerID).
		Update("active_jobs_count",
			gorm.Expr("CASE WHEN active_jobs_count > 0 THEN active_jobs_count - 1 ELSE 0 END")).Error; err != nil {
		return err
	}

	var w core.Worker
	if err := tx.First(&w, "id = ?", workerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if w.ActiveJobsCount == 0 && w.Status == core.WorkerProcessing {
		return tx.Model(&w).Update("status", core.WorkerIdle).Error
	}
	return nil
}

// recountWorker re-derives active_jobs_count from the worker's live
// processing assignments after a bulk cancellation.
func recountWorker(tx *gorm.DB, workerID string) error {
	var w core.Worker
	if err := tx.First(&w, "id = ?", workerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	var processing int64
	if err := tx.Model(&core.JobAssignment{}).
		Where("worker_id = ? AND status = ?", workerID, core.AssignmentProcessing).
		Count(&processing).Error; err != nil {
		return err
	}

	updates := map[string]any{"active_jobs_count": processing}
	if w.Status != core.WorkerOffline {
		if processing > 0 {
			updates["status"] = core.WorkerProcessing
		} else {
			updates["status"] = core.WorkerIdle
		}
	}
	return tx.Model(&core.Worker{}).Where("id = ?", workerID).Updates(updates).Error
}

// ──────────────────────────────────────────────────────────────────────────
// Results
// ──────────────────────────────────────────────────────────────────────────

// UpsertGeneration inserts a generation row, ignoring duplicates on the
// (experiment_id, generation_number) key. Reports whether a row was
// created.
func (s *GormStore) UpsertGeneration(ctx context.Context, g *core.Generation) (bool, error) {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "experiment_id"}, {Name: "generation_number"}},
			DoNothing: true,
		}).
		Create(g)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GenerationNumbers returns the distinct generation numbers recorded for
// the experiment, ascending.
func (s *GormStore) GenerationNumbers(ctx context.Context, experimentID string) ([]int, error) {
	var nums []int
	err := s.db.WithContext(ctx).
		Model(&core.Generation{}).
		Where("experiment_id = ?", experimentID).
		Order("generation_number ASC").
		Pluck("generation_number", &nums).Error
	return nums, err
}

// CreateMatches inserts match records for a generation.
func (s *GormStore) CreateMatches(ctx context.Context, matches []*core.Match) error {
	if len(matches) == 0 {
		return nil
	}
	for _, m := range matches {
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
	}
	return s.db.WithContext(ctx).CreateInBatches(matches, 100).Error
}

// SaveCheckpoint stores an uploaded population snapshot.
func (s *GormStore) SaveCheckpoint(ctx context.Context, cp *core.Checkpoint) error {
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Create(cp).Error
}
