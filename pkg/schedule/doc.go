// Package schedule provides scheduling for recurring background work.
//
// This package includes:
//   - Schedule interface for defining when a task runs next
//   - Every() for fixed-interval schedules
//   - Daily() for daily schedules at a specific time
//   - Cron() for cron expression-based schedules
//   - Sweeper: the periodic reconciliation pass over active experiments
//
// Most users should import the root package github.com/jdefouw/EvoNash-sub001
// which re-exports these functions.
package schedule
