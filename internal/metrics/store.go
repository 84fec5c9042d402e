package metrics

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"weekly-meal-planner/internal/apperr"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outcomes recorded for an execution.
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// ExecutionMetric records metadata for a single engine operation.
type ExecutionMetric struct {
	ID          string `gorm:"primaryKey;size:36"`
	Operation   string `gorm:"size:32;not null;index"`
	PlanID      string `gorm:"size:32"`
	UserID      string `gorm:"size:128"`
	Outcome     string `gorm:"size:32;not null"`
	ErrorKind   string `gorm:"size:64"`
	Slots       int
	Retrievals  int
	Escalations int
	LatencyMS   int64
	Timestamp   time.Time `gorm:"column:recorded_at;not null;index"`
}

func (ExecutionMetric) TableName() string { return "execution_metrics" }

// Store handles persistence of metrics through gorm.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an open database. The caller migrates ExecutionMetric.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Record saves a metric to the database.
func (s *Store) Record(ctx context.Context, m ExecutionMetric) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to record %s metric: %w", m.Operation, err)
	}
	return nil
}

// DailyUsage summarizes one day of one operation.
type DailyUsage struct {
	Date         string
	Operation    string
	Executions   int
	Failures     int
	Escalations  int
	AvgLatencyMS int64
}

// GetDailyUsage retrieves usage for the last N days, newest day first.
func (s *Store) GetDailyUsage(ctx context.Context, days int) ([]DailyUsage, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	var rows []ExecutionMetric
	if err := s.db.WithContext(ctx).Where("recorded_at >= ?", since).Order("recorded_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load metrics: %w", err)
	}

	type key struct{ date, op string }
	byKey := make(map[key]*DailyUsage)
	totalLatency := make(map[key]int64)
	var order []key
	for _, r := range rows {
		k := key{r.Timestamp.UTC().Format(time.DateOnly), r.Operation}
		u, ok := byKey[k]
		if !ok {
			u = &DailyUsage{Date: k.date, Operation: k.op}
			byKey[k] = u
			order = append(order, k)
		}
		u.Executions++
		if r.Outcome != OutcomeOK {
			u.Failures++
		}
		u.Escalations += r.Escalations
		totalLatency[k] += r.LatencyMS
	}

	slices.SortStableFunc(order, func(a, b key) int {
		if a.date != b.date {
			if a.date > b.date {
				return -1
			}
			return 1
		}
		if a.op < b.op {
			return -1
		}
		if a.op > b.op {
			return 1
		}
		return 0
	})

	results := make([]DailyUsage, 0, len(order))
	for _, k := range order {
		u := byKey[k]
		u.AvgLatencyMS = totalLatency[k] / int64(u.Executions)
		results = append(results, *u)
	}
	return results, nil
}

// Cleanup removes records older than the specified number of days.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	threshold := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	res := s.db.WithContext(ctx).Where("recorded_at < ?", threshold).Delete(&ExecutionMetric{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to clean up metrics: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// NewExecution builds a metric for an operation that took latency and ended
// with err.
func NewExecution(operation string, latency time.Duration, err error) ExecutionMetric {
	m := ExecutionMetric{
		Operation: operation,
		Outcome:   OutcomeOK,
		LatencyMS: latency.Milliseconds(),
		Timestamp: time.Now().UTC(),
	}
	switch {
	case err == nil:
	case isCancelled(err):
		m.Outcome = OutcomeCancelled
	default:
		m.Outcome = OutcomeFailed
		if kind := apperr.KindOf(err); kind != nil {
			m.ErrorKind = kind.Error()
		}
	}
	return m
}

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
