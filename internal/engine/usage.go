package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/tally/internal/model"
)

// UsageStore receives the engine's deferred writes.
type UsageStore interface {
	IncrementRuleUsage(ctx context.Context, id int64, usedAt time.Time) error
	RecordEvent(ctx context.Context, event *model.CategorizationEvent) error
}

type usageJob struct {
	usedAt time.Time
	event  *model.CategorizationEvent
	ruleID int64
}

// UsageRecorder applies rule usage increments and history events off the
// request path. A single worker drains the queue in order; Close blocks until
// every queued write has been attempted.
type UsageRecorder struct {
	store        UsageStore
	jobs         chan usageJob
	done         chan struct{}
	writeTimeout time.Duration
	mu           sync.RWMutex
	closed       bool
}

// NewUsageRecorder starts a recorder with the given queue size.
func NewUsageRecorder(store UsageStore, queueSize int) *UsageRecorder {
	if queueSize <= 0 {
		queueSize = 1024
	}
	r := &UsageRecorder{
		store:        store,
		jobs:         make(chan usageJob, queueSize),
		done:         make(chan struct{}),
		writeTimeout: 10 * time.Second,
	}
	go r.run()
	return r
}

// RecordRuleUsage queues one usage increment for rule id.
func (r *UsageRecorder) RecordRuleUsage(id int64, usedAt time.Time) {
	r.enqueue(usageJob{ruleID: id, usedAt: usedAt})
}

// RecordEvent queues a categorization history event.
func (r *UsageRecorder) RecordEvent(event model.CategorizationEvent) {
	r.enqueue(usageJob{event: &event})
}

func (r *UsageRecorder) enqueue(job usageJob) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		// Late writes after shutdown are applied inline.
		r.apply(job)
		return
	}
	r.jobs <- job
}

func (r *UsageRecorder) run() {
	defer close(r.done)
	for job := range r.jobs {
		r.apply(job)
	}
}

func (r *UsageRecorder) apply(job usageJob) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	if job.event != nil {
		if err := r.store.RecordEvent(ctx, job.event); err != nil {
			slog.Warn("Failed to record categorization event",
				"transaction_id", job.event.TransactionID,
				"error", err)
		}
		return
	}

	if err := r.store.IncrementRuleUsage(ctx, job.ruleID, job.usedAt); err != nil {
		slog.Warn("Failed to increment rule usage",
			"rule_id", job.ruleID,
			"error", err)
	}
}

// Close drains the queue and stops the worker. It is safe to call twice.
func (r *UsageRecorder) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.jobs)
	}
	r.mu.Unlock()
	<-r.done
	return nil
}
