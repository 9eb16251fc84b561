package core

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// RecoveryWorker is a background worker that recovers erasure sets and
// validates slot metas
type RecoveryWorker struct {
	bt       *Blocktree
	stop     chan struct{}
	done     chan struct{}
	interval time.Duration
	started  atomic.Bool
	stopOnce sync.Once
}

// NewRecoveryWorker creates a new recovery worker
func NewRecoveryWorker(bt *Blocktree, interval time.Duration) *RecoveryWorker {
	return &RecoveryWorker{
		bt:       bt,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		interval: interval,
	}
}

// Start begins the recovery loop
func (r *RecoveryWorker) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer close(r.done)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				slog.Debug("Starting scheduled erasure recovery")
				r.RunOnce()
			}
		}
	}()
}

// Stop halts the worker and waits for the current pass to finish
func (r *RecoveryWorker) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		if r.started.Load() {
			<-r.done
		}
	})
}

// RunOnce recovers every recoverable set, then validates slot metas
func (r *RecoveryWorker) RunOnce() {
	results, err := r.bt.RecoverAll()
	if err != nil {
		slog.Error("Erasure recovery pass failed", "error", err)
	}

	if len(results) > 0 {
		recovered := 0
		for _, res := range results {
			recovered += res.DataRecovered + res.CodingRecovered
		}
		slog.Info("Erasure recovery pass completed", "sets", len(results), "blobs", recovered)
	}

	anomalies, err := r.bt.Validate()
	if err != nil {
		slog.Error("Slot meta validation failed", "error", err)
		return
	}
	if len(anomalies) > 0 {
		slog.Warn("Slot meta validation found anomalies", "count", len(anomalies))
	}
}
