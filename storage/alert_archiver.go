package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"argus/core"
	"argus/metrics"
	"argus/util/goroutine"
	"go.uber.org/zap"
)

// AlertWriter persists a batch of alerts.
type AlertWriter interface {
	WriteAlerts(ctx context.Context, alerts []core.Alert) error
}

// ArchiverConfig tunes batching.
type ArchiverConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// AlertArchiver batches inserted alerts into an AlertWriter from a single
// background worker. Archive never blocks; when the buffer is full the alert
// is dropped and counted.
type AlertArchiver struct {
	writer        AlertWriter
	alertCh       chan core.Alert
	batchSize     int
	flushInterval time.Duration
	logger        *zap.SugaredLogger
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	startOnce     sync.Once
}

// NewAlertArchiver creates an archiver. Call Start before archiving.
func NewAlertArchiver(parentCtx context.Context, writer AlertWriter, cfg ArchiverConfig, logger *zap.SugaredLogger) *AlertArchiver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.BatchSize * 10
	}
	ctx, cancel := context.WithCancel(parentCtx)
	return &AlertArchiver{
		writer:        writer,
		alertCh:       make(chan core.Alert, cfg.BufferSize),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start launches the worker.
func (a *AlertArchiver) Start() {
	a.startOnce.Do(func() {
		a.wg.Add(1)
		go a.worker()
	})
}

// Archive queues alert for the next batch.
func (a *AlertArchiver) Archive(alert core.Alert) {
	select {
	case <-a.ctx.Done():
		metrics.AlertArchiveFailures.Inc()
		return
	default:
	}
	select {
	case a.alertCh <- alert:
	default:
		metrics.AlertArchiveFailures.Inc()
		a.logger.Warnw("Alert archive buffer full, dropping alert", "alert_id", alert.ID)
	}
}

func (a *AlertArchiver) worker() {
	defer a.wg.Done()
	defer goroutine.Recover("alert-archiver", a.logger)

	batch := make([]core.Alert, 0, a.batchSize)
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case alert := <-a.alertCh:
			batch = append(batch, alert)
			if len(batch) >= a.batchSize {
				a.flush(a.ctx, batch)
				batch = batch[:0]
				ticker.Reset(a.flushInterval)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(a.ctx, batch)
				batch = batch[:0]
			}

		case <-a.ctx.Done():
			// Drain what was queued before shutdown, then flush once.
			for {
				select {
				case alert := <-a.alertCh:
					batch = append(batch, alert)
					continue
				default:
				}
				break
			}
			if len(batch) > 0 {
				flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				a.flush(flushCtx, batch)
				cancel()
			}
			a.logger.Info("Alert archiver stopped")
			return
		}
	}
}

func (a *AlertArchiver) flush(ctx context.Context, batch []core.Alert) {
	if err := a.writer.WriteAlerts(ctx, batch); err != nil {
		metrics.AlertArchiveFailures.Inc()
		a.logger.Errorw("Failed to archive alert batch", "error", err, "alert_count", len(batch))
	}
}

// Stop flushes queued alerts and waits for the worker, up to 30s.
func (a *AlertArchiver) Stop() error {
	a.cancel()

	done := make(chan struct{})
	go func() {
		defer goroutine.Recover("alert-archiver-shutdown", a.logger)
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(30 * time.Second):
		return fmt.Errorf("graceful shutdown timeout: alert archiver did not stop within 30s")
	}
}
