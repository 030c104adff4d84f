package pipeline

import (
	"context"
	"log/slog"
	"time"

	"device-monitor/internal/domain"
	"device-monitor/internal/logging"
	"device-monitor/internal/metrics"
)

type ReadingWriter interface {
	BatchInsertReadings(ctx context.Context, readings []*domain.Reading) error
}

// HistoryWriter batches readings into the reading history table.
type HistoryWriter struct {
	l          *slog.Logger
	ch         <-chan *domain.Reading
	db         ReadingWriter
	batchSize  int
	flushMS    int
	retryDelay time.Duration
}

func NewHistoryWriter(
	l *slog.Logger,
	ch <-chan *domain.Reading,
	db ReadingWriter,
	batchSize int,
	flushMS int,
) *HistoryWriter {
	return &HistoryWriter{
		l:          l.With(slog.String("component", "history-writer")),
		ch:         ch,
		db:         db,
		batchSize:  batchSize,
		flushMS:    flushMS,
		retryDelay: 500 * time.Millisecond,
	}
}

func (w *HistoryWriter) Run(ctx context.Context) {
	batch := make([]*domain.Reading, 0, w.batchSize)
	ticker := time.NewTicker(time.Duration(w.flushMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-w.ch:
			if !ok {
				if len(batch) > 0 {
					w.flush(ctx, batch)
				}
				return
			}
			batch = append(batch, r)
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			if len(batch) > 0 {
				w.flush(context.WithoutCancel(ctx), batch)
			}
			return
		}
	}
}

func (w *HistoryWriter) flush(ctx context.Context, batch []*domain.Reading) {
	err := w.db.BatchInsertReadings(ctx, batch)
	if err != nil {
		w.l.Warn("history write failed, retrying", slog.Int("batch", len(batch)), logging.ErrAttr(err))
		time.Sleep(w.retryDelay)
		err = w.db.BatchInsertReadings(ctx, batch)
		if err != nil {
			w.l.Error("history write permanently failed", slog.Int("batch", len(batch)), logging.ErrAttr(err))
			metrics.HistoryWriteFailures.Add(int64(len(batch)))
			return
		}
	}
	metrics.HistoryWriteSuccess.Add(int64(len(batch)))
}
