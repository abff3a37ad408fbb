package services

import (
	"context"
	"sync"
	"time"

	"aircomp/config"
	"aircomp/metrics"
	"aircomp/models"
	"aircomp/monitor"

	"go.uber.org/zap"
)

// ArchiveWriter persists a batch of chart data
type ArchiveWriter interface {
	WriteBatch(ctx context.Context, points []models.SeriesPoint, annotations []models.Annotation) error
}

// BatchWriter buffers merged chart data and writes it to the archive when
// the batch is full or the batch timeout expires
type BatchWriter struct {
	writer       ArchiveWriter
	logger       *zap.Logger
	points       []models.SeriesPoint
	annotations  map[string]models.Annotation
	bufferMutex  sync.Mutex
	full         chan struct{}
	maxBatchSize int
	batchTimeout time.Duration
	retryBackoff time.Duration
	shutdownChan chan bool
}

var _ monitor.ChartListener = (*BatchWriter)(nil)

// NewBatchWriter creates a new batch writer
func NewBatchWriter(cfg *config.Config, writer ArchiveWriter, logger *zap.Logger) *BatchWriter {
	return &BatchWriter{
		writer:       writer,
		logger:       logger,
		points:       make([]models.SeriesPoint, 0, cfg.FirebaseBatchSize),
		annotations:  make(map[string]models.Annotation),
		full:         make(chan struct{}, 1),
		maxBatchSize: cfg.FirebaseBatchSize,
		batchTimeout: cfg.FirebaseBatchTimeout,
		retryBackoff: time.Second,
		shutdownChan: make(chan bool, 1),
	}
}

// PointsAppended buffers points merged into the chart series
func (bw *BatchWriter) PointsAppended(points []models.SeriesPoint) {
	bw.bufferMutex.Lock()
	bw.points = append(bw.points, points...)
	currentSize := bw.sizeLocked()
	bw.bufferMutex.Unlock()

	bw.signalIfFull(currentSize)
}

// AnnotationsUpserted buffers annotations; a later version of the same key
// replaces an earlier one still in the buffer
func (bw *BatchWriter) AnnotationsUpserted(annotations []models.Annotation) {
	bw.bufferMutex.Lock()
	for _, a := range annotations {
		bw.annotations[a.Key] = a
	}
	currentSize := bw.sizeLocked()
	bw.bufferMutex.Unlock()

	bw.signalIfFull(currentSize)
}

func (bw *BatchWriter) sizeLocked() int {
	return len(bw.points) + len(bw.annotations)
}

func (bw *BatchWriter) signalIfFull(currentSize int) {
	if currentSize < bw.maxBatchSize {
		return
	}
	select {
	case bw.full <- struct{}{}:
	default:
	}
}

// Start flushes the buffer until ctx is done, then flushes once more
func (bw *BatchWriter) Start(ctx context.Context) {
	bw.logger.Info("Starting archive batch writer",
		zap.Int("max_batch_size", bw.maxBatchSize),
		zap.Duration("batch_timeout", bw.batchTimeout))

	flushTimer := time.NewTimer(bw.batchTimeout)
	defer flushTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			bw.logger.Info("Batch writer received shutdown signal")
			// The parent context is gone; give the final flush its own
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			bw.flushBuffer(flushCtx)
			cancel()
			bw.shutdownChan <- true
			return

		case <-bw.full:
			bw.logger.Info("Buffer full, flushing to archive", zap.Int("buffer_size", bw.GetBufferSize()))

			if !flushTimer.Stop() {
				select {
				case <-flushTimer.C:
				default:
				}
			}
			bw.flushBuffer(ctx)
			flushTimer.Reset(bw.batchTimeout)

		case <-flushTimer.C:
			if currentSize := bw.GetBufferSize(); currentSize > 0 {
				bw.logger.Info("Batch timeout reached, flushing to archive",
					zap.Int("buffer_size", currentSize))
				bw.flushBuffer(ctx)
			}
			flushTimer.Reset(bw.batchTimeout)
		}
	}
}

// flushBuffer writes the current buffer to the archive and clears it
func (bw *BatchWriter) flushBuffer(ctx context.Context) {
	bw.bufferMutex.Lock()

	if bw.sizeLocked() == 0 {
		bw.bufferMutex.Unlock()
		return
	}

	points := make([]models.SeriesPoint, len(bw.points))
	copy(points, bw.points)
	annotations := make([]models.Annotation, 0, len(bw.annotations))
	for _, a := range bw.annotations {
		annotations = append(annotations, a)
	}

	bw.points = bw.points[:0]
	bw.annotations = make(map[string]models.Annotation)

	bw.bufferMutex.Unlock()

	maxRetries := 3
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err = bw.writer.WriteBatch(ctx, points, annotations)
		if err == nil {
			metrics.ArchiveWrites.WithLabelValues(metrics.OutcomeOK).Add(float64(len(points)))
			bw.logger.Info("Successfully flushed batch to archive",
				zap.Int("points", len(points)),
				zap.Int("annotations", len(annotations)))
			return
		}

		bw.logger.Error("Failed to flush batch to archive",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Int("points", len(points)),
			zap.Error(err))

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				attempt = maxRetries
			case <-time.After(time.Duration(attempt) * bw.retryBackoff):
			}
		}
	}

	metrics.ArchiveWrites.WithLabelValues(metrics.OutcomeError).Add(float64(len(points)))
	bw.logger.Error("Failed to flush batch after all retries, data lost",
		zap.Int("points", len(points)),
		zap.Int("annotations", len(annotations)),
		zap.Error(err))
}

// WaitForShutdown waits for the batch writer to complete shutdown
func (bw *BatchWriter) WaitForShutdown(timeout time.Duration) bool {
	select {
	case <-bw.shutdownChan:
		return true
	case <-time.After(timeout):
		return false
	}
}

// GetBufferSize returns the number of buffered points and annotations
func (bw *BatchWriter) GetBufferSize() int {
	bw.bufferMutex.Lock()
	defer bw.bufferMutex.Unlock()
	return bw.sizeLocked()
}
