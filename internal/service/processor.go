package service

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/sakif/inforx/internal/auth"
	"github.com/sakif/inforx/internal/extract"
	"github.com/sakif/inforx/internal/model"
	"github.com/sakif/inforx/internal/repository"
	"github.com/sakif/inforx/internal/storage"
)

// Failure reasons stored in processing_error.
const (
	errQueueFull    = "processing queue full"
	errNoFile       = "record has no file"
	errDownloadFile = "failed to download file"
)

const processTimeout = 5 * time.Minute

// ProcessJob identifies a record whose file should be extracted.
type ProcessJob struct {
	UserID   string
	RecordID string
}

// RecordProcessor extracts uploaded files in the background, one at a time.
//
// The queue is a bounded channel drained by a single worker, which keeps
// OCR and PDF parsing strictly sequential. Enqueue never blocks: when the
// queue is full the record is marked failed and can be re-queued later.
type RecordProcessor struct {
	records  repository.RecordRepository
	store    storage.ObjectStore
	pipeline *extract.Pipeline
	logger   *slog.Logger

	jobs      chan ProcessJob
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewRecordProcessor(
	records repository.RecordRepository,
	store storage.ObjectStore,
	pipeline *extract.Pipeline,
	queueSize int,
	logger *slog.Logger,
) *RecordProcessor {
	if queueSize < 1 {
		queueSize = 1
	}
	return &RecordProcessor{
		records:  records,
		store:    store,
		pipeline: pipeline,
		logger:   logger,
		jobs:     make(chan ProcessJob, queueSize),
		done:     make(chan struct{}),
	}
}

// Start launches the worker. Jobs enqueued before Start wait in the queue.
func (p *RecordProcessor) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.run(ctx)
	})
}

// Stop ends the worker after its current job. Queued jobs are dropped and
// their records stay "processing".
func (p *RecordProcessor) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		if n := p.Pending(); n > 0 {
			p.logger.Warn("processor stopped with queued jobs; re-queue them via /process",
				slog.Int("pending", n),
			)
		}
	})
}

func (p *RecordProcessor) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			return
		case job := <-p.jobs:
			p.Process(ctx, job)
		}
	}
}

func (p *RecordProcessor) Enqueue(userID, recordID string) {
	job := ProcessJob{UserID: userID, RecordID: recordID}
	select {
	case p.jobs <- job:
	default:
		p.logger.Warn("processing queue full", slog.String("recordID", recordID))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.finish(ctx, job, "", errors.New(errQueueFull))
	}
}

// Pending is the number of queued jobs.
func (p *RecordProcessor) Pending() int {
	return len(p.jobs)
}

// Process runs one job synchronously.
func (p *RecordProcessor) Process(ctx context.Context, job ProcessJob) {
	ctx, cancel := context.WithTimeout(auth.ContextWithUserID(ctx, job.UserID), processTimeout)
	defer cancel()

	record, err := p.records.GetRecord(ctx, job.UserID, job.RecordID)
	if err != nil {
		// Deleted while queued.
		p.logger.Info("skipping processing job", slog.String("recordID", job.RecordID), slog.String("error", err.Error()))
		return
	}
	if !record.HasFile() {
		p.finish(ctx, job, "", errors.New(errNoFile))
		return
	}

	data, err := p.store.Get(ctx, *record.FilePath)
	if err != nil {
		p.logger.Error("failed to download record file",
			slog.String("recordID", record.ID),
			slog.String("error", err.Error()),
		)
		p.finish(ctx, job, "", errors.New(errDownloadFile))
		return
	}

	start := time.Now()
	res := p.pipeline.Extract(ctx, recordFile(record, data))
	if !res.Success {
		p.finish(ctx, job, "", errors.New(res.Error))
		return
	}

	p.logger.Info("record processed",
		slog.String("recordID", record.ID),
		slog.Int("chars", len(res.Text)),
		slog.Duration("duration", time.Since(start)),
	)
	p.finish(ctx, job, res.Text, nil)
}

// recordFile names the file after the upload but dispatches on the object
// key's extension, which was fixed when the upload was validated.
func recordFile(r *model.MedicalRecord, data []byte) extract.File {
	name := *r.FilePath
	if r.FileName != nil && *r.FileName != "" {
		name = *r.FileName
	}
	return extract.File{Name: name, Ext: filepath.Ext(*r.FilePath), Data: data}
}

// finish stores the outcome: complete with text, or failed with reason.
func (p *RecordProcessor) finish(ctx context.Context, job ProcessJob, text string, failure error) {
	now := time.Now().UTC()
	result := repository.ProcessingResult{Status: model.StatusComplete, ProcessedAt: &now}
	if failure != nil {
		msg := failure.Error()
		result.Status = model.StatusFailed
		result.Error = &msg
	} else {
		result.TextContent = &text
	}

	if err := p.records.SetProcessingResult(ctx, job.UserID, job.RecordID, result); err != nil {
		p.logger.Error("failed to store processing result",
			slog.String("recordID", job.RecordID),
			slog.String("error", err.Error()),
		)
	}
}
