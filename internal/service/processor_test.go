package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/inforx/internal/extract"
	"github.com/sakif/inforx/internal/model"
	"github.com/sakif/inforx/internal/repository"
	"github.com/sakif/inforx/internal/repository/sqlstore"
	"github.com/sakif/inforx/internal/storage"
)

func failedResult(msg string) repository.ProcessingResult {
	now := time.Now().UTC()
	return repository.ProcessingResult{Status: model.StatusFailed, Error: &msg, ProcessedAt: &now}
}

type processorFixture struct {
	proc  *RecordProcessor
	db    *sqlstore.DB
	store *storage.MemoryStore
	user  *model.User
}

func newProcessorFixture(t *testing.T, queueSize int) *processorFixture {
	t.Helper()
	db := newTestStore(t)
	store := storage.NewMemoryStore("")
	pipeline := extract.NewPipeline(extract.LocalPDF{}, nil, testLogger())
	proc := NewRecordProcessor(db, store, pipeline, queueSize, testLogger())
	t.Cleanup(proc.Stop)
	return &processorFixture{proc: proc, db: db, store: store, user: createUser(t, db, "proc@example.com")}
}

// seed inserts a processing record. When body is non-nil it is stored under
// the record's key.
func (f *processorFixture) seed(t *testing.T, name string, body []byte) *model.MedicalRecord {
	t.Helper()
	ctx := context.Background()
	rec := &model.MedicalRecord{
		UserID:           f.user.ID,
		Title:            "Discharge note",
		Type:             model.RecordOther,
		HospitalName:     "Reddington",
		VisitDate:        "2025-01-02",
		ProcessingStatus: model.StatusProcessing,
	}
	if name != "" {
		key := "medical-records/" + f.user.ID + "/" + name
		rec.Attach(model.Attachment{URL: f.store.PublicURL(key), Path: key, Name: name, Size: int64(len(body)), Type: "text/plain"})
		if body != nil {
			require.NoError(t, f.store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), "text/plain"))
		}
	}
	require.NoError(t, f.db.CreateRecord(ctx, rec))
	return rec
}

func (f *processorFixture) reload(t *testing.T, id string) *model.MedicalRecord {
	t.Helper()
	rec, err := f.db.GetRecord(context.Background(), f.user.ID, id)
	require.NoError(t, err)
	return rec
}

func TestProcess_Outcomes(t *testing.T) {
	tests := []struct {
		name       string
		file       string
		body       []byte
		wantStatus string
		wantError  string
		wantText   string
	}{
		{"text file", "note.txt", []byte("Take paracetamol twice daily"), model.StatusComplete, "", "Take paracetamol twice daily"},
		{"no file", "", nil, model.StatusFailed, errNoFile, ""},
		{"object missing", "gone.txt", nil, model.StatusFailed, errDownloadFile, ""},
		{"image without ocr", "scan.png", []byte("not really a png"), model.StatusFailed, "engine unavailable", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newProcessorFixture(t, 4)
			rec := f.seed(t, tt.file, tt.body)

			f.proc.Process(context.Background(), ProcessJob{UserID: f.user.ID, RecordID: rec.ID})

			got := f.reload(t, rec.ID)
			assert.Equal(t, tt.wantStatus, got.ProcessingStatus)
			require.NotNil(t, got.ProcessedAt)
			if tt.wantError != "" {
				require.NotNil(t, got.ProcessingError)
				assert.Contains(t, *got.ProcessingError, tt.wantError)
			} else {
				assert.Nil(t, got.ProcessingError)
				require.NotNil(t, got.TextContent)
				assert.Equal(t, tt.wantText, *got.TextContent)
			}
		})
	}
}

func TestProcess_DeletedRecordIsSkipped(t *testing.T) {
	f := newProcessorFixture(t, 1)
	assert.NotPanics(t, func() {
		f.proc.Process(context.Background(), ProcessJob{UserID: f.user.ID, RecordID: "missing"})
	})
}

func TestEnqueue_QueueFullMarksFailed(t *testing.T) {
	f := newProcessorFixture(t, 1)
	first := f.seed(t, "a.txt", []byte("a"))
	second := f.seed(t, "b.txt", []byte("b"))

	// Not started, so the first job occupies the only slot.
	f.proc.Enqueue(f.user.ID, first.ID)
	f.proc.Enqueue(f.user.ID, second.ID)

	assert.Equal(t, 1, f.proc.Pending())
	got := f.reload(t, second.ID)
	assert.Equal(t, model.StatusFailed, got.ProcessingStatus)
	require.NotNil(t, got.ProcessingError)
	assert.Equal(t, errQueueFull, *got.ProcessingError)
	assert.Equal(t, model.StatusProcessing, f.reload(t, first.ID).ProcessingStatus)
}

func TestProcessor_StartDrainsQueue(t *testing.T) {
	f := newProcessorFixture(t, 8)
	var ids []string
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		ids = append(ids, f.seed(t, name, []byte("content of "+name)).ID)
	}
	for _, id := range ids {
		f.proc.Enqueue(f.user.ID, id)
	}

	f.proc.Start(context.Background())

	require.Eventually(t, func() bool {
		for _, id := range ids {
			rec, err := f.db.GetRecord(context.Background(), f.user.ID, id)
			if err != nil || rec.ProcessingStatus != model.StatusComplete {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	f.proc.Stop()
	f.proc.Stop()
}

type countingPDF struct {
	calls int
}

func (c *countingPDF) ExtractPDF(_ context.Context, _ string, data []byte) (string, int, error) {
	c.calls++
	return "pdf: " + string(data), 1, nil
}

func TestProcess_DispatchesOnValidatedType(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
	}{
		{"no extension", "lab-results"},
		{"mismatched extension", "lab-results.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestStore(t)
			store := storage.NewMemoryStore("")
			pdf := &countingPDF{}
			proc := NewRecordProcessor(db, store, extract.NewPipeline(pdf, nil, testLogger()), 4, testLogger())
			t.Cleanup(proc.Stop)
			queue := &fakeQueue{}
			svc := NewRecordService(db, store, queue, newTestActivity(t, db), testLogger())
			user := createUser(t, db, "dispatch@example.com")

			rec, err := svc.Create(context.Background(), user.ID, RecordInput{
				Title: "Lipid panel", Type: model.RecordLabResult, HospitalName: "Reddington", VisitDate: "2025-02-01",
			}, &Upload{Name: tt.fileName, ContentType: "application/pdf", Body: bytes.NewReader([]byte("LDL 3.1"))})
			require.NoError(t, err)
			require.Equal(t, 1, queue.len())

			proc.Process(context.Background(), queue.jobs[0])

			got, err := db.GetRecord(context.Background(), user.ID, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, model.StatusComplete, got.ProcessingStatus)
			assert.Equal(t, 1, pdf.calls)
			require.NotNil(t, got.TextContent)
			assert.Equal(t, "pdf: LDL 3.1", *got.TextContent)
		})
	}
}
