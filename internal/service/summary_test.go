package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/inforx/internal/ai"
	"github.com/sakif/inforx/internal/apperror"
	"github.com/sakif/inforx/internal/extract"
	"github.com/sakif/inforx/internal/model"
	"github.com/sakif/inforx/internal/repository/sqlstore"
	"github.com/sakif/inforx/internal/storage"
)

const summaryReply = "Here you go:\n```json\n" + `{
  "summary_text": "Two malaria episodes treated successfully.",
  "conditions_identified": ["Malaria"],
  "medications_mentioned": ["Artemether"],
  "tests_performed": ["Malaria parasite test"],
  "patterns_identified": ["Seasonal recurrence"],
  "risk_factors": ["Endemic area"],
  "recommendations": ["Use treated nets"]
}` + "\n```"

type summaryFixture struct {
	svc   *SummaryService
	db    *sqlstore.DB
	store *storage.MemoryStore
	gen   *stubGenerator
	user  *model.User
}

func newSummaryFixture(t *testing.T) *summaryFixture {
	t.Helper()
	db := newTestStore(t)
	store := storage.NewMemoryStore("")
	gen := &stubGenerator{reply: summaryReply}
	pipeline := extract.NewPipeline(extract.LocalPDF{}, nil, testLogger())
	return &summaryFixture{
		svc:   NewSummaryService(db, db, store, pipeline, gen, newTestActivity(t, db), testLogger()),
		db:    db,
		store: store,
		gen:   gen,
		user:  createUser(t, db, "sum@example.com"),
	}
}

func (f *summaryFixture) addRecord(t *testing.T, title string, file ...model.Attachment) *model.MedicalRecord {
	t.Helper()
	rec := &model.MedicalRecord{
		UserID:       f.user.ID,
		Title:        title,
		Type:         model.RecordLabResult,
		HospitalName: "St. Nicholas",
		VisitDate:    "2025-02-01",
		TextContent:  strPtr("stored text for " + title),
	}
	for _, a := range file {
		rec.Attach(a)
	}
	require.NoError(t, f.db.CreateRecord(context.Background(), rec))
	return rec
}

func TestGenerate_NoRecords(t *testing.T) {
	f := newSummaryFixture(t)

	_, err := f.svc.Generate(context.Background(), f.user.ID, GenerateRequest{})
	require.ErrorIs(t, err, apperror.ErrValidation)
	assert.Equal(t, "No medical records found", err.Error())
	assert.Zero(t, f.gen.calls)
}

func TestGenerate_ParsesAndStores(t *testing.T) {
	f := newSummaryFixture(t)
	f.addRecord(t, "Malaria test")
	f.addRecord(t, "Follow-up")

	res, err := f.svc.Generate(context.Background(), f.user.ID, GenerateRequest{})
	require.NoError(t, err)

	assert.False(t, res.Cached)
	assert.True(t, res.Parsed)
	assert.Equal(t, "Two malaria episodes treated successfully.", res.Summary.SummaryText)
	assert.Equal(t, []string{"Artemether"}, res.Summary.MedicationsMentioned)
	assert.Equal(t, 2, res.Summary.RecordCount)
	assert.Contains(t, f.gen.user, "stored text for Malaria test")

	latest, err := f.db.LatestSummary(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Summary.ID, latest.ID)
}

func TestGenerate_Cache(t *testing.T) {
	f := newSummaryFixture(t)
	ctx := context.Background()
	f.addRecord(t, "Malaria test")

	first, err := f.svc.Generate(ctx, f.user.ID, GenerateRequest{})
	require.NoError(t, err)

	cached, err := f.svc.Generate(ctx, f.user.ID, GenerateRequest{})
	require.NoError(t, err)
	assert.True(t, cached.Cached)
	assert.Equal(t, first.Summary.ID, cached.Summary.ID)
	assert.Equal(t, 1, f.gen.calls)

	forced, err := f.svc.Generate(ctx, f.user.ID, GenerateRequest{ForceRegenerate: true})
	require.NoError(t, err)
	assert.False(t, forced.Cached)
	assert.NotEqual(t, first.Summary.ID, forced.Summary.ID)
	assert.Equal(t, 2, f.gen.calls)

	f.svc.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	stale, err := f.svc.Generate(ctx, f.user.ID, GenerateRequest{})
	require.NoError(t, err)
	assert.False(t, stale.Cached)
	assert.Equal(t, 3, f.gen.calls)
}

func TestGenerate_UnparseableReplyUsesFallback(t *testing.T) {
	f := newSummaryFixture(t)
	f.addRecord(t, "Malaria test")
	f.gen.reply = "I am sorry, I cannot help with that."

	res, err := f.svc.Generate(context.Background(), f.user.ID, GenerateRequest{})
	require.NoError(t, err)

	assert.False(t, res.Parsed)
	assert.Equal(t, ai.FallbackReview, res.Summary.SummaryText)
	assert.Equal(t, []string{ai.FallbackConsult}, res.Summary.Recommendations)

	list, err := f.svc.List(context.Background(), f.user.ID, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestGenerate_GeneratorError(t *testing.T) {
	f := newSummaryFixture(t)
	f.addRecord(t, "Malaria test")
	f.gen.err = errors.New("503 from provider")

	_, err := f.svc.Generate(context.Background(), f.user.ID, GenerateRequest{})
	require.ErrorIs(t, err, apperror.ErrUpstream)
	assert.Contains(t, err.Error(), "Failed to generate summary")
}

func TestGenerate_SelectedRecordsAndFiles(t *testing.T) {
	f := newSummaryFixture(t)
	ctx := context.Background()
	f.addRecord(t, "Ignored")

	key := "medical-records/" + f.user.ID + "/lab.txt"
	body := []byte("fresh text from the attached file")
	require.NoError(t, f.store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), "text/plain"))
	withFile := f.addRecord(t, "Lab panel", model.Attachment{Path: key, Name: "lab.txt", Size: int64(len(body)), Type: "text/plain"})

	res, err := f.svc.Generate(ctx, f.user.ID, GenerateRequest{RecordIDs: []string{" " + withFile.ID + " ", ""}})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Summary.RecordCount)
	assert.Contains(t, f.gen.user, "fresh text from the attached file")
	assert.NotContains(t, f.gen.user, "Ignored")
}

func TestSummarySaveListDelete(t *testing.T) {
	f := newSummaryFixture(t)
	ctx := context.Background()

	_, err := f.svc.Save(ctx, f.user.ID, SummaryInput{SummaryText: "  "})
	require.ErrorIs(t, err, apperror.ErrValidation)

	a, err := f.svc.Save(ctx, f.user.ID, SummaryInput{SummaryText: "first", RecordCount: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{}, a.RiskFactors)
	_, err = f.svc.Save(ctx, f.user.ID, SummaryInput{SummaryText: "second", RecordCount: 2})
	require.NoError(t, err)

	list, err := f.svc.List(ctx, f.user.ID, 100)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	n, err := f.svc.Delete(ctx, f.user.ID, a.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = f.svc.Delete(ctx, f.user.ID, a.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	n, err = f.svc.Delete(ctx, f.user.ID, "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = f.svc.Latest(ctx, f.user.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}
