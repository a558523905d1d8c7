package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/inforx/internal/apperror"
	"github.com/sakif/inforx/internal/model"
	"github.com/sakif/inforx/internal/repository/sqlstore"
	"github.com/sakif/inforx/internal/storage"
)

// failingRecords makes CreateRecord fail after the upload went through.
type failingRecords struct {
	*sqlstore.DB
}

func (failingRecords) CreateRecord(context.Context, *model.MedicalRecord) error {
	return errors.New("disk full")
}

type recordFixture struct {
	svc   *RecordService
	db    *sqlstore.DB
	store *storage.MemoryStore
	queue *fakeQueue
	user  *model.User
}

func newRecordFixture(t *testing.T) *recordFixture {
	t.Helper()
	db := newTestStore(t)
	store := storage.NewMemoryStore("")
	queue := &fakeQueue{}
	return &recordFixture{
		svc:   NewRecordService(db, store, queue, newTestActivity(t, db), testLogger()),
		db:    db,
		store: store,
		queue: queue,
		user:  createUser(t, db, "rec@example.com"),
	}
}

func validRecord() RecordInput {
	return RecordInput{
		Title:        "Malaria test",
		Type:         model.RecordLabResult,
		HospitalName: "Lagos University Teaching Hospital",
		VisitDate:    "2025-03-14",
	}
}

func upload(name, contentType string, size int) *Upload {
	return &Upload{Name: name, ContentType: contentType, Body: bytes.NewReader(bytes.Repeat([]byte("x"), size))}
}

func TestRecordCreate_WithoutFile(t *testing.T) {
	f := newRecordFixture(t)

	rec, err := f.svc.Create(context.Background(), f.user.ID, validRecord(), nil)
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, model.StatusIdle, rec.ProcessingStatus)
	assert.False(t, rec.HasFile())
	assert.Zero(t, f.queue.len())
	assert.Zero(t, f.store.Len())
}

func TestRecordCreate_Validation(t *testing.T) {
	f := newRecordFixture(t)

	_, err := f.svc.Create(context.Background(), f.user.ID, RecordInput{Type: "xray", VisitDate: "14/03/2025"}, nil)
	require.ErrorIs(t, err, apperror.ErrValidation)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Contains(t, appErr.Fields, "title")
	assert.Contains(t, appErr.Fields, "hospital_name")
	assert.Contains(t, appErr.Fields, "type")
	assert.Equal(t, "Visit date must be YYYY-MM-DD", appErr.Fields["visit_date"])
}

func TestRecordCreate_FileRules(t *testing.T) {
	tests := []struct {
		name    string
		file    *Upload
		wantErr string
	}{
		{"executable rejected", upload("setup.exe", "application/octet-stream", 100), "File type not allowed"},
		{"oversized pdf rejected", upload("scan.pdf", "application/pdf", 11<<20), "File size must be less than 10MB"},
		{"empty file rejected", upload("scan.pdf", "application/pdf", 0), "File is empty"},
		{"png accepted", upload("xray.png", "image/png", 5<<20), ""},
		{"type from extension", upload("Report.DOCX", "application/octet-stream", 10), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRecordFixture(t)

			rec, err := f.svc.Create(context.Background(), f.user.ID, validRecord(), tt.file)
			if tt.wantErr != "" {
				require.ErrorIs(t, err, apperror.ErrValidation)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Zero(t, f.store.Len(), "nothing may be uploaded")
				page, lerr := f.svc.List(context.Background(), f.user.ID, model.RecordFilter{}, 0, 0)
				require.NoError(t, lerr)
				assert.Zero(t, page.Total, "nothing may be inserted")
				return
			}

			require.NoError(t, err)
			require.True(t, rec.HasFile())
			assert.Equal(t, model.StatusProcessing, rec.ProcessingStatus)
			assert.True(t, strings.HasPrefix(*rec.FilePath, "medical-records/"+f.user.ID+"/"))
			assert.True(t, f.store.Has(*rec.FilePath))
			assert.Equal(t, 1, f.queue.len())
		})
	}
}

func TestRecordCreate_InsertFailureRemovesUpload(t *testing.T) {
	db := newTestStore(t)
	store := storage.NewMemoryStore("")
	svc := NewRecordService(failingRecords{db}, store, &fakeQueue{}, nil, testLogger())

	_, err := svc.Create(context.Background(), "user-1", validRecord(), upload("scan.pdf", "application/pdf", 64))
	require.Error(t, err)
	assert.Zero(t, store.Len())
}

func TestRecordUpdate_KeepsFile(t *testing.T) {
	f := newRecordFixture(t)
	ctx := context.Background()
	rec, err := f.svc.Create(ctx, f.user.ID, validRecord(), upload("scan.pdf", "application/pdf", 64))
	require.NoError(t, err)

	in := validRecord()
	in.Title = "Malaria test (repeat)"
	in.Notes = strPtr("  fasting  ")
	updated, err := f.svc.Update(ctx, f.user.ID, rec.ID, in)
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, f.user.ID, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Malaria test (repeat)", got.Title)
	require.NotNil(t, got.Notes)
	assert.Equal(t, "fasting", *got.Notes)
	assert.Equal(t, *rec.FilePath, *got.FilePath)
	assert.Equal(t, updated.ID, got.ID)
}

func TestRecordGet_DownloadURL(t *testing.T) {
	f := newRecordFixture(t)
	ctx := context.Background()

	withFile, err := f.svc.Create(ctx, f.user.ID, validRecord(), upload("scan.pdf", "application/pdf", 64))
	require.NoError(t, err)
	assert.Nil(t, withFile.DownloadURL, "create does not sign")

	got, err := f.svc.Get(ctx, f.user.ID, withFile.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DownloadURL)
	assert.True(t, strings.HasPrefix(*got.DownloadURL, f.store.PublicURL(*got.FilePath)+"?expires="))

	noFile, err := f.svc.Create(ctx, f.user.ID, validRecord(), nil)
	require.NoError(t, err)
	got, err = f.svc.Get(ctx, f.user.ID, noFile.ID)
	require.NoError(t, err)
	assert.Nil(t, got.DownloadURL)

	updated, err := f.svc.Update(ctx, f.user.ID, withFile.ID, validRecord())
	require.NoError(t, err)
	assert.Nil(t, updated.DownloadURL, "only single-record reads are signed")
}

func TestRecordOwnership(t *testing.T) {
	f := newRecordFixture(t)
	ctx := context.Background()
	rec, err := f.svc.Create(ctx, f.user.ID, validRecord(), nil)
	require.NoError(t, err)

	other := createUser(t, f.db, "other@example.com")

	_, err = f.svc.Get(ctx, other.ID, rec.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	_, err = f.svc.Update(ctx, other.ID, rec.ID, validRecord())
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, other.ID, rec.ID), apperror.ErrNotFound)

	_, err = f.svc.Get(ctx, f.user.ID, rec.ID)
	assert.NoError(t, err, "record must survive the other user's delete")
}

func TestRecordDelete_RemovesFile(t *testing.T) {
	f := newRecordFixture(t)
	ctx := context.Background()
	rec, err := f.svc.Create(ctx, f.user.ID, validRecord(), upload("scan.pdf", "application/pdf", 64))
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, f.user.ID, rec.ID))
	assert.False(t, f.store.Has(*rec.FilePath))
	_, err = f.svc.Get(ctx, f.user.ID, rec.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestRecordList_FiltersAndLimits(t *testing.T) {
	f := newRecordFixture(t)
	ctx := context.Background()

	for _, typ := range []string{model.RecordLabResult, model.RecordScan, model.RecordScan} {
		in := validRecord()
		in.Type = typ
		_, err := f.svc.Create(ctx, f.user.ID, in, nil)
		require.NoError(t, err)
	}

	page, err := f.svc.List(ctx, f.user.ID, model.RecordFilter{Type: model.RecordScan}, 500, -3)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Records, 2)
	assert.Equal(t, MaxListLimit, page.Limit)
	assert.Equal(t, 0, page.Offset)

	_, err = f.svc.List(ctx, f.user.ID, model.RecordFilter{Type: "xray"}, 0, 0)
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestRecordReprocess(t *testing.T) {
	f := newRecordFixture(t)
	ctx := context.Background()

	plain, err := f.svc.Create(ctx, f.user.ID, validRecord(), nil)
	require.NoError(t, err)
	_, err = f.svc.Reprocess(ctx, f.user.ID, plain.ID)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	withFile, err := f.svc.Create(ctx, f.user.ID, validRecord(), upload("scan.pdf", "application/pdf", 64))
	require.NoError(t, err)
	require.NoError(t, f.db.SetProcessingResult(ctx, f.user.ID, withFile.ID, failedResult("boom")))

	rec, err := f.svc.Reprocess(ctx, f.user.ID, withFile.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, rec.ProcessingStatus)
	assert.Equal(t, 2, f.queue.len())

	stored, err := f.svc.Get(ctx, f.user.ID, withFile.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ProcessingError)
}

func TestComputeStats(t *testing.T) {
	t.Run("no records", func(t *testing.T) {
		st := ComputeStats(nil)
		assert.Zero(t, st.TotalRecords)
		assert.Zero(t, st.AverageFileSize)
		assert.Equal(t, "0 B", st.TotalFileSizeFormatted)
		assert.Empty(t, st.TopHospitals)
		assert.NotNil(t, st.RecordsByType)
	})

	t.Run("mixed records", func(t *testing.T) {
		size := func(n int64) *int64 { return &n }
		records := []model.MedicalRecord{
			{Type: model.RecordScan, HospitalName: "B Clinic", FileSize: size(1024)},
			{Type: model.RecordScan, HospitalName: "A Clinic", FileSize: size(2048)},
			{Type: model.RecordOther, HospitalName: "B Clinic"},
		}
		st := ComputeStats(records)

		assert.Equal(t, 3, st.TotalRecords)
		assert.Equal(t, 2, st.RecordsWithFiles)
		assert.EqualValues(t, 3072, st.TotalFileSize)
		assert.EqualValues(t, 1536, st.AverageFileSize)
		assert.Equal(t, "3.0 KiB", st.TotalFileSizeFormatted)
		assert.Equal(t, "1.5 KiB", st.AverageFileSizeFormatted)
		assert.Equal(t, []model.NameCount{{Name: "B Clinic", Count: 2}, {Name: "A Clinic", Count: 1}}, st.TopHospitals)
		assert.Equal(t, []model.NameCount{{Name: model.RecordScan, Count: 2}, {Name: model.RecordOther, Count: 1}}, st.TopTypes)
	})
}
