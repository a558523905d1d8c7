package handler

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/inforx/internal/apperror"
	"github.com/sakif/inforx/internal/model"
	"github.com/sakif/inforx/internal/service"
)

// multipartOverhead is room for the text fields around the file part.
const multipartOverhead = 1 << 20

// RecordHandler serves /api/medical-records. Every route requires a session
// and only ever sees the caller's own records.
type RecordHandler struct {
	svc    *service.RecordService
	logger *slog.Logger
}

func NewRecordHandler(svc *service.RecordService, logger *slog.Logger) *RecordHandler {
	return &RecordHandler{svc: svc, logger: logger}
}

// HandleList returns one page of records.
//
// HTTP: GET /api/medical-records?type=&hospital_name=&search=&limit=&offset=
func (h *RecordHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	filter := model.RecordFilter{
		Type:         q.Get("type"),
		HospitalName: q.Get("hospital_name"),
		Search:       q.Get("search"),
	}
	page, err := h.svc.List(r.Context(), uid, filter, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandleCreate accepts either a multipart form (fields plus an optional
// "file" part) or a JSON body without a file.
//
// HTTP: POST /api/medical-records
func (h *RecordHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var (
		in   service.RecordInput
		file *service.Upload
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, service.MaxFileSize+multipartOverhead)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				writeError(w, apperror.ValidationFailed("file", "File size must be less than 10MB"))
				return
			}
			writeError(w, apperror.ValidationFailed("body", "Invalid multipart form"))
			return
		}
		defer r.MultipartForm.RemoveAll()

		in = service.RecordInput{
			Title:        r.FormValue("title"),
			Type:         r.FormValue("type"),
			HospitalName: r.FormValue("hospital_name"),
			VisitDate:    r.FormValue("visit_date"),
		}
		if notes, ok := r.MultipartForm.Value["notes"]; ok && len(notes) > 0 {
			in.Notes = &notes[0]
		}

		f, hdr, err := r.FormFile("file")
		switch {
		case err == nil:
			defer f.Close()
			file = &service.Upload{Name: hdr.Filename, ContentType: hdr.Header.Get("Content-Type"), Body: f}
		case errors.Is(err, http.ErrMissingFile):
		default:
			writeError(w, apperror.ValidationFailed("file", "Failed to read uploaded file"))
			return
		}
	} else if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}

	record, err := h.svc.Create(r.Context(), uid, in, file)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// HandleGet returns one record.
//
// HTTP: GET /api/medical-records/{id}
func (h *RecordHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	record, err := h.svc.Get(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// HandleUpdate replaces the editable fields.
//
// HTTP: PUT /api/medical-records/{id}
func (h *RecordHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var in service.RecordInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	record, err := h.svc.Update(r.Context(), uid, chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// HandleDelete removes a record and its file.
//
// HTTP: DELETE /api/medical-records/{id}
func (h *RecordHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), uid, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Record deleted successfully"})
}

// HandleProcess queues the record's file for extraction again.
//
// HTTP: POST /api/medical-records/{id}/process
func (h *RecordHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	record, err := h.svc.Reprocess(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, record)
}

// HandleStats aggregates the caller's records.
//
// HTTP: GET /api/medical-records/stats
func (h *RecordHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	stats, err := h.svc.Stats(r.Context(), uid)
	if err != nil {
		h.logger.Error("failed to compute record stats", slog.String("userID", uid), slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// trimmed is a small helper for optional query values.
func trimmed(r *http.Request, name string) string {
	return strings.TrimSpace(r.URL.Query().Get(name))
}
