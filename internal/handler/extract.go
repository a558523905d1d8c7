package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/sakif/inforx/internal/extract"
)

const maxPDFSize = 32 << 20

// ExtractHandler is the PDF text endpoint that RemotePDF calls.
type ExtractHandler struct {
	logger *slog.Logger
}

func NewExtractHandler(logger *slog.Logger) *ExtractHandler {
	return &ExtractHandler{logger: logger}
}

// HandlePDF returns the text of an uploaded PDF.
//
// HTTP: POST /api/extract-pdf (multipart, part "file")
// Auth: Required
func (h *ExtractHandler) HandlePDF(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPDFSize)
	if err := r.ParseMultipartForm(maxPDFSize); err != nil {
		writeJSON(w, http.StatusBadRequest, extract.PDFResponse{Error: "Invalid multipart form"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, hdr, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			writeJSON(w, http.StatusBadRequest, extract.PDFResponse{Error: "No file provided"})
			return
		}
		writeJSON(w, http.StatusBadRequest, extract.PDFResponse{Error: "Failed to read uploaded file"})
		return
	}
	defer f.Close()

	isPDF := strings.EqualFold(filepath.Ext(hdr.Filename), ".pdf") ||
		strings.HasPrefix(hdr.Header.Get("Content-Type"), "application/pdf")
	if !isPDF {
		writeJSON(w, http.StatusBadRequest, extract.PDFResponse{Error: "File must be a PDF"})
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, extract.PDFResponse{Error: "Failed to read uploaded file"})
		return
	}

	text, pages, err := extract.ParsePDF(data)
	if err != nil {
		h.logger.Warn("pdf extraction failed", slog.String("file", hdr.Filename), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, extract.PDFResponse{Error: "Failed to extract text from PDF"})
		return
	}

	writeJSON(w, http.StatusOK, extract.PDFResponse{
		Success: true,
		Text:    text,
		Info:    extract.PDFInfo{Pages: pages, FileName: hdr.Filename},
	})
}
