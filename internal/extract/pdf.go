package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/sakif/inforx/internal/auth"
)

// ParsePDF extracts the plain text of every page. The parser panics on some
// malformed inputs; those panics are returned as errors.
func ParsePDF(data []byte) (text string, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, pages, err = "", 0, fmt.Errorf("parse pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}

	pages = r.NumPage()
	parts := make([]string, 0, pages)
	for i := 1; i <= pages; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		t, err := p.GetPlainText(nil)
		if err != nil {
			return "", 0, fmt.Errorf("page %d: %w", i, err)
		}
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n"), pages, nil
}

// LocalPDF parses PDFs in-process.
type LocalPDF struct{}

func (LocalPDF) ExtractPDF(_ context.Context, _ string, data []byte) (string, int, error) {
	return ParsePDF(data)
}

// TokenMinter issues short-lived access tokens.
type TokenMinter interface {
	GenerateWithDuration(userID string, d time.Duration) (string, error)
}

// RemotePDF posts PDFs to the /api/extract-pdf endpoint as the user found in
// the request context.
type RemotePDF struct {
	url    string
	tokens TokenMinter
	client *http.Client
}

// remoteTokenTTL covers a single extraction call.
const remoteTokenTTL = 5 * time.Minute

func NewRemotePDF(url string, tokens TokenMinter, client *http.Client) *RemotePDF {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &RemotePDF{url: url, tokens: tokens, client: client}
}

// PDFResponse is the body of /api/extract-pdf.
type PDFResponse struct {
	Success bool    `json:"success"`
	Text    string  `json:"text"`
	Info    PDFInfo `json:"info"`
	Error   string  `json:"error,omitempty"`
}

type PDFInfo struct {
	Pages    int    `json:"pages"`
	FileName string `json:"fileName"`
}

func (p *RemotePDF) ExtractPDF(ctx context.Context, name string, data []byte) (string, int, error) {
	userID, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return "", 0, errors.New("remote pdf: no user in context")
	}
	token, err := p.tokens.GenerateWithDuration(userID, remoteTokenTTL)
	if err != nil {
		return "", 0, fmt.Errorf("remote pdf: mint token: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", 0, err
	}
	if _, err := part.Write(data); err != nil {
		return "", 0, err
	}
	if err := mw.Close(); err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, &body)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("remote pdf: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return "", 0, fmt.Errorf("remote pdf: read body: %w", err)
	}

	var out PDFResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", 0, fmt.Errorf("remote pdf: status %d: invalid body", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || !out.Success {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", 0, fmt.Errorf("remote pdf: status %d: %s", resp.StatusCode, msg)
	}
	return out.Text, out.Info.Pages, nil
}
