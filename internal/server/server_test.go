package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/inforx/internal/auth"
	"github.com/sakif/inforx/internal/config"
	"github.com/sakif/inforx/internal/extract"
	"github.com/sakif/inforx/internal/ratelimit"
	"github.com/sakif/inforx/internal/repository/sqlstore"
	"github.com/sakif/inforx/internal/storage"
)

// =========================================================================
// TEST ENVIRONMENT
// =========================================================================

type stubGenerator struct {
	mu    sync.Mutex
	reply string
	calls int
}

func (g *stubGenerator) GenerateText(context.Context, string, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.reply, nil
}

type stubSpeech struct{}

func (stubSpeech) Synthesize(context.Context, string) ([]byte, error) {
	return []byte("ID3-fake-mp3"), nil
}

type testEnv struct {
	ts      *httptest.Server
	objects *storage.MemoryStore
	gen     *stubGenerator
}

type envOption func(*config.Config, *Deps)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqlstore.Open(context.Background(), sqlstore.DriverSQLite, ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.JWTSecret = "server-test-secret-0123456789"
	cfg.SiteURL = "http://app.test"

	objects := storage.NewMemoryStore("")
	gen := &stubGenerator{reply: `{"summary_text":"All good.","conditions_identified":[]}`}
	deps := Deps{
		Store:     db,
		Objects:   objects,
		Generator: gen,
		Speech:    stubSpeech{},
		Passwords: auth.NewPasswordServiceWithCost(4),
		PDF:       extract.LocalPDF{},
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	srv, err := New(cfg, logger, deps)
	require.NoError(t, err)
	t.Cleanup(srv.activity.Wait)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, objects: objects, gen: gen}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) doJSON(t *testing.T, method, path, token string, payload any) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	return e.do(t, method, path, token, body, "application/json")
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// signUp creates an account and returns its bearer token.
func (e *testEnv) signUp(t *testing.T, email string) string {
	t.Helper()
	resp := e.doJSON(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"email":    email,
		"password": "Str0ng!pass",
		"fullName": "Test Patient",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func multipartRecord(t *testing.T, fields map[string]string, fileName, fileType string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
		h.Set("Content-Type", fileType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

var recordFields = map[string]string{
	"title":         "Blood test",
	"type":          "lab_result",
	"hospital_name": "Eko Hospital",
	"visit_date":    "2025-04-01",
}

// =========================================================================
// TESTS
// =========================================================================

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/healthz", "", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["status"])
}

func TestAPIRequiresSession(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/me", "/api/medical-records", "/api/logs", "/api/medical-summary/latest"} {
		resp := env.do(t, http.MethodGet, path, "", nil, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
	resp := env.do(t, http.MethodGet, "/api/me", "not-a-jwt", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t)

	resp := env.doJSON(t, http.MethodPost, "/auth/signup", "", map[string]string{"email": "bad", "password": "x", "fullName": "A"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errBody := decode[map[string]any](t, resp)
	assert.Equal(t, "validation_error", errBody["error"])
	assert.Contains(t, errBody["fields"], "email")

	token := env.signUp(t, "flow@example.com")

	resp = env.doJSON(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"email": "flow@example.com", "password": "Str0ng!pass", "fullName": "Again",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.doJSON(t, http.MethodPost, "/auth/signin", "", map[string]string{"email": "flow@example.com", "password": "Wrong!pass1"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid login credentials", decode[map[string]any](t, resp)["message"])

	resp = env.doJSON(t, http.MethodPost, "/auth/signin", "", map[string]string{"email": "flow@example.com", "password": "Str0ng!pass"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == auth.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	resp = env.do(t, http.MethodGet, "/api/me", token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decode[map[string]map[string]any](t, resp)
	assert.Equal(t, "flow@example.com", me["user"]["email"])
	assert.Equal(t, "patient", me["profile"]["role"])

	resp = env.doJSON(t, http.MethodPut, "/api/profile", token, map[string]string{"fullName": "Flow Renamed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Flow Renamed", decode[map[string]any](t, resp)["full_name"])

	resp = env.do(t, http.MethodPost, "/auth/refresh", token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.doJSON(t, http.MethodPost, "/auth/reset-password", "", map[string]string{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/auth/signout", token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	for _, c := range resp.Cookies() {
		if c.Name == auth.CookieName {
			assert.Negative(t, c.MaxAge)
		}
	}
}

func TestGoogleRoutes(t *testing.T) {
	disabled := newTestEnv(t)
	resp := disabled.do(t, http.MethodGet, "/auth/google", "", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	env := newTestEnv(t, func(cfg *config.Config, _ *Deps) {
		cfg.GoogleClientID = "client-id"
		cfg.GoogleClientSecret = "client-secret"
	})

	resp = env.do(t, http.MethodGet, "/auth/google", "", nil, "")
	require.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "accounts.google.com")
	assert.Contains(t, resp.Header.Get("Location"), "redirect_uri=http%3A%2F%2Fapp.test%2Fauth%2Fcallback")

	resp = env.do(t, http.MethodGet, "/auth/callback?state=forged&code=abc", "", nil, "")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "http://app.test/auth/signin?error=invalid_state", resp.Header.Get("Location"))
}

func TestMedicalRecordsFlow(t *testing.T) {
	env := newTestEnv(t)
	token := env.signUp(t, "records@example.com")

	body, ct := multipartRecord(t, recordFields, "setup.exe", "application/octet-stream", []byte("MZ"))
	resp := env.do(t, http.MethodPost, "/api/medical-records", token, body, ct)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, env.objects.Len())

	body, ct = multipartRecord(t, recordFields, "result.pdf", "application/pdf", []byte("%PDF-1.4 fake"))
	resp = env.do(t, http.MethodPost, "/api/medical-records", token, body, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[map[string]any](t, resp)
	id := created["id"].(string)
	assert.Equal(t, "processing", created["processing_status"])
	assert.Equal(t, "result.pdf", created["file_name"])
	assert.Equal(t, 1, env.objects.Len())

	resp = env.doJSON(t, http.MethodPost, "/api/medical-records", token, map[string]string{
		"title": "Prescription", "type": "prescription", "hospital_name": "Eko Hospital", "visit_date": "2025-03-01",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "idle", decode[map[string]any](t, resp)["processing_status"])

	resp = env.do(t, http.MethodGet, "/api/medical-records?type=lab_result", token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[map[string]any](t, resp)
	assert.EqualValues(t, 1, page["total"])
	assert.EqualValues(t, 20, page["limit"])

	resp = env.do(t, http.MethodGet, "/api/medical-records?limit=abc", token, nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/medical-records/stats", token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[map[string]any](t, resp)
	assert.EqualValues(t, 2, stats["totalRecords"])
	assert.EqualValues(t, 1, stats["recordsWithFiles"])

	resp = env.do(t, http.MethodGet, "/api/medical-records/"+id, token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, decode[map[string]any](t, resp)["download_url"], "?expires=")

	other := env.signUp(t, "other@example.com")
	resp = env.do(t, http.MethodGet, "/api/medical-records/"+id, other, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	update := map[string]string{"title": "Blood test (fasting)", "type": "lab_result", "hospital_name": "Eko Hospital", "visit_date": "2025-04-01"}
	resp = env.doJSON(t, http.MethodPut, "/api/medical-records/"+id, token, update)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Blood test (fasting)", decode[map[string]any](t, resp)["title"])

	resp = env.do(t, http.MethodPost, "/api/medical-records/"+id+"/process", token, nil, "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/medical-records/"+id, token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Record deleted successfully", decode[map[string]string](t, resp)["message"])
	assert.Zero(t, env.objects.Len())
}

func TestSummaryRoutes(t *testing.T) {
	env := newTestEnv(t)
	token := env.signUp(t, "summary@example.com")

	resp := env.doJSON(t, http.MethodPost, "/api/medical-summaries/generate", token, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "No medical records found", decode[map[string]any](t, resp)["message"])

	resp = env.doJSON(t, http.MethodPost, "/api/medical-records", token, map[string]string{
		"title": "Checkup", "type": "other", "hospital_name": "Eko Hospital", "visit_date": "2025-03-01",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.doJSON(t, http.MethodPost, "/api/medical-summaries/generate", token, map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decode[map[string]any](t, resp)
	assert.Equal(t, false, first["cached"])
	assert.Equal(t, true, first["parsed"])

	resp = env.doJSON(t, http.MethodPost, "/api/medical-summary/generate", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode[map[string]any](t, resp)["cached"])
	assert.Equal(t, 1, env.gen.calls)

	resp = env.do(t, http.MethodGet, "/api/medical-summary/latest", token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "All good.", decode[map[string]any](t, resp)["summary_text"])

	resp = env.do(t, http.MethodDelete, "/api/medical-summaries", token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/medical-summary/latest", token, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAssistantRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.gen.reply = "📘 Explanation\nAll normal."
	token := env.signUp(t, "assistant@example.com")

	resp := env.doJSON(t, http.MethodPost, "/api/ai", token, map[string]string{"input": "Hb 13.5 g/dL"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, env.gen.reply, decode[map[string]string](t, resp)["result"])

	resp = env.doJSON(t, http.MethodPost, "/api/ai", token, map[string]string{"input": "x", "language": "yoruba"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.doJSON(t, http.MethodPost, "/api/elevenlabs", token, map[string]string{"text": "Hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	audio, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ID3-fake-mp3", string(audio))

	resp = env.doJSON(t, http.MethodPost, "/api/elevenlabs", token, map[string]string{"text": strings.Repeat("a", 5001)})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(mr.Addr(), "", "test", 1, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { limiter.Close() })

	env := newTestEnv(t, func(_ *config.Config, d *Deps) { d.Limiter = limiter })
	env.gen.reply = "ok"
	token := env.signUp(t, "limited@example.com")

	resp := env.doJSON(t, http.MethodPost, "/api/ai", token, map[string]string{"input": "first"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.doJSON(t, http.MethodPost, "/api/ai", token, map[string]string{"input": "second"})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limited", decode[map[string]any](t, resp)["error"])

	other := env.signUp(t, "unlimited@example.com")
	resp = env.doJSON(t, http.MethodPost, "/api/ai", other, map[string]string{"input": "first"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/logs", token, nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "unlimited routes are unaffected")
}

func TestLogRoutes(t *testing.T) {
	env := newTestEnv(t)
	token := env.signUp(t, "logs@example.com")

	resp := env.doJSON(t, http.MethodPost, "/api/logs", token, map[string]any{"action": "page_view", "metadata": map[string]string{"path": "/dashboard"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.doJSON(t, http.MethodPost, "/api/logs", token, map[string]any{"action": "page_view", "metadata": []int{1}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	require.Eventually(t, func() bool {
		req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/api/logs", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		r, err := http.DefaultClient.Do(req)
		if err != nil {
			return false
		}
		defer r.Body.Close()
		var body struct {
			Logs []struct {
				Action string `json:"action"`
			} `json:"logs"`
		}
		if json.NewDecoder(r.Body).Decode(&body) != nil {
			return false
		}
		actions := map[string]bool{}
		for _, l := range body.Logs {
			actions[l.Action] = true
		}
		return actions["page_view"] && actions["sign_up"]
	}, 2*time.Second, 20*time.Millisecond)
}

func TestExtractPDFRoute(t *testing.T) {
	env := newTestEnv(t)
	token := env.signUp(t, "pdf@example.com")

	body, ct := multipartRecord(t, nil, "", "", nil)
	resp := env.do(t, http.MethodPost, "/api/extract-pdf", token, body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, ct = multipartRecord(t, nil, "notes.txt", "text/plain", []byte("hello"))
	resp = env.do(t, http.MethodPost, "/api/extract-pdf", token, body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, ct = multipartRecord(t, nil, "broken.pdf", "application/pdf", []byte("not a pdf"))
	resp = env.do(t, http.MethodPost, "/api/extract-pdf", token, body, ct)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	out := decode[extract.PDFResponse](t, resp)
	assert.False(t, out.Success)
	assert.NotEmpty(t, out.Error)

	body, ct = multipartRecord(t, nil, "broken.pdf", "application/pdf", []byte("x"))
	resp = env.do(t, http.MethodPost, "/api/extract-pdf", "", body, ct)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
