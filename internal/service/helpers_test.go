package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/sakif/inforx/internal/model"
	"github.com/sakif/inforx/internal/repository/sqlstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestStore opens a migrated in-memory database.
func newTestStore(t *testing.T) *sqlstore.DB {
	t.Helper()
	db, err := sqlstore.Open(context.Background(), sqlstore.DriverSQLite, ":memory:", testLogger())
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// newTestActivity returns a logger whose pending writes finish before the
// store is closed.
func newTestActivity(t *testing.T, db *sqlstore.DB) *ActivityLogger {
	t.Helper()
	a := NewActivityLogger(db, testLogger())
	t.Cleanup(a.Wait)
	return a
}

func createUser(t *testing.T, db *sqlstore.DB, email string) *model.User {
	t.Helper()
	u := &model.User{Email: email, FullName: "Test User", Role: model.RolePatient}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// fakeQueue records enqueued jobs instead of processing them.
type fakeQueue struct {
	mu   sync.Mutex
	jobs []ProcessJob
}

func (q *fakeQueue) Enqueue(userID, recordID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, ProcessJob{UserID: userID, RecordID: recordID})
}

func (q *fakeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// stubGenerator returns a canned reply and remembers the last prompt.
type stubGenerator struct {
	mu     sync.Mutex
	reply  string
	err    error
	calls  int
	system string
	user   string
}

func (g *stubGenerator) GenerateText(_ context.Context, system, user string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.system, g.user = system, user
	return g.reply, g.err
}

func strPtr(s string) *string { return &s }
