package session

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/kenesbay/cargobot/internal/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions.db"), testLogger())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_EmptyPathRejected(t *testing.T) {
	if _, err := Open("", testLogger()); err == nil {
		t.Fatal("expected an error for empty path")
	}
}

func TestStore_LoadFirstContact(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conv, m, err := s.Load(ctx, 555, 7)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if conv.ID != "555" {
		t.Errorf("conversation ID = %q, want 555", conv.ID)
	}
	if len(conv.History) != 0 || conv.PendingTrack != "" {
		t.Error("first contact should start empty")
	}
	if m.ChatID != 555 || m.CompanyID != 7 {
		t.Errorf("model = %+v", m)
	}
}

func TestStore_SaveAndReload(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conv, m, err := s.Load(ctx, 555, 7)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	conv.History = []llm.Message{
		{Role: llm.RoleUser, Content: "где мой заказ?"},
		{Role: llm.RoleAssistant, Content: "Проверяю."},
	}
	conv.PendingTrack = "AB1234567890"
	if err := s.Save(ctx, m, conv); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, _, err := s.Load(ctx, 555, 7)
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	if len(got.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(got.History))
	}
	if got.History[0].Content != "где мой заказ?" {
		t.Errorf("history[0] = %+v", got.History[0])
	}
	if got.PendingTrack != "AB1234567890" {
		t.Errorf("PendingTrack = %q", got.PendingTrack)
	}
}

func TestStore_CorruptHistoryDropped(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, m, err := s.Load(ctx, 555, 7)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	m.HistoryJSON = "{not json"
	if err := s.db.Save(m).Error; err != nil {
		t.Fatalf("seeding corrupt row: %v", err)
	}

	got, _, err := s.Load(ctx, 555, 7)
	if err != nil {
		t.Fatalf("Load() should tolerate corrupt history: %v", err)
	}
	if got.History != nil {
		t.Errorf("corrupt history should be dropped, got %v", got.History)
	}
}

func TestStore_Bind(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, m, err := s.Load(ctx, 555, 7)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := s.Bind(ctx, m, 42, 0); err != nil {
		t.Fatalf("Bind() error: %v", err)
	}

	_, got, err := s.Load(ctx, 555, 7)
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	if got.ClientID != 42 || got.EmployeeID != 0 {
		t.Errorf("identity = client %d / employee %d", got.ClientID, got.EmployeeID)
	}
}

func TestStore_TrimHistories(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conv, m, _ := s.Load(ctx, 555, 7)
	conv.History = []llm.Message{{Role: llm.RoleUser, Content: "старое"}}
	if err := s.Save(ctx, m, conv); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	// Age the row past the idle cutoff.
	old := time.Now().UTC().Add(-100 * time.Hour)
	if err := s.db.Model(&ConversationModel{}).Where("chat_id = ?", 555).UpdateColumn("updated_at", old).Error; err != nil {
		t.Fatalf("aging row: %v", err)
	}

	n, err := s.TrimHistories(ctx, 72*time.Hour)
	if err != nil {
		t.Fatalf("TrimHistories() error: %v", err)
	}
	if n != 1 {
		t.Fatalf("trimmed %d rows, want 1", n)
	}

	got, _, err := s.Load(ctx, 555, 7)
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	if len(got.History) != 0 {
		t.Errorf("history should be gone, got %v", got.History)
	}
}

func TestStore_LockSerializesPerChat(t *testing.T) {
	s := openTestStore(t)

	unlock := s.Lock(555)
	done := make(chan struct{})
	go func() {
		u := s.Lock(555)
		u()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second Lock acquired while the first was held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired after release")
	}

	// A different chat is not blocked.
	u2 := s.Lock(556)
	u2()
}

func TestStore_Ping(t *testing.T) {
	s := openTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
}
