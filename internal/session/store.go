// Package session persists per-chat conversation state in SQLite via GORM.
// Uses modernc.org/sqlite (pure Go, no CGO) through the glebarez/sqlite
// GORM driver: a single file, WAL mode, zero-config deployment.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kenesbay/cargobot/internal/assistant"
)

// ConversationModel is the persisted row for one Telegram chat.
type ConversationModel struct {
	ChatID       int64  `gorm:"primaryKey"`
	CompanyID    int64  `gorm:"not null;index"`
	ClientID     int64  `gorm:"index"`
	EmployeeID   int64
	HistoryJSON  string `gorm:"type:text"`
	PendingTrack string
	UpdatedAt    time.Time
	CreatedAt    time.Time
}

func (ConversationModel) TableName() string { return "conversations" }

// Store loads and saves conversation state, one row per chat.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger

	// Serializes handling per chat so two rapid messages from the same
	// user cannot interleave state updates.
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// Open creates the SQLite-backed session store and migrates its schema.
func Open(path string, slogger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)

	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if err := db.AutoMigrate(&ConversationModel{}); err != nil {
		return nil, fmt.Errorf("migrating session schema: %w", err)
	}

	slogger.Info("session store opened", slog.String("path", path))
	return &Store{
		db:     db,
		logger: slogger,
		locks:  make(map[int64]*sync.Mutex),
	}, nil
}

// Lock acquires the per-chat mutex. The returned func releases it.
func (s *Store) Lock(chatID int64) func() {
	s.mu.Lock()
	l, ok := s.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[chatID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Load returns the chat's conversation state, creating an empty one for
// first contact.
func (s *Store) Load(ctx context.Context, chatID, companyID int64) (*assistant.Conversation, *ConversationModel, error) {
	var m ConversationModel
	err := s.db.WithContext(ctx).First(&m, "chat_id = ?", chatID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		m = ConversationModel{ChatID: chatID, CompanyID: companyID}
	case err != nil:
		return nil, nil, fmt.Errorf("loading conversation %d: %w", chatID, err)
	}

	conv := &assistant.Conversation{
		ID:           strconv.FormatInt(chatID, 10),
		PendingTrack: m.PendingTrack,
	}
	if m.HistoryJSON != "" {
		if err := json.Unmarshal([]byte(m.HistoryJSON), &conv.History); err != nil {
			// Corrupt history is dropped, not fatal.
			s.logger.Warn("discarding unreadable conversation history",
				slog.Int64("chat_id", chatID),
				slog.String("error", err.Error()),
			)
			conv.History = nil
		}
	}
	return conv, &m, nil
}

// Save writes the conversation state back.
func (s *Store) Save(ctx context.Context, m *ConversationModel, conv *assistant.Conversation) error {
	raw, err := json.Marshal(conv.History)
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}
	m.HistoryJSON = string(raw)
	m.PendingTrack = conv.PendingTrack
	if err := s.db.WithContext(ctx).Save(m).Error; err != nil {
		return fmt.Errorf("saving conversation %d: %w", m.ChatID, err)
	}
	return nil
}

// Bind records the resolved identity for a chat.
func (s *Store) Bind(ctx context.Context, m *ConversationModel, clientID, employeeID int64) error {
	m.ClientID = clientID
	m.EmployeeID = employeeID
	if err := s.db.WithContext(ctx).Save(m).Error; err != nil {
		return fmt.Errorf("binding conversation %d: %w", m.ChatID, err)
	}
	return nil
}

// TrimHistories drops history from conversations idle longer than maxIdle.
// Called periodically by the scheduler.
func (s *Store) TrimHistories(ctx context.Context, maxIdle time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxIdle)
	res := s.db.WithContext(ctx).
		Model(&ConversationModel{}).
		Where("updated_at < ? AND history_json != ''", cutoff).
		Updates(map[string]any{"history_json": "", "pending_track": ""})
	if res.Error != nil {
		return 0, fmt.Errorf("trimming histories: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Ping verifies the database connection, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}
