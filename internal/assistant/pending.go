package assistant

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNoPending means the conversation has no proposal awaiting confirmation.
	ErrNoPending = errors.New("no pending action")
	// ErrStalePending means the confirmed action ID does not match the
	// currently stored proposal (it was superseded or already consumed).
	ErrStalePending = errors.New("pending action is stale")
	// ErrPendingExpired means the proposal outlived its validity window.
	ErrPendingExpired = errors.New("pending action expired")
)

// ActionKind names the mutation a PendingAction will perform on confirm.
type ActionKind string

const (
	ActionUpdateOrderStatus ActionKind = "update_order_status"
	ActionDeleteOrder       ActionKind = "delete_order"
	ActionAssignClient      ActionKind = "assign_client"
	ActionChangeClientCode  ActionKind = "change_client_code"
	ActionDeleteClient      ActionKind = "delete_client"
	ActionAddExpense        ActionKind = "add_expense"
	ActionBroadcast         ActionKind = "broadcast"
	ActionBulkParty         ActionKind = "bulk_update_party"
	ActionBulkTracks        ActionKind = "update_orders_by_tracks"
	ActionCalculateOrder    ActionKind = "calculate_order"
	ActionCreateDelivery    ActionKind = "create_delivery_request"
	ActionSubmitComplaint   ActionKind = "submit_complaint"
)

// PendingAction is a fully-resolved, unexecuted mutation proposal.
// Payload holds everything needed to perform the mutation later — entity
// IDs, final values, frozen computed numbers — so confirmation never
// re-interprets the original free-text command.
type PendingAction struct {
	ID             string
	ConversationID string
	Kind           ActionKind
	Payload        map[string]any
	Summary        string // human-readable confirmation text
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// PendingStore holds at most one PendingAction per conversation.
// A new proposal silently supersedes the previous one (last-proposal-wins;
// there is no queue). Thread-safe.
type PendingStore struct {
	mu     sync.Mutex
	byConv map[string]*PendingAction
	ttl    time.Duration
	logger *slog.Logger
}

// NewPendingStore creates a store with the given proposal validity window.
func NewPendingStore(ttl time.Duration, logger *slog.Logger) *PendingStore {
	return &PendingStore{
		byConv: make(map[string]*PendingAction),
		ttl:    ttl,
		logger: logger,
	}
}

// Propose stores a new pending action for the conversation, replacing any
// prior unconfirmed one.
func (s *PendingStore) Propose(conversationID string, kind ActionKind, payload map[string]any, summary string) *PendingAction {
	now := time.Now().UTC()
	pa := &PendingAction{
		ID:             newActionID(),
		ConversationID: conversationID,
		Kind:           kind,
		Payload:        payload,
		Summary:        summary,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
	}

	s.mu.Lock()
	prior := s.byConv[conversationID]
	s.byConv[conversationID] = pa
	s.mu.Unlock()

	if prior != nil {
		s.logger.Info("pending action superseded",
			slog.String("conversation_id", conversationID),
			slog.String("old_kind", string(prior.Kind)),
			slog.String("new_kind", string(kind)),
		)
	}
	s.logger.Info("pending action proposed",
		slog.String("conversation_id", conversationID),
		slog.String("action_id", pa.ID),
		slog.String("kind", string(kind)),
	)
	return pa
}

// Take removes and returns the conversation's pending action, verifying it
// is the one the user confirmed. The action is removed even when expired:
// a stale button press must not stay confirmable.
func (s *PendingStore) Take(conversationID, actionID string) (*PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pa, ok := s.byConv[conversationID]
	if !ok {
		return nil, ErrNoPending
	}
	if pa.ID != actionID {
		return nil, ErrStalePending
	}
	delete(s.byConv, conversationID)
	if time.Now().UTC().After(pa.ExpiresAt) {
		return nil, ErrPendingExpired
	}
	return pa, nil
}

// Cancel discards the conversation's pending action, if any.
// Returns the discarded action or nil.
func (s *PendingStore) Cancel(conversationID string) *PendingAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	pa, ok := s.byConv[conversationID]
	if !ok {
		return nil
	}
	delete(s.byConv, conversationID)
	return pa
}

// Sweep removes expired proposals. Called periodically by the scheduler.
func (s *PendingStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	removed := 0
	for conv, pa := range s.byConv {
		if now.After(pa.ExpiresAt) {
			delete(s.byConv, conv)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("expired pending actions swept", slog.Int("count", removed))
	}
	return removed
}

func newActionID() string {
	return uuid.NewString()
}
