package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kenesbay/cargobot/internal/backend"
)

// NotFoundError means entity resolution matched zero records.
type NotFoundError struct {
	Query string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no match for %q", e.Query)
}

// AmbiguousError means resolution matched several records. Candidates carry
// enough detail (name, phone, code, ID) for the user to pick one.
type AmbiguousError struct {
	Query      string
	Candidates []Candidate
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%d matches for %q", len(e.Candidates), e.Query)
}

// resolver maps free-text fragments to concrete CRM records.
// Purely a query layer: no caching, no side effects. Every lookup is
// scoped to the actor's company by the backend client.
type resolver struct {
	api    *backend.Client
	logger *slog.Logger
}

// resolveClient finds exactly one customer for the query. A positive
// explicitID (staff supplied a concrete client ID) takes precedence and
// skips fuzzy search entirely. Zero matches fail with *NotFoundError;
// several fail with *AmbiguousError — the caller must never guess.
func (r *resolver) resolveClient(ctx context.Context, actor *Actor, query string, explicitID int64) (*backend.Customer, error) {
	if explicitID > 0 {
		c, err := r.api.GetClient(ctx, actor.EmployeeID, explicitID)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	clients, err := r.api.SearchClients(ctx, actor.EmployeeID, query)
	if err != nil {
		return nil, err
	}
	switch len(clients) {
	case 0:
		return nil, &NotFoundError{Query: query}
	case 1:
		return &clients[0], nil
	default:
		candidates := make([]Candidate, len(clients))
		for i, c := range clients {
			candidates[i] = Candidate{ID: c.ID, Name: c.FullName, Phone: c.Phone, Code: c.Code()}
		}
		r.logger.DebugContext(ctx, "ambiguous client resolution",
			slog.String("query", query),
			slog.Int("matches", len(clients)),
		)
		return nil, &AmbiguousError{Query: query, Candidates: candidates}
	}
}

// resolveOrder finds exactly one order by track-code substring or free
// text. bestMatch allows taking the first match when several exist — only
// read handlers that document this low-stakes shortcut may pass true;
// mutating handlers must pass false so ambiguity blocks the mutation.
func (r *resolver) resolveOrder(ctx context.Context, actor *Actor, query string, bestMatch bool) (*backend.Order, error) {
	limit := 5
	if bestMatch {
		limit = 1
	}
	orders, err := r.api.SearchOrders(ctx, actor.EmployeeID, query, limit)
	if err != nil {
		return nil, err
	}
	switch {
	case len(orders) == 0:
		return nil, &NotFoundError{Query: query}
	case len(orders) == 1 || bestMatch:
		return &orders[0], nil
	default:
		candidates := make([]Candidate, len(orders))
		for i, o := range orders {
			name := ""
			if o.Client != nil {
				name = o.Client.FullName
			}
			candidates[i] = Candidate{ID: o.ID, Name: name, Code: o.TrackCode}
		}
		return nil, &AmbiguousError{Query: query, Candidates: candidates}
	}
}

// resolveFailure converts a resolution error into the matching user-facing
// result. Backend faults map to KindBackendFailure with the API detail when
// present.
func resolveFailure(err error, what string) *Result {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return notFound(fmt.Sprintf("❌ %s «%s» не найден.", what, nf.Query))
	}
	var amb *AmbiguousError
	if errors.As(err, &amb) {
		return &Result{
			Kind:       KindAmbiguous,
			Text:       formatCandidates(amb.Query, amb.Candidates),
			Candidates: amb.Candidates,
		}
	}
	return backendErrorResult(err)
}
