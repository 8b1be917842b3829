// Package assistant is the core of the bot: it turns free-text chat
// messages into tool commands, dispatches them against the CRM backend,
// and runs the propose/confirm protocol for every mutation.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kenesbay/cargobot/internal/backend"
	"github.com/kenesbay/cargobot/internal/llm"
	"github.com/kenesbay/cargobot/internal/observability"
)

const (
	defaultModelTimeout = 60 * time.Second
	defaultMaxTokens    = 2048
	defaultHistoryCap   = 20
)

// Conversation is the per-chat state the assistant reads and mutates.
// The caller owns persistence; the assistant only updates the fields.
type Conversation struct {
	ID           string
	History      []llm.Message
	PendingTrack string // track code awaiting a claim comment, customers only
}

// Assistant wires the language model, the CRM backend, and the pending
// action store into one message-handling pipeline.
type Assistant struct {
	api      *backend.Client
	provider llm.Provider
	pending  *PendingStore
	res      *resolver
	logger   *slog.Logger
	metrics  *observability.MetricsCollector

	modelTimeout time.Duration
	maxTokens    int
	historyCap   int

	staffTools    map[string]handlerFunc
	customerTools map[string]handlerFunc
}

// Option configures the assistant.
type Option func(*Assistant)

// WithMetrics enables metrics recording.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(a *Assistant) { a.metrics = m }
}

// WithModelTimeout sets the language model call deadline.
func WithModelTimeout(d time.Duration) Option {
	return func(a *Assistant) {
		if d > 0 {
			a.modelTimeout = d
		}
	}
}

// WithMaxTokens caps the model's reply length.
func WithMaxTokens(n int) Option {
	return func(a *Assistant) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

// WithHistoryCap sets how many conversation turns are kept.
func WithHistoryCap(n int) Option {
	return func(a *Assistant) {
		if n > 0 {
			a.historyCap = n
		}
	}
}

// New creates an Assistant with both tool registries populated.
func New(api *backend.Client, provider llm.Provider, pending *PendingStore, logger *slog.Logger, opts ...Option) *Assistant {
	a := &Assistant{
		api:          api,
		provider:     provider,
		pending:      pending,
		res:          &resolver{api: api, logger: logger},
		logger:       logger,
		modelTimeout: defaultModelTimeout,
		maxTokens:    defaultMaxTokens,
		historyCap:   defaultHistoryCap,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.registerCustomerTools()
	a.registerStaffTools()
	return a
}

// Pending exposes the pending action store for sweep scheduling.
func (a *Assistant) Pending() *PendingStore { return a.pending }

// HandleMessage processes one inbound chat message end to end: customer
// track-code fast path, then model call, then command dispatch. A reply
// with no recognizable command is returned to the user verbatim as chat.
func (a *Assistant) HandleMessage(ctx context.Context, actor *Actor, conv *Conversation, text string) *Result {
	if actor.IsCustomer() {
		if res := a.handleCustomerTracks(ctx, actor, conv, text); res != nil {
			a.remember(conv, text, res.Text)
			return res
		}
	}

	mctx, cancel := context.WithTimeout(ctx, a.modelTimeout)
	defer cancel()

	messages := append(append([]llm.Message{}, conv.History...), llm.Message{Role: llm.RoleUser, Content: text})
	start := time.Now()
	resp, err := a.provider.SendMessage(mctx, &llm.Request{
		SystemPrompt: a.systemPrompt(actor),
		Messages:     messages,
		MaxTokens:    a.maxTokens,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			a.logger.WarnContext(ctx, "model call timed out",
				slog.Duration("timeout", a.modelTimeout),
			)
			a.metrics.RecordLLMRequest(a.provider.Name(), "", "timeout", time.Since(start).Seconds())
			return &Result{Kind: KindModelTimeout, Text: "⏳ Ассистент не успел ответить. Попробуйте ещё раз."}
		}
		a.logger.ErrorContext(ctx, "model call failed", slog.String("error", err.Error()))
		a.metrics.RecordLLMRequest(a.provider.Name(), "", "error", time.Since(start).Seconds())
		return backendFailure("❌ Ассистент временно недоступен. Попробуйте позже.")
	}
	a.metrics.RecordLLMRequest(a.provider.Name(), "", "ok", time.Since(start).Seconds())
	a.metrics.RecordTokens(a.provider.Name(), "", resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var res *Result
	if cmd := Normalize(resp.Content); cmd != nil {
		res = a.Dispatch(ctx, actor, conv, cmd)
	} else {
		// No command in the reply: it is plain chat, relayed verbatim.
		res = &Result{Kind: KindReply, Text: resp.Content, Markdown: true}
	}

	a.remember(conv, text, res.Text)
	return res
}

// Confirm executes the conversation's pending action if actionID names it.
// The stored payload is executed as frozen at proposal time; only entity
// existence is re-checked. Exactly one execution per proposal: stale,
// superseded, or expired confirmations never mutate anything.
func (a *Assistant) Confirm(ctx context.Context, actor *Actor, conv *Conversation, actionID string) *Result {
	pa, err := a.pending.Take(conv.ID, actionID)
	switch {
	case errors.Is(err, ErrNoPending):
		return validationFailure("Нет действия, ожидающего подтверждения.")
	case errors.Is(err, ErrStalePending):
		a.metrics.RecordConfirmation("unknown", "stale")
		return validationFailure("Это предложение уже неактуально.")
	case errors.Is(err, ErrPendingExpired):
		a.metrics.RecordConfirmation("unknown", "expired")
		return validationFailure("⏰ Время подтверждения истекло. Повторите команду.")
	case err != nil:
		return backendFailure("❌ Ошибка выполнения команды.")
	}

	res := a.execute(ctx, actor, pa)
	outcome := "confirmed"
	if res.Kind != KindReply {
		outcome = "failed"
	}
	a.metrics.RecordConfirmation(string(pa.Kind), outcome)
	a.logger.InfoContext(ctx, "pending action executed",
		slog.String("action_id", pa.ID),
		slog.String("kind", string(pa.Kind)),
		slog.String("outcome", outcome),
	)
	return res
}

// Cancel discards the conversation's pending action.
func (a *Assistant) Cancel(ctx context.Context, conv *Conversation) *Result {
	pa := a.pending.Cancel(conv.ID)
	if pa == nil {
		return validationFailure("Нет действия, ожидающего подтверждения.")
	}
	a.metrics.RecordConfirmation(string(pa.Kind), "cancelled")
	a.logger.InfoContext(ctx, "pending action cancelled",
		slog.String("action_id", pa.ID),
		slog.String("kind", string(pa.Kind)),
	)
	return Reply("❌ Действие отменено.")
}

// execute performs the single backend mutation a confirmed action calls
// for. The payload is read through Command accessors so values survive any
// representation the proposal stored them in.
func (a *Assistant) execute(ctx context.Context, actor *Actor, pa *PendingAction) *Result {
	p := &Command{Tool: string(pa.Kind), Params: pa.Payload}

	switch pa.Kind {
	case ActionUpdateOrderStatus:
		track := p.Str("track_code")
		order, err := a.findExactOrder(ctx, actor, track)
		if err != nil {
			return backendErrorResult(err)
		}
		if order == nil || order.ID != p.Int("order_id") {
			return notFound(fmt.Sprintf("❌ Заказ <code>%s</code> уже изменён или удалён. Повторите команду.", track))
		}
		if err := a.api.UpdateOrder(ctx, actor.EmployeeID, p.Int("order_id"), map[string]any{"status": p.Str("new_status")}); err != nil {
			return backendErrorResult(err)
		}
		return Reply(fmt.Sprintf("✅ Статус заказа <code>%s</code> изменён на «%s».", track, p.Str("new_status")))

	case ActionDeleteOrder:
		if err := a.api.DeleteOrder(ctx, actor.EmployeeID, p.Int("order_id")); err != nil {
			return backendErrorResult(err)
		}
		return Reply(fmt.Sprintf("✅ Заказ <code>%s</code> удалён.", p.Str("track_code")))

	case ActionAssignClient:
		if _, err := a.api.GetClient(ctx, actor.EmployeeID, p.Int("client_id")); err != nil {
			return backendErrorResult(err)
		}
		if err := a.api.UpdateOrder(ctx, actor.EmployeeID, p.Int("order_id"), map[string]any{"client_id": p.Int("client_id")}); err != nil {
			return backendErrorResult(err)
		}
		return Reply(fmt.Sprintf("✅ Заказ <code>%s</code> привязан к клиенту %s.", p.Str("track_code"), p.Str("client_name")))

	case ActionChangeClientCode:
		if err := a.api.UpdateClient(ctx, actor.EmployeeID, p.Int("client_id"), map[string]any{"client_code_num": p.Int("new_code_num")}); err != nil {
			return backendErrorResult(err)
		}
		return Reply(fmt.Sprintf("✅ Код клиента %s изменён.", p.Str("client_name")))

	case ActionDeleteClient:
		if err := a.api.DeleteClient(ctx, actor.EmployeeID, p.Int("client_id")); err != nil {
			return backendErrorResult(err)
		}
		return Reply(fmt.Sprintf("✅ Клиент %s удалён.", p.Str("client_name")))

	case ActionAddExpense:
		if err := a.api.CreateExpense(ctx, actor.EmployeeID, p.Float("amount"), p.Str("reason")); err != nil {
			return backendErrorResult(err)
		}
		return Reply(fmt.Sprintf("✅ Расход %s сом добавлен.", formatMoney(p.Float("amount"))))

	case ActionBroadcast:
		if err := a.api.Broadcast(ctx, actor.EmployeeID, p.Str("text")); err != nil {
			return backendErrorResult(err)
		}
		return Reply("✅ Рассылка отправлена.")

	case ActionBulkParty:
		if err := a.api.BulkOrderAction(ctx, actor.EmployeeID, "set_status", p.Str("party_date"), map[string]any{"new_status": p.Str("new_status")}); err != nil {
			return backendErrorResult(err)
		}
		return Reply(fmt.Sprintf("✅ Статусы партии %s обновлены на «%s».", p.Str("party_date"), p.Str("new_status")))

	case ActionBulkTracks:
		ids := int64List(pa.Payload["order_ids"])
		newStatus := p.Str("new_status")
		updated := 0
		for _, id := range ids {
			if err := a.api.UpdateOrder(ctx, actor.EmployeeID, id, map[string]any{"status": newStatus}); err != nil {
				a.logger.ErrorContext(ctx, "bulk update stopped",
					slog.Int64("order_id", id),
					slog.Int("updated", updated),
					slog.String("error", err.Error()),
				)
				return backendFailure(fmt.Sprintf("❌ Обновлено %d из %d заказов, затем произошла ошибка.", updated, len(ids)))
			}
			updated++
		}
		return Reply(fmt.Sprintf("✅ Статус %d заказов изменён на «%s».", updated, newStatus))

	case ActionCalculateOrder:
		fields := map[string]any{
			"weight_kg":         p.Float("weight_kg"),
			"price_per_kg_usd":  p.Float("price_per_kg_usd"),
			"exchange_rate_usd": p.Float("exchange_rate_usd"),
			"final_cost_som":    p.Float("final_cost_som"),
		}
		if err := a.api.UpdateOrder(ctx, actor.EmployeeID, p.Int("order_id"), fields); err != nil {
			return backendErrorResult(err)
		}
		return Reply(fmt.Sprintf("✅ Заказ <code>%s</code> рассчитан: <b>%s сом</b>.", p.Str("track_code"), formatMoney(p.Float("final_cost_som"))))

	case ActionCreateDelivery:
		if err := a.api.CreateDeliveryRequest(ctx, p.Int("client_id"), p.Str("address"), p.Str("comment")); err != nil {
			return backendErrorResult(err)
		}
		return Reply("✅ Заявка на доставку принята. Менеджер свяжется с вами.")

	case ActionSubmitComplaint:
		if err := a.api.CreateComplaint(ctx, p.Int("client_id"), p.Int("order_id"), p.Str("text")); err != nil {
			return backendErrorResult(err)
		}
		return Reply("✅ Жалоба передана менеджеру.")

	default:
		a.logger.ErrorContext(ctx, "unknown pending action kind", slog.String("kind", string(pa.Kind)))
		return backendFailure("❌ Ошибка выполнения команды.")
	}
}

// propose stores a mutation proposal and wraps it in a pending result.
func (a *Assistant) propose(conv *Conversation, kind ActionKind, payload map[string]any, summary string) *Result {
	pa := a.pending.Propose(conv.ID, kind, payload, summary)
	a.metrics.RecordConfirmation(string(kind), "proposed")
	return &Result{Kind: KindPending, Text: summary, Pending: pa}
}

// remember appends the exchanged turn to the conversation history, trimmed
// to the configured cap.
func (a *Assistant) remember(conv *Conversation, userText, replyText string) {
	conv.History = append(conv.History,
		llm.Message{Role: llm.RoleUser, Content: userText},
		llm.Message{Role: llm.RoleAssistant, Content: replyText},
	)
	if limit := a.historyCap * 2; len(conv.History) > limit {
		conv.History = conv.History[len(conv.History)-limit:]
	}
}

func int64List(v any) []int64 {
	switch t := v.(type) {
	case []int64:
		return t
	case []any:
		out := make([]int64, 0, len(t))
		for _, e := range t {
			switch n := e.(type) {
			case int64:
				out = append(out, n)
			case float64:
				out = append(out, int64(n))
			}
		}
		return out
	default:
		return nil
	}
}
