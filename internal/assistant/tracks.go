package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kenesbay/cargobot/internal/backend"
)

// trackCodeRe matches a bare carrier track code. Customers paste these
// directly; no model call is needed to understand them. Chinese carriers
// transliterate codes both ways, so Cyrillic letters count too.
var trackCodeRe = regexp.MustCompile(`^[A-Za-zА-Яа-яЁё0-9-]{8,30}$`)

const commentSkip = "-"

// extractTrackCodes returns the track codes of a message consisting only of
// track codes (whitespace, comma, or newline separated). A message with any
// other word is not a track message and returns nil.
func extractTrackCodes(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == '\n' || r == '\t' || r == ',' || r == ';'
	})
	if len(fields) == 0 {
		return nil
	}
	codes := make([]string, 0, len(fields))
	for _, f := range fields {
		if !trackCodeRe.MatchString(f) {
			return nil
		}
		codes = append(codes, f)
	}
	return codes
}

// handleCustomerTracks is the customer self-service fast path: messages
// consisting of track codes are answered directly, without a model call
// and without the confirmation protocol. Claiming a track onto one's own
// client code is not a mutation anyone else can lose by.
//
// Returns nil when the message is not part of the track flow.
func (a *Assistant) handleCustomerTracks(ctx context.Context, actor *Actor, conv *Conversation, text string) *Result {
	if conv.PendingTrack != "" {
		track := conv.PendingTrack
		conv.PendingTrack = ""
		comment := strings.TrimSpace(text)
		if comment == commentSkip {
			comment = ""
		}
		return a.claimTrack(ctx, actor, track, comment)
	}

	codes := extractTrackCodes(text)
	if len(codes) == 0 {
		return nil
	}

	own, err := a.api.ClientOrders(ctx, actor.ClientID)
	if err != nil {
		return backendErrorResult(err)
	}
	byTrack := make(map[string]int)
	for i := range own {
		byTrack[strings.ToUpper(own[i].TrackCode)] = i
	}

	var b strings.Builder
	var unknown []string
	for _, code := range codes {
		if i, ok := byTrack[strings.ToUpper(code)]; ok {
			o := &own[i]
			fmt.Fprintf(&b, "📦 <code>%s</code>: %s\n", o.TrackCode, orValue(o.Status, "В обработке"))
			if o.PartyDate != "" {
				fmt.Fprintf(&b, "📅 Партия: %s\n", o.PartyDate)
			}
		} else {
			unknown = append(unknown, code)
		}
	}

	switch {
	case len(unknown) == 0:
		return Reply(strings.TrimRight(b.String(), "\n"))
	case len(unknown) == 1 && b.Len() == 0:
		// Single new track: claim it straight from company inventory when
		// the order already arrived unowned; otherwise ask for an optional
		// comment before creating.
		code := unknown[0]
		existing, err := a.findCompanyOrder(ctx, code)
		if err != nil {
			return backendErrorResult(err)
		}
		if existing != nil {
			return a.attachOrder(ctx, actor, existing, "")
		}
		conv.PendingTrack = code
		a.logger.InfoContext(ctx, "track claim started",
			slog.String("track_code", code),
			slog.Int64("client_id", actor.ClientID),
		)
		return Reply(fmt.Sprintf(
			"🆕 Трек <code>%s</code> не найден среди ваших заказов.\nДобавляю его на ваш код. Отправьте комментарий к посылке или «%s», чтобы пропустить.",
			code, commentSkip,
		))
	default:
		// Mixed or multiple new tracks: claim them all without the
		// comment round trip.
		for _, code := range unknown {
			res := a.claimTrack(ctx, actor, code, "")
			if res.Kind != KindReply {
				return res
			}
			b.WriteString(res.Text)
			b.WriteByte('\n')
		}
		return Reply(strings.TrimRight(b.String(), "\n"))
	}
}

// findCompanyOrder looks one track code up across the whole company, not
// just the customer's own orders. Staff import parties before customers
// announce themselves, so an unowned order may already be in inventory.
func (a *Assistant) findCompanyOrder(ctx context.Context, track string) (*backend.Order, error) {
	orders, err := a.api.SearchOrders(ctx, 0, track, 0)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if strings.EqualFold(orders[i].TrackCode, track) {
			return &orders[i], nil
		}
	}
	return nil, nil
}

// attachOrder binds an inventory order to the customer's client code.
// The backend rejects duplicate track codes, so an existing order must be
// claimed by PATCH, never recreated.
func (a *Assistant) attachOrder(ctx context.Context, actor *Actor, order *backend.Order, comment string) *Result {
	if order.ClientID == actor.ClientID {
		return Reply(fmt.Sprintf("📦 Трек <code>%s</code> уже в вашем списке. Статус: %s.",
			order.TrackCode, orValue(order.Status, "В обработке")))
	}
	if order.ClientID != 0 {
		return Reply(fmt.Sprintf("⚠️ Трек <code>%s</code> привязан к другому клиенту. Обратитесь к менеджеру.", order.TrackCode))
	}
	fields := map[string]any{"client_id": actor.ClientID}
	if comment != "" {
		fields["comment"] = comment
	}
	if err := a.api.UpdateOrder(ctx, 0, order.ID, fields); err != nil {
		return backendErrorResult(err)
	}
	a.logger.InfoContext(ctx, "track claimed from inventory",
		slog.String("track_code", order.TrackCode),
		slog.Int64("client_id", actor.ClientID),
		slog.Int64("order_id", order.ID),
	)
	return Reply(fmt.Sprintf("✅ Трек <code>%s</code> добавлен. Статус: %s.",
		order.TrackCode, orValue(order.Status, "В обработке")))
}

// claimTrack attaches an existing unowned order, or registers a new one on
// the customer's client code when the track is not in inventory yet.
func (a *Assistant) claimTrack(ctx context.Context, actor *Actor, track, comment string) *Result {
	existing, err := a.findCompanyOrder(ctx, track)
	if err != nil {
		return backendErrorResult(err)
	}
	if existing != nil {
		return a.attachOrder(ctx, actor, existing, comment)
	}

	fields := map[string]any{
		"track_code": track,
		"client_id":  actor.ClientID,
		"status":     "В обработке",
	}
	if comment != "" {
		fields["comment"] = comment
	}
	order, err := a.api.CreateOrder(ctx, fields)
	if err != nil {
		return backendErrorResult(err)
	}
	a.logger.InfoContext(ctx, "track claimed",
		slog.String("track_code", track),
		slog.Int64("client_id", actor.ClientID),
		slog.Int64("order_id", order.ID),
	)
	return Reply(fmt.Sprintf("✅ Трек <code>%s</code> добавлен. Статус: В обработке.", track))
}
