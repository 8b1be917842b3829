package assistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/kenesbay/cargobot/internal/backend"
)

// searchQuery returns the free-text query of a search command, accepting
// both parameter spellings the model produces.
func searchQuery(cmd *Command) string {
	if q := cmd.Str("query"); q != "" {
		return q
	}
	return cmd.Str("q")
}

func isKnownStatus(status string) bool {
	for _, s := range statusOrder {
		if s == status {
			return true
		}
	}
	return false
}

func (a *Assistant) handleSearchOrder(ctx context.Context, actor *Actor, conv *Conversation, cmd *Command) *Result {
	query := searchQuery(cmd)
	if query == "" {
		return validationFailure("Укажите трек-код или текст для поиска заказа.")
	}
	orders, err := a.api.SearchOrders(ctx, actor.EmployeeID, query, 50)
	if err != nil {
		return backendErrorResult(err)
	}
	if len(orders) == 0 {
		return notFound(fmt.Sprintf("❌ Заказ «%s» не найден.", query))
	}
	return Reply(formatOrderList(fmt.Sprintf("🔍 <b>Поиск «%s»:</b>", query), orders))
}

func (a *Assistant) handleGetActiveParties(ctx context.Context, actor *Actor, conv *Conversation, cmd *Command) *Result {
	parties, err := a.api.Parties(ctx, actor.EmployeeID)
	if err != nil {
		return backendErrorResult(err)
	}
	if len(parties) == 0 {
		return Reply("📭 Нет активных партий.")
	}
	var b strings.Builder
	b.WriteString("📦 <b>Активные партии:</b>\n")
	for _, p := range parties {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	return Reply(b.String())
}

func (a *Assistant) handleGetOrdersByDate(ctx context.Context, actor *Actor, conv *Conversation, cmd *Command) *Result {
	from := cmd.Str("date_from")
	to := cmd.Str("date_to")
	if to == "" {
		to = from
	}
	orders, err := a.api.OrdersByDate(ctx, actor.EmployeeID, from, to)
	if err != nil {
		return backendErrorResult(err)
	}
	if len(orders) == 0 {
		return notFound(fmt.Sprintf("❌ Заказы за период %s — %s не найдены.", from, to))
	}
	return Reply(formatOrderList(fmt.Sprintf("📅 <b>Заказы за %s — %s:</b>", from, to), orders))
}

func (a *Assistant) handleUpdateOrderStatus(ctx context.Context, actor *Actor, conv *Conversation, cmd *Command) *Result {
	track := cmd.Str("track_code")
	newStatus := cmd.Str("new_status")
	if !isKnownStatus(newStatus) {
		return validationFailure(fmt.Sprintf(
			"Неизвестный статус «%s». Допустимые: %s.",
			newStatus, strings.Join(statusOrder, ", "),
		))
	}

	order, err := a.res.resolveOrder(ctx, actor, track, false)
	if err != nil {
		return resolveFailure(err, "Заказ")
	}
	if order.Status == newStatus {
		return validationFailure(fmt.Sprintf("Заказ <code>%s</code> уже в статусе «%s».", order.TrackCode, newStatus))
	}

	payload := map[string]any{
		"order_id":   order.ID,
		"track_code": order.TrackCode,
		"old_status": order.Status,
		"new_status": newStatus,
	}
	summary := fmt.Sprintf(
		"⚠️ Изменить статус заказа <code>%s</code>:\n%s → <b>%s</b>\n\nПодтверждаете?",
		order.TrackCode, orValue(order.Status, "не указан"), newStatus,
	)
	return a.propose(conv, ActionUpdateOrderStatus, payload, summary)
}

func (a *Assistant) handleDeleteOrder(ctx context.Context, actor *Actor, conv *Conversation, cmd *Command) *Result {
	order, err := a.res.resolveOrder(ctx, actor, cmd.Str("track_code"), false)
	if err != nil {
		return resolveFailure(err, "Заказ")
	}

	client := ""
	if order.Client != nil {
		client = "\n👤 " + order.Client.FullName
	}
	payload := map[string]any{
		"order_id":   order.ID,
		"track_code": order.TrackCode,
	}
	summary := fmt.Sprintf(
		"🗑 Удалить заказ <code>%s</code> (%s)?%s\n\nДействие необратимо.",
		order.TrackCode, orValue(order.Status, "без статуса"), client,
	)
	return a.propose(conv, ActionDeleteOrder, payload, summary)
}

func (a *Assistant) handleBulkUpdateParty(ctx context.Context, actor *Actor, conv *Conversation, cmd *Command) *Result {
	partyDate := cmd.Str("party_date")
	newStatus := cmd.Str("new_status")
	if !isKnownStatus(newStatus) {
		return validationFailure(fmt.Sprintf(
			"Неизвестный статус «%s». Допустимые: %s.",
			newStatus, strings.Join(statusOrder, ", "),
		))
	}

	orders, err := a.api.OrdersByParty(ctx, actor.EmployeeID, partyDate)
	if err != nil {
		return backendErrorResult(err)
	}
	if len(orders) == 0 {
		return notFound(fmt.Sprintf("❌ Партия %s не найдена или пуста.", partyDate))
	}

	payload := map[string]any{
		"party_date": partyDate,
		"new_status": newStatus,
	}
	summary := fmt.Sprintf(
		"⚠️ Обновить статус <b>всех</b> заказов партии %s (%d шт) на «%s»?",
		partyDate, len(orders), newStatus,
	)
	return a.propose(conv, ActionBulkParty, payload, summary)
}

func (a *Assistant) handleUpdateOrdersByTracks(ctx context.Context, actor *Actor, conv *Conversation, cmd *Command) *Result {
	tracks := cmd.StrList("track_codes")
	if len(tracks) == 0 {
		return validationFailure("Укажите список трек-кодов.")
	}
	newStatus := cmd.Str("new_status")
	if !isKnownStatus(newStatus) {
		return validationFailure(fmt.Sprintf(
			"Неизвестный статус «%s». Допустимые: %s.",
			newStatus, strings.Join(statusOrder, ", "),
		))
	}

	var (
		orderIDs []int64
		found    []string
		missing  []string
		owners   = map[int64]string{}
	)
	for _, track := range tracks {
		order, err := a.findExactOrder(ctx, actor, track)
		if err != nil {
			return backendErrorResult(err)
		}
		if order == nil {
			missing = append(missing, track)
			continue
		}
		orderIDs = append(orderIDs, order.ID)
		found = append(found, order.TrackCode)
		if order.ClientID > 0 {
			name := ""
			if order.Client != nil {
				name = order.Client.FullName
			}
			owners[order.ClientID] = name
		}
	}
	if len(missing) > 0 {
		return notFound(fmt.Sprintf("❌ Не найдены заказы: %s. Ничего не изменено.", strings.Join(missing, ", ")))
	}
	// The same list of tracks must not silently mutate orders of several
	// different customers at once.
	if len(owners) > 1 {
		names := make([]string, 0, len(owners))
		for _, n := range owners {
			names = append(names, orValue(n, "без имени"))
		}
		return validationFailure(fmt.Sprintf(
			"❌ Эти заказы принадлежат разным клиентам (%s). Обновите их по отдельности.",
			strings.Join(names, ", "),
		))
	}

	payload := map[string]any{
		"order_ids":   orderIDs,
		"track_codes": found,
		"new_status":  newStatus,
	}
	summary := fmt.Sprintf(
		"⚠️ Обновить статус %d заказов на «%s»:\n<code>%s</code>\n\nПодтверждаете?",
		len(found), newStatus, strings.Join(found, "</code>, <code>"),
	)
	return a.propose(conv, ActionBulkTracks, payload, summary)
}

func (a *Assistant) handleCalculateOrders(ctx context.Context, actor *Actor, conv *Conversation, cmd *Command) *Result {
	weight := cmd.Float("weight_kg")
	if weight <= 0 {
		return validationFailure("Вес должен быть больше нуля.")
	}

	order, err := a.res.resolveOrder(ctx, actor, cmd.Str("track_code"), false)
	if err != nil {
		return resolveFailure(err, "Заказ")
	}

	price := cmd.Float("price_per_kg_usd")
	rate := cmd.Float("exchange_rate_usd")
	if price <= 0 || rate <= 0 {
		settings, err := a.api.Settings(ctx, actor.EmployeeID)
		if err != nil {
			return backendErrorResult(err)
		}
		if price <= 0 {
			price = settingsFloat(settings, "price_per_kg_usd")
		}
		if rate <= 0 {
			rate = settingsFloat(settings, "exchange_rate_usd")
		}
	}
	if price <= 0 || rate <= 0 {
		return validationFailure("Не настроен тариф или курс USD. Укажите price_per_kg_usd и exchange_rate_usd явно или заполните настройки.")
	}

	// The final cost is frozen here. Changing the tariff between proposal
	// and confirmation must not change what gets written.
	cost := weight * price * rate

	payload := map[string]any{
		"order_id":          order.ID,
		"track_code":        order.TrackCode,
		"weight_kg":         weight,
		"price_per_kg_usd":  price,
		"exchange_rate_usd": rate,
		"final_cost_som":    cost,
	}
	summary := fmt.Sprintf(
		"💰 Рассчитать заказ <code>%s</code>:\n%s кг × %s USD × %s = <b>%s сом</b>\n\nПодтверждаете?",
		order.TrackCode, formatMoney(weight), formatMoney(price), formatMoney(rate), formatMoney(cost),
	)
	return a.propose(conv, ActionCalculateOrder, payload, summary)
}

// findExactOrder returns the order whose track code matches exactly
// (case-insensitive), or nil when no such order exists.
func (a *Assistant) findExactOrder(ctx context.Context, actor *Actor, track string) (*backend.Order, error) {
	orders, err := a.api.SearchOrders(ctx, actor.EmployeeID, track, 5)
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
