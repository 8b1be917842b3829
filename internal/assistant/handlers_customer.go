package assistant

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

func (a *Assistant) handleGetUserOrders(ctx context.Context, actor *Actor, conv *Conversation, cmd *Command) *Result {
	orders, err := a.api.ClientOrders(ctx, actor.ClientID)
	if err != nil {
		return backendErrorResult(err)
	}
	if len(orders) == 0 {
		return Reply("📭 У вас пока нет заказов. Отправьте трек-код, чтобы добавить посылку.")
	}
	return Reply(formatOrderList("📦 <b>Ваши заказы:</b>", orders))
}

func (a *Assistant) handleGetShippingPrice(ctx context.Context, actor *Actor, conv *Conversation, cmd *Command) *Result {
	settings, err := a.api.Settings(ctx, actor.EmployeeID)
	if err != nil {
		return backendErrorResult(err)
	}
	price := settingsFloat(settings, "price_per_kg_usd")
	rate := settingsFloat(settings, "exchange_rate_usd")
	if price <= 0 || rate <= 0 {
		return Reply("⚠️ Тариф пока не настроен. Уточните стоимость у менеджера.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "💰 <b>Тариф доставки:</b>\n- %s USD за кг\n- Курс: %s сом за USD\n- Итого: %s сом за кг",
		formatMoney(price), formatMoney(rate), formatMoney(price*rate))
	if weight := cmd.Float("weight_kg"); weight > 0 {
		fmt.Fprintf(&b, "\n\n📦 За %s кг: <b>%s сом</b>", formatMoney(weight), formatMoney(weight*price*rate))
	}
	return Reply(b.String())
}

func (a *Assistant) handleGetCompanyLocations(ctx context.Context, actor *Actor, conv *Conversation, cmd *Command) *Result {
	locations, err := a.api.Locations(ctx)
	if err != nil {
		return backendErrorResult(err)
	}
	if len(locations) == 0 {
		return Reply("⚠️ Адреса пока не указаны.")
	}
	var b strings.Builder
	b.WriteString("📍 <b>Наши адреса:</b>\n")
	for _, l := range locations {
		fmt.Fprintf(&b, "\n<b>%s</b>\n%s\n", l.Name, orValue(l.Address, "адрес не указан"))
		if l.Phone != "" {
			fmt.Fprintf(&b, "📞 %s\n", l.Phone)
		}
	}
	return Reply(b.String())
}

func (a *Assistant) handleCreateDeliveryRequest(ctx context.Context, actor *Actor, conv *Conversation, cmd *Command) *Result {
	address := strings.TrimSpace(cmd.Str("address"))
	comment := cmd.Str("comment")

	// An address without a house number is undeliverable.
	if !strings.ContainsFunc(address, unicode.IsDigit) {
		return validationFailure("📍 Укажите, пожалуйста, полный адрес с номером дома, например: ул. Киевская 95.")
	}

	payload := map[string]any{
		"client_id": actor.ClientID,
		"address":   address,
		"comment":   comment,
	}
	summary := fmt.Sprintf("🚚 Оформить доставку по адресу:\n<b>%s</b>", address)
	if comment != "" {
		summary += "\nКомментарий: " + comment
	}
	summary += "\n\nПодтверждаете?"
	return a.propose(conv, ActionCreateDelivery, payload, summary)
}

func (a *Assistant) handleSubmitComplaint(ctx context.Context, actor *Actor, conv *Conversation, cmd *Command) *Result {
	text := cmd.Str("text")

	var orderID int64
	track := cmd.Str("track_code")
	if track != "" {
		// A complaint may only reference the customer's own order.
		orders, err := a.api.ClientOrders(ctx, actor.ClientID)
		if err != nil {
			return backendErrorResult(err)
		}
		for i := range orders {
			if strings.EqualFold(orders[i].TrackCode, track) {
				orderID = orders[i].ID
				break
			}
		}
		if orderID == 0 {
			return notFound(fmt.Sprintf("❌ Заказ «%s» не найден среди ваших посылок.", track))
		}
	}

	payload := map[string]any{
		"client_id": actor.ClientID,
		"order_id":  orderID,
		"text":      text,
	}
	summary := "📨 Отправить жалобу менеджеру:\n\n" + text
	if track != "" {
		summary += "\n\nЗаказ: <code>" + track + "</code>"
	}
	summary += "\n\nПодтверждаете?"
	return a.propose(conv, ActionSubmitComplaint, payload, summary)
}
