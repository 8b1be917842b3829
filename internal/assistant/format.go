package assistant

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kenesbay/cargobot/internal/backend"
)

// maxListItems caps rendered lists so a reply stays within chat-transport
// message limits. Overflow is announced, never silently dropped.
const maxListItems = 10

// statusOrder fixes the rendering priority of order-status groups so the
// same query always renders groups in the same sequence.
var statusOrder = []string{
	"В обработке",
	"На складе в Китае",
	"В пути",
	"На складе",
	"Готов к выдаче",
	"Выдан",
}

func statusRank(status string) int {
	for i, s := range statusOrder {
		if s == status {
			return i
		}
	}
	return len(statusOrder) // unknown statuses render after known ones
}

// formatMoney renders an amount in som without trailing zeros.
func formatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func orValue(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

// formatCandidates renders an ambiguous-resolution candidate list with IDs
// so the user can answer with a concrete one.
func formatCandidates(query string, candidates []Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔎 По запросу «%s» найдено несколько совпадений:\n", query)
	shown := candidates
	if len(shown) > maxListItems {
		shown = shown[:maxListItems]
	}
	for _, c := range shown {
		fmt.Fprintf(&b, "- <b>%s</b>", orValue(c.Name, "Без имени"))
		if c.Code != "" {
			fmt.Fprintf(&b, " (%s)", c.Code)
		}
		if c.Phone != "" {
			fmt.Fprintf(&b, " 📞 %s", c.Phone)
		}
		fmt.Fprintf(&b, " — ID %d\n", c.ID)
	}
	if n := len(candidates) - len(shown); n > 0 {
		fmt.Fprintf(&b, "…и ещё %d\n", n)
	}
	b.WriteString("С каким ID работаем?")
	return b.String()
}

// formatOrderLine renders one order entry, tolerating missing optional
// fields ("не указан" instead of blank).
func formatOrderLine(o *backend.Order) string {
	client := "🔴 Неизвестный"
	if o.Client != nil {
		client = o.Client.FullName
		if code := o.Client.Code(); code != "" {
			client += " (" + code + ")"
		}
	}
	return fmt.Sprintf("- <code>%s</code>: %s\n  👤 %s\n  📅 %s",
		o.TrackCode,
		orValue(o.Status, "не указан"),
		client,
		orValue(o.PartyDate, "не указана"),
	)
}

// formatOrderList renders orders grouped by status in fixed priority order,
// capped at maxListItems with an explicit overflow marker. The weight and
// cost totals are recomputed from the itemized list at format time.
func formatOrderList(title string, orders []backend.Order) string {
	if len(orders) == 0 {
		return "❌ Заказы не найдены."
	}

	groups := make(map[string][]backend.Order)
	for _, o := range orders {
		groups[o.Status] = append(groups[o.Status], o)
	}
	statuses := make([]string, 0, len(groups))
	for s := range groups {
		statuses = append(statuses, s)
	}
	sort.SliceStable(statuses, func(i, j int) bool {
		ri, rj := statusRank(statuses[i]), statusRank(statuses[j])
		if ri != rj {
			return ri < rj
		}
		return statuses[i] < statuses[j]
	})

	var b strings.Builder
	b.WriteString(title)
	b.WriteByte('\n')

	var totalWeight, totalCost float64
	shown := 0
	skipped := 0
	for _, status := range statuses {
		group := groups[status]
		headerWritten := false
		for i := range group {
			o := &group[i]
			totalWeight += o.WeightKg
			totalCost += o.FinalCostSom
			if shown >= maxListItems {
				skipped++
				continue
			}
			if !headerWritten {
				fmt.Fprintf(&b, "\n<b>%s</b> (%d):\n", orValue(status, "Без статуса"), len(group))
				headerWritten = true
			}
			b.WriteString(formatOrderLine(o))
			b.WriteByte('\n')
			shown++
		}
	}
	if skipped > 0 {
		fmt.Fprintf(&b, "…и ещё %d\n", skipped)
	}

	fmt.Fprintf(&b, "\nВсего: %d шт", len(orders))
	if totalWeight > 0 {
		fmt.Fprintf(&b, ", %s кг", formatMoney(totalWeight))
	}
	if totalCost > 0 {
		fmt.Fprintf(&b, ", %s сом", formatMoney(totalCost))
	}
	return b.String()
}

// formatClientList renders a customer search result.
func formatClientList(query string, clients []backend.Customer) string {
	if len(clients) == 0 {
		return "❌ Клиенты не найдены."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🔍 <b>Поиск клиента «%s»:</b>\n", query)
	shown := clients
	if len(shown) > maxListItems {
		shown = shown[:maxListItems]
	}
	for i := range shown {
		c := &shown[i]
		fmt.Fprintf(&b, "- <b>%s</b> (Код: %s)\n  📞 %s\n",
			c.FullName,
			orValue(c.Code(), "не присвоен"),
			orValue(c.Phone, "не указан"),
		)
	}
	if n := len(clients) - len(shown); n > 0 {
		fmt.Fprintf(&b, "…и ещё %d\n", n)
	}
	return b.String()
}

// settingLabels maps setting keys to display names, in render order.
var settingLabels = []struct{ key, label string }{
	{"china_warehouse_address", "Адрес склада (Китай)"},
	{"instruction_pdf_link", "Ссылка на PDF-инструкцию"},
	{"client_code_start", "Начальный код клиента"},
	{"office_schedule", "График работы офиса"},
	{"price_per_kg_usd", "Тариф за кг (USD)"},
	{"exchange_rate_usd", "Курс USD"},
	{"password_revert_order", "Пароль на отмену выдачи"},
	{"password_delete_order", "Пароль на удаление заказа"},
	{"password_delete_client", "Пароль на удаление клиента"},
}

// formatSettings renders company settings with password values masked.
func formatSettings(settings []backend.Setting) string {
	byKey := make(map[string]string, len(settings))
	for _, s := range settings {
		byKey[s.Key] = s.Value
	}

	var b strings.Builder
	b.WriteString("⚙️ <b>Текущие настройки:</b>\n")
	for _, e := range settingLabels {
		value, ok := byKey[e.key]
		switch {
		case !ok || value == "":
			fmt.Fprintf(&b, "- <b>%s</b>: ⚠️ не настроено\n", e.label)
		case strings.HasPrefix(e.key, "password"):
			fmt.Fprintf(&b, "- <b>%s</b>: *** (установлен)\n", e.label)
		default:
			fmt.Fprintf(&b, "- <b>%s</b>: %s\n", e.label, value)
		}
	}

	aiStatus := "❌ ВЫКЛЮЧЕН"
	if v := byKey["ai_enabled"]; v == "True" || v == "true" {
		aiStatus = "✅ ВКЛЮЧЕН"
	}
	fmt.Fprintf(&b, "\n🤖 <b>AI ассистент</b>: %s", aiStatus)
	return b.String()
}

// backendErrorResult converts a backend call failure into a user-facing
// result, preferring the API's own error detail when present.
func backendErrorResult(err error) *Result {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return backendFailure("❌ " + apiErr.Detail)
	}
	if errors.Is(err, backend.ErrUnavailable) {
		return backendFailure("❌ Сервер недоступен. Попробуйте позже.")
	}
	return backendFailure("❌ Ошибка выполнения команды.")
}
