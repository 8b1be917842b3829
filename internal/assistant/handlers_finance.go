package assistant

import (
	"context"
	"fmt"
	"strconv"

	"github.com/kenesbay/cargobot/internal/backend"
)

// settingsFloat parses a numeric setting value. Returns 0 when absent or
// unparseable.
func settingsFloat(settings []backend.Setting, key string) float64 {
	for _, s := range settings {
		if s.Key == key {
			v, _ := strconv.ParseFloat(s.Value, 64)
			return v
		}
	}
	return 0
}

func (a *Assistant) handleGetSettings(ctx context.Context, actor *Actor, conv *Conversation, cmd *Command) *Result {
	settings, err := a.api.Settings(ctx, actor.EmployeeID)
	if err != nil {
		return backendErrorResult(err)
	}
	return Reply(formatSettings(settings))
}

func (a *Assistant) handleGetReport(ctx context.Context, actor *Actor, conv *Conversation, cmd *Command) *Result {
	from := cmd.Str("period_start")
	to := cmd.Str("period_end")
	summary, err := a.api.Summary(ctx, actor.EmployeeID, from, to)
	if err != nil {
		return backendErrorResult(err)
	}
	return Reply(fmt.Sprintf(
		"📊 <b>Отчёт за %s — %s</b>\n\n💵 Доход: %s сом\n💸 Расходы: %s сом\n📈 Прибыль: <b>%s сом</b>",
		from, to,
		formatMoney(summary.TotalIncome),
		formatMoney(summary.TotalExpenses),
		formatMoney(summary.NetProfit),
	))
}

func (a *Assistant) handleAddExpense(ctx context.Context, actor *Actor, conv *Conversation, cmd *Command) *Result {
	amount := cmd.Float("amount")
	if amount <= 0 {
		return validationFailure("Сумма расхода должна быть больше нуля.")
	}
	reason := cmd.Str("reason")

	payload := map[string]any{
		"amount": amount,
		"reason": reason,
	}
	summary := fmt.Sprintf("💸 Добавить расход <b>%s сом</b> — %s?", formatMoney(amount), reason)
	return a.propose(conv, ActionAddExpense, payload, summary)
}

func (a *Assistant) handleBroadcast(ctx context.Context, actor *Actor, conv *Conversation, cmd *Command) *Result {
	text := cmd.Str("text")

	payload := map[string]any{"text": text}
	summary := fmt.Sprintf(
		"📢 Отправить рассылку <b>всем клиентам компании</b>:\n\n%s\n\nПодтверждаете?",
		text,
	)
	return a.propose(conv, ActionBroadcast, payload, summary)
}
