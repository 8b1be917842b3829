package assistant

import (
	"context"
	"fmt"
)

func (a *Assistant) handleSearchClient(ctx context.Context, actor *Actor, conv *Conversation, cmd *Command) *Result {
	query := searchQuery(cmd)
	if query == "" {
		return validationFailure("Укажите имя, телефон или код клиента для поиска.")
	}
	clients, err := a.api.SearchClients(ctx, actor.EmployeeID, query)
	if err != nil {
		return backendErrorResult(err)
	}
	if len(clients) == 0 {
		return notFound(fmt.Sprintf("❌ Клиент «%s» не найден.", query))
	}
	return Reply(formatClientList(query, clients))
}

func (a *Assistant) handleAssignClient(ctx context.Context, actor *Actor, conv *Conversation, cmd *Command) *Result {
	order, err := a.res.resolveOrder(ctx, actor, cmd.Str("track_code"), false)
	if err != nil {
		return resolveFailure(err, "Заказ")
	}
	client, err := a.res.resolveClient(ctx, actor, cmd.Str("client_search"), cmd.Int("client_id"))
	if err != nil {
		return resolveFailure(err, "Клиент")
	}

	payload := map[string]any{
		"order_id":    order.ID,
		"track_code":  order.TrackCode,
		"client_id":   client.ID,
		"client_name": client.FullName,
	}
	summary := fmt.Sprintf(
		"🔗 Привязать заказ <code>%s</code> к клиенту <b>%s</b> (%s)?",
		order.TrackCode, client.FullName, orValue(client.Code(), "без кода"),
	)
	return a.propose(conv, ActionAssignClient, payload, summary)
}

func (a *Assistant) handleChangeClientCode(ctx context.Context, actor *Actor, conv *Conversation, cmd *Command) *Result {
	newNum := cmd.Int("new_code_num")
	if newNum <= 0 {
		return validationFailure("Новый номер кода должен быть положительным числом.")
	}

	client, err := a.res.resolveClient(ctx, actor, cmd.Str("client_search"), cmd.Int("client_id"))
	if err != nil {
		return resolveFailure(err, "Клиент")
	}
	if client.CodeNum == newNum {
		return validationFailure(fmt.Sprintf("У клиента %s уже код %s.", client.FullName, client.Code()))
	}

	prefix := client.CodePrefix
	if prefix == "" {
		prefix = "KB"
	}
	payload := map[string]any{
		"client_id":    client.ID,
		"client_name":  client.FullName,
		"old_code":     client.Code(),
		"new_code_num": newNum,
	}
	summary := fmt.Sprintf(
		"✏️ Изменить код клиента <b>%s</b>:\n%s → <b>%s%d</b>\n\nПодтверждаете?",
		client.FullName, orValue(client.Code(), "не присвоен"), prefix, newNum,
	)
	return a.propose(conv, ActionChangeClientCode, payload, summary)
}

func (a *Assistant) handleDeleteClient(ctx context.Context, actor *Actor, conv *Conversation, cmd *Command) *Result {
	client, err := a.res.resolveClient(ctx, actor, cmd.Str("client_search"), cmd.Int("client_id"))
	if err != nil {
		return resolveFailure(err, "Клиент")
	}

	payload := map[string]any{
		"client_id":   client.ID,
		"client_name": client.FullName,
	}
	summary := fmt.Sprintf(
		"🗑 Удалить клиента <b>%s</b> (%s, %s)?\n\nДействие необратимо.",
		client.FullName, orValue(client.Code(), "без кода"), orValue(client.Phone, "без телефона"),
	)
	return a.propose(conv, ActionDeleteClient, payload, summary)
}
