package assistant

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"
)

// handlerFunc executes one tool command for one actor. Read-only handlers
// return the formatted result directly; mutating handlers return a
// KindPending result carrying the stored proposal.
type handlerFunc func(ctx context.Context, actor *Actor, conv *Conversation, cmd *Command) *Result

// registerCustomerTools builds the customer-facing tool registry.
// Panics on duplicate registration: the tool surface is defined once at
// startup and a collision is a programming error.
func (a *Assistant) registerCustomerTools() {
	a.customerTools = map[string]handlerFunc{}
	reg := func(name string, h handlerFunc) {
		if _, dup := a.customerTools[name]; dup {
			panic("duplicate customer tool: " + name)
		}
		a.customerTools[name] = h
	}
	reg("get_user_orders", a.handleGetUserOrders)
	reg("get_shipping_price", a.handleGetShippingPrice)
	reg("get_company_locations", a.handleGetCompanyLocations)
	reg("create_delivery_request", a.handleCreateDeliveryRequest)
	reg("submit_complaint", a.handleSubmitComplaint)
}

// registerStaffTools builds the staff tool registry.
func (a *Assistant) registerStaffTools() {
	a.staffTools = map[string]handlerFunc{}
	reg := func(name string, h handlerFunc) {
		if _, dup := a.staffTools[name]; dup {
			panic("duplicate staff tool: " + name)
		}
		a.staffTools[name] = h
	}
	reg("search_order", a.handleSearchOrder)
	reg("search_client", a.handleSearchClient)
	reg("get_active_parties", a.handleGetActiveParties)
	reg("get_settings", a.handleGetSettings)
	reg("get_orders_by_date", a.handleGetOrdersByDate)
	reg("get_report", a.handleGetReport)
	reg("update_order_status", a.handleUpdateOrderStatus)
	reg("delete_order", a.handleDeleteOrder)
	reg("assign_client", a.handleAssignClient)
	reg("change_client_code", a.handleChangeClientCode)
	reg("delete_client", a.handleDeleteClient)
	reg("add_expense", a.handleAddExpense)
	reg("broadcast", a.handleBroadcast)
	reg("bulk_update_party", a.handleBulkUpdateParty)
	reg("update_orders_by_tracks", a.handleUpdateOrdersByTracks)
	reg("calculate_orders", a.handleCalculateOrders)
}

// Dispatch routes one normalized command to its handler.
//
// Routing is by capability: staff reach the staff registry, customers the
// customer registry. A staff-only tool requested by a customer is answered
// as unknown, so the staff surface stays invisible; the reverse case yields
// KindUnauthorized. A tool in no registry yields KindToolNotSupported.
// A handler panic is caught here so one malformed command can never take
// the conversation loop down.
func (a *Assistant) Dispatch(ctx context.Context, actor *Actor, conv *Conversation, cmd *Command) (res *Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			a.logger.ErrorContext(ctx, "handler panic",
				slog.String("tool", cmd.Tool),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			res = backendFailure("❌ Внутренняя ошибка. Попробуйте ещё раз.")
		}
		a.metrics.RecordCommand(cmd.Tool, res.Kind.String(), time.Since(start).Seconds())
	}()

	if msg := validateSchema(cmd); msg != "" {
		return validationFailure(msg)
	}

	staffHandler, isStaffTool := a.staffTools[cmd.Tool]
	customerHandler, isCustomerTool := a.customerTools[cmd.Tool]

	var handler handlerFunc
	switch {
	case actor.IsStaff() && isStaffTool:
		handler = staffHandler
	case actor.IsCustomer() && isCustomerTool:
		handler = customerHandler
	case isStaffTool || isCustomerTool:
		a.logger.WarnContext(ctx, "tool not reachable by actor",
			slog.String("tool", cmd.Tool),
			slog.Bool("staff", actor.IsStaff()),
			slog.Bool("customer", actor.IsCustomer()),
		)
		if actor.IsCustomer() {
			// A customer must not learn what the staff tool surface has;
			// reply exactly as for a tool that does not exist.
			return &Result{Kind: KindToolNotSupported, Text: "❌ Неизвестная команда. Попробуйте сформулировать иначе."}
		}
		return &Result{Kind: KindUnauthorized, Text: "❌ Эта команда вам недоступна."}
	default:
		return &Result{Kind: KindToolNotSupported, Text: "❌ Неизвестная команда. Попробуйте сформулировать иначе."}
	}

	a.logger.InfoContext(ctx, "dispatching command",
		slog.String("tool", cmd.Tool),
		slog.Int64("company_id", actor.CompanyID),
	)
	return handler(ctx, actor, conv, cmd)
}
