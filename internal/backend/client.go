// Package backend is the HTTP client for the CRM REST API.
//
// Every call is scoped to exactly one company: the client injects the
// configured company_id into JSON request bodies, and into the query
// parameters of body-less calls, whenever the caller has not set it
// explicitly. Staff calls additionally carry the employee_id so the API
// can enforce permissions per request.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kenesbay/cargobot/internal/observability"
)

const (
	defaultTimeout  = 15 * time.Second
	maxResponseSize = 4 << 20 // 4 MB
)

// ErrUnavailable is returned on network-level failures (DNS, refused, timeout).
var ErrUnavailable = errors.New("backend unavailable")

// APIError is a non-2xx response from the CRM API.
// Detail carries the API's "detail" field when the error body was decodable.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("api error (status %d)", e.StatusCode)
}

// Client talks to the CRM REST API on behalf of one company.
type Client struct {
	baseURL    string
	companyID  int64
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *observability.MetricsCollector
}

// Option configures the backend client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTracer enables span creation around every API call.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// WithMetrics enables request metrics recording.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a CRM API client scoped to the given company.
func NewClient(baseURL string, companyID int64, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		companyID:  companyID,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
		tracer:     trace.NewNoopTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CompanyID returns the tenant this client is scoped to.
func (c *Client) CompanyID() int64 { return c.companyID }

// request performs one API call and decodes the JSON response into out.
// Body-less calls get company_id injected into the query; JSON bodies get
// company_id injected when the body is a map without one. out may be nil
// for calls whose response body is irrelevant.
func (c *Client) request(ctx context.Context, method, path string, params url.Values, body any, out any) error {
	ctx, span := c.tracer.Start(ctx, "backend."+method+" "+path)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", path),
	)

	if params == nil {
		params = url.Values{}
	}
	// Body-less calls (GET, DELETE) carry the tenant in the query; calls
	// with a JSON body carry it there instead.
	if (method == http.MethodGet || body == nil) && params.Get("company_id") == "" {
		params.Set("company_id", strconv.FormatInt(c.companyID, 10))
	}

	var reqBody io.Reader
	if body != nil {
		if m, ok := body.(map[string]any); ok {
			if _, has := m["company_id"]; !has {
				m["company_id"] = c.companyID
			}
		}
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.DebugContext(ctx, "api request",
		slog.String("method", method),
		slog.String("path", path),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordBackendRequest(method, metricPath(path), "network_error", time.Since(start).Seconds())
		c.logger.ErrorContext(ctx, "api network error",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	c.metrics.RecordBackendRequest(method, metricPath(path), strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errBody struct {
			Detail string `json:"detail"`
			Error  string `json:"error"`
		}
		if json.Unmarshal(raw, &errBody) == nil {
			if errBody.Detail != "" {
				apiErr.Detail = errBody.Detail
			} else {
				apiErr.Detail = errBody.Error
			}
		}
		c.logger.ErrorContext(ctx, "api error response",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("detail", apiErr.Detail),
		)
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}
	return nil
}

// metricPath collapses numeric path segments so record IDs do not explode
// metric label cardinality.
func metricPath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

// Ping checks backend reachability, for readiness probes.
func (c *Client) Ping(ctx context.Context) error {
	return c.request(ctx, http.MethodGet, "/api/health", nil, nil, nil)
}

// staffParams builds query params carrying the acting employee's identity.
func staffParams(employeeID int64) url.Values {
	p := url.Values{}
	if employeeID > 0 {
		p.Set("employee_id", strconv.FormatInt(employeeID, 10))
	}
	return p
}

// --- Orders ---

// SearchOrders finds orders by track-code substring or free text.
func (c *Client) SearchOrders(ctx context.Context, employeeID int64, query string, limit int) ([]Order, error) {
	p := staffParams(employeeID)
	p.Set("q", query)
	if limit > 0 {
		p.Set("limit", strconv.Itoa(limit))
	}
	var orders []Order
	if err := c.request(ctx, http.MethodGet, "/api/orders", p, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// OrdersByParty lists all orders belonging to one party date.
func (c *Client) OrdersByParty(ctx context.Context, employeeID int64, partyDate string) ([]Order, error) {
	p := staffParams(employeeID)
	p.Set("party_dates", partyDate)
	var orders []Order
	if err := c.request(ctx, http.MethodGet, "/api/orders", p, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// OrdersByDate lists orders created within a date range.
func (c *Client) OrdersByDate(ctx context.Context, employeeID int64, from, to string) ([]Order, error) {
	p := staffParams(employeeID)
	p.Set("date_from", from)
	p.Set("date_to", to)
	var orders []Order
	if err := c.request(ctx, http.MethodGet, "/api/orders", p, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// ClientOrders lists a customer's own orders.
func (c *Client) ClientOrders(ctx context.Context, clientID int64) ([]Order, error) {
	p := url.Values{}
	p.Set("client_id", strconv.FormatInt(clientID, 10))
	var orders []Order
	if err := c.request(ctx, http.MethodGet, "/api/orders", p, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateOrder patches order fields. Fields must already contain the final
// values; no read-modify-write happens here.
func (c *Client) UpdateOrder(ctx context.Context, employeeID, orderID int64, fields map[string]any) error {
	return c.request(ctx, http.MethodPatch, "/api/orders/"+strconv.FormatInt(orderID, 10), staffParams(employeeID), fields, nil)
}

// DeleteOrder removes an order permanently.
func (c *Client) DeleteOrder(ctx context.Context, employeeID, orderID int64) error {
	return c.request(ctx, http.MethodDelete, "/api/orders/"+strconv.FormatInt(orderID, 10), staffParams(employeeID), nil, nil)
}

// CreateOrder registers a new order.
func (c *Client) CreateOrder(ctx context.Context, fields map[string]any) (*Order, error) {
	var o Order
	if err := c.request(ctx, http.MethodPost, "/api/orders", nil, fields, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// BulkOrderAction applies one action to all orders of a party date.
func (c *Client) BulkOrderAction(ctx context.Context, employeeID int64, action, partyDate string, fields map[string]any) error {
	body := map[string]any{"action": action, "party_date": partyDate}
	for k, v := range fields {
		body[k] = v
	}
	return c.request(ctx, http.MethodPost, "/api/orders/bulk_action", staffParams(employeeID), body, nil)
}

// Parties lists active party dates (newest first, as returned by the API).
func (c *Client) Parties(ctx context.Context, employeeID int64) ([]string, error) {
	var parties []string
	if err := c.request(ctx, http.MethodGet, "/api/orders/parties", staffParams(employeeID), nil, &parties); err != nil {
		return nil, err
	}
	return parties, nil
}

// --- Clients ---

// SearchClients finds customers by name, phone, or code fragment.
func (c *Client) SearchClients(ctx context.Context, employeeID int64, query string) ([]Customer, error) {
	p := staffParams(employeeID)
	p.Set("q", query)
	var clients []Customer
	if err := c.request(ctx, http.MethodGet, "/api/clients/search", p, nil, &clients); err != nil {
		return nil, err
	}
	return clients, nil
}

// GetClient fetches one customer by ID.
func (c *Client) GetClient(ctx context.Context, employeeID, clientID int64) (*Customer, error) {
	var cl Customer
	if err := c.request(ctx, http.MethodGet, "/api/clients/"+strconv.FormatInt(clientID, 10), staffParams(employeeID), nil, &cl); err != nil {
		return nil, err
	}
	return &cl, nil
}

// UpdateClient patches customer fields.
func (c *Client) UpdateClient(ctx context.Context, employeeID, clientID int64, fields map[string]any) error {
	return c.request(ctx, http.MethodPatch, "/api/clients/"+strconv.FormatInt(clientID, 10), staffParams(employeeID), fields, nil)
}

// DeleteClient removes a customer record.
func (c *Client) DeleteClient(ctx context.Context, employeeID, clientID int64) error {
	return c.request(ctx, http.MethodDelete, "/api/clients/"+strconv.FormatInt(clientID, 10), staffParams(employeeID), nil, nil)
}

// IdentifyUser resolves a Telegram chat to a customer record, optionally
// binding the chat by phone number on first contact. isOwner reports
// whether the chat belongs to the company owner.
func (c *Client) IdentifyUser(ctx context.Context, chatID int64, phone string) (*Customer, bool, error) {
	body := map[string]any{"telegram_chat_id": strconv.FormatInt(chatID, 10)}
	if phone != "" {
		body["phone_number"] = phone
	}
	var resp struct {
		Client  Customer `json:"client"`
		IsOwner bool     `json:"is_owner"`
	}
	if err := c.request(ctx, http.MethodPost, "/api/bot/identify_user", nil, body, &resp); err != nil {
		return nil, false, err
	}
	return &resp.Client, resp.IsOwner, nil
}

// --- Finance, settings, misc ---

// CreateExpense records a cash expense against the current shift.
func (c *Client) CreateExpense(ctx context.Context, employeeID int64, amount float64, reason string) error {
	body := map[string]any{"amount": amount, "reason": reason}
	return c.request(ctx, http.MethodPost, "/api/expenses", staffParams(employeeID), body, nil)
}

// Summary fetches the financial report for a period.
func (c *Client) Summary(ctx context.Context, employeeID int64, from, to string) (*ReportSummary, error) {
	p := staffParams(employeeID)
	p.Set("start_date", from)
	p.Set("end_date", to)
	var resp struct {
		Summary ReportSummary `json:"summary"`
	}
	if err := c.request(ctx, http.MethodGet, "/api/reports/summary", p, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Summary, nil
}

// Settings fetches all company settings as key/value entries.
func (c *Client) Settings(ctx context.Context, employeeID int64) ([]Setting, error) {
	var settings []Setting
	if err := c.request(ctx, http.MethodGet, "/api/settings", staffParams(employeeID), nil, &settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// Locations lists company offices and warehouses.
func (c *Client) Locations(ctx context.Context) ([]Location, error) {
	var locations []Location
	if err := c.request(ctx, http.MethodGet, "/api/locations", nil, nil, &locations); err != nil {
		return nil, err
	}
	return locations, nil
}

// Broadcast asks the API to deliver a message to every company customer.
func (c *Client) Broadcast(ctx context.Context, employeeID int64, text string) error {
	body := map[string]any{"text": text}
	return c.request(ctx, http.MethodPost, "/api/broadcast", staffParams(employeeID), body, nil)
}

// CreateDeliveryRequest files a home-delivery request for a customer.
func (c *Client) CreateDeliveryRequest(ctx context.Context, clientID int64, address, comment string) error {
	body := map[string]any{"client_id": clientID, "address": address, "comment": comment}
	return c.request(ctx, http.MethodPost, "/api/delivery_requests", nil, body, nil)
}

// CreateComplaint files a customer complaint.
func (c *Client) CreateComplaint(ctx context.Context, clientID, orderID int64, text string) error {
	body := map[string]any{"client_id": clientID, "text": text}
	if orderID > 0 {
		body["order_id"] = orderID
	}
	return c.request(ctx, http.MethodPost, "/api/complaints", nil, body, nil)
}
