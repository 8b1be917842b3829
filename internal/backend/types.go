package backend

import (
	"strconv"
	"time"
)

// Order is a cargo order as returned by the CRM API.
type Order struct {
	ID           int64      `json:"id"`
	TrackCode    string     `json:"track_code"`
	Status       string     `json:"status"`
	PurchaseType string     `json:"purchase_type"`
	Comment      string     `json:"comment,omitempty"`
	PartyDate    string     `json:"party_date"` // YYYY-MM-DD
	CreatedAt    time.Time  `json:"created_at"`
	IssuedAt     *time.Time `json:"issued_at,omitempty"`

	WeightKg        float64 `json:"weight_kg,omitempty"`
	PricePerKgUSD   float64 `json:"price_per_kg_usd,omitempty"`
	ExchangeRateUSD float64 `json:"exchange_rate_usd,omitempty"`
	FinalCostSom    float64 `json:"final_cost_som,omitempty"`

	ClientID  int64   `json:"client_id,omitempty"`
	Client    *Customer `json:"client,omitempty"`
	CompanyID int64   `json:"company_id"`
}

// Customer is a CRM client record. The API calls these "clients"; the Go
// name avoids colliding with the HTTP Client in this package.
type Customer struct {
	ID             int64  `json:"id"`
	FullName       string `json:"full_name"`
	Phone          string `json:"phone"`
	CodePrefix     string `json:"client_code_prefix"`
	CodeNum        int64  `json:"client_code_num"`
	TelegramChatID string `json:"telegram_chat_id,omitempty"`
	Status         string `json:"status,omitempty"`
	CompanyID      int64  `json:"company_id"`
}

// Code renders the client's short code, e.g. "KB512". Empty when no number
// has been assigned yet.
func (c *Customer) Code() string {
	if c.CodeNum == 0 {
		return ""
	}
	prefix := c.CodePrefix
	if prefix == "" {
		prefix = "KB"
	}
	return prefix + strconv.FormatInt(c.CodeNum, 10)
}

// Location is a company office or warehouse.
type Location struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// Setting is a single company configuration entry.
type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ReportSummary aggregates income and expenses over a period.
type ReportSummary struct {
	TotalIncome   float64 `json:"total_income"`
	TotalExpenses float64 `json:"total_expenses"`
	NetProfit     float64 `json:"net_profit"`
}

// Expense is a cash-desk expense record.
type Expense struct {
	ID      int64   `json:"id"`
	Amount  float64 `json:"amount"`
	Reason  string  `json:"reason"`
	ShiftID int64   `json:"shift_id,omitempty"`
}

// DeliveryRequest asks the company to deliver issued orders to an address.
type DeliveryRequest struct {
	ID       int64  `json:"id"`
	ClientID int64  `json:"client_id"`
	Address  string `json:"address"`
	Comment  string `json:"comment,omitempty"`
}

// Complaint is a customer complaint tied to an optional order.
type Complaint struct {
	ID       int64  `json:"id"`
	ClientID int64  `json:"client_id"`
	OrderID  int64  `json:"order_id,omitempty"`
	Text     string `json:"text"`
}
