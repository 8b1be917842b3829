package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSearchOrders_CompanyScopeInjected(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]Order{{ID: 1, TrackCode: "AB123", Status: "На складе"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 7, discardLogger())
	orders, err := c.SearchOrders(context.Background(), 3, "AB123", 5)
	if err != nil {
		t.Fatalf("SearchOrders: %v", err)
	}
	if len(orders) != 1 || orders[0].TrackCode != "AB123" {
		t.Fatalf("unexpected orders: %+v", orders)
	}

	if got := gotQuery["company_id"]; len(got) != 1 || got[0] != "7" {
		t.Errorf("expected company_id=7, got %v", got)
	}
	if got := gotQuery["employee_id"]; len(got) != 1 || got[0] != "3" {
		t.Errorf("expected employee_id=3, got %v", got)
	}
	if got := gotQuery["limit"]; len(got) != 1 || got[0] != "5" {
		t.Errorf("expected limit=5, got %v", got)
	}
}

func TestUpdateOrder_CompanyScopeInBody(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("expected PATCH, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 7, discardLogger())
	if err := c.UpdateOrder(context.Background(), 3, 42, map[string]any{"status": "Готов к выдаче"}); err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}

	if gotBody["company_id"] != float64(7) {
		t.Errorf("expected company_id 7 in body, got %v", gotBody["company_id"])
	}
	if gotBody["status"] != "Готов к выдаче" {
		t.Errorf("expected status field, got %v", gotBody["status"])
	}
}

func TestDeleteOrder_CompanyScopeInQuery(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		gotQuery = r.URL.Query()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 7, discardLogger())
	if err := c.DeleteOrder(context.Background(), 3, 42); err != nil {
		t.Fatalf("DeleteOrder: %v", err)
	}

	// Body-less calls must still carry the tenant scope.
	if got := gotQuery["company_id"]; len(got) != 1 || got[0] != "7" {
		t.Errorf("expected company_id=7 on DELETE, got %v", got)
	}
	if got := gotQuery["employee_id"]; len(got) != 1 || got[0] != "3" {
		t.Errorf("expected employee_id=3, got %v", got)
	}
}

func TestRequest_APIErrorDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"detail": "Недостаточно прав"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 7, discardLogger())
	err := c.DeleteOrder(context.Background(), 3, 42)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", apiErr.StatusCode)
	}
	if apiErr.Detail != "Недостаточно прав" {
		t.Errorf("expected detail from body, got %q", apiErr.Detail)
	}
}

func TestRequest_NetworkErrorIsUnavailable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 7, discardLogger())
	_, err := c.Parties(context.Background(), 3)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRequest_NoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 7, discardLogger())
	if err := c.DeleteClient(context.Background(), 3, 9); err != nil {
		t.Fatalf("DeleteClient on 204: %v", err)
	}
}

func TestIdentifyUser(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/bot/identify_user" {
			t.Errorf("expected /api/bot/identify_user, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"client":   Customer{ID: 42, FullName: "Иванов Пётр", CodeNum: 512},
			"is_owner": false,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 7, discardLogger())
	customer, isOwner, err := c.IdentifyUser(context.Background(), 555001, "+996700111222")
	if err != nil {
		t.Fatalf("IdentifyUser: %v", err)
	}
	if customer.ID != 42 || isOwner {
		t.Errorf("customer = %+v, isOwner = %v", customer, isOwner)
	}
	// Telegram chat IDs travel as strings per the CRM contract.
	if gotBody["telegram_chat_id"] != "555001" {
		t.Errorf("telegram_chat_id = %v", gotBody["telegram_chat_id"])
	}
	if gotBody["phone_number"] != "+996700111222" {
		t.Errorf("phone_number = %v", gotBody["phone_number"])
	}
}

func TestMetricPath_CollapsesIDs(t *testing.T) {
	cases := map[string]string{
		"/api/orders/123": "/api/orders/:id",
		"/api/orders":     "/api/orders",
		"/api/clients/9":  "/api/clients/:id",
	}
	for in, want := range cases {
		if got := metricPath(in); got != want {
			t.Errorf("metricPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCustomerCode(t *testing.T) {
	tests := []struct {
		name string
		c    Customer
		want string
	}{
		{"with prefix", Customer{CodePrefix: "KB", CodeNum: 512}, "KB512"},
		{"default prefix", Customer{CodeNum: 9}, "KB9"},
		{"unassigned", Customer{CodePrefix: "KB"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.Code(); got != tt.want {
				t.Errorf("Code() = %q, want %q", got, tt.want)
			}
		})
	}
}
