package assistant

import (
	"encoding/json"
	"reflect"
	"testing"
)

// --- Parsing Strategies ---

func TestNormalize_StrictJSON(t *testing.T) {
	cmd := Normalize(`{"tool": "search_order", "query": "YT123"}`)
	if cmd == nil {
		t.Fatal("expected a command")
	}
	if cmd.Tool != "search_order" {
		t.Errorf("tool = %q, want search_order", cmd.Tool)
	}
	if cmd.Str("query") != "YT123" {
		t.Errorf("query = %q, want YT123", cmd.Str("query"))
	}
}

func TestNormalize_FencedJSONWithProse(t *testing.T) {
	text := "Сейчас найду заказ.\n```json\n{\"tool\": \"search_order\", \"query\": \"YT123\"}\n```\nГотово."
	cmd := Normalize(text)
	if cmd == nil {
		t.Fatal("expected a command")
	}
	if cmd.Tool != "search_order" || cmd.Str("query") != "YT123" {
		t.Errorf("got %+v", cmd)
	}
}

func TestNormalize_PermissiveLiteral(t *testing.T) {
	cmd := Normalize(`{'tool': 'update_order_status', 'track_code': 'YT123', 'new_status': 'В пути',}`)
	if cmd == nil {
		t.Fatal("expected a command")
	}
	if cmd.Tool != "update_order_status" {
		t.Errorf("tool = %q", cmd.Tool)
	}
	if cmd.Str("new_status") != "В пути" {
		t.Errorf("new_status = %q", cmd.Str("new_status"))
	}
}

func TestNormalize_FunctionCall(t *testing.T) {
	cmd := Normalize(`Вызываю search_client(query="Иванов", limit=5)`)
	if cmd == nil {
		t.Fatal("expected a command")
	}
	if cmd.Tool != "search_client" {
		t.Errorf("tool = %q", cmd.Tool)
	}
	if cmd.Str("query") != "Иванов" {
		t.Errorf("query = %q", cmd.Str("query"))
	}
	if cmd.Float("limit") != 5 {
		t.Errorf("limit = %v", cmd.Params["limit"])
	}
}

func TestNormalize_FunctionCallUnknownNameIgnored(t *testing.T) {
	// Prose with parentheses must not be mistaken for a command.
	if cmd := Normalize("Ваш заказ прибудет завтра (ориентировочно), ждите уведомления."); cmd != nil {
		t.Fatalf("expected nil, got %+v", cmd)
	}
	if cmd := Normalize(`do_something_weird(query="x")`); cmd != nil {
		t.Fatalf("unknown function name must not parse, got %+v", cmd)
	}
}

func TestNormalize_PlainChatIsNil(t *testing.T) {
	for _, text := range []string{
		"",
		"Здравствуйте! Чем могу помочь?",
		"Ваш заказ уже в пути.",
		"{}",
		`{"note": "no tool here"}`,
	} {
		if cmd := Normalize(text); cmd != nil {
			t.Errorf("Normalize(%q) = %+v, want nil", text, cmd)
		}
	}
}

// --- Key Normalization ---

func TestNormalize_FunctionAndActionAliases(t *testing.T) {
	for _, text := range []string{
		`{"function": "search_order", "query": "YT123"}`,
		`{"action": "search_order", "query": "YT123"}`,
		`{"Tool": "search_order", "Query": "YT123"}`,
	} {
		cmd := Normalize(text)
		if cmd == nil {
			t.Fatalf("Normalize(%q) = nil", text)
		}
		if cmd.Tool != "search_order" {
			t.Errorf("Normalize(%q).Tool = %q", text, cmd.Tool)
		}
		if cmd.Str("query") != "YT123" {
			t.Errorf("Normalize(%q) query = %q", text, cmd.Str("query"))
		}
	}
}

func TestNormalize_WrapperFlattening(t *testing.T) {
	cmd := Normalize(`{"tool": "add_expense", "arguments": {"amount": 500, "reason": "такси"}}`)
	if cmd == nil {
		t.Fatal("expected a command")
	}
	if cmd.Float("amount") != 500 {
		t.Errorf("amount = %v", cmd.Params["amount"])
	}
	if cmd.Str("reason") != "такси" {
		t.Errorf("reason = %q", cmd.Str("reason"))
	}
	if _, leaked := cmd.Params["arguments"]; leaked {
		t.Error("wrapper key must not survive flattening")
	}
}

func TestNormalize_NestedWinsOverTopLevel(t *testing.T) {
	cmd := Normalize(`{"tool": "add_expense", "amount": 1, "parameters": {"amount": 500, "reason": "обед"}}`)
	if cmd == nil {
		t.Fatal("expected a command")
	}
	if cmd.Float("amount") != 500 {
		t.Errorf("amount = %v, nested value must win", cmd.Params["amount"])
	}
}

func TestNormalize_StringEncodedWrapper(t *testing.T) {
	cmd := Normalize(`{"tool": "broadcast", "arguments": "{\"text\": \"Приём заказов до 18:00\"}"}`)
	if cmd == nil {
		t.Fatal("expected a command")
	}
	if cmd.Str("text") != "Приём заказов до 18:00" {
		t.Errorf("text = %q", cmd.Str("text"))
	}
}

// Normalizing the canonical form of a command yields the same command.
func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"```json\n{\"tool\": \"search_order\", \"query\": \"YT123\"}\n```",
		`{"function": "get_orders_by_date", "args": {"date_from": "2026-08-01"}}`,
		`{'tool': 'add_expense', 'amount': 500, 'reason': 'такси'}`,
	}
	for _, text := range inputs {
		first := Normalize(text)
		if first == nil {
			t.Fatalf("Normalize(%q) = nil", text)
		}
		canonical, err := json.Marshal(first)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		second := Normalize(string(canonical))
		if second == nil {
			t.Fatalf("re-normalizing %s = nil", canonical)
		}
		if second.Tool != first.Tool {
			t.Errorf("tool changed: %q vs %q", first.Tool, second.Tool)
		}
		for k := range first.Params {
			if first.Str(k) != second.Str(k) {
				t.Errorf("param %q changed: %q vs %q", k, first.Str(k), second.Str(k))
			}
		}
	}
}

// --- Schema Validation ---

func TestValidateSchema_DropsUnknownParams(t *testing.T) {
	cmd := &Command{Tool: "search_order", Params: map[string]any{
		"query":     "YT123",
		"hallmark":  "bogus",
		"verbosity": 3,
	}}
	if msg := validateSchema(cmd); msg != "" {
		t.Fatalf("unexpected validation failure: %q", msg)
	}
	want := map[string]any{"query": "YT123"}
	if !reflect.DeepEqual(cmd.Params, want) {
		t.Errorf("params = %v, want %v", cmd.Params, want)
	}
}

func TestValidateSchema_MissingRequired(t *testing.T) {
	cmd := &Command{Tool: "update_order_status", Params: map[string]any{"track_code": "YT123"}}
	msg := validateSchema(cmd)
	if msg == "" {
		t.Fatal("expected a corrective message")
	}
}

func TestCommandAccessors_ToleratesStringNumbers(t *testing.T) {
	cmd := &Command{Params: map[string]any{
		"a": "500",
		"b": float64(500),
		"c": " 3.5 ",
		"tracks": "YT1111111111, YT2222222222",
	}}
	if cmd.Int("a") != 500 || cmd.Int("b") != 500 {
		t.Error("Int should accept both string and float forms")
	}
	if cmd.Float("c") != 3.5 {
		t.Errorf("Float = %v", cmd.Float("c"))
	}
	if got := cmd.StrList("tracks"); len(got) != 2 || got[0] != "YT1111111111" {
		t.Errorf("StrList = %v", got)
	}
}
