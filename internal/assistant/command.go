package assistant

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Command is the canonical flat shape of one model-issued tool invocation:
// a tool name plus its parameters. Commands are transient; one is built per
// inbound message and discarded after dispatch.
type Command struct {
	Tool   string
	Params map[string]any
}

// Str returns the named parameter as a trimmed string. Numbers are
// formatted, so a model replying {"new_code_num": "500"} and one replying
// {"new_code_num": 500} behave identically.
func (c *Command) Str(key string) string {
	v, ok := c.Params[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Float returns the named parameter as a float64, tolerating string-encoded
// numbers. Returns 0 when absent or unparseable.
func (c *Command) Float(key string) float64 {
	switch t := c.Params[key].(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f
	case int:
		return float64(t)
	default:
		return 0
	}
}

// Int returns the named parameter as an int64.
func (c *Command) Int(key string) int64 {
	switch t := c.Params[key].(type) {
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n
	case int:
		return int64(t)
	default:
		return 0
	}
}

// StrList returns the named parameter as a list of strings. Accepts a JSON
// array or a single comma/space separated string.
func (c *Command) StrList(key string) []string {
	switch t := c.Params[key].(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, v := range t {
			if s := fmt.Sprintf("%v", v); strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case string:
		fields := strings.FieldsFunc(t, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\n' || r == ';'
		})
		out := make([]string, 0, len(fields))
		for _, f := range fields {
			if f != "" {
				out = append(out, f)
			}
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON renders the canonical flat form {"tool": ..., params...}.
func (c *Command) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(c.Params)+1)
	for k, v := range c.Params {
		flat[k] = v
	}
	flat["tool"] = c.Tool
	return json.Marshal(flat)
}

// toolSchema declares the parameters a tool accepts. Unknown parameters are
// dropped rather than rejected; missing required ones fail validation with
// a corrective message.
type toolSchema struct {
	required []string
	optional []string
}

// toolSchemas is the full canonical tool surface. A tool absent from this
// map is unknown to the system regardless of what the model claims.
var toolSchemas = map[string]toolSchema{
	// Read-only. Search tools accept both "query" and the short "q" the
	// model sometimes emits; the handler requires one of them.
	"search_order":          {optional: []string{"query", "q"}},
	"search_client":         {optional: []string{"query", "q"}},
	"get_user_orders":       {},
	"get_active_parties":    {},
	"get_settings":          {},
	"get_shipping_price":    {optional: []string{"weight_kg"}},
	"get_company_locations": {},
	"get_orders_by_date":    {required: []string{"date_from"}, optional: []string{"date_to"}},
	"get_report":            {required: []string{"period_start", "period_end"}},

	// Mutating — always via the confirmation protocol.
	"update_order_status":     {required: []string{"track_code", "new_status"}},
	"delete_order":            {required: []string{"track_code"}},
	"assign_client":           {required: []string{"track_code", "client_search"}, optional: []string{"client_id"}},
	"change_client_code":      {required: []string{"client_search", "new_code_num"}, optional: []string{"client_id"}},
	"delete_client":           {required: []string{"client_search"}, optional: []string{"client_id"}},
	"add_expense":             {required: []string{"amount", "reason"}},
	"broadcast":               {required: []string{"text"}},
	"bulk_update_party":       {required: []string{"party_date", "new_status"}},
	"update_orders_by_tracks": {required: []string{"track_codes", "new_status"}},
	"calculate_orders":        {required: []string{"track_code", "weight_kg"}, optional: []string{"price_per_kg_usd", "exchange_rate_usd"}},
	"create_delivery_request": {required: []string{"address"}, optional: []string{"comment"}},
	"submit_complaint":        {required: []string{"text"}, optional: []string{"track_code"}},
}

// KnownTools returns the sorted canonical tool names. Used by the
// function-call parser's allowlist and by tests.
func KnownTools() []string {
	names := make([]string, 0, len(toolSchemas))
	for name := range toolSchemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// validateSchema checks the command against its tool schema: drops unknown
// parameters and reports the first missing required one. Returns "" when valid.
func validateSchema(cmd *Command) string {
	schema, ok := toolSchemas[cmd.Tool]
	if !ok {
		// Unknown tool is a dispatch concern, not a validation one.
		return ""
	}

	allowed := make(map[string]bool, len(schema.required)+len(schema.optional))
	for _, k := range schema.required {
		allowed[k] = true
	}
	for _, k := range schema.optional {
		allowed[k] = true
	}
	for k := range cmd.Params {
		if !allowed[k] {
			delete(cmd.Params, k)
		}
	}

	for _, k := range schema.required {
		if _, present := cmd.Params[k]; !present || cmd.Str(k) == "" {
			return fmt.Sprintf("Для команды %s не хватает параметра %q. Уточните, пожалуйста.", cmd.Tool, k)
		}
	}
	return ""
}
