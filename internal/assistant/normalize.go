package assistant

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Normalize reduces arbitrary model output to a canonical Command, or nil
// when the text carries no actionable command (the reply is then treated as
// plain conversation).
//
// The model's format varies wildly between turns: pure JSON, JSON after
// prose, single-quoted pseudo-JSON, or a function-call spelled out as text.
// An ordered list of parser strategies is tried until one yields a mapping;
// the mapping then goes through key normalization.
//
// Known limitation: only the outermost brace span is considered, so two
// sequential JSON commands in one reply parse as one (broken) candidate.
func Normalize(text string) *Command {
	candidate := braceSpan(stripCodeFences(text))

	for _, parse := range parserStrategies {
		raw, ok := parse(candidate, text)
		if !ok {
			continue
		}
		if cmd := canonicalize(raw); cmd != nil {
			return cmd
		}
	}
	return nil
}

// parserStrategy attempts one interpretation of the model output.
// candidate is the outermost brace span (may be empty); full is the
// original reply text for strategies that do not rely on braces.
type parserStrategy func(candidate, full string) (map[string]any, bool)

var parserStrategies = []parserStrategy{
	parseStrictJSON,
	parsePermissiveLiteral,
	parseFunctionCall,
}

// stripCodeFences removes markdown code-fence lines, keeping their content.
func stripCodeFences(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// braceSpan returns the substring from the first '{' to the last '}',
// tolerating prose before and after a command. Empty when no braces exist.
func braceSpan(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

func parseStrictJSON(candidate, _ string) (map[string]any, bool) {
	if candidate == "" {
		return nil, false
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		return nil, false
	}
	return raw, true
}

// parsePermissiveLiteral tolerates Python-literal style output: single
// quotes, True/False/None, and trailing commas.
func parsePermissiveLiteral(candidate, _ string) (map[string]any, bool) {
	if candidate == "" {
		return nil, false
	}
	fixed := candidate
	fixed = strings.ReplaceAll(fixed, "'", `"`)
	fixed = strings.ReplaceAll(fixed, ": True", ": true")
	fixed = strings.ReplaceAll(fixed, ": False", ": false")
	fixed = strings.ReplaceAll(fixed, ": None", ": null")
	fixed = trailingComma.ReplaceAllString(fixed, "$1")

	var raw map[string]any
	if err := json.Unmarshal([]byte(fixed), &raw); err != nil {
		return nil, false
	}
	return raw, true
}

var (
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	funcCallRe    = regexp.MustCompile(`(?s)([a-z_][a-z0-9_]*)\s*\((.*?)\)`)
	funcArgRe     = regexp.MustCompile(`([a-z_][a-z0-9_]*)\s*=\s*(?:"([^"]*)"|'([^']*)'|([^,)\s]+))`)
)

// parseFunctionCall extracts a pseudo-call like
// search_client(query="Иванов", limit=5). Restricted to the known tool
// allowlist so arbitrary prose with parentheses does not match.
func parseFunctionCall(_, full string) (map[string]any, bool) {
	for _, m := range funcCallRe.FindAllStringSubmatch(full, -1) {
		name := m[1]
		if _, known := toolSchemas[name]; !known {
			continue
		}
		raw := map[string]any{"tool": name}
		for _, arg := range funcArgRe.FindAllStringSubmatch(m[2], -1) {
			key := arg[1]
			val := arg[2] + arg[3] // one of the quoted groups
			if val == "" && arg[4] != "" {
				if n, err := strconv.ParseFloat(arg[4], 64); err == nil {
					raw[key] = n
					continue
				}
				val = arg[4]
			}
			raw[key] = val
		}
		return raw, true
	}
	return nil, false
}

// wrapperKeys are nested-argument containers some models emit around the
// real parameters.
var wrapperKeys = []string{"arguments", "parameters", "params", "args"}

// canonicalize applies key normalization to a parsed mapping:
// lower-cases top-level keys, renames function/action to tool when tool is
// absent, and flattens one level of nested argument wrappers (nested values
// win over top-level ones). A Command is produced only when a non-empty
// tool name survives.
func canonicalize(raw map[string]any) *Command {
	flat := make(map[string]any, len(raw))
	for k, v := range raw {
		flat[strings.ToLower(strings.TrimSpace(k))] = v
	}

	if _, has := flat["tool"]; !has {
		for _, alias := range []string{"function", "action"} {
			if v, ok := flat[alias]; ok {
				flat["tool"] = v
				delete(flat, alias)
				break
			}
		}
	}

	for _, wk := range wrapperKeys {
		v, ok := flat[wk]
		if !ok {
			continue
		}
		delete(flat, wk)
		nested := asMapping(v)
		for k, nv := range nested {
			flat[strings.ToLower(strings.TrimSpace(k))] = nv
		}
	}

	tool, _ := flat["tool"].(string)
	tool = strings.ToLower(strings.TrimSpace(tool))
	if tool == "" {
		return nil
	}
	delete(flat, "tool")
	return &Command{Tool: tool, Params: flat}
}

// asMapping coerces a wrapper value into a mapping: either it already is
// one, or it is a JSON-encoded string of one.
func asMapping(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(t), &m); err == nil {
			return m
		}
	}
	return nil
}
