package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/meshkit/internal/util"
	"github.com/tmc/langchaingo/tools"
)

// DefaultInputKey receives free-form input when the schema does not name a
// better candidate.
const DefaultInputKey = "query"

// langChainTool adapts a Tool to langchaingo's string-in/string-out tools.Tool.
type langChainTool struct {
	t Tool
}

var _ tools.Tool = (*langChainTool)(nil)

// LangChain adapts t for use in a langchaingo agent.
func LangChain(t Tool) tools.Tool {
	return &langChainTool{t: t}
}

// LangChainAll adapts every tool.
func LangChainAll(ts []Tool) []tools.Tool {
	out := make([]tools.Tool, len(ts))
	for i, t := range ts {
		out[i] = LangChain(t)
	}
	return out
}

// Name implements tools.Tool.
func (l *langChainTool) Name() string { return l.t.Name() }

// Description implements tools.Tool. The parameter list is appended so the
// model knows which JSON fields to send.
func (l *langChainTool) Description() string {
	desc := strings.TrimSpace(l.t.Description())
	if hint := parameterHint(l.t.Parameters()); hint != "" {
		desc += " " + hint
	}
	return desc
}

// Call implements tools.Tool. Tool failures are returned as the observation
// so the reasoning loop can react; cancellation aborts the loop.
func (l *langChainTool) Call(ctx context.Context, input string) (string, error) {
	args := parseInput(input, l.t.Parameters())

	result, err := l.t.Call(ctx, args)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return fmt.Sprintf("error: %v", err), nil
	}

	return renderResult(result), nil
}

// parseInput turns the model's action input into call arguments. A JSON
// object is used as-is; anything else is bound to a single key.
func parseInput(input string, schema map[string]any) map[string]any {
	s := strings.TrimSpace(input)
	s = strings.TrimPrefix(s, "```json")
	s = strings.Trim(s, "`")
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "{") {
		var args map[string]any
		if err := json.Unmarshal([]byte(s), &args); err == nil {
			return args
		}
	}

	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	return map[string]any{inputKey(schema): s}
}

func inputKey(schema map[string]any) string {
	if req := util.RequiredFields(schema); len(req) == 1 {
		return req[0]
	}

	if props, ok := schema["properties"].(map[string]any); ok && len(props) == 1 {
		for k := range props {
			return k
		}
	}

	return DefaultInputKey
}

func parameterHint(schema map[string]any) string {
	props, ok := schema["properties"].(map[string]any)
	if !ok || len(props) == 0 {
		return ""
	}

	required := map[string]bool{}
	for _, r := range util.RequiredFields(schema) {
		required[r] = true
	}

	names := make([]string, 0, len(props))
	for k := range props {
		names = append(names, k)
	}
	sort.Strings(names)

	fields := make([]string, 0, len(names))
	for _, name := range names {
		typ := "any"
		if p, ok := props[name].(map[string]any); ok {
			if t, ok := p["type"].(string); ok {
				typ = t
			}
		}

		f := name + " (" + typ
		if required[name] {
			f += ", required"
		}
		fields = append(fields, f+")")
	}

	return "Input: a JSON object with fields " + strings.Join(fields, ", ") + "."
}

func renderResult(v any) string {
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		return r
	case []byte:
		return string(r)
	case fmt.Stringer:
		return r.String()
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}

	return string(b)
}
