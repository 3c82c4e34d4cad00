package mesh

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/hupe1980/meshkit/internal/util"
	"github.com/hupe1980/meshkit/tool"
)

// platformTool exposes a Mesh tool descriptor as a tool.Tool.
type platformTool struct {
	client *Client
	desc   Tool
	name   string
}

// agentTool exposes a Mesh agent as a tool.Tool.
type agentTool struct {
	client *Client
	agent  Agent
	name   string
}

var (
	_ tool.Tool = (*platformTool)(nil)
	_ tool.Tool = (*agentTool)(nil)
)

// AsTools fetches the tool descriptors and converts them into tool.Tool
// values. Agents that no descriptor is bound to are appended as agent
// tools. Names are unique across the result. Pass it through
// tool.LangChainAll to hand the tools to a langchaingo agent.
func (c *Client) AsTools(ctx context.Context, agents ...Agent) ([]tool.Tool, error) {
	descs, err := c.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	bound := make(map[string]bool, len(descs))
	for _, d := range descs {
		if d.AgentID != "" {
			bound[d.AgentID] = true
		}
	}

	names := toolNames{}
	out := make([]tool.Tool, 0, len(descs)+len(agents))
	for _, d := range descs {
		out = append(out, &platformTool{client: c, desc: d, name: names.claim(d.Name, len(out))})
	}
	for _, a := range agents {
		if bound[a.ID] {
			continue
		}
		out = append(out, &agentTool{client: c, agent: a, name: names.claim(a.Name, len(out))})
	}

	return out, nil
}

// ToolFromDescriptor converts one descriptor.
func (c *Client) ToolFromDescriptor(d Tool) tool.Tool {
	return &platformTool{client: c, desc: d, name: toolNames{}.claim(d.Name, 0)}
}

// AgentAsTool exposes an agent as a tool. The agent's input schema becomes
// the tool's parameter schema.
func (c *Client) AgentAsTool(a Agent) tool.Tool {
	return &agentTool{client: c, agent: a, name: toolNames{}.claim(a.Name, 0)}
}

func (t *platformTool) Name() string { return t.name }

func (t *platformTool) Description() string { return t.desc.Description }

func (t *platformTool) Parameters() map[string]any { return t.desc.Parameters }

func (t *platformTool) Call(ctx context.Context, args map[string]any) (any, error) {
	if err := util.ValidateParameters(args, t.desc.Parameters); err != nil {
		return nil, &tool.ToolError{Tool: t.Name(), Message: err.Error(), Code: tool.CodeValidation, Err: err}
	}

	var (
		resp *AgentResponse
		err  error
	)
	if t.desc.AgentID != "" {
		resp, err = t.client.CallAgent(ctx, t.desc.AgentID, args, WithoutValidation())
	} else {
		resp, err = t.client.CallTool(ctx, t.desc.Name, args)
	}
	if err != nil {
		return nil, err
	}

	return resp.Data, nil
}

func (t *agentTool) Name() string { return t.name }

func (t *agentTool) Description() string {
	if t.agent.Description != "" {
		return t.agent.Description
	}
	return "Mesh agent " + t.agent.Name
}

func (t *agentTool) Parameters() map[string]any { return t.agent.InputSchema }

func (t *agentTool) Call(ctx context.Context, args map[string]any) (any, error) {
	validation := WithoutValidation()
	if t.agent.InputSchema != nil {
		validation = WithSchema(t.agent.InputSchema)
	}

	resp, err := t.client.CallAgent(ctx, t.agent.ID, args, validation)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ToolName normalises a display name into a snake_case identifier the
// reasoning loop can echo back reliably.
func ToolName(name string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.TrimSpace(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			underscore = false
		case !underscore && b.Len() > 0:
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimRight(b.String(), "_")
}

// toolNames hands out tool names that stay distinct after the executor
// upper-cases them. Names that normalise to nothing become tool_<n>;
// repeats get a _2, _3 suffix.
type toolNames map[string]bool

func (s toolNames) claim(raw string, index int) string {
	base := ToolName(raw)
	if base == "" {
		base = fmt.Sprintf("tool_%d", index+1)
	}

	name := base
	for n := 2; s[name]; n++ {
		name = fmt.Sprintf("%s_%d", base, n)
	}
	s[name] = true

	return name
}
