package meshkit_test

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshkit"
	"github.com/hupe1980/meshkit/config"
	"github.com/hupe1980/meshkit/internal/testutil"
	"github.com/hupe1980/meshkit/logging"
	"github.com/hupe1980/meshkit/mesh"
	"github.com/hupe1980/meshkit/runner"
)

func newKit(t *testing.T, g *testutil.Gateway, apiKey string, log *bytes.Buffer) *meshkit.Kit {
	t.Helper()

	kit, err := meshkit.New(func(o *meshkit.Options) {
		o.Config = &config.Config{
			MeshAPIKey:     apiKey,
			MeshBaseURL:    g.URL(),
			PreferredModel: "openai/gpt-4o",
			MaxIterations:  3,
			ToolLogPath:    filepath.Join(t.TempDir(), "tool_calls.log"),
		}
		o.Logger = logging.NoOpLogger{}
		if log != nil {
			o.ToolLog = logging.NewToolCallLog(log)
		}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = kit.Close() })

	return kit
}

func TestKit_Toolkit(t *testing.T) {
	g := testutil.NewGateway(t)
	g.Tools = []mesh.Tool{{Name: "echo", Description: "Echoes."}}
	g.ToolReplies["echo"] = map[string]any{"said": "hi"}

	var buf bytes.Buffer
	kit := newKit(t, g, "key", &buf)

	ts, err := kit.Toolkit(context.Background())
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, "echo", ts[0].Name())

	out, err := ts[0].Call(context.Background(), `{"text": "hi"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"said":"hi"}`, out)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
}

func TestKit_OrchestrateKeepsClientOpen(t *testing.T) {
	g := testutil.NewGateway(t)
	kit := newKit(t, g, "key", nil)

	var out bytes.Buffer
	assert.Equal(t, 0, kit.Orchestrate(context.Background(), &out))
	assert.Contains(t, out.String(), "🎉")

	_, err := kit.Client().ListAgents(context.Background())
	assert.NoError(t, err)
}

func TestKit_OrchestrateWithoutKey(t *testing.T) {
	g := testutil.NewGateway(t)
	kit := newKit(t, g, "", nil)

	assert.Equal(t, 1, kit.Orchestrate(context.Background(), &bytes.Buffer{}))
	assert.Empty(t, g.Requests())
}

func TestKit_RunAgent(t *testing.T) {
	g := testutil.NewGateway(t)
	kit := newKit(t, g, "key", &bytes.Buffer{})

	res, err := kit.RunAgent(context.Background(), "ping?", func(o *runner.Options) {
		o.LLM = testutil.NewScriptedLLM("Final Answer: pong")
	})
	require.NoError(t, err)

	assert.Equal(t, "pong", res.Answer)
	assert.Equal(t, "ping?", res.Query)
}

func TestNew_LoadsConfig(t *testing.T) {
	g := testutil.NewGateway(t)
	t.Setenv(config.EnvMeshAPIKey, "from-env")
	t.Setenv(config.EnvMeshBaseURL, g.URL()+"/")

	kit, err := meshkit.New(func(o *meshkit.Options) {
		o.ConfigOptions = []func(o *config.Options){func(o *config.Options) {
			o.EnvFiles = nil
			o.ConfigFile = ""
		}}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = kit.Close() })

	assert.Equal(t, "from-env", kit.Config().MeshAPIKey)
	assert.Equal(t, g.URL(), kit.Config().MeshBaseURL)

	_, err = kit.Client().ListLLMs(context.Background())
	assert.NoError(t, err)
}

func TestNew_SlogLogger(t *testing.T) {
	g := testutil.NewGateway(t)

	var logs bytes.Buffer
	kit, err := meshkit.New(func(o *meshkit.Options) {
		o.Config = &config.Config{MeshBaseURL: g.URL(), MaxIterations: 1}
		o.Slog = slog.New(slog.NewJSONHandler(&logs, nil))
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = kit.Close() })

	assert.Equal(t, 1, kit.Orchestrate(context.Background(), &bytes.Buffer{}))
	assert.Contains(t, logs.String(), "Please set MESH_API_KEY environment variable")
}
