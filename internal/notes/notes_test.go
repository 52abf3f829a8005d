package notes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleRequest = Request{TaskID: "TASK-001", TaskType: "IMPL", Issue: 3, Summary: "add math op"}

func TestParseModeAliases(t *testing.T) {
	cases := map[string]Mode{
		"":           ModeMock,
		"mock":       ModeMock,
		"real":       ModeHosted,
		"Hosted":     ModeHosted,
		"codex":      ModeSubprocess,
		"subprocess": ModeSubprocess,
	}
	for raw, want := range cases {
		got, err := ParseMode(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	_, err := ParseMode("telepathy")
	assert.Error(t, err)
}

func TestMockMode(t *testing.T) {
	a, err := New(Config{Mode: ModeMock})
	require.NoError(t, err)

	res := a.Generate(context.Background(), sampleRequest)
	assert.True(t, res.OK)
	assert.False(t, res.UsedFallback)
	assert.Equal(t, ReasonMock, res.Reason)
	assert.Equal(t, "Mock planner executed for TASK-001 (IMPL). Apply deterministic implementation.", res.Note)
	assert.Equal(t, 3, res.Issue)
}

func TestHostedWithoutKeyFallsBack(t *testing.T) {
	for _, provider := range []string{ProviderOpenAI, ProviderAnthropic, ProviderGemini} {
		a, err := New(Config{Mode: ModeHosted, Provider: provider})
		require.NoError(t, err, provider)

		res := a.Generate(context.Background(), sampleRequest)
		assert.True(t, res.OK, provider)
		assert.True(t, res.UsedFallback, provider)
		assert.Equal(t, ReasonNoAPIKey, res.Reason, provider)
		assert.NotEmpty(t, res.Note, provider)
	}
}

func TestUnknownProvider(t *testing.T) {
	_, err := New(Config{Mode: ModeHosted, Provider: "nope", Env: EnvConfig{OpenAIAPIKey: "k"}})
	assert.Error(t, err)
}

func openAIServer(t *testing.T, status int, body string, gotBody *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" {
			t.Errorf("path = %q, want /responses", r.URL.Path)
		}
		if gotBody != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, gotBody)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func hostedOpenAI(t *testing.T, srv *httptest.Server) *Adapter {
	t.Helper()
	a, err := New(Config{
		Mode:       ModeHosted,
		Provider:   ProviderOpenAI,
		HTTPClient: srv.Client(),
		Env: EnvConfig{
			OpenAIAPIKey:  "test-key",
			OpenAIBaseURL: srv.URL,
			OpenAIModel:   "gpt-test",
		},
	})
	require.NoError(t, err)
	return a
}

func TestHostedOpenAIReturnsNote(t *testing.T) {
	var body map[string]any
	srv := openAIServer(t, http.StatusOK, `{
		"error": {"code": "", "message": ""},
		"output": [
			{
				"type": "message",
				"role": "assistant",
				"content": [
					{"type": "output_text", "text": "Add a pure function and table tests.", "annotations": []}
				]
			}
		]
	}`, &body)

	res := hostedOpenAI(t, srv).Generate(context.Background(), sampleRequest)
	assert.False(t, res.UsedFallback)
	assert.Equal(t, ReasonOK, res.Reason)
	assert.Equal(t, "Add a pure function and table tests.", res.Note)
	assert.Equal(t, ModeHosted, res.Mode)
	assert.Equal(t, "gpt-test", body["model"])
	assert.Contains(t, body["input"], "task_id=TASK-001")
}

func TestHostedOpenAIEmptyOutput(t *testing.T) {
	srv := openAIServer(t, http.StatusOK, `{"error": {"code": "", "message": ""}, "output": []}`, nil)

	res := hostedOpenAI(t, srv).Generate(context.Background(), sampleRequest)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, ReasonEmptyOutput, res.Reason)
}

func TestHostedOpenAIError(t *testing.T) {
	srv := openAIServer(t, http.StatusInternalServerError, `{"error": {"message": "boom"}}`, nil)

	res := hostedOpenAI(t, srv).Generate(context.Background(), sampleRequest)
	assert.True(t, res.OK)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, ReasonAPIError, res.Reason)
}

func TestHostedAnthropicReturnsNote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("missing api key header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "Start from the failing test."}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	t.Cleanup(srv.Close)

	a, err := New(Config{
		Mode:       ModeHosted,
		Provider:   ProviderAnthropic,
		HTTPClient: srv.Client(),
		Env: EnvConfig{
			AnthropicAPIKey:  "test-key",
			AnthropicBaseURL: srv.URL + "/",
			AnthropicModel:   "claude-test",
		},
	})
	require.NoError(t, err)

	res := a.Generate(context.Background(), sampleRequest)
	assert.False(t, res.UsedFallback)
	assert.Equal(t, "Start from the failing test.", res.Note)
}

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.sh")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

func TestSubprocessReadsOutputFile(t *testing.T) {
	script := writeScript(t, `#!/bin/sh
cat > /dev/null
echo '{"note":"Reuse the existing parser."}' > output.json
`)
	a, err := New(Config{Mode: ModeSubprocess, Command: []string{script}, WorkDir: t.TempDir()})
	require.NoError(t, err)

	res := a.Generate(context.Background(), sampleRequest)
	assert.False(t, res.UsedFallback)
	assert.Equal(t, ReasonOK, res.Reason)
	assert.Equal(t, "Reuse the existing parser.", res.Note)
}

func TestSubprocessFailureFallsBack(t *testing.T) {
	script := writeScript(t, `#!/bin/sh
echo "boom" 1>&2
exit 1
`)
	a, err := New(Config{Mode: ModeSubprocess, Command: []string{script}, WorkDir: t.TempDir()})
	require.NoError(t, err)

	res := a.Generate(context.Background(), sampleRequest)
	assert.True(t, res.OK)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, ReasonSubprocessError, res.Reason)
}

func TestDefaultCommand(t *testing.T) {
	assert.Equal(t, []string{"codex", "exec", "--skip-git-repo-check", "--sandbox", "read-only"}, defaultCommand(""))
	assert.Equal(t, []string{"codex", "exec", "--skip-git-repo-check", "--sandbox", "read-only", "--model", "o4"}, defaultCommand(" o4 "))
}

func TestLoadEnvDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "abc")
	t.Setenv("OPENAI_BASE_URL", "http://llm.local/v1")
	t.Setenv("CODEX_MODEL", "o4")
	cfg, err := LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, "abc", cfg.OpenAIAPIKey)
	assert.Equal(t, "http://llm.local/v1", cfg.OpenAIBaseURL)
	assert.Equal(t, "o4", cfg.CodexModel)
}
