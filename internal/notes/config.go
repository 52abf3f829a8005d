package notes

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Providers of the hosted mode.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

var errNoAPIKey = errors.New("api key is not set")

// EnvConfig holds model credentials read from the environment.
type EnvConfig struct {
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIModel   string `env:"OPENAI_MODEL" envDefault:"gpt-4.1-mini"`

	AnthropicAPIKey  string `env:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL string `env:"ANTHROPIC_BASE_URL"`
	AnthropicModel   string `env:"ANTHROPIC_MODEL" envDefault:"claude-3-5-haiku-latest"`

	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`

	CodexModel string `env:"CODEX_MODEL"`
}

// LoadEnv parses EnvConfig from the process environment.
func LoadEnv() (EnvConfig, error) {
	var cfg EnvConfig
	if err := env.Parse(&cfg); err != nil {
		return EnvConfig{}, fmt.Errorf("failed to parse notes env: %w", err)
	}
	return cfg, nil
}

// Config configures an Adapter.
type Config struct {
	Mode     Mode
	Provider string
	Timeout  time.Duration
	// Command overrides the subprocess command line.
	Command []string
	// WorkDir receives per-invocation input and output files.
	WorkDir string
	Env     EnvConfig
	// HTTPClient is used by hosted providers when set.
	HTTPClient *http.Client
}

const (
	defaultTimeout           = 30 * time.Second
	defaultSubprocessTimeout = 120 * time.Second
)

// New builds an adapter. Missing credentials do not fail construction;
// they surface as no_api_key fallbacks on every request.
func New(cfg Config) (*Adapter, error) {
	a := &Adapter{mode: cfg.Mode}
	switch cfg.Mode {
	case ModeMock, "":
		a.mode = ModeMock
	case ModeHosted:
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		a.hosted, a.hostedErr = newHosted(cfg, timeout)
		if a.hostedErr != nil && !errors.Is(a.hostedErr, errNoAPIKey) {
			return nil, a.hostedErr
		}
	case ModeSubprocess:
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultSubprocessTimeout
		}
		sub, err := newSubprocess(cfg.Command, cfg.Env.CodexModel, cfg.WorkDir, timeout)
		if err != nil {
			return nil, err
		}
		a.sub = sub
	default:
		return nil, fmt.Errorf("unknown notes mode %q", cfg.Mode)
	}
	return a, nil
}

func newHosted(cfg Config, timeout time.Duration) (completer, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", ProviderOpenAI:
		return newOpenAI(cfg.Env, timeout, cfg.HTTPClient)
	case ProviderAnthropic:
		return newAnthropic(cfg.Env, timeout, cfg.HTTPClient)
	case ProviderGemini:
		return newGemini(cfg.Env, timeout, cfg.HTTPClient)
	default:
		return nil, fmt.Errorf("unknown notes provider %q", cfg.Provider)
	}
}
