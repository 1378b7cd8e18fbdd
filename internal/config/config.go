// cortexmem/internal/config/config.go

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	Provider    string  `yaml:"provider"` // "anthropic" | "openai"
	Endpoint    string  `yaml:"endpoint,omitempty"`
	Key         string  `yaml:"key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

func (c LLMConfig) Timeout() time.Duration { return time.Duration(c.TimeoutSecs) * time.Second }

type EmbeddingConfig struct {
	BaseURL   string            `yaml:"base_url"`
	Path      string            `yaml:"path"`
	APIKey    string            `yaml:"api_key,omitempty"`
	APIHeader string            `yaml:"api_header,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	Model     string            `yaml:"model"`
	BatchSize int               `yaml:"batch_size"`
	Timeout   int               `yaml:"timeout_secs"`
}

type VectorConfig struct {
	Endpoint    string `yaml:"endpoint"`
	Collection  string `yaml:"collection"`
	Dimension   int    `yaml:"dim"`
	Metric      string `yaml:"metric"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

type AbstractLayerConfig struct {
	MaxChars        int `yaml:"max_chars"`
	MaxTokens       int `yaml:"max_tokens"`
	TargetSentences int `yaml:"target_sentences"`
}

type OverviewLayerConfig struct {
	MaxChars  int `yaml:"max_chars"`
	MaxTokens int `yaml:"max_tokens"`
}

type LayerConfig struct {
	Abstract AbstractLayerConfig `yaml:"abstract"`
	Overview OverviewLayerConfig `yaml:"overview"`
}

type AutomationConfig struct {
	AutoIndex                   bool `yaml:"auto_index"`
	AutoExtract                 bool `yaml:"auto_extract"`
	IndexOnMessage               bool `yaml:"index_on_message"`
	IndexOnClose                 bool `yaml:"index_on_close"`
	BatchDelaySecs                int  `yaml:"batch_delay_secs"`
	AutoGenerateLayersOnStartup bool `yaml:"auto_generate_layers_on_startup"`
}

type RetrievalConfig struct {
	TopK          int     `yaml:"top_k"`
	MinScore      float64 `yaml:"min_score"`
	MaxCandidates int     `yaml:"max_candidates"`
	L0Weight      float64 `yaml:"l0_weight"`
	L1Weight      float64 `yaml:"l1_weight"`
	L2Weight      float64 `yaml:"l2_weight"`
}

type OptimisationConfig struct {
	BatchSize           int     `yaml:"batch_size"`
	ConservativeMode    bool    `yaml:"conservative_mode"`
	MaxActionsPerPlan   int     `yaml:"max_actions_per_plan"`
	SimilarityThreshold float64 `yaml:"similarity_thresholds"`
}

// Config is the top-level cortexmem configuration, matching spec.md §6's
// "Configuration (recognised keys)" table.
type Config struct {
	DataDir      string             `yaml:"data_dir"`
	TenantID     string             `yaml:"tenant_id"`
	LLM          LLMConfig          `yaml:"llm"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Vector       VectorConfig       `yaml:"vector"`
	Layer        LayerConfig        `yaml:"layer"`
	Automation   AutomationConfig   `yaml:"automation"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Optimisation OptimisationConfig `yaml:"optimisation"`
	RedisAddr    string             `yaml:"redis_addr,omitempty"`
	LogLevel     string             `yaml:"log_level"`
}

// Default returns a Config with every recognised key set to a sane
// default, mirroring the teacher's struct-literal-default pattern.
func Default() Config {
	return Config{
		DataDir:  "./data",
		TenantID: "default",
		LLM: LLMConfig{
			Provider:    "anthropic",
			Model:       "claude-3-7-sonnet-latest",
			Temperature: 0.3,
			MaxTokens:   1024,
			TimeoutSecs: 30,
		},
		Embedding: EmbeddingConfig{
			Path:      "/v1/embeddings",
			BatchSize: 16,
			Timeout:   30,
		},
		Vector: VectorConfig{
			Endpoint:    "localhost:6334",
			Collection:  "cortex_memories",
			Dimension:   1536,
			Metric:      "cosine",
			TimeoutSecs: 10,
		},
		Layer: LayerConfig{
			Abstract: AbstractLayerConfig{MaxChars: 200, MaxTokens: 100, TargetSentences: 2},
			Overview: OverviewLayerConfig{MaxChars: 2000, MaxTokens: 1000},
		},
		Automation: AutomationConfig{
			AutoIndex:      true,
			AutoExtract:    true,
			IndexOnMessage: false,
			IndexOnClose:   true,
			BatchDelaySecs: 2,
		},
		Retrieval: RetrievalConfig{
			TopK:          5,
			MinScore:      0.3,
			MaxCandidates: 20,
			L0Weight:      0.2,
			L1Weight:      0.3,
			L2Weight:      0.5,
		},
		Optimisation: OptimisationConfig{
			BatchSize:           20,
			ConservativeMode:    true,
			MaxActionsPerPlan:   100,
			SimilarityThreshold: 0.92,
		},
		LogLevel: "info",
	}
}

// Load reads filename as YAML over Default(), applying any values
// present in the file. A missing file is not an error: local runs may
// rely purely on defaults plus environment overrides.
func Load(filename string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			if os.IsNotExist(err) {
				log.Warn().Str("path", filename).Msg("config file not found, using defaults")
			} else {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if cfg.LLM.Key == "" {
		cfg.LLM.Key = firstNonEmpty(os.Getenv("ANTHROPIC_API_KEY"), os.Getenv("OPENAI_API_KEY"))
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = os.Getenv("EMBEDDING_API_KEY")
	}

	return &cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
