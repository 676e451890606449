package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Account   Account   `yaml:"account"`
	Discovery Discovery `yaml:"discovery"`
	Signals   Signals   `yaml:"signals"`
	LLM       LLM       `yaml:"llm"`
	Output    Output    `yaml:"output"`
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
}

// Account tunes the lifecycle timers and the confidence weight table.
type Account struct {
	RevisitNoReplyDays  int            `yaml:"revisit_no_reply_days"`
	RevisitNegativeDays int            `yaml:"revisit_negative_days"`
	NoReplyTouches      int            `yaml:"no_reply_touches"`
	ConfidenceWeights   map[string]int `yaml:"confidence_weights"`
}

// Confidence weight keys.
const (
	WeightEmailVerified  = "email_verified"
	WeightEmailLikely    = "email_likely"
	WeightDecisionMaker  = "decision_maker_found"
	WeightWebsiteExists  = "website_exists"
	WeightPhoneExists    = "phone_exists"
	WeightHighValueTier  = "high_value_tier"
	WeightHasNewsSignal  = "has_news_signal"
	WeightAccountEngaged = "account_engaged"
	WeightHasOpens       = "has_opens"
	WeightRecentActivity = "recent_activity"
)

// DefaultConfidenceWeights returns a fresh copy of the stock weight table.
func DefaultConfidenceWeights() map[string]int {
	return map[string]int{
		WeightEmailVerified:  20,
		WeightEmailLikely:    10,
		WeightDecisionMaker:  15,
		WeightWebsiteExists:  10,
		WeightPhoneExists:    10,
		WeightHighValueTier:  10,
		WeightHasNewsSignal:  10,
		WeightAccountEngaged: 10,
		WeightHasOpens:       5,
		WeightRecentActivity: 10,
	}
}

type Discovery struct {
	DailyCap         int           `yaml:"daily_cap"`
	PerDomainPerHour int           `yaml:"per_domain_per_hour"`
	BatchSize        int           `yaml:"batch_size"`
	Workers          int           `yaml:"workers"`
	DNSTimeout       time.Duration `yaml:"dns_timeout"`
	HTTPTimeout      time.Duration `yaml:"http_timeout"`
	SMTPTimeout      time.Duration `yaml:"smtp_timeout"`
	HeloDomain       string        `yaml:"helo_domain"`
	MailFrom         string        `yaml:"mail_from"`
	UserAgent        string        `yaml:"user_agent"`
	CacheSize        int           `yaml:"cache_size"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
	Search           Search        `yaml:"search"`
	Finder           Finder        `yaml:"finder"`
}

type Search struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Results int    `yaml:"results"`
}

// Finder configures the paid person-finder lookup.
type Finder struct {
	Enabled        bool     `yaml:"enabled"`
	APIKeyEnv      string   `yaml:"api_key_env"`
	BaseURL        string   `yaml:"base_url"`
	VerifiedScore  int      `yaml:"verified_score"`
	LikelyScore    int      `yaml:"likely_score"`
	SpecialSources []string `yaml:"special_sources"`
}

type Signals struct {
	Feeds        []Feed        `yaml:"feeds"`
	Keywords     []string      `yaml:"keywords"`
	MaxPerFeed   int           `yaml:"max_per_feed"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

type Feed struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type LLM struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	OllamaURL   string `yaml:"ollama_url"`
	OpenAIModel string `yaml:"openai_model"`
	APIKeyEnv   string `yaml:"api_key_env"`
	MaxTokens   int    `yaml:"max_tokens"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for outreach.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "outreach")
}

// DataDir returns the XDG data directory for outreach.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "outreach")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/outreach/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'outreach init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the configuration with every default applied and no file.
func Default() *Config {
	cfg, err := parse(nil)
	if err != nil {
		panic(err)
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Account: Account{
			RevisitNoReplyDays:  90,
			RevisitNegativeDays: 180,
			NoReplyTouches:      3,
		},
		Discovery: Discovery{
			DailyCap:         200,
			PerDomainPerHour: 3,
			BatchSize:        60,
			Workers:          4,
			DNSTimeout:       5 * time.Second,
			HTTPTimeout:      8 * time.Second,
			SMTPTimeout:      5 * time.Second,
			HeloDomain:       "localhost",
			MailFrom:         "verify@localhost",
			UserAgent:        "Mozilla/5.0 (compatible; outreach/1.0)",
			CacheSize:        512,
			CacheTTL:         6 * time.Hour,
			Search: Search{
				URL:     "https://html.duckduckgo.com/html/",
				Results: 5,
			},
			Finder: Finder{
				APIKeyEnv:      "HUNTER_API_KEY",
				BaseURL:        "https://api.hunter.io/v2/email-finder",
				VerifiedScore:  90,
				LikelyScore:    50,
				SpecialSources: []string{"field_intel"},
			},
		},
		Signals: Signals{
			MaxPerFeed:   20,
			FetchTimeout: 15 * time.Second,
		},
		LLM: LLM{
			Provider:    "ollama",
			Model:       "qwen2.5:7b",
			OllamaURL:   "http://localhost:11434",
			OpenAIModel: "gpt-4o-mini",
			APIKeyEnv:   "OPENAI_API_KEY",
			MaxTokens:   64,
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Missing weight keys keep their stock values.
	weights := DefaultConfidenceWeights()
	for k, v := range cfg.Account.ConfidenceWeights {
		weights[k] = v
	}
	unknown := unknownWeightKeys(cfg.Account.ConfidenceWeights)
	cfg.Account.ConfidenceWeights = weights

	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown confidence weight(s): %s", strings.Join(unknown, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks operator-tunable values for nonsense.
func (c *Config) Validate() error {
	for k, v := range c.Account.ConfidenceWeights {
		if v < 0 {
			return fmt.Errorf("confidence weight %s must not be negative (got %d)", k, v)
		}
	}
	if c.Account.RevisitNoReplyDays <= 0 {
		return fmt.Errorf("account.revisit_no_reply_days must be positive")
	}
	if c.Account.RevisitNegativeDays <= 0 {
		return fmt.Errorf("account.revisit_negative_days must be positive")
	}
	if c.Account.NoReplyTouches <= 0 {
		return fmt.Errorf("account.no_reply_touches must be positive")
	}
	if c.Discovery.DailyCap < 0 || c.Discovery.PerDomainPerHour < 0 {
		return fmt.Errorf("discovery caps must not be negative")
	}
	if c.Discovery.Workers <= 0 {
		return fmt.Errorf("discovery.workers must be positive")
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func unknownWeightKeys(weights map[string]int) []string {
	known := DefaultConfidenceWeights()
	var unknown []string
	for k := range weights {
		if _, ok := known[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	return unknown
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
