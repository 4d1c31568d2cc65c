package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rehydra-ai/rehydra-go/core/pii"
)

// ConfigFileName is the project-level configuration file.
const ConfigFileName = ".rehydra.yaml"

// NER operating modes.
const (
	NERModeDisabled  = "disabled"
	NERModeStandard  = "standard"
	NERModeQuantized = "quantized"
	NERModeCustom    = "custom"
)

// NER execution backends.
const (
	NERBackendLocal  = "local"
	NERBackendRemote = "remote"
)

// Key sources for map encryption.
const (
	KeySourceRandom     = "random"
	KeySourcePassphrase = "passphrase"
	KeySourceStatic     = "static"
)

// NERSettings selects and parameterizes the neural detection backend.
type NERSettings struct {
	Mode         string `yaml:"mode"`    // disabled, standard, quantized, custom
	Backend      string `yaml:"backend"` // local, remote
	RemoteURL    string `yaml:"remote_url"`
	Timeout      string `yaml:"timeout"` // per-request timeout, e.g. "30s"
	ModelPath    string `yaml:"model_path"`
	VocabPath    string `yaml:"vocab_path"`
	LabelMapPath string `yaml:"label_map_path"`
	MaxLength    int    `yaml:"max_length"`

	// ConfidenceThresholds override the per-type minimums for the neural
	// entity types.
	ConfidenceThresholds map[pii.Type]float64 `yaml:"confidence_thresholds"`
}

// SemanticSettings control gender/scope enrichment and its data cache.
type SemanticSettings struct {
	Enabled      bool   `yaml:"enabled"`
	DataDir      string `yaml:"data_dir"`
	AutoDownload bool   `yaml:"auto_download"`
}

// CryptoSettings select how the map encryption key is obtained.
type CryptoSettings struct {
	KeySource  string `yaml:"key_source"` // random, passphrase, static
	Passphrase string `yaml:"passphrase"`
	Salt       string `yaml:"salt"` // base64
	Key        string `yaml:"key"`  // base64, 32 bytes
}

// PolicySettings are the file-configurable policy overrides; they merge over
// the built-in default policy at construction.
type PolicySettings struct {
	EnabledTypes  []pii.Type           `yaml:"enabled_types"`
	Thresholds    map[pii.Type]float64 `yaml:"confidence_thresholds"`
	TypePriority  []pii.Type           `yaml:"type_priority"`
	Allowlist     []string             `yaml:"allowlist"`
	Denylist      map[string]pii.Type  `yaml:"denylist"` // pattern -> type
	ReuseIDs      *bool                `yaml:"reuse_ids"`
	LeakScan      *bool                `yaml:"leak_scan"`
	RegexPriority *bool                `yaml:"regex_priority"`
	Overlap       string               `yaml:"overlap_strategy"`
}

// Config is the full anonymizer configuration loaded from .rehydra.yaml.
type Config struct {
	App            string                `yaml:"app"` // cache-directory name
	NER            NERSettings           `yaml:"ner"`
	Semantic       SemanticSettings      `yaml:"semantic"`
	Crypto         CryptoSettings        `yaml:"crypto"`
	Policy         PolicySettings        `yaml:"policy"`
	CustomPatterns map[pii.Type][]string `yaml:"custom_patterns"`
	Locale         string                `yaml:"locale"` // BCP-47 hint
}

// DefaultConfig returns the configuration used when no file is present:
// NER disabled, semantic masking off, ephemeral random key.
func DefaultConfig() *Config {
	return &Config{
		App: "rehydra",
		NER: NERSettings{
			Mode:    NERModeDisabled,
			Backend: NERBackendLocal,
			Timeout: "30s",
		},
		Crypto: CryptoSettings{KeySource: KeySourceRandom},
	}
}

// LoadConfig reads .rehydra.yaml from root. A missing file yields the
// default configuration with no error.
func LoadConfig(root string) (*Config, error) {
	path := filepath.Join(root, ConfigFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// timeout parses the NER timeout string, defaulting to 30 seconds.
func (s NERSettings) timeout() time.Duration {
	if s.Timeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// validate applies the construction-time configuration checks.
func (c *Config) validate() error {
	switch c.NER.Mode {
	case "", NERModeDisabled, NERModeStandard, NERModeQuantized:
	case NERModeCustom:
		if c.NER.Backend != NERBackendRemote {
			if c.NER.ModelPath == "" {
				return &ConfigError{Field: "ner.model_path", Reason: "required for custom mode"}
			}
			if c.NER.VocabPath == "" {
				return &ConfigError{Field: "ner.vocab_path", Reason: "required for custom mode"}
			}
		}
	default:
		return &ConfigError{Field: "ner.mode", Reason: fmt.Sprintf("unknown mode %q", c.NER.Mode)}
	}

	if c.NER.Mode != NERModeDisabled && c.NER.Backend == NERBackendRemote && c.NER.RemoteURL == "" {
		return &ConfigError{Field: "ner.remote_url", Reason: "required for the remote backend"}
	}

	switch c.Crypto.KeySource {
	case "", KeySourceRandom:
	case KeySourcePassphrase:
		if c.Crypto.Passphrase == "" {
			return &ConfigError{Field: "crypto.passphrase", Reason: "required for passphrase key source"}
		}
		if c.Crypto.Salt == "" {
			return &ConfigError{Field: "crypto.salt", Reason: "required for passphrase key source"}
		}
	case KeySourceStatic:
		if c.Crypto.Key == "" {
			return &ConfigError{Field: "crypto.key", Reason: "required for static key source"}
		}
	default:
		return &ConfigError{Field: "crypto.key_source", Reason: fmt.Sprintf("unknown source %q", c.Crypto.KeySource)}
	}

	return nil
}
