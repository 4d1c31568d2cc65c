// Package core assembles the anonymization pipeline: pre-normalization,
// regex recognition, neural span prediction, resolution, optional semantic
// enrichment, tagging, output validation, and authenticated encryption of
// the PII map. The Anonymizer is created once, initializes lazily, and is
// safe for concurrent anonymize calls after initialization.
package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/rehydra-ai/rehydra-go/core/ner"
	"github.com/rehydra-ai/rehydra-go/core/pii"
	"github.com/rehydra-ai/rehydra-go/core/piicrypto"
	"github.com/rehydra-ai/rehydra-go/core/policy"
	"github.com/rehydra-ai/rehydra-go/core/recognizers"
	"github.com/rehydra-ai/rehydra-go/core/rehydrate"
	"github.com/rehydra-ai/rehydra-go/core/resolve"
	"github.com/rehydra-ai/rehydra-go/core/semantic"
	"github.com/rehydra-ai/rehydra-go/core/tag"
	"github.com/rehydra-ai/rehydra-go/core/textspan"
	"github.com/rehydra-ai/rehydra-go/core/title"
	"github.com/rehydra-ai/rehydra-go/core/tokenizer"
	"github.com/rehydra-ai/rehydra-go/fetch"
)

// Stats summarizes one anonymize call.
type Stats struct {
	CountsByType     map[pii.Type]int
	TotalEntities    int
	ProcessingTimeMs float64
	ModelVersion     string
	PolicyVersion    string
	LeakScanPassed   bool
}

// Result is the caller-visible outcome of one anonymize call. Entities
// carry no original text; the encrypted map is the only handle to it.
type Result struct {
	AnonymizedText string
	Entities       []pii.DetectedEntity
	PIIMap         *piicrypto.EncryptedMap
	Stats          Stats
}

// Options adjust a single anonymize call.
type Options struct {
	// Locale is a BCP-47 hint for locale-sensitive gender lookup.
	Locale string
	// PolicyPatch deep-merges over the instance default policy.
	PolicyPatch *policy.Patch
}

// Anonymizer is the pipeline orchestrator.
type Anonymizer struct {
	cfg         *Config
	registry    *recognizers.Registry
	keyProvider piicrypto.KeyProvider
	basePolicy  *policy.Policy
	logger      *slog.Logger
	logitSource ner.LogitSource
	fetcher     *fetch.Client

	mu          sync.Mutex
	initialized bool
	backend     ner.Backend
	titles      *title.Extractor
	enricher    *semantic.Enricher
}

// AnonymizerOption is a functional option for New.
type AnonymizerOption func(*Anonymizer)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) AnonymizerOption {
	return func(a *Anonymizer) { a.logger = l }
}

// WithKeyProvider overrides the key provider derived from configuration.
func WithKeyProvider(kp piicrypto.KeyProvider) AnonymizerOption {
	return func(a *Anonymizer) { a.keyProvider = kp }
}

// WithLogitSource injects the inference engine for the local NER backend.
// The pipeline never links an engine itself; local standard/quantized/custom
// modes require this option.
func WithLogitSource(src ner.LogitSource) AnonymizerOption {
	return func(a *Anonymizer) { a.logitSource = src }
}

// WithFetcher overrides the download client used for auxiliary data.
func WithFetcher(f *fetch.Client) AnonymizerOption {
	return func(a *Anonymizer) { a.fetcher = f }
}

// New builds an Anonymizer from configuration: compiles the recognizer
// registry (built-ins plus custom patterns), resolves the key provider, and
// derives the instance default policy with the configured threshold
// overrides and the semantic-masking flag. Model and data loading is
// deferred to Initialize.
func New(cfg *Config, opts ...AnonymizerOption) (*Anonymizer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	a := &Anonymizer{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.fetcher == nil {
		a.fetcher = fetch.NewClient()
	}

	registry := recognizers.NewRegistry()
	for t, patterns := range cfg.CustomPatterns {
		rec, err := recognizers.NewCustomRecognizer(t, patterns, 0)
		if err != nil {
			return nil, &ConfigError{Field: "custom_patterns", Reason: err.Error()}
		}
		registry.Register(rec)
	}
	a.registry = registry

	if a.keyProvider == nil {
		kp, err := keyProviderFor(cfg.Crypto)
		if err != nil {
			return nil, err
		}
		a.keyProvider = kp
	}

	base, err := basePolicyFor(cfg)
	if err != nil {
		return nil, err
	}
	a.basePolicy = base

	return a, nil
}

func keyProviderFor(c CryptoSettings) (piicrypto.KeyProvider, error) {
	switch c.KeySource {
	case "", KeySourceRandom:
		return &piicrypto.RandomKeyProvider{}, nil
	case KeySourcePassphrase:
		salt, err := base64.StdEncoding.DecodeString(c.Salt)
		if err != nil {
			return nil, &ConfigError{Field: "crypto.salt", Reason: "not valid base64"}
		}
		return &piicrypto.PassphraseKeyProvider{Passphrase: c.Passphrase, Salt: salt}, nil
	case KeySourceStatic:
		key, err := base64.StdEncoding.DecodeString(c.Key)
		if err != nil {
			return nil, &ConfigError{Field: "crypto.key", Reason: "not valid base64"}
		}
		if err := piicrypto.ValidateKey(key); err != nil {
			return nil, &ConfigError{Field: "crypto.key", Reason: err.Error()}
		}
		return piicrypto.StaticKeyProvider{K: key}, nil
	}
	return nil, &ConfigError{Field: "crypto.key_source", Reason: "unknown source"}
}

// basePolicyFor merges the configured policy overrides and NER thresholds
// over the built-in default.
func basePolicyFor(cfg *Config) (*policy.Policy, error) {
	patch := &policy.Patch{
		EnabledTypes:           cfg.Policy.EnabledTypes,
		ConfidenceThresholds:   map[pii.Type]float64{},
		TypePriority:           cfg.Policy.TypePriority,
		AllowlistTerms:         cfg.Policy.Allowlist,
		ReuseIDsForRepeatedPII: cfg.Policy.ReuseIDs,
		EnableLeakScan:         cfg.Policy.LeakScan,
		RegexPriority:          cfg.Policy.RegexPriority,
		OverlapStrategy:        policy.OverlapStrategy(cfg.Policy.Overlap),
	}
	for t, v := range cfg.Policy.Thresholds {
		patch.ConfidenceThresholds[t] = v
	}
	for t, v := range cfg.NER.ConfidenceThresholds {
		patch.ConfidenceThresholds[t] = v
	}
	if len(cfg.Policy.Denylist) > 0 {
		deny, err := policy.CompileDenylist(cfg.Policy.Denylist)
		if err != nil {
			return nil, &ConfigError{Field: "policy.denylist", Reason: err.Error()}
		}
		patch.DenylistPatterns = deny
	}
	semanticOn := cfg.Semantic.Enabled
	patch.EnableSemanticMasking = &semanticOn

	return policy.Merge(policy.Default(), patch), nil
}

// Initialize brings up the NER backend and, when semantic masking is
// enabled, makes sure the auxiliary data is cached and loaded. Calling it on
// an initialized instance is a no-op; Anonymize calls it implicitly.
func (a *Anonymizer) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initializeLocked(ctx)
}

func (a *Anonymizer) initializeLocked(ctx context.Context) error {
	if a.initialized {
		return nil
	}

	backend, err := a.selectBackend(ctx)
	if err != nil {
		return err
	}

	a.titles = title.NewExtractor()

	if a.cfg.Semantic.Enabled {
		enricher, err := a.loadSemanticData(ctx)
		if err != nil {
			backend.Close()
			return err
		}
		a.enricher = enricher
	}

	a.backend = backend
	a.initialized = true
	a.logger.Debug("anonymizer initialized", "ner_mode", a.cfg.NER.Mode, "semantic", a.cfg.Semantic.Enabled)
	return nil
}

func (a *Anonymizer) selectBackend(ctx context.Context) (ner.Backend, error) {
	if a.cfg.NER.Mode == NERModeDisabled || a.cfg.NER.Mode == "" {
		return ner.Stub{}, nil
	}

	if a.cfg.NER.Backend == NERBackendRemote {
		opts := []ner.RemoteOption{
			ner.WithTimeout(a.cfg.NER.timeout()),
			ner.WithLogger(a.logger),
		}
		if a.cfg.NER.VocabPath != "" {
			tok, labels, err := a.loadTokenizer()
			if err != nil {
				return nil, err
			}
			opts = append(opts, ner.WithTokenizer(tok, labels))
		}
		return ner.NewRemote(ctx, a.cfg.NER.RemoteURL, opts...)
	}

	if a.logitSource == nil {
		return nil, &ConfigError{Field: "ner.backend", Reason: "local backend requires a logit source (WithLogitSource)"}
	}
	if a.cfg.NER.VocabPath == "" {
		return nil, &ConfigError{Field: "ner.vocab_path", Reason: "required for the local backend"}
	}
	tok, labels, err := a.loadTokenizer()
	if err != nil {
		return nil, err
	}
	return ner.NewLocal(a.logitSource, tok, labels, a.cfg.NER.Mode), nil
}

func (a *Anonymizer) loadTokenizer() (*tokenizer.Tokenizer, []string, error) {
	vocab, err := tokenizer.LoadVocab(a.cfg.NER.VocabPath)
	if err != nil {
		return nil, nil, &ner.ModelLoadError{Reason: "loading vocabulary", Err: err}
	}
	var labels []string
	if a.cfg.NER.LabelMapPath != "" {
		labels, err = ner.LoadLabelMap(a.cfg.NER.LabelMapPath)
		if err != nil {
			return nil, nil, &ner.ModelLoadError{Reason: "loading label map", Err: err}
		}
	}
	return tokenizer.New(vocab, a.cfg.NER.MaxLength), labels, nil
}

// DefaultDataSources maps the auxiliary data file names to their public
// download locations.
var DefaultDataSources = map[string]string{
	semantic.NamDictFile:     "https://data.rehydra.ai/semantic/nam_dict.txt",
	semantic.CitiesFile:      "https://data.rehydra.ai/semantic/cities15000.txt",
	semantic.CountryInfoFile: "https://data.rehydra.ai/semantic/countryInfo.txt",
	semantic.Admin1File:      "https://data.rehydra.ai/semantic/admin1CodesASCII.txt",
}

func (a *Anonymizer) loadSemanticData(ctx context.Context) (*semantic.Enricher, error) {
	dir := a.cfg.Semantic.DataDir
	if dir == "" {
		root, err := fetch.CacheRoot(a.cfg.App)
		if err != nil {
			return nil, err
		}
		dir = fetch.SemanticDataDir(root)
	}

	if a.cfg.Semantic.AutoDownload {
		files := make(map[string]string, len(DefaultDataSources))
		for name, url := range DefaultDataSources {
			files[url] = filepath.Join(dir, name)
		}
		if err := a.fetcher.EnsureAll(ctx, files); err != nil {
			return nil, &ner.ModelLoadError{Reason: "downloading semantic data", Err: err}
		}
	}

	db, err := semantic.Load(dir)
	if err != nil {
		return nil, err
	}
	return semantic.NewEnricher(db), nil
}

// Close releases model resources. The instance re-initializes on next use.
func (a *Anonymizer) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return nil
	}
	err := a.backend.Close()
	a.backend = nil
	a.enricher = nil
	a.initialized = false
	return err
}

// Anonymize runs the full pipeline over one text.
func (a *Anonymizer) Anonymize(ctx context.Context, text string, opts Options) (*Result, error) {
	result, _, err := a.AnonymizeWithMap(ctx, text, opts, nil)
	return result, err
}

// AnonymizeWithMap is Anonymize with session hooks: existing seeds id
// allocation from a prior raw map, and the call's raw map is returned
// alongside the result for the session layer to merge and re-store.
func (a *Anonymizer) AnonymizeWithMap(ctx context.Context, text string, opts Options, existing *pii.RawMap) (*Result, *pii.RawMap, error) {
	a.mu.Lock()
	if err := a.initializeLocked(ctx); err != nil {
		a.mu.Unlock()
		return nil, nil, err
	}
	backend, enricher, titles := a.backend, a.enricher, a.titles
	a.mu.Unlock()

	start := time.Now()
	p := policy.Merge(a.basePolicy, opts.PolicyPatch)

	normalized, _ := textspan.Normalize(text, textspan.Options{})
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	regexMatches := a.registry.FindAll(normalized, p)
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	pred, err := backend.Predict(ctx, normalized, p)
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	spans := resolve.Resolve(regexMatches, pred.Spans, p, normalized)

	if p.EnableSemanticMasking {
		spans = titles.MergeAdjacentTitleSpans(spans, normalized, 0)
		spans = titles.ExtractTitlesFromSpans(spans, normalized)
		if enricher != nil {
			spans = enricher.Enrich(spans, semantic.Options{Locale: firstNonEmpty(opts.Locale, a.cfg.Locale)})
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	tagged := tag.Apply(normalized, spans, p, existing)

	validation := tag.Validate(tagged.AnonymizedText, tagged.Entities, tagged.Map.Keys(), p, a.registry)
	for _, verr := range validation.Errors {
		a.logger.Warn("output validation", "code", verr.Code)
	}

	key, err := a.keyProvider.Key()
	if err != nil {
		return nil, nil, err
	}
	encrypted, err := piicrypto.Encrypt(tagged.Map, key)
	if err != nil {
		return nil, nil, err
	}

	result := &Result{
		AnonymizedText: tagged.AnonymizedText,
		Entities:       tagged.Entities,
		PIIMap:         encrypted,
		Stats: Stats{
			CountsByType:     pii.CountByType(tagged.Entities),
			TotalEntities:    len(tagged.Entities),
			ProcessingTimeMs: float64(time.Since(start).Microseconds()) / 1000,
			ModelVersion:     pred.ModelVersion,
			PolicyVersion:    p.Version,
			LeakScanPassed:   validation.LeakScanPassed,
		},
	}
	return result, tagged.Map, nil
}

// Rehydrate decrypts the map and reverses the tags in anonymizedText.
// strict=true only reverses canonical tags; the default tolerant mode also
// survives translator-mangled tags.
func (a *Anonymizer) Rehydrate(anonymizedText string, encrypted *piicrypto.EncryptedMap, strict bool) (string, error) {
	key, err := a.keyProvider.Key()
	if err != nil {
		return "", err
	}
	rawMap, err := piicrypto.Decrypt(encrypted, key)
	if err != nil {
		return "", fmt.Errorf("decrypting PII map: %w", err)
	}
	return rehydrate.Rehydrate(anonymizedText, rawMap, strict), nil
}

// KeyProvider exposes the active key provider for the session layer.
func (a *Anonymizer) KeyProvider() piicrypto.KeyProvider { return a.keyProvider }

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
