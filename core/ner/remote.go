package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rehydra-ai/rehydra-go/core/pii"
	"github.com/rehydra-ai/rehydra-go/core/policy"
	"github.com/rehydra-ai/rehydra-go/core/tokenizer"
)

const (
	defaultRemoteTimeout = 30 * time.Second
	maxResponseSize      = 64 * 1024 * 1024 // 64 MB of logits at most
)

// Remote talks to an inference server over HTTP. The server returns either
// raw logits (the BIO pipeline then runs locally, so a tokenizer and label
// set are required) or fully decoded entities (only type mapping and policy
// filtering happen client-side).
type Remote struct {
	baseURL    string
	httpClient *http.Client
	tokenizer  *tokenizer.Tokenizer
	decoder    *Decoder
	logger     *slog.Logger
	version    string
}

// RemoteOption is a functional option for configuring a Remote backend.
type RemoteOption func(*Remote)

// WithTimeout sets the per-request timeout (default 30s).
func WithTimeout(d time.Duration) RemoteOption {
	return func(r *Remote) { r.httpClient.Timeout = d }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) RemoteOption {
	return func(r *Remote) { r.httpClient = hc }
}

// WithTokenizer supplies the tokenizer and label order used to decode
// logit-shaped responses locally. Servers that return decoded entities do
// not need it.
func WithTokenizer(tok *tokenizer.Tokenizer, labels []string) RemoteOption {
	return func(r *Remote) {
		r.tokenizer = tok
		r.decoder = NewDecoder(labels)
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) RemoteOption {
	return func(r *Remote) { r.logger = l }
}

// NewRemote creates a Remote backend for the given server URL and verifies
// the server with a health check. A failed health check is a fatal
// ModelLoadError, surfaced before Predict is ever called.
func NewRemote(ctx context.Context, baseURL string, opts ...RemoteOption) (*Remote, error) {
	if baseURL == "" {
		return nil, &ModelLoadError{Reason: "remote inference URL is empty"}
	}
	r := &Remote{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultRemoteTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	health, err := r.checkHealth(ctx)
	if err != nil {
		return nil, &ModelLoadError{Reason: fmt.Sprintf("remote inference server %s unreachable", r.baseURL), Err: err}
	}
	if !health.ModelLoaded {
		return nil, &ModelLoadError{Reason: fmt.Sprintf("remote inference server %s has no model loaded", r.baseURL)}
	}
	r.version = "remote:" + health.Provider
	r.logger.Debug("remote inference server ready", "url", r.baseURL, "provider", health.Provider)
	return r, nil
}

type healthResponse struct {
	ModelLoaded bool   `json:"model_loaded"`
	Provider    string `json:"provider"`
}

func (r *Remote) checkHealth(ctx context.Context) (*healthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("creating health request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check returned HTTP %d", resp.StatusCode)
	}
	var health healthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&health); err != nil {
		return nil, fmt.Errorf("parsing health response: %w", err)
	}
	return &health, nil
}

type predictRequest struct {
	Text          string  `json:"text"`
	MinConfidence float64 `json:"min_confidence"`
}

type remoteEntity struct {
	Type       string  `json:"type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
	Text       string  `json:"text"`
}

type predictResponse struct {
	Logits    [][]float64    `json:"logits"`
	SeqLength int            `json:"seq_length"`
	Entities  []remoteEntity `json:"entities"`
}

// Predict posts the text to /predict and interprets the response. Logit
// responses run through the local BIO pipeline; entity responses only get
// type mapping and policy filtering.
func (r *Remote) Predict(ctx context.Context, text string, p *policy.Policy) (*Prediction, error) {
	start := time.Now()

	body, err := json.Marshal(predictRequest{
		Text:          text,
		MinConfidence: minNERThreshold(p),
	})
	if err != nil {
		return nil, &InferenceError{Reason: "encoding request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, &InferenceError{Reason: "creating request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, &InferenceError{Reason: "transport", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &InferenceError{Reason: fmt.Sprintf("server returned HTTP %d", resp.StatusCode)}
	}

	var decoded predictResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&decoded); err != nil {
		return nil, &InferenceError{Reason: "parsing response", Err: err}
	}

	var spans []pii.SpanMatch
	switch {
	case decoded.Logits != nil:
		if r.tokenizer == nil || r.decoder == nil {
			return nil, &InferenceError{Reason: "server returned logits but no tokenizer is configured"}
		}
		enc := r.tokenizer.Encode(text)
		if decoded.SeqLength > 0 && decoded.SeqLength != len(decoded.Logits) {
			return nil, &InferenceError{Reason: "seq_length does not match logit rows"}
		}
		if len(decoded.Logits) < enc.Len() {
			return nil, &InferenceError{Reason: "logit row count short of token count"}
		}
		spans = r.decoder.Decode(enc, decoded.Logits, text, p)
	case decoded.Entities != nil:
		spans = mapRemoteEntities(decoded.Entities, text, p)
	default:
		return nil, &InferenceError{Reason: "response carries neither logits nor entities"}
	}

	return &Prediction{
		Spans:            spans,
		ProcessingTimeMs: float64(time.Since(start).Microseconds()) / 1000,
		ModelVersion:     r.version,
	}, nil
}

// mapRemoteEntities converts server-decoded entities to spans: entity-label
// type mapping, offset sanity checks, and the NER policy filter.
func mapRemoteEntities(entities []remoteEntity, text string, p *policy.Policy) []pii.SpanMatch {
	floor := minNERThreshold(p)
	var out []pii.SpanMatch
	for _, e := range entities {
		typ, ok := TypeForEntityLabel(e.Type)
		if !ok {
			// Servers may already emit pipeline type names.
			if t := pii.Type(strings.ToUpper(e.Type)); t.Valid() {
				typ = t
			} else {
				continue
			}
		}
		if e.Start < 0 || e.End > len(text) || e.Start >= e.End {
			continue
		}
		if !p.NEREnabledTypes[typ] || !p.EnabledTypes[typ] || e.Confidence < floor {
			continue
		}
		out = append(out, pii.SpanMatch{
			Type:       typ,
			Start:      e.Start,
			End:        e.End,
			Confidence: e.Confidence,
			Source:     pii.SourceNER,
			Text:       text[e.Start:e.End],
		})
	}
	return out
}

// Close is a no-op; the HTTP client holds no per-instance resources.
func (r *Remote) Close() error { return nil }
