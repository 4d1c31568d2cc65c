package ner

import (
	"context"
	"time"

	"github.com/rehydra-ai/rehydra-go/core/pii"
	"github.com/rehydra-ai/rehydra-go/core/policy"
	"github.com/rehydra-ai/rehydra-go/core/tokenizer"
)

// Prediction is the uniform result of one NER pass over a text.
type Prediction struct {
	Spans            []pii.SpanMatch
	ProcessingTimeMs float64
	ModelVersion     string
}

// Backend is the uniform predict interface over local inference, remote
// inference, and the disabled stub. Implementations must be safe for
// concurrent use after construction. Span offsets are byte offsets into the
// normalized text handed to Predict.
type Backend interface {
	Predict(ctx context.Context, text string, p *policy.Policy) (*Prediction, error)
	Close() error
}

// Stub is the Backend used when NER is disabled: it returns no spans.
type Stub struct{}

// Predict returns an empty prediction.
func (Stub) Predict(_ context.Context, _ string, _ *policy.Policy) (*Prediction, error) {
	return &Prediction{ModelVersion: "disabled"}, nil
}

// Close is a no-op.
func (Stub) Close() error { return nil }

// LogitSource produces per-token logit rows for encoded input. The ONNX
// runtime binding (or any other engine) satisfies this interface; the
// pipeline itself never links an inference engine.
type LogitSource interface {
	// Run returns one row of label logits per input token position.
	Run(ctx context.Context, inputIDs, attentionMask, tokenTypeIDs []int) ([][]float64, error)
	Close() error
}

// Local runs the full tokenize → infer → BIO-decode pipeline against a
// LogitSource.
type Local struct {
	source    LogitSource
	tokenizer *tokenizer.Tokenizer
	decoder   *Decoder
	version   string
}

// NewLocal assembles a local backend. Empty labels select DefaultLabels;
// version identifies the loaded model in stats.
func NewLocal(source LogitSource, tok *tokenizer.Tokenizer, labels []string, version string) *Local {
	return &Local{
		source:    source,
		tokenizer: tok,
		decoder:   NewDecoder(labels),
		version:   version,
	}
}

// Predict encodes text, runs the logit source, and BIO-decodes the result.
func (l *Local) Predict(ctx context.Context, text string, p *policy.Policy) (*Prediction, error) {
	start := time.Now()

	enc := l.tokenizer.Encode(text)
	logits, err := l.source.Run(ctx, enc.InputIDs, enc.AttentionMask, enc.TokenTypeIDs)
	if err != nil {
		return nil, &InferenceError{Reason: "logit source", Err: err}
	}
	if len(logits) < enc.Len() {
		return nil, &InferenceError{Reason: "logit row count short of token count"}
	}

	spans := l.decoder.Decode(enc, logits, text, p)
	return &Prediction{
		Spans:            spans,
		ProcessingTimeMs: float64(time.Since(start).Microseconds()) / 1000,
		ModelVersion:     l.version,
	}, nil
}

// Close releases the logit source.
func (l *Local) Close() error { return l.source.Close() }
