package ner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rehydra-ai/rehydra-go/core/pii"
	"github.com/rehydra-ai/rehydra-go/core/policy"
	"github.com/rehydra-ai/rehydra-go/core/tokenizer"
)

func healthyServer(t *testing.T, predict http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"model_loaded": true, "provider": "onnx"})
	})
	mux.HandleFunc("/predict", predict)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewRemote_HealthFailure(t *testing.T) {
	t.Run("unreachable", func(t *testing.T) {
		_, err := NewRemote(context.Background(), "http://127.0.0.1:1")
		var loadErr *ModelLoadError
		if !errors.As(err, &loadErr) {
			t.Fatalf("expected ModelLoadError, got %v", err)
		}
	})

	t.Run("model not loaded", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"model_loaded": false})
		}))
		defer srv.Close()

		_, err := NewRemote(context.Background(), srv.URL)
		var loadErr *ModelLoadError
		if !errors.As(err, &loadErr) {
			t.Fatalf("expected ModelLoadError, got %v", err)
		}
	})

	t.Run("empty url", func(t *testing.T) {
		_, err := NewRemote(context.Background(), "")
		var loadErr *ModelLoadError
		if !errors.As(err, &loadErr) {
			t.Fatalf("expected ModelLoadError, got %v", err)
		}
	})
}

func TestRemote_Predict_Entities(t *testing.T) {
	srv := healthyServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req predictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"entities": []map[string]any{
				{"type": "PER", "start": 0, "end": 10, "confidence": 0.93, "text": "John Smith"},
				{"type": "LOC", "start": 20, "end": 26, "confidence": 0.88, "text": "Berlin"},
				{"type": "DATE", "start": 30, "end": 34, "confidence": 0.9, "text": "2024"}, // unknown type dropped
			},
		})
	})

	backend, err := NewRemote(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}

	text := "John Smith lives in Berlin in 2024"
	pred, err := backend.Predict(context.Background(), text, policy.Default())
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(pred.Spans) != 2 {
		t.Fatalf("expected 2 spans, got %+v", pred.Spans)
	}
	if pred.Spans[0].Type != pii.TypePerson || pred.Spans[0].Text != "John Smith" {
		t.Fatalf("unexpected span %+v", pred.Spans[0])
	}
	if pred.Spans[1].Type != pii.TypeLocation {
		t.Fatalf("unexpected span %+v", pred.Spans[1])
	}
	if pred.ModelVersion != "remote:onnx" {
		t.Fatalf("model version = %q", pred.ModelVersion)
	}
}

func TestRemote_Predict_Logits(t *testing.T) {
	n := len(DefaultLabels)
	rows := [][]float64{
		oneHot(n, 0),
		oneHot(n, labelIndex(t, "B-PER")),
		oneHot(n, labelIndex(t, "I-PER")),
		oneHot(n, 0),
	}
	srv := healthyServer(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"logits": rows, "seq_length": len(rows)})
	})

	v, err := tokenizer.NewVocab([]string{"<s>", "</s>", "<unk>", "▁John", "▁Smith"})
	if err != nil {
		t.Fatal(err)
	}
	backend, err := NewRemote(context.Background(), srv.URL,
		WithTokenizer(tokenizer.New(v, 0), nil))
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}

	pred, err := backend.Predict(context.Background(), "John Smith", policy.Default())
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(pred.Spans) != 1 || pred.Spans[0].Text != "John Smith" {
		t.Fatalf("unexpected spans %+v", pred.Spans)
	}
}

func TestRemote_Predict_LogitsWithoutTokenizer(t *testing.T) {
	srv := healthyServer(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"logits": [][]float64{{1}}})
	})
	backend, err := NewRemote(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	_, err = backend.Predict(context.Background(), "x", policy.Default())
	var infErr *InferenceError
	if !errors.As(err, &infErr) {
		t.Fatalf("expected InferenceError, got %v", err)
	}
}

func TestRemote_Predict_EmptyResponse(t *testing.T) {
	srv := healthyServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("{}"))
	})
	backend, err := NewRemote(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	_, err = backend.Predict(context.Background(), "x", policy.Default())
	var infErr *InferenceError
	if !errors.As(err, &infErr) {
		t.Fatalf("expected InferenceError, got %v", err)
	}
}

func TestLoadLabelMap(t *testing.T) {
	t.Run("array form", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "labels.json")
		os.WriteFile(path, []byte(`["O","B-PER","I-PER"]`), 0o644)
		labels, err := LoadLabelMap(path)
		if err != nil {
			t.Fatalf("LoadLabelMap: %v", err)
		}
		if len(labels) != 3 || labels[1] != "B-PER" {
			t.Fatalf("labels = %v", labels)
		}
	})

	t.Run("id2label form", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "labels.json")
		os.WriteFile(path, []byte(`{"0":"O","2":"I-PER","1":"B-PER"}`), 0o644)
		labels, err := LoadLabelMap(path)
		if err != nil {
			t.Fatalf("LoadLabelMap: %v", err)
		}
		if len(labels) != 3 || labels[2] != "I-PER" {
			t.Fatalf("labels = %v", labels)
		}
	})

	t.Run("index gap", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "labels.json")
		os.WriteFile(path, []byte(`{"0":"O","5":"B-PER"}`), 0o644)
		if _, err := LoadLabelMap(path); err == nil {
			t.Fatal("expected index-gap error")
		}
	})
}
