// Package tokenizer implements greedy longest-match subword tokenization with
// character offsets, compatible with both sentencepiece-style vocabularies
// (word-initial pieces carry the ▁ marker) and wordpiece-style ones.
// The encoder produces the input tensors a token-classification model expects
// plus the token-to-character spans the BIO decoder needs to reconstruct
// entity boundaries in the source text.
package tokenizer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

// WordInitialMarker is the sentencepiece marker prepended to pieces that
// start a whitespace-bounded word.
const WordInitialMarker = "▁"

// candidate special-token spellings, tried in order against the vocabulary.
var (
	clsCandidates = []string{"<s>", "[CLS]"}
	sepCandidates = []string{"</s>", "[SEP]"}
	unkCandidates = []string{"<unk>", "[UNK]"}
)

// Vocab maps token strings to model input ids.
type Vocab struct {
	ids map[string]int

	cls, sep, unk       string
	clsID, sepID, unkID int

	// maxPieceLen bounds the greedy longest-match window.
	maxPieceLen int
}

// NewVocab builds a Vocab from tokens in id order. The special tokens are
// auto-detected from vocabulary presence; a vocabulary without an unknown
// token is rejected.
func NewVocab(tokens []string) (*Vocab, error) {
	v := &Vocab{ids: make(map[string]int, len(tokens))}
	for i, tok := range tokens {
		if _, dup := v.ids[tok]; !dup {
			v.ids[tok] = i
		}
		if n := len(tok); n > v.maxPieceLen {
			v.maxPieceLen = n
		}
	}

	var ok bool
	if v.cls, v.clsID, ok = v.pick(clsCandidates); !ok {
		return nil, fmt.Errorf("vocabulary has no CLS token (tried %v)", clsCandidates)
	}
	if v.sep, v.sepID, ok = v.pick(sepCandidates); !ok {
		return nil, fmt.Errorf("vocabulary has no SEP token (tried %v)", sepCandidates)
	}
	if v.unk, v.unkID, ok = v.pick(unkCandidates); !ok {
		return nil, fmt.Errorf("vocabulary has no unknown token (tried %v)", unkCandidates)
	}
	return v, nil
}

func (v *Vocab) pick(candidates []string) (string, int, bool) {
	for _, c := range candidates {
		if id, ok := v.ids[c]; ok {
			return c, id, true
		}
	}
	return "", 0, false
}

// Lookup returns the id for a token.
func (v *Vocab) Lookup(token string) (int, bool) {
	id, ok := v.ids[token]
	return id, ok
}

// Size returns the number of distinct tokens.
func (v *Vocab) Size() int { return len(v.ids) }

// LoadVocab reads a vocabulary file: either a JSON object mapping token to
// id, or a plain text file with one token per line where the line number is
// the id.
func LoadVocab(path string) (*Vocab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vocabulary %s: %w", path, err)
	}

	trimmed := strings.TrimLeft(string(data), " \t\r\n")
	if strings.HasPrefix(trimmed, "{") {
		var m map[string]int
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parsing vocabulary %s: %w", path, err)
		}
		max := -1
		for _, id := range m {
			if id > max {
				max = id
			}
		}
		tokens := make([]string, max+1)
		for tok, id := range m {
			if id < 0 {
				return nil, fmt.Errorf("vocabulary %s: negative id for %q", path, tok)
			}
			tokens[id] = tok
		}
		return NewVocab(tokens)
	}

	var tokens []string
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		tokens = append(tokens, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading vocabulary %s: %w", path, err)
	}
	return NewVocab(tokens)
}

// Span is a half-open byte range into the encoded text.
type Span struct {
	Start int
	End   int
}

// Encoding is the tokenizer output: aligned slices, one entry per token
// position including the leading CLS and trailing SEP. Spans is nil at
// special-token positions. Continuation is true when the token sits inside
// the same whitespace-bounded word as the previous non-special token.
type Encoding struct {
	Tokens        []string
	InputIDs      []int
	AttentionMask []int
	TokenTypeIDs  []int
	Spans         []*Span
	Continuation  []bool
}

// Len returns the number of token positions.
func (e *Encoding) Len() int { return len(e.Tokens) }

// Tokenizer encodes text against a vocabulary with an optional maximum
// sequence length.
type Tokenizer struct {
	vocab  *Vocab
	maxLen int
}

// DefaultMaxLen caps the encoded sequence length when none is configured.
const DefaultMaxLen = 512

// New creates a Tokenizer. maxLen <= 0 selects DefaultMaxLen.
func New(vocab *Vocab, maxLen int) *Tokenizer {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Tokenizer{vocab: vocab, maxLen: maxLen}
}

// Vocab returns the tokenizer's vocabulary.
func (t *Tokenizer) Vocab() *Vocab { return t.vocab }

// Encode tokenizes text. The scan skips whitespace; at each word-initial
// position it tries the longest vocabulary piece with the word-initial
// marker (falling back to unmarked pieces for wordpiece vocabularies), at
// continuation positions the longest unmarked piece, and finally a
// single-character unknown-token fallback so the scan always advances.
func (t *Tokenizer) Encode(text string) *Encoding {
	e := &Encoding{}
	t.push(e, t.vocab.cls, t.vocab.clsID, nil, false)

	i := 0
	truncated := false
	for i < len(text) && !truncated {
		if isSpace(text[i]) {
			i++
			continue
		}
		wordEnd := i
		for wordEnd < len(text) && !isSpace(text[wordEnd]) {
			wordEnd++
		}

		pos := i
		first := true
		for pos < wordEnd {
			// Reserve one slot for the trailing SEP.
			if e.Len() >= t.maxLen-1 {
				truncated = true
				break
			}
			piece, id, end := t.longestMatch(text, pos, wordEnd, first)
			t.push(e, piece, id, &Span{Start: pos, End: end}, !first)
			pos = end
			first = false
		}
		i = wordEnd
	}

	t.push(e, t.vocab.sep, t.vocab.sepID, nil, false)
	return e
}

// longestMatch returns the longest vocabulary piece starting at pos and
// ending on a rune boundary at or before wordEnd, together with its id and
// end offset. When nothing matches, the single rune at pos maps to the
// unknown token.
func (t *Tokenizer) longestMatch(text string, pos, wordEnd int, wordInitial bool) (string, int, int) {
	limit := wordEnd
	if max := pos + t.vocab.maxPieceLen; max < limit {
		limit = max
	}

	// Collect rune boundaries in (pos, limit].
	var ends []int
	for j := pos; j < limit; {
		_, size := utf8.DecodeRuneInString(text[j:])
		j += size
		ends = append(ends, j)
	}

	for k := len(ends) - 1; k >= 0; k-- {
		sub := text[pos:ends[k]]
		if wordInitial {
			if id, ok := t.vocab.Lookup(WordInitialMarker + sub); ok {
				return WordInitialMarker + sub, id, ends[k]
			}
		}
		if id, ok := t.vocab.Lookup(sub); ok {
			return sub, id, ends[k]
		}
	}

	// Single-character fallback.
	_, size := utf8.DecodeRuneInString(text[pos:])
	return t.vocab.unk, t.vocab.unkID, pos + size
}

func (t *Tokenizer) push(e *Encoding, token string, id int, span *Span, continuation bool) {
	e.Tokens = append(e.Tokens, token)
	e.InputIDs = append(e.InputIDs, id)
	e.AttentionMask = append(e.AttentionMask, 1)
	e.TokenTypeIDs = append(e.TokenTypeIDs, 0)
	e.Spans = append(e.Spans, span)
	e.Continuation = append(e.Continuation, continuation)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}
