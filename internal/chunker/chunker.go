// Package chunker splits statement text into token-bounded chunks.
//
// Budgets are measured in encoded tokens, not characters: statements are dense
// with numerals and punctuation, so character counts badly underestimate cost.
package chunker

import (
	"errors"
	"fmt"
)

// ErrInvalidBudget is returned when the token budget is not positive.
var ErrInvalidBudget = errors.New("chunker: token budget must be positive")

// Tokenizer encodes text into tokens and back.
// Decode(Encode(s)) must reproduce s byte-for-byte.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// Chunk is a bounded slice of one period's token stream.
type Chunk struct {
	Period string `json:"period"`
	Index  int    `json:"index"`
	Text   string `json:"text"`
	Tokens int    `json:"tokens"`
}

// Split encodes text and cuts the token stream every maxTokens tokens.
// Empty text yields no chunks. Concatenating the Text of the returned chunks
// in order reproduces the input exactly.
func Split(tok Tokenizer, period, text string, maxTokens int) ([]Chunk, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("Split: %w (got %d)", ErrInvalidBudget, maxTokens)
	}
	if text == "" {
		return nil, nil
	}

	tokens := tok.Encode(text)
	chunks := make([]Chunk, 0, (len(tokens)+maxTokens-1)/maxTokens)
	for start := 0; start < len(tokens); start += maxTokens {
		end := start + maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, Chunk{
			Period: period,
			Index:  len(chunks),
			Text:   tok.Decode(tokens[start:end]),
			Tokens: end - start,
		})
	}
	return chunks, nil
}

// Count returns the encoded length of text.
func Count(tok Tokenizer, text string) int {
	if text == "" {
		return 0
	}
	return len(tok.Encode(text))
}
