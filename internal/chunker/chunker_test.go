package chunker

import (
	"errors"
	"strings"
	"testing"
)

// byteTokenizer treats every byte as one token, which makes budgets easy to
// reason about and exercises splits inside multi-byte runes.
type byteTokenizer struct{}

func (byteTokenizer) Encode(text string) []int {
	tokens := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		tokens[i] = int(text[i])
	}
	return tokens
}

func (byteTokenizer) Decode(tokens []int) string {
	b := make([]byte, len(tokens))
	for i, t := range tokens {
		b[i] = byte(t)
	}
	return string(b)
}

func joinChunks(chunks []Chunk) string {
	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(c.Text)
	}
	return sb.String()
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		maxTokens  int
		wantChunks int
	}{
		{"empty text", "", 10, 0},
		{"shorter than budget", "01/02 COFFEE -3.50", 100, 1},
		{"exactly budget", "abcdefghij", 10, 1},
		{"one over budget", "abcdefghijk", 10, 2},
		{"many chunks", strings.Repeat("x", 95), 10, 10},
		{"multi-byte runes split", strings.Repeat("€", 7), 4, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := Split(byteTokenizer{}, "Jan 2024", tt.text, tt.maxTokens)
			if err != nil {
				t.Fatalf("Split failed: %v", err)
			}
			if len(chunks) != tt.wantChunks {
				t.Fatalf("got %d chunks, want %d", len(chunks), tt.wantChunks)
			}
			if got := joinChunks(chunks); got != tt.text {
				t.Errorf("round trip mismatch: got %q, want %q", got, tt.text)
			}
			for i, c := range chunks {
				if c.Index != i {
					t.Errorf("chunk %d has index %d", i, c.Index)
				}
				if c.Period != "Jan 2024" {
					t.Errorf("chunk %d has period %q", i, c.Period)
				}
				if c.Tokens > tt.maxTokens || c.Tokens == 0 {
					t.Errorf("chunk %d has %d tokens, budget %d", i, c.Tokens, tt.maxTokens)
				}
			}
		})
	}
}

func TestSplit_InvalidBudget(t *testing.T) {
	for _, budget := range []int{0, -5} {
		_, err := Split(byteTokenizer{}, "p", "text", budget)
		if !errors.Is(err, ErrInvalidBudget) {
			t.Errorf("budget %d: expected ErrInvalidBudget, got %v", budget, err)
		}
	}
}

func TestSplit_Tiktoken(t *testing.T) {
	tok, err := NewTiktoken(DefaultEncoding)
	if err != nil {
		t.Fatalf("NewTiktoken failed: %v", err)
	}

	statement := strings.Repeat("2024-01-03  CARD PAYMENT TO TESCO STORES 3341   -42.17   1,204.88\n", 40) +
		"Closing balance £1,162.71 — thank you for banking with us.\n"

	for _, budget := range []int{1, 7, 64, 4000} {
		chunks, err := Split(tok, "January 2024", statement, budget)
		if err != nil {
			t.Fatalf("budget %d: Split failed: %v", budget, err)
		}
		if got := joinChunks(chunks); got != statement {
			t.Fatalf("budget %d: round trip mismatch", budget)
		}
		total := 0
		for _, c := range chunks {
			if c.Tokens > budget {
				t.Errorf("budget %d: chunk %d has %d tokens", budget, c.Index, c.Tokens)
			}
			total += c.Tokens
		}
		if total != Count(tok, statement) {
			t.Errorf("budget %d: chunk tokens sum to %d, want %d", budget, total, Count(tok, statement))
		}
	}
}

func TestCount(t *testing.T) {
	if Count(byteTokenizer{}, "") != 0 {
		t.Error("empty text should count as zero tokens")
	}
	if got := Count(byteTokenizer{}, "abc"); got != 3 {
		t.Errorf("Count = %d, want 3", got)
	}
}
