package chunker

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding matches the GPT-3 era BPE used for budgeting statement chunks.
const DefaultEncoding = "r50k_base"

var loaderOnce sync.Once

// Tiktoken is a BPE tokenizer backed by embedded encoding tables.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding from the embedded tables; no network
// access is needed.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}

	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("NewTiktoken: loading encoding %q: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

// Encode implements Tokenizer. Special-token markers occurring in statement
// text are encoded as-is so they survive the round trip.
func (t *Tiktoken) Encode(text string) []int {
	return t.enc.Encode(text, []string{"all"}, nil)
}

// Decode implements Tokenizer.
func (t *Tiktoken) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

var _ Tokenizer = (*Tiktoken)(nil)
