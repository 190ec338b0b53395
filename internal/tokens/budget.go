// Package tokens limits query length by BPE token count.
package tokens

import (
	"errors"
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// ErrQueryTooLong is returned by Check when a query exceeds the budget.
var ErrQueryTooLong = errors.New("query too long")

// Budget rejects queries above a token limit. A nil *Budget accepts
// everything.
type Budget struct {
	tokenizer *tiktoken.Tiktoken
	max       int
}

// New returns a budget of limit tokens counted with the tokenizer for model.
// A limit of zero or less disables the check and returns nil.
func New(model string, limit int) (*Budget, error) {
	if limit <= 0 {
		return nil, nil
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Budget{tokenizer: enc, max: limit}, nil
}

// Count returns the number of tokens in text.
func (b *Budget) Count(text string) int {
	if b == nil {
		return 0
	}
	return len(b.tokenizer.Encode(text, nil, nil))
}

// Max returns the limit, or zero when disabled.
func (b *Budget) Max() int {
	if b == nil {
		return 0
	}
	return b.max
}

// Check returns an error wrapping ErrQueryTooLong if text is over budget.
func (b *Budget) Check(text string) error {
	if b == nil {
		return nil
	}
	if n := b.Count(text); n > b.max {
		return fmt.Errorf("%w: %d tokens, limit is %d", ErrQueryTooLong, n, b.max)
	}
	return nil
}
