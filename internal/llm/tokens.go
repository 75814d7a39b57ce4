package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// TokenCounter estimates prompt size with the cl100k_base encoding.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

var (
	defaultCounter     *TokenCounter
	defaultCounterOnce sync.Once
	defaultCounterErr  error
)

func DefaultTokenCounter() (*TokenCounter, error) {
	defaultCounterOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			defaultCounterErr = err
			return
		}
		defaultCounter = &TokenCounter{encoding: enc}
	})
	if defaultCounterErr != nil {
		return nil, defaultCounterErr
	}
	return defaultCounter, nil
}

func (c *TokenCounter) Count(text string) int {
	if c == nil || text == "" {
		return 0
	}
	return len(c.encoding.Encode(text, nil, nil))
}
