package persona

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const promptEncoding = "cl100k_base"

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// CountTokens estimates how many prompt tokens text costs. tiktoken may need
// to fetch its BPE table on first use; when that fails the len/4 heuristic
// is used instead.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(promptEncoding)
		if err == nil {
			encoder = enc
		}
	})
	if encoder == nil {
		return estimateTokens(text)
	}
	return len(encoder.Encode(text, nil, nil))
}

func estimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 {
		return 1
	}
	return n
}
