// Package generate provides the text generation contract and a remote HTTP
// adapter. The language model is a black box behind the Generator interface.
package generate

import "context"

// Generator produces a text completion for a prompt. maxTokens caps the
// output length; implementations must respect ctx deadlines.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	Close() error
}
