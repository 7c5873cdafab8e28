package generate

import "context"

// MockGenerator is a test generator that records prompts and returns canned
// output or a fixed error.
type MockGenerator struct {
	Output  string
	Err     error
	Prompts []string
}

// Generate records the prompt and returns the configured output or error.
func (m *MockGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	m.Prompts = append(m.Prompts, prompt)
	if m.Err != nil {
		return "", m.Err
	}
	return m.Output, nil
}

// Close is a no-op.
func (m *MockGenerator) Close() error {
	return nil
}
