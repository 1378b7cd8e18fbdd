package llmclient

import "context"

// Fake is an in-memory Client used by tests across the layers,
// classification, extraction, and optimizer packages.
type Fake struct {
	Response string
	Err      error
	Calls    int
}

func (f *Fake) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.Calls++
	if f.Err != nil {
		return "", f.Err
	}
	return f.Response, nil
}
