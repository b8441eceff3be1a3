package exec

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MockCall records a single call to the mock executor.
type MockCall struct {
	Cmd     []string
	WorkDir string
}

// MockResponse scripts the result of one matched command.
type MockResponse struct {
	Result Result
	Err    error
}

// MockExec is a test executor that simulates command execution. Responses can
// be scripted per command prefix; unmatched commands succeed with empty output.
type MockExec struct {
	mu        sync.Mutex
	calls     []MockCall
	responses map[string]MockResponse // keyed by joined command prefix
}

// NewMockExec creates a mock executor that returns success for everything.
func NewMockExec() *MockExec {
	return &MockExec{
		responses: make(map[string]MockResponse),
	}
}

// Name returns the executor name.
func (m *MockExec) Name() string {
	return "mock"
}

// Respond scripts the response for commands whose argv starts with prefix.
func (m *MockExec) Respond(prefix []string, result Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[strings.Join(prefix, " ")] = MockResponse{Result: result, Err: err}
}

// Calls returns all recorded calls.
func (m *MockExec) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall{}, m.calls...)
}

// Run records the call and returns the scripted (or default success) result.
func (m *MockExec) Run(_ context.Context, cmd []string, opts *Opts) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	workDir := ""
	if opts != nil {
		workDir = opts.WorkDir
	}
	m.calls = append(m.calls, MockCall{Cmd: append([]string{}, cmd...), WorkDir: workDir})

	joined := strings.Join(cmd, " ")
	for prefix, resp := range m.responses {
		if strings.HasPrefix(joined, prefix) {
			return resp.Result, resp.Err
		}
	}

	return Result{ExitCode: 0, Duration: time.Millisecond}, nil
}
