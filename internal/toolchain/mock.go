package toolchain

import (
	"context"
	"fmt"
	"sync"
)

// MockRunner is a Runner for tests. Unset funcs succeed: Run returns nil and
// LookPath returns "/usr/bin/<name>".
type MockRunner struct {
	RunFunc      func(ctx context.Context, cmd Command) error
	LookPathFunc func(name string) (string, error)

	Calls []Command

	mu sync.Mutex
}

// Run records cmd and delegates to RunFunc.
func (m *MockRunner) Run(ctx context.Context, cmd Command) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, cmd)
	fn := m.RunFunc
	m.mu.Unlock()

	if fn == nil {
		return nil
	}
	return fn(ctx, cmd)
}

// LookPath delegates to LookPathFunc.
func (m *MockRunner) LookPath(name string) (string, error) {
	if m.LookPathFunc == nil {
		return fmt.Sprintf("/usr/bin/%s", name), nil
	}
	return m.LookPathFunc(name)
}

// Invocations returns the recorded commands rendered with Command.String.
func (m *MockRunner) Invocations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.Calls))
	for i, c := range m.Calls {
		out[i] = c.String()
	}
	return out
}

// Names returns the tool name of every recorded command in call order.
func (m *MockRunner) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.Calls))
	for i, c := range m.Calls {
		out[i] = c.Name
	}
	return out
}
