package push

import (
	"context"
	"errors"
	"sync"
)

// Call records a single call to MockSender.Send.
type Call struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

// MockSender is a test double for Sender.
type MockSender struct {
	mu         sync.Mutex
	calls      []Call
	ShouldFail bool
	FailError  string
	// FailFor fails only sends whose data carries this appointment id.
	FailFor string
}

// Send records the call and optionally returns an error.
func (m *MockSender) Send(_ context.Context, token, title, body string, data map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Token: token, Title: title, Body: body, Data: data})
	if m.ShouldFail || (m.FailFor != "" && data["appointment_id"] == m.FailFor) {
		msg := m.FailError
		if msg == "" {
			msg = "push transport unavailable"
		}
		return errors.New(msg)
	}
	return nil
}

func (m *MockSender) Close() error { return nil }

// Calls returns a copy of recorded calls.
func (m *MockSender) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}
