package tool

import "context"

// Mock is a deterministic Tool for tests: it returns a fixed Result (or
// a fixed error) for every call, recording how many times it was
// invoked and with what input.
type Mock struct {
	Def    Definition
	Result Result
	Err    error

	Calls []Call
}

func (m *Mock) Definition() Definition { return m.Def }

func (m *Mock) Invoke(ctx context.Context, call Call) (Result, error) {
	m.Calls = append(m.Calls, call)
	if m.Err != nil {
		return Result{}, m.Err
	}
	result := m.Result
	result.CallID = call.ID
	return result, nil
}

// FlakyMock fails its first FailCount invocations, then succeeds, for
// exercising the retry policy and circuit breaker deterministically.
type FlakyMock struct {
	Def       Definition
	FailCount int
	Err       error
	Result    Result

	attempts int
}

func (m *FlakyMock) Definition() Definition { return m.Def }

func (m *FlakyMock) Invoke(ctx context.Context, call Call) (Result, error) {
	m.attempts++
	if m.attempts <= m.FailCount {
		return Result{}, m.Err
	}
	result := m.Result
	result.CallID = call.ID
	return result, nil
}

// Attempts reports how many times Invoke has been called.
func (m *FlakyMock) Attempts() int { return m.attempts }
