package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"okoapay/internal/gateway"
)

// fakeGateway scripts initiate and per-attempt status responses.
type fakeGateway struct {
	mu            sync.Mutex
	initiateID    string
	initiateErr   error
	initiateCalls int
	statusCalls   int
	statusFn      func(call int) (*gateway.StatusResult, error)
}

func (f *fakeGateway) Initiate(ctx context.Context, req gateway.PaymentRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initiateCalls++
	if f.initiateErr != nil {
		return "", f.initiateErr
	}
	return f.initiateID, nil
}

func (f *fakeGateway) CheckStatus(ctx context.Context, paymentID string) (*gateway.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	return f.statusFn(f.statusCalls)
}

func (f *fakeGateway) calls() (initiate, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initiateCalls, f.statusCalls
}

func pending() (*gateway.StatusResult, error) {
	return &gateway.StatusResult{Status: gateway.StatusPending}, nil
}

func testConfig() Config {
	return Config{
		MinAmount:       70,
		PollInterval:    10 * time.Millisecond,
		MaxPollAttempts: 20,
		HardTimeout:     300 * time.Millisecond,
	}
}

func validRequest() gateway.PaymentRequest {
	return gateway.PaymentRequest{
		SubscriptionID: "sub-1",
		Amount:         70,
		PhoneNumber:    "0712345678",
	}
}

func waitState(t *testing.T, o *Orchestrator, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return o.Snapshot().State == want
	}, 2*time.Second, 2*time.Millisecond, "never reached state %s", want)
}

func TestSubmitValidInput(t *testing.T) {
	gw := &fakeGateway{initiateID: "abc123", statusFn: func(int) (*gateway.StatusResult, error) { return pending() }}
	o := New(gw, testConfig(), Options{}, nil)
	defer o.Close()

	require.NoError(t, o.Submit(context.Background(), validRequest()))

	snap := o.Snapshot()
	require.Equal(t, StateWaiting, snap.State)
	require.Equal(t, "abc123", snap.PaymentID)
	require.Equal(t, "+254712345678", snap.PhoneNumber)
	require.Positive(t, snap.SecondsRemaining)

	initiates, _ := gw.calls()
	require.Equal(t, 1, initiates)

	// One hard timer and one poll session armed.
	o.mu.Lock()
	require.NotNil(t, o.attempt.hardTimer)
	require.NotNil(t, o.attempt.stop)
	o.mu.Unlock()
}

func TestSubmitInvalidInputs(t *testing.T) {
	cases := []struct {
		name string
		req  gateway.PaymentRequest
	}{
		{"amount below minimum", gateway.PaymentRequest{SubscriptionID: "sub-1", Amount: 69, PhoneNumber: "0712345678"}},
		{"empty phone", gateway.PaymentRequest{SubscriptionID: "sub-1", Amount: 70}},
		{"invalid phone", gateway.PaymentRequest{SubscriptionID: "sub-1", Amount: 70, PhoneNumber: "12345"}},
		{"missing subscription", gateway.PaymentRequest{Amount: 70, PhoneNumber: "0712345678"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw := &fakeGateway{initiateID: "abc123"}
			o := New(gw, testConfig(), Options{}, nil)
			defer o.Close()

			err := o.Submit(context.Background(), tc.req)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)

			snap := o.Snapshot()
			require.Equal(t, StateIdle, snap.State)
			require.NotEmpty(t, snap.Error)

			initiates, statuses := gw.calls()
			require.Zero(t, initiates, "validation errors must not reach the gateway")
			require.Zero(t, statuses)
		})
	}
}

func TestPollSuccessOnThirdAttempt(t *testing.T) {
	gw := &fakeGateway{
		initiateID: "abc123",
		statusFn: func(call int) (*gateway.StatusResult, error) {
			if call < 3 {
				return pending()
			}
			return &gateway.StatusResult{Status: gateway.StatusCompleted, Receipt: "QWE123"}, nil
		},
	}
	o := New(gw, testConfig(), Options{}, nil)
	defer o.Close()

	require.NoError(t, o.Submit(context.Background(), validRequest()))
	waitState(t, o, StateSuccess)

	snap := o.Snapshot()
	require.Equal(t, "QWE123", snap.ReceiptReference)
	require.Equal(t, 3, snap.Attempts)

	// Timers are cleared; further simulated firings change nothing.
	o.mu.Lock()
	gen := o.gen
	require.Nil(t, o.attempt.hardTimer)
	require.Nil(t, o.attempt.stop)
	o.mu.Unlock()

	o.expire(gen)
	time.Sleep(5 * testConfig().PollInterval)

	after := o.Snapshot()
	require.Equal(t, snap, after)
	_, statuses := gw.calls()
	require.Equal(t, 3, statuses)
}

func TestPollFailed(t *testing.T) {
	gw := &fakeGateway{
		initiateID: "abc123",
		statusFn: func(int) (*gateway.StatusResult, error) {
			return &gateway.StatusResult{Status: gateway.StatusFailed}, nil
		},
	}
	o := New(gw, testConfig(), Options{}, nil)
	defer o.Close()

	require.NoError(t, o.Submit(context.Background(), validRequest()))
	waitState(t, o, StateFailed)
	require.Equal(t, msgFailed, o.Snapshot().Error)
}

func TestHardTimeoutIsSoleAuthority(t *testing.T) {
	// The attempt budget runs out well before the wall clock; the state
	// must stay waiting until the hard timer declares timeout.
	cfg := Config{
		MinAmount:       70,
		PollInterval:    10 * time.Millisecond,
		MaxPollAttempts: 2,
		HardTimeout:     250 * time.Millisecond,
	}
	gw := &fakeGateway{initiateID: "abc123", statusFn: func(int) (*gateway.StatusResult, error) { return pending() }}

	var terminals []Snapshot
	var mu sync.Mutex
	o := New(gw, cfg, Options{OnTerminal: func(s Snapshot) {
		mu.Lock()
		terminals = append(terminals, s)
		mu.Unlock()
	}}, nil)
	defer o.Close()

	require.NoError(t, o.Submit(context.Background(), validRequest()))

	// Budget spent: polling stopped, no terminal state declared.
	require.Eventually(t, func() bool {
		_, statuses := gw.calls()
		return statuses == 2
	}, 2*time.Second, 2*time.Millisecond)
	time.Sleep(5 * cfg.PollInterval)
	require.Equal(t, StateWaiting, o.Snapshot().State)
	_, statuses := gw.calls()
	require.Equal(t, 2, statuses, "polling must self-cancel at the attempt budget")

	waitState(t, o, StateTimeout)
	require.Equal(t, msgTimeout, o.Snapshot().Error)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, terminals, 1, "timeout must be declared exactly once")
	require.Equal(t, StateTimeout, terminals[0].State)
}

func TestTransientPollErrorsKeepWaiting(t *testing.T) {
	gw := &fakeGateway{
		initiateID: "abc123",
		statusFn: func(call int) (*gateway.StatusResult, error) {
			if call < 3 {
				return nil, &gateway.Error{Message: "connection reset"}
			}
			return &gateway.StatusResult{Status: gateway.StatusSuccess, Receipt: "RTY456"}, nil
		},
	}
	o := New(gw, testConfig(), Options{}, nil)
	defer o.Close()

	require.NoError(t, o.Submit(context.Background(), validRequest()))
	waitState(t, o, StateSuccess)

	snap := o.Snapshot()
	require.Equal(t, "RTY456", snap.ReceiptReference)
	require.Equal(t, 3, snap.Attempts, "failed polls consume attempts like normal ones")
}

func TestInitiateFailureTerminal(t *testing.T) {
	gw := &fakeGateway{initiateErr: &gateway.Error{StatusCode: 400, Message: "Invalid subscription reference"}}
	o := New(gw, testConfig(), Options{}, nil)
	defer o.Close()

	err := o.Submit(context.Background(), validRequest())
	require.Error(t, err)

	snap := o.Snapshot()
	require.Equal(t, StateFailed, snap.State)
	require.Equal(t, "Invalid subscription reference", snap.Error)
}

func TestInitiateFailureBackToIdle(t *testing.T) {
	gw := &fakeGateway{initiateErr: errors.New("dial tcp: connection refused")}
	o := New(gw, testConfig(), Options{FailBackToIdle: true}, nil)
	defer o.Close()

	err := o.Submit(context.Background(), validRequest())
	require.Error(t, err)

	snap := o.Snapshot()
	require.Equal(t, StateIdle, snap.State)
	require.Equal(t, "Failed to initiate payment. Please try again.", snap.Error)

	// Still actionable: a corrected submission goes through.
	gw.mu.Lock()
	gw.initiateErr = nil
	gw.initiateID = "abc123"
	gw.statusFn = func(int) (*gateway.StatusResult, error) { return pending() }
	gw.mu.Unlock()
	require.NoError(t, o.Submit(context.Background(), validRequest()))
	require.Equal(t, StateWaiting, o.Snapshot().State)
}

func TestSubmitWhileBusy(t *testing.T) {
	gw := &fakeGateway{initiateID: "abc123", statusFn: func(int) (*gateway.StatusResult, error) { return pending() }}
	o := New(gw, testConfig(), Options{}, nil)
	defer o.Close()

	require.NoError(t, o.Submit(context.Background(), validRequest()))
	require.ErrorIs(t, o.Submit(context.Background(), validRequest()), ErrNotIdle)

	initiates, _ := gw.calls()
	require.Equal(t, 1, initiates)
}

func TestResetTearsDownPolling(t *testing.T) {
	gw := &fakeGateway{initiateID: "abc123", statusFn: func(int) (*gateway.StatusResult, error) { return pending() }}
	o := New(gw, testConfig(), Options{PreserveInputOnReset: true}, nil)
	defer o.Close()

	require.NoError(t, o.Submit(context.Background(), validRequest()))
	waitState(t, o, StateWaiting)

	o.mu.Lock()
	staleGen := o.gen
	o.mu.Unlock()

	o.Reset()

	snap := o.Snapshot()
	require.Equal(t, StateIdle, snap.State)
	require.Equal(t, 70, snap.Amount, "activation flow preserves input on retry")
	require.Equal(t, "+254712345678", snap.PhoneNumber)

	// A stale hard-timer firing after reset must not mutate state.
	o.expire(staleGen)
	require.Equal(t, StateIdle, o.Snapshot().State)

	// Polling has stopped for good. Give any in-flight iteration a
	// moment to drain before sampling the call count.
	time.Sleep(2 * testConfig().PollInterval)
	_, before := gw.calls()
	time.Sleep(5 * testConfig().PollInterval)
	_, after := gw.calls()
	require.Equal(t, before, after)
}

func TestResetClearsInput(t *testing.T) {
	gw := &fakeGateway{
		initiateID: "abc123",
		statusFn: func(int) (*gateway.StatusResult, error) {
			return &gateway.StatusResult{Status: gateway.StatusFailed}, nil
		},
	}
	o := New(gw, testConfig(), Options{}, nil)
	defer o.Close()

	require.NoError(t, o.Submit(context.Background(), validRequest()))
	waitState(t, o, StateFailed)

	o.Reset()

	snap := o.Snapshot()
	require.Equal(t, StateIdle, snap.State)
	require.Zero(t, snap.Amount, "standalone flow clears input on reset")
	require.Empty(t, snap.PhoneNumber)
	require.Empty(t, snap.Error)
	require.Empty(t, snap.PaymentID)
}

func TestCloseRejectsFurtherSubmissions(t *testing.T) {
	gw := &fakeGateway{initiateID: "abc123", statusFn: func(int) (*gateway.StatusResult, error) { return pending() }}
	o := New(gw, testConfig(), Options{}, nil)

	require.NoError(t, o.Submit(context.Background(), validRequest()))
	o.Close()

	require.ErrorIs(t, o.Submit(context.Background(), validRequest()), ErrClosed)

	time.Sleep(2 * testConfig().PollInterval)
	_, before := gw.calls()
	time.Sleep(5 * testConfig().PollInterval)
	_, after := gw.calls()
	require.Equal(t, before, after, "closed orchestrator must not keep polling")
}

func TestOnTerminalCallback(t *testing.T) {
	gw := &fakeGateway{
		initiateID: "abc123",
		statusFn: func(int) (*gateway.StatusResult, error) {
			return &gateway.StatusResult{Status: gateway.StatusCompleted, Receipt: "QWE123"}, nil
		},
	}

	done := make(chan Snapshot, 1)
	o := New(gw, testConfig(), Options{OnTerminal: func(s Snapshot) { done <- s }}, nil)
	defer o.Close()

	require.NoError(t, o.Submit(context.Background(), validRequest()))

	select {
	case snap := <-done:
		require.Equal(t, StateSuccess, snap.State)
		require.Equal(t, "QWE123", snap.ReceiptReference)
	case <-time.After(2 * time.Second):
		t.Fatal("terminal callback never fired")
	}
}
