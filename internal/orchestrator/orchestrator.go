// Package orchestrator owns the payment-activation state machine: it
// initiates an M-Pesa STK push through the gateway client, polls the
// payment status under a bounded time budget, and settles on exactly one
// terminal outcome. The registration-activation flow and the standalone
// bill-payment flow both drive the same implementation, differing only
// in Options.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"okoapay/internal/gateway"
	"okoapay/internal/phone"
)

// State of one payment attempt.
type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StateWaiting    State = "waiting"
	StateSuccess    State = "success"
	StateFailed     State = "failed"
	StateTimeout    State = "timeout"
)

// Terminal reports whether no further transitions happen without a user
// reset.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailed || s == StateTimeout
}

// User-facing messages for the two non-success outcomes. Timeout wording
// differs deliberately: the STK prompt may have been accepted out-of-band,
// so the user should check history before paying again.
const (
	msgFailed  = "Payment failed. Please try again."
	msgTimeout = "Payment verification timeout. If you received an M-Pesa confirmation message, the payment may have been processed. Please check your payment history before retrying."
)

// ValidationError is a local pre-network rejection; it never reaches the
// gateway and leaves the orchestrator in idle.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

var (
	// ErrNotIdle is returned when Submit is called while an attempt is
	// already running or settled.
	ErrNotIdle = errors.New("payment attempt already in progress")

	// ErrClosed is returned after the owning session disposed the
	// orchestrator.
	ErrClosed = errors.New("orchestrator closed")
)

// Config carries the timing and validation budget of one orchestrator.
type Config struct {
	MinAmount       int
	PollInterval    time.Duration
	MaxPollAttempts int
	HardTimeout     time.Duration
}

// DefaultConfig matches the production payment flows: KShs 70 minimum,
// 3s polls, 20 attempts, 60s wall-clock budget.
func DefaultConfig() Config {
	return Config{
		MinAmount:       70,
		PollInterval:    3 * time.Second,
		MaxPollAttempts: 20,
		HardTimeout:     60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinAmount <= 0 {
		c.MinAmount = d.MinAmount
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxPollAttempts <= 0 {
		c.MaxPollAttempts = d.MaxPollAttempts
	}
	if c.HardTimeout <= 0 {
		c.HardTimeout = d.HardTimeout
	}
	return c
}

// Options captures the differences between the two call sites.
type Options struct {
	// FailBackToIdle returns initiate failures to idle with the error
	// surfaced, instead of entering the terminal failed state. The
	// standalone payment flow uses this so the confirm step stays
	// actionable; the activation flow shows a terminal failure card.
	FailBackToIdle bool

	// PreserveInputOnReset keeps amount and phone across Reset. The
	// activation flow preserves them for retry; the standalone flow
	// clears everything back to the search step.
	PreserveInputOnReset bool

	// OnTerminal, if set, is invoked after every terminal transition,
	// outside the orchestrator lock.
	OnTerminal func(Snapshot)
}

// Snapshot is the read-only view the presentation layer renders.
type Snapshot struct {
	State            State  `json:"state"`
	Amount           int    `json:"amount"`
	PhoneNumber      string `json:"phoneNumber"`
	PaymentID        string `json:"paymentId,omitempty"`
	ReceiptReference string `json:"receiptReference,omitempty"`
	Error            string `json:"error,omitempty"`
	Attempts         int    `json:"attempts"`
	SecondsRemaining int    `json:"secondsRemaining"`
}

// attempt holds the per-payment polling session. All handles are cleared
// on every terminal transition and on reset, not only the happy path.
type attempt struct {
	paymentID string
	receipt   string
	startedAt time.Time
	attempts  int
	stop      chan struct{}
	cancel    context.CancelFunc
	hardTimer *time.Timer
}

// Orchestrator runs one payment attempt at a time. Each instance is
// exclusively owned by its call site and must be disposed with Close.
type Orchestrator struct {
	cfg    Config
	opts   Options
	gw     gateway.Client
	logger *zap.Logger

	mu             sync.Mutex
	state          State
	amount         int
	phoneNumber    string
	subscriptionID string
	errMsg         string
	closed         bool
	gen            int
	attempt        *attempt
}

// New creates an idle orchestrator on top of a gateway client.
func New(gw gateway.Client, cfg Config, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:    cfg.withDefaults(),
		opts:   opts,
		gw:     gw,
		logger: logger,
		state:  StateIdle,
	}
}

// Submit validates the request and, if valid, initiates the STK push and
// starts the polling session. Invalid input returns a *ValidationError
// without any network call. The call blocks for the duration of the
// initiate request only; polling continues in the background.
func (o *Orchestrator) Submit(ctx context.Context, req gateway.PaymentRequest) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.state != StateIdle {
		o.mu.Unlock()
		return ErrNotIdle
	}

	req.PhoneNumber = phone.Normalize(req.PhoneNumber)
	if msg := o.validateLocked(req); msg != "" {
		o.errMsg = msg
		o.mu.Unlock()
		return &ValidationError{Message: msg}
	}

	o.errMsg = ""
	o.amount = req.Amount
	o.phoneNumber = req.PhoneNumber
	o.subscriptionID = req.SubscriptionID
	o.state = StateProcessing
	gen := o.gen
	o.mu.Unlock()

	o.logger.Info("initiating payment",
		zap.String("subscription_id", req.SubscriptionID),
		zap.Int("amount", req.Amount))

	paymentID, err := o.gw.Initiate(ctx, req)

	o.mu.Lock()
	if o.gen != gen || o.state != StateProcessing {
		// A reset or teardown raced the initiate call; drop the result.
		o.mu.Unlock()
		return nil
	}

	if err != nil {
		msg := userMessage(err)
		if o.opts.FailBackToIdle {
			o.state = StateIdle
			o.errMsg = msg
			o.mu.Unlock()
			o.logger.Warn("payment initiation failed, back to idle", zap.String("reason", msg))
			return err
		}
		o.state = StateFailed
		o.errMsg = msg
		snap := o.snapshotLocked()
		o.mu.Unlock()
		o.logger.Warn("payment initiation failed", zap.String("reason", msg))
		o.notifyTerminal(snap)
		return err
	}

	o.beginWaitingLocked(gen, paymentID)
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) validateLocked(req gateway.PaymentRequest) string {
	if req.SubscriptionID == "" {
		return "Subscription not found. Please try registering again."
	}
	if req.Amount < o.cfg.MinAmount {
		return fmt.Sprintf("Payment amount must be at least KShs %d", o.cfg.MinAmount)
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		return "Phone number is required"
	}
	if !phone.Valid(req.PhoneNumber) {
		return "Please enter a valid Kenyan phone number"
	}
	return ""
}

// beginWaitingLocked opens the polling session: a recurring poll, plus an
// independent wall-clock timer that is the sole authority for the timeout
// transition. The attempt-count budget only stops the asking; the two
// limits are redundant on purpose so a slow poll response cannot leave
// the attempt stuck with neither having fired.
func (o *Orchestrator) beginWaitingLocked(gen int, paymentID string) {
	pollCtx, cancel := context.WithCancel(context.Background())
	a := &attempt{
		paymentID: paymentID,
		startedAt: time.Now(),
		stop:      make(chan struct{}),
		cancel:    cancel,
	}
	a.hardTimer = time.AfterFunc(o.cfg.HardTimeout, func() {
		o.expire(gen)
	})
	o.attempt = a
	o.state = StateWaiting

	go o.pollLoop(pollCtx, gen, paymentID, a.stop)

	o.logger.Info("payment waiting for confirmation",
		zap.String("payment_id", paymentID),
		zap.Duration("hard_timeout", o.cfg.HardTimeout))
}

func (o *Orchestrator) pollLoop(ctx context.Context, gen int, paymentID string, stop <-chan struct{}) {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if !o.beginPoll(gen) {
			return
		}

		res, err := o.gw.CheckStatus(ctx, paymentID)
		switch {
		case err != nil:
			// Transient poll failures keep the attempt waiting; the same
			// attempt-count and wall-clock rules apply.
			o.logger.Debug("status poll failed", zap.String("payment_id", paymentID), zap.Error(err))
		case res.Succeeded():
			o.complete(gen, res.Receipt)
			return
		case res.Status == gateway.StatusFailed:
			o.fail(gen, msgFailed)
			return
		}

		if o.pollBudgetSpent(gen) {
			// Stop asking. Declaring the timeout stays with the wall-clock
			// timer, which fires exactly once.
			o.logger.Debug("poll attempt budget spent", zap.String("payment_id", paymentID))
			return
		}
	}
}

// beginPoll counts one attempt, or reports the session is gone.
func (o *Orchestrator) beginPoll(gen int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen || o.state != StateWaiting || o.attempt == nil {
		return false
	}
	o.attempt.attempts++
	return true
}

func (o *Orchestrator) pollBudgetSpent(gen int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gen == gen && o.attempt != nil && o.attempt.attempts >= o.cfg.MaxPollAttempts
}

func (o *Orchestrator) complete(gen int, receipt string) {
	o.mu.Lock()
	if o.gen != gen || o.state != StateWaiting {
		o.mu.Unlock()
		return
	}
	o.teardownLocked()
	o.state = StateSuccess
	o.attempt.receipt = receipt
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.logger.Info("payment confirmed",
		zap.String("payment_id", snap.PaymentID),
		zap.String("receipt", receipt),
		zap.Int("attempts", snap.Attempts))
	o.notifyTerminal(snap)
}

func (o *Orchestrator) fail(gen int, msg string) {
	o.mu.Lock()
	if o.gen != gen || o.state != StateWaiting {
		o.mu.Unlock()
		return
	}
	o.teardownLocked()
	o.state = StateFailed
	o.errMsg = msg
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.logger.Warn("payment failed", zap.String("payment_id", snap.PaymentID))
	o.notifyTerminal(snap)
}

// expire is the wall-clock timer callback. The generation check makes a
// late firing after reset or terminal transition a no-op.
func (o *Orchestrator) expire(gen int) {
	o.mu.Lock()
	if o.gen != gen || o.state != StateWaiting {
		o.mu.Unlock()
		return
	}
	o.teardownLocked()
	o.state = StateTimeout
	o.errMsg = msgTimeout
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.logger.Warn("payment timed out",
		zap.String("payment_id", snap.PaymentID),
		zap.Int("attempts", snap.Attempts))
	o.notifyTerminal(snap)
}

// teardownLocked clears every live handle. Safe to call repeatedly.
func (o *Orchestrator) teardownLocked() {
	a := o.attempt
	if a == nil {
		return
	}
	if a.hardTimer != nil {
		a.hardTimer.Stop()
		a.hardTimer = nil
	}
	if a.stop != nil {
		close(a.stop)
		a.stop = nil
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}

// Reset returns to idle from any state, tearing down the polling session.
// Whether amount and phone survive depends on Options.PreserveInputOnReset.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.teardownLocked()
	o.gen++
	o.attempt = nil
	o.state = StateIdle
	o.errMsg = ""
	if !o.opts.PreserveInputOnReset {
		o.amount = 0
		o.phoneNumber = ""
		o.subscriptionID = ""
	}
}

// Close disposes the orchestrator; any live polling session is torn down
// and further submissions are rejected. Called by the owning session on
// teardown so abandoned attempts cannot leak pollers.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.teardownLocked()
	o.gen++
	o.attempt = nil
	o.closed = true
}

// Snapshot returns the current state for rendering.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:       o.state,
		Amount:      o.amount,
		PhoneNumber: o.phoneNumber,
		Error:       o.errMsg,
	}
	if a := o.attempt; a != nil {
		snap.PaymentID = a.paymentID
		snap.ReceiptReference = a.receipt
		snap.Attempts = a.attempts
		if o.state == StateWaiting {
			remaining := o.cfg.HardTimeout - time.Since(a.startedAt)
			if remaining < 0 {
				remaining = 0
			}
			// Ceiling, so the countdown starts at the full budget.
			snap.SecondsRemaining = int((remaining + time.Second - 1) / time.Second)
		}
	}
	return snap
}

func (o *Orchestrator) notifyTerminal(snap Snapshot) {
	if o.opts.OnTerminal != nil {
		o.opts.OnTerminal(snap)
	}
}

// userMessage unwraps a gateway error into its user-facing message.
func userMessage(err error) string {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) && gwErr.Message != "" {
		return gwErr.Message
	}
	return "Failed to initiate payment. Please try again."
}
