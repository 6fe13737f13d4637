// Package gateway wraps the insurance backend's payment HTTP contract:
// initiating an M-Pesa STK push and polling its status.
package gateway

import "context"

// PaymentRequest carries everything needed to initiate an STK push.
// Amount is in whole shillings; PhoneNumber must already be in the
// +254XXXXXXXXX form.
type PaymentRequest struct {
	SubscriptionID string `json:"subscriptionId"`
	Amount         int    `json:"amount"`
	PhoneNumber    string `json:"phoneNumber"`
	IDNumber       string `json:"idNumber,omitempty"`
}

// Payment status values reported by the backend.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusSuccess   = "success"
	StatusFailed    = "failed"
)

// StatusResult is the normalized view of one status poll.
type StatusResult struct {
	Status      string
	Receipt     string
	AmountCents int64
}

// Done reports whether the status is definitive (no further polling).
func (r *StatusResult) Done() bool {
	return r.Status == StatusCompleted || r.Status == StatusSuccess || r.Status == StatusFailed
}

// Succeeded reports whether the payment went through.
func (r *StatusResult) Succeeded() bool {
	return r.Status == StatusCompleted || r.Status == StatusSuccess
}

// Client is the payment gateway contract consumed by the orchestrator.
type Client interface {
	// Initiate requests an STK push and returns the gateway's payment ID.
	Initiate(ctx context.Context, req PaymentRequest) (string, error)

	// CheckStatus polls one payment. Idempotent and side-effect free, so
	// it may be called repeatedly.
	CheckStatus(ctx context.Context, paymentID string) (*StatusResult, error)
}

// Error is a failure reported by (or while reaching) the gateway. Message
// is human-readable and safe to surface to the user.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return e.Message
}
