package gateway

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"okoapay/internal/pkg/httpclient"
)

// Fallback messages when the gateway returns no usable error body.
const (
	fallbackInitiateMsg = "Failed to initiate payment. Please try again."
	fallbackStatusMsg   = "Failed to check payment status. Please try again."
	fallbackSearchMsg   = "Member not found. Please check your details and try again."
)

// HTTPClient talks to the insurance backend over HTTP. The same
// implementation serves both contract variants: the authenticated one
// used after registration and the public one used for standalone bill
// payment; only the auth mode and URL prefix differ.
type HTTPClient struct {
	http   *httpclient.Client
	public bool
	logger *zap.Logger
}

// NewClient creates the authenticated gateway client.
func NewClient(baseURL, bearerToken string, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		http: httpclient.New().
			WithBaseURL(baseURL).
			WithTimeout(30 * time.Second).
			WithBearerToken(bearerToken),
		logger: logger,
	}
}

// NewPublicClient creates the unauthenticated gateway client.
func NewPublicClient(baseURL string, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		http: httpclient.New().
			WithBaseURL(baseURL).
			WithTimeout(30 * time.Second),
		public: true,
		logger: logger,
	}
}

func (c *HTTPClient) initiatePath() string {
	if c.public {
		return "/payments/public/initiate"
	}
	return "/payments/initiate"
}

func (c *HTTPClient) statusPath(paymentID string) string {
	if c.public {
		return "/payments/public/status/" + url.PathEscape(paymentID)
	}
	return "/payments/status/" + url.PathEscape(paymentID)
}

type initiateResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	PaymentID      string `json:"paymentId"`
	TransactionID  string `json:"transactionId"`
	ConversationID string `json:"conversationId"`
	Provider       string `json:"provider"`
}

// paymentID returns the payment identifier, whichever field the backend
// chose to put it in this time.
func (r *initiateResponse) paymentID() string {
	for _, id := range []string{r.PaymentID, r.TransactionID, r.ConversationID} {
		if id != "" {
			return id
		}
	}
	return ""
}

// Initiate requests an STK push for the given subscription.
func (c *HTTPClient) Initiate(ctx context.Context, req PaymentRequest) (string, error) {
	resp, err := c.http.Post(ctx, c.initiatePath(), req)
	if err != nil {
		c.logger.Warn("payment initiate request failed", zap.Error(err))
		return "", &Error{Message: fallbackInitiateMsg}
	}
	if resp.IsError() {
		return "", errorFromBody(resp, fallbackInitiateMsg)
	}

	var out initiateResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", &Error{StatusCode: resp.StatusCode(), Message: fallbackInitiateMsg}
	}

	id := out.paymentID()
	if id == "" {
		return "", &Error{StatusCode: resp.StatusCode(), Message: "Payment ID not received"}
	}

	c.logger.Info("payment initiated",
		zap.String("payment_id", id),
		zap.String("provider", out.Provider),
		zap.Bool("public", c.public))
	return id, nil
}

type paymentRecord struct {
	AmountCents        int64  `json:"amount"`
	MpesaTransactionID string `json:"mpesa_transaction_id"`
	MpesaReceipt       string `json:"mpesa_receipt"`
	RawResponse        struct {
		MpesaReceipt string `json:"mpesa_receipt"`
	} `json:"raw_response"`
}

// receipt resolves the M-Pesa receipt reference, checking the known
// aliases in priority order.
func (p *paymentRecord) receipt() string {
	if p == nil {
		return ""
	}
	for _, ref := range []string{p.MpesaTransactionID, p.MpesaReceipt, p.RawResponse.MpesaReceipt} {
		if ref != "" {
			return ref
		}
	}
	return ""
}

type statusResponse struct {
	Success bool           `json:"success"`
	Status  string         `json:"status"`
	Payment *paymentRecord `json:"payment"`
}

// CheckStatus polls the payment once.
func (c *HTTPClient) CheckStatus(ctx context.Context, paymentID string) (*StatusResult, error) {
	resp, err := c.http.Get(ctx, c.statusPath(paymentID))
	if err != nil {
		return nil, &Error{Message: fallbackStatusMsg}
	}
	if resp.IsError() {
		return nil, errorFromBody(resp, fallbackStatusMsg)
	}

	var out statusResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, &Error{StatusCode: resp.StatusCode(), Message: fallbackStatusMsg}
	}

	result := &StatusResult{Status: out.Status, Receipt: out.Payment.receipt()}
	if out.Payment != nil {
		result.AmountCents = out.Payment.AmountCents
	}
	return result, nil
}

// Subscriber is the insured member record returned by lookup.
type Subscriber struct {
	ID             string `json:"id"`
	FullName       string `json:"full_name"`
	AccountNumber  string `json:"account_number"`
	SubscriberType string `json:"subscriber_type"`
}

// Subscription is the policy record a payment is applied against.
type Subscription struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	StartDate   string `json:"start_date"`
	NextDueDate string `json:"next_due_date"`
}

// PlanSummary is the slice of plan data the confirm step shows.
type PlanSummary struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	PremiumAmount    int64  `json:"premium_amount"`
	PremiumFrequency string `json:"premium_frequency"`
	CoverageAmount   int64  `json:"coverage_amount"`
}

// SearchResult pre-populates the payment confirm step.
type SearchResult struct {
	Subscriber           *Subscriber   `json:"subscriber"`
	Subscription         *Subscription `json:"subscription"`
	Plan                 *PlanSummary  `json:"plan"`
	PhoneNumber          string        `json:"phoneNumber"`
	Email                string        `json:"email"`
	SuggestedAmountCents int64         `json:"suggestedAmount"`
}

// SearchSubscriber looks a member up by national ID number or phone.
// Exactly one of the two must be set; phone lookup uses the query form.
func (c *HTTPClient) SearchSubscriber(ctx context.Context, idNumber, phoneNumber string) (*SearchResult, error) {
	req := c.http.Request().SetContext(ctx)
	var path string
	switch {
	case phoneNumber != "":
		// The search route always carries an ID path segment; phone
		// lookup puts "0" there and the number in the query string.
		req.SetQueryParam("phone", phoneNumber)
		path = "/payments/public/search/0"
	case idNumber != "":
		path = "/payments/public/search/" + url.PathEscape(idNumber)
	default:
		return nil, &Error{Message: "Either ID number or phone number is required"}
	}

	resp, err := req.Get(path)
	if err != nil {
		return nil, &Error{Message: fallbackSearchMsg}
	}
	if resp.IsError() {
		return nil, errorFromBody(resp, fallbackSearchMsg)
	}

	var out SearchResult
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, &Error{StatusCode: resp.StatusCode(), Message: fallbackSearchMsg}
	}
	if out.Subscriber == nil {
		return nil, &Error{StatusCode: resp.StatusCode(), Message: fallbackSearchMsg}
	}
	return &out, nil
}

// errorFromBody extracts the backend's human-readable message from a
// structured error body, checking "error" then "message".
func errorFromBody(resp *resty.Response, fallback string) *Error {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := fallback
	if err := json.Unmarshal(resp.Body(), &body); err == nil {
		if body.Error != "" {
			msg = body.Error
		} else if body.Message != "" {
			msg = body.Message
		}
	}
	return &Error{StatusCode: resp.StatusCode(), Message: msg}
}
