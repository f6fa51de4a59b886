package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Ledger error codes carried in API error bodies.
const (
	CodeInvalidArgument  = "invalid_argument"
	CodeNotFound         = "not_found"
	CodeUnauthorized     = "unauthorized"
	CodeInvalidState     = "invalid_state"
	CodeAgreementExpired = "agreement_expired"
	CodeAlreadyPaid      = "already_paid"
	CodeTransferFailed   = "transfer_failed"
	CodeInternal         = "internal"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// IsCode reports whether err is an *APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Agreement is the agreement view returned by GET /api/v1/agreements/:id.
type Agreement struct {
	ID              uint64 `json:"id"`
	Landlord        string `json:"landlord"`
	Tenant          string `json:"tenant"`
	MonthlyRent     int64  `json:"monthly_rent"`
	SecurityDeposit int64  `json:"security_deposit"`
	StartTime       int64  `json:"start_time"`
	EndTime         int64  `json:"end_time"`
	Active          bool   `json:"active"`
	LastPaymentTime int64  `json:"last_payment_time"`
	DepositReturned bool   `json:"deposit_returned"`
}

// CreateAgreementRequest is the payload for CreateAgreement. The caller
// becomes the landlord.
type CreateAgreementRequest struct {
	Tenant          string `json:"tenant"`
	MonthlyRent     int64  `json:"monthly_rent"`
	SecurityDeposit int64  `json:"security_deposit"`
	DurationDays    int64  `json:"duration_days"`
	Value           int64  `json:"value"`
}

// Termination is the outcome of TerminateAgreement.
type Termination struct {
	ID                      uint64 `json:"id"`
	Initiator               string `json:"initiator"`
	DepositReturnedToTenant bool   `json:"deposit_returned_to_tenant"`
}

// Event is a committed, hash-chained ledger event.
type Event struct {
	Seq         uint64          `json:"seq"`
	Time        int64           `json:"time"`
	Type        string          `json:"type"`
	AgreementID uint64          `json:"agreement_id"`
	Payload     json.RawMessage `json:"payload"`
	PrevHash    string          `json:"prev_hash"`
	Hash        string          `json:"hash"`
}

// EventPage is a page of events together with the current root hash.
type EventPage struct {
	Events []Event `json:"events"`
	Root   string  `json:"root"`
}

// ChainStatus is the result of VerifyEvents.
type ChainStatus struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// Client is the rentledger SDK entry point.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
	caller      string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a party token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithCaller sets the X-Caller-Address header used by servers running
// without party tokens.
func WithCaller(addr string) Option {
	return func(c *Client) error {
		if strings.TrimSpace(addr) == "" {
			return errors.New("caller address is empty")
		}
		c.caller = strings.TrimSpace(addr)
		return nil
	}
}

// New creates a Client for the server at base (e.g. "http://localhost:8080").
func New(base string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// CreateAgreement creates an agreement and returns its id.
func (c *Client) CreateAgreement(ctx context.Context, req CreateAgreementRequest) (uint64, error) {
	var resp struct {
		ID uint64 `json:"id"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/v1/agreements", req, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// GetAgreement returns the agreement with the given id.
func (c *Client) GetAgreement(ctx context.Context, id uint64) (*Agreement, error) {
	var resp struct {
		Agreement Agreement `json:"agreement"`
	}
	if err := c.call(ctx, http.MethodGet, agreementPath(id, ""), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Agreement, nil
}

// PayRent pays one period of rent. value must equal the monthly rent.
func (c *Client) PayRent(ctx context.Context, id uint64, value int64) error {
	return c.call(ctx, http.MethodPost, agreementPath(id, "/rent"), map[string]int64{"value": value}, nil)
}

// TerminateAgreement ends an agreement and settles its deposit.
func (c *Client) TerminateAgreement(ctx context.Context, id uint64, returnDeposit bool) (*Termination, error) {
	var out Termination
	body := map[string]bool{"return_deposit": returnDeposit}
	if err := c.call(ctx, http.MethodPost, agreementPath(id, "/terminate"), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IsRentDue reports whether a rent payment would currently be accepted.
func (c *Client) IsRentDue(ctx context.Context, id uint64) (bool, error) {
	var resp struct {
		Due bool `json:"due"`
	}
	if err := c.call(ctx, http.MethodGet, agreementPath(id, "/rent-due"), nil, &resp); err != nil {
		return false, err
	}
	return resp.Due, nil
}

// LandlordAgreements lists the ids of agreements where addr is landlord.
func (c *Client) LandlordAgreements(ctx context.Context, addr string) ([]uint64, error) {
	return c.partyAgreements(ctx, addr, "landlord")
}

// TenantAgreements lists the ids of agreements where addr is tenant.
func (c *Client) TenantAgreements(ctx context.Context, addr string) ([]uint64, error) {
	return c.partyAgreements(ctx, addr, "tenant")
}

func (c *Client) partyAgreements(ctx context.Context, addr, role string) ([]uint64, error) {
	var resp struct {
		Agreements []uint64 `json:"agreements"`
	}
	path := "/api/v1/parties/" + url.PathEscape(addr) + "/" + role
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Agreements, nil
}

// Events returns up to limit events starting at sequence from.
func (c *Client) Events(ctx context.Context, from uint64, limit int) (*EventPage, error) {
	q := url.Values{}
	q.Set("from", strconv.FormatUint(from, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var page EventPage
	if err := c.call(ctx, http.MethodGet, "/api/v1/events?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// VerifyEvents asks the server to walk its event chain.
func (c *Client) VerifyEvents(ctx context.Context) (*ChainStatus, error) {
	var out ChainStatus
	if err := c.call(ctx, http.MethodGet, "/api/v1/events/verify", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func agreementPath(id uint64, suffix string) string {
	return "/api/v1/agreements/" + strconv.FormatUint(id, 10) + suffix
}

// call sends reqBody as JSON (when non-nil) and decodes a 2xx response into
// respBody (when non-nil).
func (c *Client) call(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if respBody == nil {
		return nil
	}
	if err := json.Unmarshal(raw, respBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
	if c.caller != "" {
		req.Header.Set("X-Caller-Address", c.caller)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return nil, apiErr
	}
	return body, nil
}
