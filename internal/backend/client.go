// Package backend is the HTTP client for the upstream booking service. It
// owns the error taxonomy the scheduler and coordinator react to: transient
// failures are retried, rate limits pause polling, conflicts force a
// re-fetch, and invalid/not-found outcomes are surfaced as-is.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/CarsonDev1/carpooling-app-sub000/internal/booking"
)

type Class string

const (
	ClassTransient   Class = "transient"
	ClassRateLimited Class = "rate_limited"
	ClassConflict    Class = "conflict"
	ClassNotFound    Class = "not_found"
	ClassInvalid     Class = "invalid"
)

// APIError is any failed exchange with the booking backend.
type APIError struct {
	Class      Class
	StatusCode int // 0 for network-level failures
	Message    string
	cause      error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("backend: %s: %s", e.Class, e.Message)
	}
	return fmt.Sprintf("backend: %s (http %d): %s", e.Class, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.cause }

// ClassOf extracts the error class, treating anything that is not an
// APIError (timeouts, refused connections, bad payloads) as transient.
func ClassOf(err error) Class {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Class
	}
	return ClassTransient
}

type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
)

// CreateRequest is the passenger's ride solicitation.
type CreateRequest struct {
	PassengerID string              `json:"passenger_id"`
	Route       booking.Route       `json:"route"`
	Constraints booking.Constraints `json:"constraints"`
}

// Client is the abstract booking backend consumed by the negotiation core.
type Client interface {
	CreateBooking(ctx context.Context, req CreateRequest) (*booking.Resource, error)
	GetBooking(ctx context.Context, id string) (*booking.Resource, error)
	RespondToOffer(ctx context.Context, bookingID, offerID string, action Action) (*booking.Resource, error)
	CancelBooking(ctx context.Context, bookingID string) error
	CreatePayment(ctx context.Context, bookingID string) (string, error)
}

// HTTPClient implements Client against a REST backend.
type HTTPClient struct {
	base   string
	client *http.Client
}

func NewHTTPClient(base string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{base: base, client: &http.Client{Timeout: timeout}}
}

func (c *HTTPClient) CreateBooking(ctx context.Context, req CreateRequest) (*booking.Resource, error) {
	var res booking.Resource
	if err := c.do(ctx, http.MethodPost, "/v1/bookings", req, &res); err != nil {
		return nil, err
	}
	return validated(&res)
}

func (c *HTTPClient) GetBooking(ctx context.Context, id string) (*booking.Resource, error) {
	var res booking.Resource
	if err := c.do(ctx, http.MethodGet, "/v1/bookings/"+id, nil, &res); err != nil {
		return nil, err
	}
	return validated(&res)
}

func (c *HTTPClient) RespondToOffer(ctx context.Context, bookingID, offerID string, action Action) (*booking.Resource, error) {
	body := map[string]string{"action": string(action)}
	var res booking.Resource
	path := fmt.Sprintf("/v1/bookings/%s/offers/%s/response", bookingID, offerID)
	if err := c.do(ctx, http.MethodPost, path, body, &res); err != nil {
		return nil, err
	}
	return validated(&res)
}

func (c *HTTPClient) CancelBooking(ctx context.Context, bookingID string) error {
	return c.do(ctx, http.MethodPost, "/v1/bookings/"+bookingID+"/cancel", nil, nil)
}

func (c *HTTPClient) CreatePayment(ctx context.Context, bookingID string) (string, error) {
	var out struct {
		Token string `json:"payment_handoff_token"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/bookings/"+bookingID+"/payment", nil, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &APIError{Class: ClassInvalid, Message: "encode request", cause: err}
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return &APIError{Class: ClassInvalid, Message: "build request", cause: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &APIError{Class: ClassTransient, Message: err.Error(), cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &APIError{Class: ClassTransient, StatusCode: resp.StatusCode, Message: "decode response", cause: err}
		}
		return nil
	}
	return &APIError{
		Class:      classify(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Message:    errorMessage(resp.Body),
	}
}

func classify(status int) Class {
	switch {
	case status == http.StatusConflict:
		return ClassConflict
	case status == http.StatusNotFound, status == http.StatusGone:
		return ClassNotFound
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	case status >= 400 && status < 500:
		return ClassInvalid
	default:
		return ClassTransient
	}
}

func errorMessage(r io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return "request failed"
}

func validated(r *booking.Resource) (*booking.Resource, error) {
	if _, err := booking.ParseStatus(string(r.Status)); err != nil {
		return nil, &APIError{Class: ClassTransient, Message: err.Error(), cause: err}
	}
	if r.Offers == nil {
		r.Offers = map[string]booking.Offer{}
	}
	return r, nil
}
