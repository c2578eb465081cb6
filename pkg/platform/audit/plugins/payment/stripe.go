package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"ozhi/pkg/platform/sentinel"
)

const DefaultStripeBaseURL = "https://api.stripe.com"

// StripeProvider reads payment intents from the Stripe REST API.
type StripeProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type StripeOption func(*StripeProvider)

func WithBaseURL(u string) StripeOption {
	return func(s *StripeProvider) { s.baseURL = u }
}

func WithHTTPClient(c *http.Client) StripeOption {
	return func(s *StripeProvider) {
		if c != nil {
			s.client = c
		}
	}
}

func NewStripeProvider(apiKey string, opts ...StripeOption) (*StripeProvider, error) {
	if apiKey == "" {
		return nil, errors.New("stripe api key is required")
	}
	s := &StripeProvider{
		apiKey:  apiKey,
		baseURL: DefaultStripeBaseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type paymentIntent struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Customer string `json:"customer"`
}

func (s *StripeProvider) PaymentIntent(ctx context.Context, id string) (Details, error) {
	endpoint := s.baseURL + "/v1/payment_intents/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Details{}, fmt.Errorf("build stripe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return Details{}, fmt.Errorf("fetch payment intent %s: %w", id, errors.Join(sentinel.ErrUnavailable, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Details{}, fmt.Errorf("payment intent %s: %w", id, sentinel.ErrNotFound)
	case resp.StatusCode >= 300:
		return Details{}, fmt.Errorf("payment intent %s: stripe returned status %d", id, resp.StatusCode)
	}

	var pi paymentIntent
	if err := json.NewDecoder(resp.Body).Decode(&pi); err != nil {
		return Details{}, fmt.Errorf("decode payment intent %s: %w", id, err)
	}
	return Details(pi), nil
}
