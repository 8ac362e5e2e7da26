package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-dial-flow/internal/domain"
	"github.com/ramiqadoumi/go-dial-flow/pkg/telemetry"
)

// HTTPClient talks to a telephony provider's REST API. It implements both
// Dialer and Presence.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout overrides the default 15s request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) { c.client.Timeout = d }
}

// NewHTTPClient creates a provider client for the given base URL.
func NewHTTPClient(baseURL, apiKey string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type placeCallResponse struct {
	CallID string `json:"call_id"`
}

type availabilityResponse struct {
	Available bool `json:"available"`
}

// PlaceCall asks the provider to start an outbound call. The number is
// validated as E.164 before any request is made; invalid input is a
// caller-side error, not a provider error.
func (c *HTTPClient) PlaceCall(ctx context.Context, req CallRequest) (string, error) {
	ctx, span := otel.Tracer("telephony").Start(ctx, "telephony.place_call")
	defer span.End()
	span.SetAttributes(
		attribute.String("call.queue_item_id", req.Metadata.QueueItemID),
		attribute.String("call.agent_provider_id", req.AgentProviderID),
	)

	if !domain.ValidE164(req.PhoneNumber) {
		err := &domain.InvalidPhoneNumberError{Number: req.PhoneNumber}
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid phone number")
		return "", err
	}
	if req.AgentProviderID == "" {
		err := errors.New("call request missing agent provider id")
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing provider identity")
		return "", err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal call request: %w", err)
	}

	start := time.Now()
	resp, err := c.do(ctx, http.MethodPost, "/v1/calls", bytes.NewReader(body))
	telemetry.CallPlacementSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider call failed")
		return "", err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("provider returned status %d placing call", resp.StatusCode)
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad status code")
		return "", err
	}

	var out placeCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode provider response: %w", err)
	}
	if out.CallID == "" {
		return "", errors.New("provider response missing call_id")
	}
	return out.CallID, nil
}

// IsAvailable queries the provider for a user's live availability.
func (c *HTTPClient) IsAvailable(ctx context.Context, providerUserID string) (bool, error) {
	ctx, span := otel.Tracer("telephony").Start(ctx, "telephony.is_available")
	defer span.End()
	span.SetAttributes(attribute.String("provider_user_id", providerUserID))

	resp, err := c.do(ctx, http.MethodGet, "/v1/users/"+providerUserID+"/availability", nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "availability probe failed")
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("provider returned status %d probing availability", resp.StatusCode)
		span.RecordError(err)
		return false, err
	}

	var out availabilityResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode availability response: %w", err)
	}
	return out.Available, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider %s %s: %w", method, path, err)
	}
	return resp, nil
}

var (
	_ Dialer   = (*HTTPClient)(nil)
	_ Presence = (*HTTPClient)(nil)
)
