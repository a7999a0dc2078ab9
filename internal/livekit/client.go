// Package livekit is a twirp-over-HTTP JSON client for the LiveKit server
// API: the SIP participant operations the dialer and transfer tool use, and
// the room operations termination and sweeping use. Requests authenticate
// with short-lived HS256 access tokens minted per call.
package livekit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/outdial/internal/config"
	"github.com/haasonsaas/outdial/internal/observability"
)

const (
	roomService = "livekit.RoomService"
	sipService  = "livekit.SIP"
)

// Client talks to one LiveKit deployment. It is safe for concurrent use.
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	tokenTTL  time.Duration

	httpClient *http.Client
	log        *observability.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
}

// NewClient validates the gateway configuration and returns a client.
func NewClient(cfg config.LiveKitConfig, log *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("livekit: url is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("livekit: api key is required")
	}
	if cfg.APISecret == "" {
		return nil, errors.New("livekit: api secret is required")
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &Client{
		baseURL:    apiBaseURL(cfg.URL),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		tokenTTL:   ttl,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
		metrics:    metrics,
		tracer:     tracer,
	}, nil
}

// apiBaseURL normalizes the configured URL for the HTTP API. Deployments are
// usually configured with the room websocket URL (wss://...), which the
// server API shares over https.
func apiBaseURL(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	switch {
	case strings.HasPrefix(u, "wss://"):
		return "https://" + strings.TrimPrefix(u, "wss://")
	case strings.HasPrefix(u, "ws://"):
		return "http://" + strings.TrimPrefix(u, "ws://")
	}
	return u
}

// serverToken mints the per-request admin token for the server API.
func (c *Client) serverToken() (string, error) {
	return AccessToken(c.apiKey, c.apiSecret, "", c.tokenTTL,
		&VideoGrant{RoomCreate: true, RoomList: true, RoomAdmin: true},
		&SIPGrant{Admin: true})
}

// twirp posts one request to service/method and decodes the JSON response
// into out (skipped when out is nil). Non-200 replies decode into *Error.
func (c *Client) twirp(ctx context.Context, service, method string, in, out any) error {
	ctx, span := c.tracer.TraceGatewayRequest(ctx, method)
	defer span.End()

	start := time.Now()
	err := c.doTwirp(ctx, service, method, in, out)
	status := "success"
	if err != nil {
		status = "error"
		c.tracer.RecordError(span, err)
	}
	c.metrics.RecordGatewayRequest(method, status, time.Since(start).Seconds())
	return err
}

func (c *Client) doTwirp(ctx context.Context, service, method string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("livekit: encode %s request: %w", method, err)
	}

	token, err := c.serverToken()
	if err != nil {
		return fmt.Errorf("livekit: mint access token: %w", err)
	}

	reqURL := fmt.Sprintf("%s/twirp/%s/%s", c.baseURL, service, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("livekit: %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, (1<<20)+1))
	if err != nil {
		return fmt.Errorf("livekit: read %s response: %w", method, err)
	}
	if len(body) > 1<<20 {
		return fmt.Errorf("livekit: %s response too large (%d bytes)", method, len(body))
	}

	if resp.StatusCode != http.StatusOK {
		return decodeTwirpError(resp.StatusCode, body)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("livekit: decode %s response: %w", method, err)
		}
	}
	return nil
}

// decodeTwirpError turns an error payload into *Error, falling back to the
// raw body when the payload is not twirp-shaped (proxies, load balancers).
func decodeTwirpError(status int, body []byte) error {
	twerr := &Error{HTTPStatus: status}
	if err := json.Unmarshal(body, twerr); err != nil || twerr.Code == "" {
		twerr.Code = CodeInternal
		twerr.Msg = strings.TrimSpace(string(body))
	}
	return twerr
}
