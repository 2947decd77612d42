package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"paper-trader/internal/errors"
	"paper-trader/internal/logging"
	"paper-trader/internal/resilience"
)

// DefaultDhanBaseURL is the production REST endpoint.
const DefaultDhanBaseURL = "https://api.dhan.co/v2"

const (
	pathProfile           = "/profile"
	pathFunds             = "/fund/limits"
	pathOptionChain       = "/optionchain"
	pathOptionChainExpiry = "/optionchain/expirylist"
)

// The option chain endpoints accept one request every three seconds.
const optionChainInterval = 3 * time.Second

// DhanClient implements the Broker interface over the Dhan v2 REST API.
// Requests stop for a cool-down after repeated transport or server
// failures.
type DhanClient struct {
	baseURL      string
	creds        Credentials
	httpClient   *http.Client
	breaker      *resilience.CircuitBreaker
	chainLimiter *resilience.RateLimiter
	logger       zerolog.Logger
}

// DhanConfig holds configuration for the Dhan REST client.
type DhanConfig struct {
	BaseURL       string
	ClientID      string
	AccessToken   string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Breaker       resilience.CircuitBreakerConfig
	// ChainInterval overrides the option chain rate limit. Negative disables it.
	ChainInterval time.Duration
	Logger        zerolog.Logger
}

// NewDhanClient creates a new Dhan REST client.
func NewDhanClient(cfg DhanConfig) *DhanClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultDhanBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	breakerCfg := cfg.Breaker
	if breakerCfg.FailureThreshold == 0 {
		breakerCfg = resilience.DefaultCircuitBreakerConfig()
	}
	if breakerCfg.Trips == nil {
		breakerCfg.Trips = isServiceFailure
	}

	interval := cfg.ChainInterval
	if interval == 0 {
		interval = optionChainInterval
	}

	return &DhanClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds: Credentials{
			ClientID:    strings.TrimSpace(cfg.ClientID),
			AccessToken: strings.TrimSpace(cfg.AccessToken),
		},
		httpClient:   httpClient,
		breaker:      resilience.NewCircuitBreaker("dhan", breakerCfg),
		chainLimiter: resilience.NewRateLimiter(interval, 1),
		logger:       logging.WithComponent(cfg.Logger, "dhan"),
	}
}

// isServiceFailure reports whether err means the API is unreachable or
// failing, as opposed to rejecting this particular request.
func isServiceFailure(err error) bool {
	if errors.Is(err, errors.ErrConnectionFailed) {
		return true
	}
	var be *errors.BrokerError
	return errors.As(err, &be) && strings.HasPrefix(be.Code, "5")
}

// GetProfile returns the client profile. It doubles as a session check.
func (c *DhanClient) GetProfile(ctx context.Context) (*Profile, error) {
	var profile Profile
	if err := c.do(ctx, http.MethodGet, pathProfile, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// ValidateSession reports whether the configured token is accepted.
func (c *DhanClient) ValidateSession(ctx context.Context) bool {
	if _, err := c.GetProfile(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Session validation failed")
		return false
	}
	return true
}

// GetFunds returns the live account fund limits.
func (c *DhanClient) GetFunds(ctx context.Context) (*FundLimit, error) {
	var funds FundLimit
	if err := c.do(ctx, http.MethodGet, pathFunds, nil, &funds); err != nil {
		return nil, err
	}
	return &funds, nil
}

// GetOptionChainExpiry lists the expiries available for an underlying.
func (c *DhanClient) GetOptionChainExpiry(ctx context.Context, underlying UnderlyingRef) ([]string, error) {
	var resp struct {
		Data   []string `json:"data"`
		Status string   `json:"status"`
	}
	if err := c.chainLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := c.do(ctx, http.MethodPost, pathOptionChainExpiry, underlying, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetOptionChain fetches the chain for an underlying and expiry. The chain
// endpoint takes camelCase keys unlike the expiry list.
func (c *DhanClient) GetOptionChain(ctx context.Context, underlying UnderlyingRef, expiry string) (*OptionChain, error) {
	req := struct {
		UnderlyingScrip int    `json:"underlyingScrip"`
		UnderlyingSeg   string `json:"underlyingSeg"`
		Expiry          string `json:"expiry"`
	}{underlying.SecurityID, underlying.Segment, expiry}

	var resp struct {
		Data   OptionChain `json:"data"`
		Status string      `json:"status"`
	}
	if err := c.chainLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := c.do(ctx, http.MethodPost, pathOptionChain, req, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

func (c *DhanClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	err := c.breaker.Execute(func() error {
		return c.roundTrip(ctx, method, path, body, out)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return errors.NewBrokerError("unavailable", "too many recent failures, retry later", err)
	}
	return err
}

func (c *DhanClient) roundTrip(ctx context.Context, method, path string, body, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		logging.LogAPICall(c.logger, method, path, time.Since(start), err)
	}()

	var reader io.Reader
	if body != nil {
		payload, mErr := json.Marshal(body)
		if mErr != nil {
			return errors.Wrap(mErr, "failed to encode request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("access-token", c.creds.AccessToken)
	req.Header.Set("client-id", c.creds.ClientID)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.NewBrokerError("transport", "request failed", fmt.Errorf("%w: %v", errors.ErrConnectionFailed, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var cause error
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			cause = errors.ErrInvalidCredentials
		}
		return errors.NewBrokerError(fmt.Sprintf("%d", resp.StatusCode), strings.TrimSpace(string(data)), cause)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}

// Ensure DhanClient implements Broker interface
var _ Broker = (*DhanClient)(nil)
