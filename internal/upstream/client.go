// Package upstream talks to the main stock-market API on behalf of the
// worker: client-credentials token, portfolio, price history and the
// completion callback.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/tebi01/stock-market-e18-jobmaster/internal/entity"
)

// UnavailableError reports a failed round trip to an upstream service.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("upstream %s unavailable: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

type Config struct {
	BaseURL string

	TokenURL     string
	ClientID     string
	ClientSecret string
	Audience     string

	FetchTimeout    time.Duration
	CallbackTimeout time.Duration
	HistoryDays     int
}

// CallbackPayload is what the main API stores against the user once a
// job completes.
type CallbackPayload struct {
	JobID       string                   `json:"jobId"`
	UserEmail   string                   `json:"userEmail"`
	Estimations []entity.StockEstimation `json:"estimations"`
	Summary     entity.Summary           `json:"summary"`
}

type Client struct {
	baseURL string
	http    *http.Client
	tokens  oauth2.TokenSource
	cfg     Config
}

// New builds a client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.CallbackTimeout <= 0 {
		cfg.CallbackTimeout = 5 * time.Second
	}
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = 30
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if cfg.Audience != "" {
		cc.EndpointParams = url.Values{"audience": {cfg.Audience}}
	}

	// the token endpoint gets the fetch timeout too; TokenSource has no per-call ctx
	tokenHTTP := &http.Client{Transport: httpClient.Transport, Timeout: cfg.FetchTimeout}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, tokenHTTP)

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		tokens:  cc.TokenSource(tokenCtx),
		cfg:     cfg,
	}
}

// Token returns a bearer token, reusing the cached one until it expires.
func (c *Client) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return "", &UnavailableError{Op: "auth token", Err: err}
	}
	if tok.AccessToken == "" {
		return "", &UnavailableError{Op: "auth token", Err: errors.New("empty access token")}
	}
	return tok.AccessToken, nil
}

func (c *Client) Portfolio(ctx context.Context, token, userEmail string) ([]entity.Holding, error) {
	var holdings []entity.Holding
	path := "/api/user/" + url.PathEscape(userEmail) + "/portfolio"
	if err := c.getJSON(ctx, "portfolio", token, path, &holdings); err != nil {
		return nil, err
	}
	return holdings, nil
}

func (c *Client) PriceHistory(ctx context.Context, token, symbol string) ([]entity.PriceSample, error) {
	var samples []entity.PriceSample
	path := "/api/stocks/" + url.PathEscape(symbol) + "/history?days=" + strconv.Itoa(c.cfg.HistoryDays)
	if err := c.getJSON(ctx, "price history", token, path, &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

func (c *Client) Callback(ctx context.Context, token string, payload CallbackPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal callback payload")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallbackTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/estimations/callback", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build callback request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return &UnavailableError{Op: "callback", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return &UnavailableError{Op: "callback", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, op, token, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrapf(err, "build %s request", op)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return &UnavailableError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &UnavailableError{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s", op)
	}
	return nil
}
