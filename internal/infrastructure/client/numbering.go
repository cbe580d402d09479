// Package client calls a remote ncfpos API. Transport problems are reported as
// TRANSPORT_ERROR results so callers can tell them apart from domain refusals;
// nothing here touches local order state.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"

	"ncfpos/internal/core/apperror"
	"ncfpos/internal/domain/auth"
	"ncfpos/internal/domain/numbering"
	"ncfpos/pkg/logger"
)

const (
	headerIdempotencyKey = "X-Idempotency-Key"
	maxResponseBytes     = 1 << 20
	tokenRefreshMargin   = 30 * time.Second
)

// Config configures NumberingClient.
type Config struct {
	BaseURL    string
	TerminalID string
	Secret     string
	Timeout    time.Duration
	Breaker    BreakerConfig
}

// NumberingClient requests NCFs from a remote numbering service.
type NumberingClient struct {
	baseURL    string
	terminalID string
	secret     string
	http       *http.Client
	breaker    *Breaker

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewNumberingClient creates a client. Responses may be gzip or zstd encoded.
func NewNumberingClient(cfg Config) *NumberingClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &NumberingClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		terminalID: cfg.TerminalID,
		secret:     cfg.Secret,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: gzhttp.Transport(http.DefaultTransport),
		},
		breaker: NewBreaker(cfg.Breaker),
	}
}

// BreakerState reports the circuit state, for health output.
func (c *NumberingClient) BreakerState() BreakerState {
	return c.breaker.State()
}

// GenerateNumber asks for the next NCF of typeID. Each call is a new request;
// use GenerateNumberWithKey to retry one safely.
func (c *NumberingClient) GenerateNumber(ctx context.Context, typeID int64) numbering.Result {
	return c.GenerateNumberWithKey(ctx, typeID, uuid.NewString())
}

// GenerateNumberWithKey sends the request with an idempotency key. Repeating a
// call with the same key returns the NCF issued the first time.
func (c *NumberingClient) GenerateNumberWithKey(ctx context.Context, typeID int64, key string) numbering.Result {
	var res numbering.Result
	err := c.breaker.Execute(func() error {
		var err error
		res, err = c.generate(ctx, typeID, key)
		return err
	})
	if err != nil {
		logger.Warn(ctx, "numbering service unreachable",
			"comprobante_type_id", typeID, "breaker", c.breaker.State().String(), "error", err)
		return numbering.ErrorFrom(typeID, apperror.NewTransport(err))
	}
	return res
}

// generate returns an error only for transport failures.
func (c *NumberingClient) generate(ctx context.Context, typeID int64, key string) (numbering.Result, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return numbering.Result{}, err
	}

	body, _ := json.Marshal(map[string]int64{"comprobanteTypeId": typeID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/ncf/generate", bytes.NewReader(body))
	if err != nil {
		return numbering.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(headerIdempotencyKey, key)

	resp, err := c.http.Do(req)
	if err != nil {
		return numbering.Result{}, fmt.Errorf("post generate: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return numbering.Result{}, fmt.Errorf("read generate response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.dropToken()
		return numbering.Result{}, fmt.Errorf("numbering service rejected the terminal token")
	case resp.StatusCode >= http.StatusInternalServerError:
		return numbering.Result{}, fmt.Errorf("numbering service answered %d", resp.StatusCode)
	}

	var res numbering.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return numbering.Result{}, fmt.Errorf("decode generate response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK && res.Error == nil {
		// Not a numbering answer, e.g. a validation error body.
		var e struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &e)
		if e.Code == "" {
			return numbering.Result{}, fmt.Errorf("numbering service answered %d", resp.StatusCode)
		}
		res = numbering.Result{TypeID: typeID, Error: &numbering.Error{Kind: e.Code, Message: e.Message}}
	}
	if res.TypeID == 0 {
		res.TypeID = typeID
	}
	return res, nil
}

func (c *NumberingClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Until(c.expiresAt) > tokenRefreshMargin {
		return c.token, nil
	}

	body, _ := json.Marshal(map[string]string{"terminalId": c.terminalID, "secret": c.secret})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/terminal", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("authenticate terminal: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("authenticate terminal: status %d", resp.StatusCode)
	}

	var tok auth.TokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("authenticate terminal: empty token")
	}
	c.token, c.expiresAt = tok.AccessToken, tok.ExpiresAt
	return c.token, nil
}

func (c *NumberingClient) dropToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}
