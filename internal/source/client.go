// Package source implements the client for the upstream finance API.
//
// Every endpoint is a POST with a JSON body carrying the app credentials
// plus endpoint-specific parameters. Responses arrive in two dialects
// (success/message/result and code/info/data); normalization happens in
// one place so callers only ever see Response.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "finflow/pkg/logx"
)

// ErrAPIFailure is returned when the upstream accepted the request but
// reported a business-level failure. Callers can retry; the scheduler's
// backoff applies.
var ErrAPIFailure = errors.New("source: api reported failure")

const defaultTimeout = 30 * time.Second

// Config configures the client. RatePerSec of 0 disables throttling.
type Config struct {
	BaseURL   string
	AppKey    string
	AppSecret string

	RatePerSec float64
	Burst      int
	Timeout    time.Duration
}

// Response is the normalized upstream envelope.
type Response struct {
	Success   bool             `json:"success"`
	Message   string           `json:"message"`
	Code      int              `json:"code"`
	Result    []map[string]any `json:"result"`
	Timestamp int64            `json:"timestamp"`
}

// Client talks to the finance API. Safe for concurrent use.
type Client struct {
	base      string
	appKey    string
	appSecret string

	hc      *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func NewClient(cfg Config, log logx.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("source: base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base:      base,
		appKey:    cfg.AppKey,
		appSecret: cfg.AppSecret,
		hc:        &http.Client{Timeout: timeout},
		limiter:   lim,
		log:       log,
	}, nil
}

// rawEnvelope accepts both upstream dialects before normalization.
type rawEnvelope struct {
	Success   *bool            `json:"success"`
	Message   string           `json:"message"`
	Info      string           `json:"info"`
	Code      int              `json:"code"`
	Result    []map[string]any `json:"result"`
	Data      []map[string]any `json:"data"`
	Timestamp int64            `json:"timestamp"`
}

func (r rawEnvelope) normalize() Response {
	out := Response{
		Code:      r.Code,
		Message:   r.Message,
		Result:    r.Result,
		Timestamp: r.Timestamp,
	}
	if out.Message == "" {
		out.Message = r.Info
	}
	if out.Result == nil {
		out.Result = r.Data
	}
	if r.Success != nil {
		out.Success = *r.Success
	} else {
		out.Success = r.Code == 200
	}
	return out
}

func (c *Client) call(ctx context.Context, endpoint string, params map[string]string) ([]map[string]any, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body := map[string]string{
		"appkey":    c.appKey,
		"appSecret": c.appSecret,
	}
	for k, v := range params {
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	c.log.Debug("source request", logx.String("endpoint", endpoint))
	resp, err := c.hc.Do(req)
	if err != nil {
		c.log.Warn("source request failed", logx.String("endpoint", endpoint), logx.Err(err))
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("source: %s: unexpected status %d", endpoint, resp.StatusCode)
	}

	var raw rawEnvelope
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&raw); err != nil {
		c.log.Warn("source decode failed", logx.String("endpoint", endpoint), logx.Err(err))
		return nil, fmt.Errorf("source: %s: decode: %w", endpoint, err)
	}

	env := raw.normalize()
	if !env.Success {
		c.log.Warn("source api failure",
			logx.String("endpoint", endpoint),
			logx.Int("code", env.Code),
			logx.String("message", env.Message),
		)
		return nil, fmt.Errorf("%w: %s: %s", ErrAPIFailure, endpoint, env.Message)
	}

	c.log.Debug("source response",
		logx.String("endpoint", endpoint),
		logx.Int("rows", len(env.Result)),
	)
	return env.Result, nil
}

// AccountStructure fetches the chart of accounts for a fiscal year.
func (c *Client) AccountStructure(ctx context.Context, year, companyCode string) ([]map[string]any, error) {
	return c.call(ctx, "/Cw6Api/GetAcc", map[string]string{
		"year":        year,
		"companyCode": companyCode,
	})
}

// SubjectDimension fetches subject-to-dimension mappings for a fiscal year.
func (c *Client) SubjectDimension(ctx context.Context, year, companyCode string) ([]map[string]any, error) {
	return c.call(ctx, "/Cw6Api/Subject_Dimension_Relationship", map[string]string{
		"year":        year,
		"companyCode": companyCode,
	})
}

// CustomerVendorDict fetches the customer/vendor dictionary.
func (c *Client) CustomerVendorDict(ctx context.Context, companyCode string) ([]map[string]any, error) {
	return c.call(ctx, "/Cw6Api/Get_PC", map[string]string{
		"companyCode": companyCode,
	})
}

// VoucherList fetches the voucher index for one accounting period.
func (c *Client) VoucherList(ctx context.Context, companyCode, periodCode string) ([]map[string]any, error) {
	return c.call(ctx, "/Cw6Api/Get_Voucher", map[string]string{
		"companyCode": companyCode,
		"periodCode":  periodCode,
	})
}

// VoucherDetail fetches voucher line items for one accounting period.
func (c *Client) VoucherDetail(ctx context.Context, companyCode, periodCode string) ([]map[string]any, error) {
	return c.call(ctx, "/Cw6Api/Get_Voucher_Detail", map[string]string{
		"companyCode": companyCode,
		"periodCode":  periodCode,
	})
}

// VoucherDimDetail fetches dimension-level voucher details for one period.
func (c *Client) VoucherDimDetail(ctx context.Context, companyCode, periodCode string) ([]map[string]any, error) {
	return c.call(ctx, "/Cw6Api/Get_Voucher_Dim_Detail", map[string]string{
		"companyCode": companyCode,
		"periodCode":  periodCode,
	})
}

// Balance fetches account balances for one accounting period.
func (c *Client) Balance(ctx context.Context, companyCode, periodCode string) ([]map[string]any, error) {
	return c.call(ctx, "/Cw6Api/Get_Balance", map[string]string{
		"companyCode": companyCode,
		"periodCode":  periodCode,
	})
}

// AuxBalance fetches auxiliary balances for one accounting period.
func (c *Client) AuxBalance(ctx context.Context, companyCode, periodCode string) ([]map[string]any, error) {
	return c.call(ctx, "/Cw6Api/Get_Aux_Balance", map[string]string{
		"companyCode": companyCode,
		"periodCode":  periodCode,
	})
}
