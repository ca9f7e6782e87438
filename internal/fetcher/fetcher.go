package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"qubic-netstats/internal/eventlog"
	"qubic-netstats/internal/storage"
	"qubic-netstats/internal/version"
)

// ErrUpstreamUnavailable marks a single source that contributed nothing this cycle.
var ErrUpstreamUnavailable = errors.New("fetcher: upstream unavailable")

// Source names, also used as metric labels.
const (
	SourceTickOverview = "tick_overview"
	SourceScore        = "score"
	SourceExchangeRate = "exchange_rate"
	SourceMinerControl = "miner_control"
	SourceApool        = "apool"
	SourceSolutions    = "solutions"
	SourceMinerlab     = "minerlab"
	SourceProposal     = "proposal"
)

const maxErrorBody = 2048

// Sources fetches every upstream payload the snapshot needs. A nil result means absent.
type Sources interface {
	TickOverview(ctx context.Context) *TickOverview
	Score(ctx context.Context) *Score
	ExchangeRates(ctx context.Context) *ExchangeRates
	MinerControl(ctx context.Context) *MinerControl
	Apool(ctx context.Context) *Apool
	Solutions(ctx context.Context) *Solutions
	Minerlab(ctx context.Context) []MinerlabStats
	Proposals(ctx context.Context) []Proposal
}

// Options parameterise the upstream client.
type Options struct {
	QubicBaseURL     string
	ApoolBaseURL     string
	SolutionsBaseURL string
	MinerlabBaseURL  string
	ExchangeRateURL  string
	Timeout          time.Duration
	UserAgent        string
	// OnFailure is invoked with the source name whenever a fetch degrades to absent.
	OnFailure func(source string)
}

// Client talks to the Qubic, pool and exchange-rate APIs.
type Client struct {
	opts   Options
	http   *resty.Client
	events eventlog.Recorder
	logger zerolog.Logger

	tokenMu sync.RWMutex
	token   string
}

// New constructs an upstream client.
func New(opts Options, events eventlog.Recorder, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = version.UserAgent()
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", ua)
	client.JSONMarshal = sonic.Marshal
	client.JSONUnmarshal = sonic.Unmarshal

	opts.QubicBaseURL = strings.TrimRight(opts.QubicBaseURL, "/")
	opts.ApoolBaseURL = strings.TrimRight(opts.ApoolBaseURL, "/")
	opts.SolutionsBaseURL = strings.TrimRight(opts.SolutionsBaseURL, "/")
	opts.MinerlabBaseURL = strings.TrimRight(opts.MinerlabBaseURL, "/")

	return &Client{
		opts:   opts,
		http:   client,
		events: events,
		logger: logger.With().Str("component", "upstream_fetcher").Logger(),
	}
}

// SetToken sets the bearer token used for Qubic API calls.
func (c *Client) SetToken(token string) {
	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
}

func (c *Client) qubicHeaders() map[string]string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	if c.token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.token}
}

// TickOverview fetches the current epoch and price.
func (c *Client) TickOverview(ctx context.Context) *TickOverview {
	var out TickOverview
	if !c.get(ctx, SourceTickOverview, c.opts.QubicBaseURL+"/Network/TickOverview", nil, c.qubicHeaders(), &out) {
		return nil
	}
	return &out
}

// Score fetches the network score table.
func (c *Client) Score(ctx context.Context) *Score {
	var out Score
	if !c.get(ctx, SourceScore, c.opts.QubicBaseURL+"/Score/Get", nil, c.qubicHeaders(), &out) {
		return nil
	}
	return &out
}

// ExchangeRates fetches USD exchange rates.
func (c *Client) ExchangeRates(ctx context.Context) *ExchangeRates {
	var out ExchangeRates
	if !c.get(ctx, SourceExchangeRate, c.opts.ExchangeRateURL, nil, nil, &out) {
		return nil
	}
	return &out
}

// MinerControl fetches the idle flag.
func (c *Client) MinerControl(ctx context.Context) *MinerControl {
	var out MinerControl
	if !c.get(ctx, SourceMinerControl, c.opts.SolutionsBaseURL+"/miner_control", nil, nil, &out) {
		return nil
	}
	return &out
}

// Apool fetches Apool pool info.
func (c *Client) Apool(ctx context.Context) *Apool {
	var out Apool
	params := map[string]string{"currency": "qubic"}
	if !c.get(ctx, SourceApool, c.opts.ApoolBaseURL+"/index/pool/info", params, nil, &out) {
		return nil
	}
	return &out
}

// Solutions fetches Solutions pool info.
func (c *Client) Solutions(ctx context.Context) *Solutions {
	var out Solutions
	if !c.get(ctx, SourceSolutions, c.opts.SolutionsBaseURL+"/info", nil, nil, &out) {
		return nil
	}
	return &out
}

// Minerlab fetches Minerlab pool stats.
func (c *Client) Minerlab(ctx context.Context) []MinerlabStats {
	var out []MinerlabStats
	params := map[string]string{"select": "*"}
	if !c.get(ctx, SourceMinerlab, c.opts.MinerlabBaseURL+"/pool_stats", params, nil, &out) {
		return nil
	}
	return out
}

// Proposals fetches governance proposals, newest first.
func (c *Client) Proposals(ctx context.Context) []Proposal {
	var out []Proposal
	if !c.get(ctx, SourceProposal, c.opts.QubicBaseURL+"/Voting/Proposal", nil, c.qubicHeaders(), &out) {
		return nil
	}
	return out
}

// get never returns an error: failures are recorded and reported as false.
func (c *Client) get(ctx context.Context, source, url string, params, headers map[string]string, out any) bool {
	req := c.http.R().SetContext(ctx)
	if len(params) > 0 {
		req.SetQueryParams(params)
	}
	if len(headers) > 0 {
		req.SetHeaders(headers)
	}

	resp, err := req.Get(url)
	if err != nil {
		c.fail(ctx, source, url, fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, source, err), nil, "")
		return false
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		status := resp.StatusCode()
		c.fail(ctx, source, url, fmt.Errorf("%w: %s: status %d", ErrUpstreamUnavailable, source, status), &status, resp.String())
		return false
	}
	if err := sonic.Unmarshal(resp.Body(), out); err != nil {
		status := resp.StatusCode()
		c.fail(ctx, source, url, fmt.Errorf("%w: %s: decode: %v", ErrUpstreamUnavailable, source, err), &status, resp.String())
		return false
	}
	return true
}

func (c *Client) fail(ctx context.Context, source, url string, err error, status *int, body string) {
	body = truncateBody(body, maxErrorBody)
	data := map[string]any{
		"url":           url,
		"method":        http.MethodGet,
		"status_code":   nil,
		"response_text": nil,
	}
	if status != nil {
		data["status_code"] = *status
	}
	if body != "" {
		data["response_text"] = body
	}
	if c.events != nil {
		c.events.Record(ctx, storage.EventError, fmt.Sprintf("Error in request to %s: %v", url, err), data)
	} else {
		c.logger.Error().Err(err).Str("source", source).Msg("upstream request failed")
	}
	if c.opts.OnFailure != nil {
		c.opts.OnFailure(source)
	}
}

// truncateBody caps s at limit bytes without splitting a rune and drops invalid sequences.
func truncateBody(s string, limit int) string {
	if len(s) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return strings.ToValidUTF8(s, "")
}

var _ Sources = (*Client)(nil)
