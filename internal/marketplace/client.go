// Package marketplace implements the signed, rate-limited marketplace HTTP
// client behind core.IMarketplace.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"dmarket_sync/internal/core"
	"dmarket_sync/internal/signer"
	apperrors "dmarket_sync/pkg/errors"
	"dmarket_sync/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	pathListTargets   = "/marketplace-api/v1/user-targets"
	pathDeleteTargets = "/marketplace-api/v1/user-targets/delete"
	pathCreateTargets = "/marketplace-api/v1/user-targets/create"
	pathOrdersByTitle = "/marketplace-api/v1/targets-by-title"
)

var minorUnitsPerMajor = decimal.NewFromInt(100)

// Options tunes the transport. Zero values fall back to the marketplace's
// conservative defaults.
type Options struct {
	RequestsPerSecond float64
	MaxRetries        int
	Timeout           time.Duration
	// RetryBaseDelay is the first 429 backoff step. Production keeps the
	// one-second default; tests shrink it.
	RetryBaseDelay time.Duration
}

func (o *Options) applyDefaults() {
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 5
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 5
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = time.Second
	}
}

// Client is the signed marketplace HTTP client for one instance's account.
// Every call is throttled, signed, and retried with exponential jittered
// backoff on rate-limit rejections only; other failures surface immediately.
type Client struct {
	httpClient *http.Client
	baseURL    string
	gameID     string
	currency   string
	signer     *signer.Signer
	limiter    *rate.Limiter
	pipeline   failsafe.Executor[[]byte]
	logger     core.ILogger

	tracer      trace.Tracer
	reqCounter  metric.Int64Counter
	errCounter  metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// New builds a client from an instance's credentials. Malformed key material
// is fatal: the instance cannot run.
func New(cfg core.InstanceConfig, opts Options, logger core.ILogger) (*Client, error) {
	opts.applyDefaults()

	sgn, err := signer.New(cfg.PublicKey, cfg.SecretKey.Reveal())
	if err != nil {
		return nil, err
	}

	retryPolicy := retrypolicy.NewBuilder[[]byte]().
		HandleIf(func(_ []byte, err error) bool {
			return errors.Is(err, apperrors.ErrRateLimited)
		}).
		WithBackoff(opts.RetryBaseDelay, 32*opts.RetryBaseDelay).
		WithJitter(opts.RetryBaseDelay / 2).
		WithMaxRetries(opts.MaxRetries).
		Build()

	tracer := telemetry.GetTracer("marketplace-client")
	meter := telemetry.GetMeter("marketplace-client")

	reqCounter, _ := meter.Int64Counter("marketplace_requests_total",
		metric.WithDescription("Total number of marketplace requests"))
	errCounter, _ := meter.Int64Counter("marketplace_errors_total",
		metric.WithDescription("Total number of failed marketplace requests"))
	latencyHist, _ := meter.Float64Histogram("marketplace_request_duration_seconds",
		metric.WithDescription("Marketplace request latency in seconds"))

	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		baseURL:    cfg.APIURL,
		gameID:     cfg.GameID,
		currency:   cfg.Currency,
		signer:     sgn,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		pipeline:   failsafe.With[[]byte](retryPolicy),
		logger:     logger.WithField("component", "marketplace_client"),

		tracer:      tracer,
		reqCounter:  reqCounter,
		errCounter:  errCounter,
		latencyHist: latencyHist,
	}, nil
}

// ListActiveTargets fetches the account's active standing buy orders.
func (c *Client) ListActiveTargets(ctx context.Context) ([]core.Target, error) {
	path := fmt.Sprintf("%s?GameID=%s&BasicFilters.Status=TargetStatusActive",
		pathListTargets, url.QueryEscape(c.gameID))

	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp listTargetsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &apperrors.RequestError{Method: http.MethodGet, Path: pathListTargets, Err: err}
	}

	targets := make([]core.Target, 0, len(resp.Items))
	for _, item := range resp.Items {
		targets = append(targets, mapTarget(item))
	}
	return targets, nil
}

// DeleteTarget removes one standing buy order. Safe to retry.
func (c *Client) DeleteTarget(ctx context.Context, targetID string) error {
	body := deleteTargetsRequest{Targets: []deleteTargetRef{{TargetID: targetID}}}
	_, err := c.do(ctx, http.MethodPost, pathDeleteTargets, body)
	return err
}

// CreateTarget publishes a new standing buy order. Only the recognized
// attribute keys are forwarded from the request's attribute list.
func (c *Client) CreateTarget(ctx context.Context, req core.CreateTargetRequest) error {
	target := createTargetBody{
		Amount: req.Amount,
		Title:  req.Title,
		Price: createPrice{
			Currency: c.currency,
			Amount:   json.Number(req.Price.StringFixed(2)),
		},
	}

	attrs := make(map[string]string)
	for _, kv := range req.Attributes {
		switch kv.Name {
		case attrPaintSeed, attrPhase, attrFloatPart:
			attrs[kv.Name] = kv.Value
		}
	}
	if len(attrs) > 0 {
		target.Attrs = attrs
	}

	body := createTargetsRequest{GameID: c.gameID, Targets: []createTargetBody{target}}
	_, err := c.do(ctx, http.MethodPost, pathCreateTargets, body)
	return err
}

// FetchCompetingOrders returns the competing orders for a title, prices
// converted from minor units.
func (c *Client) FetchCompetingOrders(ctx context.Context, title string) ([]core.CompetingOrder, error) {
	path := fmt.Sprintf("%s/%s/%s", pathOrdersByTitle, url.PathEscape(c.gameID), url.PathEscape(title))

	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp ordersResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &apperrors.RequestError{Method: http.MethodGet, Path: pathOrdersByTitle, Err: err}
	}

	orders := make([]core.CompetingOrder, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		price, err := decimal.NewFromString(string(o.Price))
		if err != nil {
			c.logger.Warn("Skipping order with unparseable price", "title", title, "price", string(o.Price))
			continue
		}
		orders = append(orders, core.CompetingOrder{
			Price: price.Div(minorUnitsPerMajor),
			Attributes: core.Attributes{
				Phase:       string(o.Attributes.Phase),
				FloatBucket: string(o.Attributes.FloatPartValue),
				PaintSeed:   string(o.Attributes.PaintSeed),
			},
		})
	}
	return orders, nil
}

// do serializes the body once so the signed bytes match the bytes sent, then
// runs throttle+sign+send through the rate-limit retry pipeline.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
	}

	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("%s %s", method, path),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", c.baseURL+path),
		),
	)
	defer span.End()

	start := time.Now()
	data, err := c.pipeline.GetWithExecution(func(exec failsafe.Execution[[]byte]) ([]byte, error) {
		return c.send(ctx, method, path, payload)
	})

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	)
	c.reqCounter.Add(ctx, 1, attrs)
	c.latencyHist.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		span.RecordError(err)
		c.errCounter.Add(ctx, 1, attrs)
		if errors.Is(err, apperrors.ErrRateLimited) {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrRetriesExhausted, err)
		}
		return nil, err
	}
	return data, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	// Throttle before each attempt so backoff retries also respect the rate.
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	hdrs := c.signer.Sign(method, path, payload)

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, &apperrors.RequestError{Method: method, Path: path, Err: err}
	}
	req.Header.Set(signer.HeaderAPIKey, hdrs.APIKey)
	req.Header.Set(signer.HeaderSignature, hdrs.Signature)
	req.Header.Set(signer.HeaderTimestamp, hdrs.Timestamp)
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("Sending marketplace request", "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &apperrors.RequestError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apperrors.RequestError{Method: method, Path: path, Status: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.logger.Warn("Rate limit hit, backing off", "method", method, "path", path)
		return nil, &apperrors.RequestError{Method: method, Path: path, Status: resp.StatusCode, Err: apperrors.ErrRateLimited}
	case resp.StatusCode >= 400:
		return nil, &apperrors.RequestError{
			Method: method,
			Path:   path,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s", truncateBody(data)),
		}
	}
	return data, nil
}

func mapTarget(item targetItem) core.Target {
	t := core.Target{
		ID:     item.TargetID,
		Title:  item.Title,
		Amount: string(item.Amount),
	}

	if price, err := decimal.NewFromString(string(item.Price.Amount)); err == nil {
		t.Price = price
	}

	for _, kv := range item.Attributes {
		t.RawAttributes = append(t.RawAttributes, core.AttributeKV{Name: kv.Name, Value: string(kv.Value)})
		switch kv.Name {
		case attrPhase:
			t.Attributes.Phase = string(kv.Value)
		case attrFloatPart:
			t.Attributes.FloatBucket = string(kv.Value)
		case attrPaintSeed:
			t.Attributes.PaintSeed = string(kv.Value)
		}
	}
	return t
}

func truncateBody(data []byte) string {
	const limit = 256
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}
