package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/angelmondragon/backoffice-relay/pkg/config"
	"github.com/angelmondragon/backoffice-relay/pkg/logger"
)

const maxDrainBytes = 64 << 10

var strippedHeaders = map[string]struct{}{
	"authorization": {},
	"cookie":        {},
	"set-cookie":    {},
}

var errRetryableDelivery = errors.New("retryable webhook delivery")

// WebhookOptions configures a Webhook. The CSV fields use the same syntax as
// the RELAY_WEBHOOK_* variables.
type WebhookOptions struct {
	URL             string
	Timeout         time.Duration
	SuccessCodes    string
	Headers         string
	DomainAllowlist string

	BreakerMaxRequests uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration
	BreakerFailures    uint32

	// Client overrides the HTTP client. Its redirect policy is replaced.
	Client *http.Client
}

func WebhookOptionsFromConfig(cfg config.WebhookConfig) WebhookOptions {
	return WebhookOptions{
		URL:                cfg.URL,
		Timeout:            cfg.Timeout,
		SuccessCodes:       cfg.SuccessCodes,
		Headers:            cfg.HeadersAllowlist,
		DomainAllowlist:    cfg.DomainAllowlist,
		BreakerMaxRequests: cfg.BreakerMaxRequests,
		BreakerInterval:    cfg.BreakerInterval,
		BreakerTimeout:     cfg.BreakerTimeout,
		BreakerFailures:    cfg.BreakerFailures,
	}
}

// Webhook POSTs the payload to a fixed https endpoint.
type Webhook struct {
	target  *url.URL
	timeout time.Duration
	success statusSet
	headers http.Header
	domains []string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logg    *logger.Logger
}

func NewWebhook(opts WebhookOptions, logg *logger.Logger) (*Webhook, error) {
	var problems []string
	raw := strings.TrimSpace(opts.URL)
	if raw == "" {
		problems = append(problems, config.EnvWebhookURL+" is required for the webhook transport")
	}
	target, err := url.Parse(raw)
	if err != nil {
		problems = append(problems, fmt.Sprintf("%s is not a valid url", config.EnvWebhookURL))
	}
	codes, err := parseStatusSet(opts.SuccessCodes)
	if err != nil {
		problems = append(problems, fmt.Sprintf("%s: %v", config.EnvWebhookSuccessCodes, err))
	}
	headers, err := parseHeaders(opts.Headers)
	if err != nil {
		problems = append(problems, fmt.Sprintf("%s: %v", config.EnvWebhookHeadersAllowlist, err))
	}
	if len(problems) > 0 {
		return nil, &config.ConfigError{Problems: problems}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	client := &http.Client{}
	if opts.Client != nil {
		copied := *opts.Client
		client = &copied
	}
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	failures := opts.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "webhook",
		MaxRequests: opts.BreakerMaxRequests,
		Interval:    opts.BreakerInterval,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logg == nil {
				return
			}
			ctx := logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			logg.Warn(ctx, "webhook circuit breaker state changed")
		},
	})

	return &Webhook{
		target:  target,
		timeout: timeout,
		success: codes,
		headers: headers,
		domains: parseDomains(opts.DomainAllowlist),
		client:  client,
		breaker: breaker,
		logg:    logg,
	}, nil
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Close() error {
	w.client.CloseIdleConnections()
	return nil
}

func (w *Webhook) Deliver(ctx context.Context, event Event) Result {
	if !strings.EqualFold(w.target.Scheme, "https") {
		return permanent(0, "unsupported_scheme")
	}
	if !w.hostAllowed(w.target.Hostname()) {
		return permanent(0, "forbidden_address")
	}

	out, err := w.breaker.Execute(func() (interface{}, error) {
		res := w.send(ctx, event)
		if res.Outcome == OutcomeRetryable {
			return res, errRetryableDelivery
		}
		return res, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return retryable(0, "circuit_open")
	}
	res, ok := out.(Result)
	if !ok {
		return retryable(0, "unknown_error")
	}
	return res
}

func (w *Webhook) send(ctx context.Context, event Event) Result {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.target.String(), bytes.NewReader(event.Payload))
	if err != nil {
		return permanent(0, "invalid_request")
	}
	for k, values := range w.headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Trace-ID", event.TraceID)
	req.Header.Set("X-Tenant-ID", event.TenantID.String())
	req.Header.Set("X-Event-Type", event.EventType)
	if event.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", event.IdempotencyKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return retryable(0, "timeout")
		}
		return retryable(0, "network_error")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	return w.classify(resp.StatusCode)
}

func (w *Webhook) classify(code int) Result {
	detail := "http_" + strconv.Itoa(code)
	switch {
	case w.success.contains(code):
		return success(code)
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return retryable(code, detail)
	default:
		return permanent(code, detail)
	}
}

func (w *Webhook) hostAllowed(host string) bool {
	if len(w.domains) == 0 {
		return true
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, d := range w.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type statusRange struct{ lo, hi int }

type statusSet []statusRange

func (s statusSet) contains(code int) bool {
	for _, r := range s {
		if code >= r.lo && code <= r.hi {
			return true
		}
	}
	return false
}

// parseStatusSet reads "200-299,304". Empty means 2xx.
func parseStatusSet(raw string) (statusSet, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return statusSet{{200, 299}}, nil
	}
	var set statusSet
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		if !isRange {
			hi = lo
		}
		l, err := parseCode(lo)
		if err != nil {
			return nil, err
		}
		h, err := parseCode(hi)
		if err != nil {
			return nil, err
		}
		if l > h {
			return nil, fmt.Errorf("range %q is reversed", part)
		}
		set = append(set, statusRange{l, h})
	}
	if len(set) == 0 {
		return nil, errors.New("no status codes given")
	}
	return set, nil
}

func parseCode(raw string) (int, error) {
	code, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || code < 100 || code > 599 {
		return 0, fmt.Errorf("%q is not an http status code", raw)
	}
	return code, nil
}

// parseHeaders reads "k=v,k2=v2" and drops credential headers.
func parseHeaders(raw string) (http.Header, error) {
	headers := http.Header{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("header entry %q must be key=value", part)
		}
		if _, stripped := strippedHeaders[strings.ToLower(k)]; stripped {
			continue
		}
		headers.Add(k, strings.TrimSpace(v))
	}
	return headers, nil
}

func parseDomains(raw string) []string {
	var out []string
	for _, d := range strings.Split(raw, ",") {
		d = strings.ToLower(strings.Trim(strings.TrimSpace(d), "."))
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}
