package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/backoffice-relay/pkg/config"
	"github.com/angelmondragon/backoffice-relay/pkg/db/models"
	"github.com/angelmondragon/backoffice-relay/pkg/logger"
	"github.com/angelmondragon/backoffice-relay/pkg/pubsub"
)

func testEvent() Event {
	return Event{
		ID:             uuid.MustParse("aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa"),
		TenantID:       uuid.MustParse("11111111-1111-4111-8111-111111111111"),
		EventType:      "invoice.approved",
		SchemaVersion:  "1.0",
		IdempotencyKey: "inv-1",
		TraceID:        "trace-1",
		Payload:        json.RawMessage(`{"invoice":"INV-1"}`),
		Attempt:        1,
	}
}

func newWebhook(t *testing.T, srv *httptest.Server, mutate func(*WebhookOptions)) *Webhook {
	t.Helper()
	opts := WebhookOptions{
		URL:             srv.URL,
		Timeout:         time.Second,
		BreakerFailures: 100,
		Client:          srv.Client(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	w, err := NewWebhook(opts, nil)
	require.NoError(t, err)
	return w
}

func TestWebhookSendsPayloadAndHeaders(t *testing.T) {
	var got *http.Request
	var body []byte
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		body = buf.Bytes()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	w := newWebhook(t, srv, func(o *WebhookOptions) {
		o.Headers = "X-Relay-Source=backoffice,Authorization=Bearer leaked,Cookie=a=b"
	})
	res := w.Deliver(context.Background(), testEvent())

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, http.StatusAccepted, res.StatusCode)
	require.NotNil(t, got)
	assert.JSONEq(t, `{"invoice":"INV-1"}`, string(body))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, "trace-1", got.Header.Get("X-Trace-ID"))
	assert.Equal(t, "11111111-1111-4111-8111-111111111111", got.Header.Get("X-Tenant-ID"))
	assert.Equal(t, "invoice.approved", got.Header.Get("X-Event-Type"))
	assert.Equal(t, "inv-1", got.Header.Get("Idempotency-Key"))
	assert.Equal(t, "backoffice", got.Header.Get("X-Relay-Source"))
	assert.Empty(t, got.Header.Get("Authorization"))
	assert.Empty(t, got.Header.Get("Cookie"))
}

func TestWebhookClassification(t *testing.T) {
	cases := []struct {
		status  int
		codes   string
		outcome Outcome
	}{
		{http.StatusOK, "", OutcomeSuccess},
		{http.StatusNoContent, "", OutcomeSuccess},
		{http.StatusBadRequest, "", OutcomePermanent},
		{http.StatusUnauthorized, "", OutcomePermanent},
		{http.StatusNotFound, "", OutcomePermanent},
		{http.StatusRequestTimeout, "", OutcomeRetryable},
		{http.StatusTooManyRequests, "", OutcomeRetryable},
		{http.StatusInternalServerError, "", OutcomeRetryable},
		{http.StatusServiceUnavailable, "", OutcomeRetryable},
		{http.StatusFound, "", OutcomePermanent},
		{http.StatusNotModified, "200-299,304", OutcomeSuccess},
		{http.StatusCreated, "200", OutcomePermanent},
	}
	for _, tc := range cases {
		srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tc.status == http.StatusFound {
				w.Header().Set("Location", "https://elsewhere.example/")
			}
			w.WriteHeader(tc.status)
		}))
		w := newWebhook(t, srv, func(o *WebhookOptions) { o.SuccessCodes = tc.codes })
		res := w.Deliver(context.Background(), testEvent())
		assert.Equal(t, tc.outcome, res.Outcome, "status %d codes %q", tc.status, tc.codes)
		assert.Equal(t, tc.status, res.StatusCode)
		srv.Close()
	}
}

func TestWebhookDoesNotFollowRedirects(t *testing.T) {
	var followed int32
	target := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&followed, 1)
	}))
	defer target.Close()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusTemporaryRedirect)
	}))
	defer srv.Close()

	res := newWebhook(t, srv, nil).Deliver(context.Background(), testEvent())
	assert.Equal(t, OutcomePermanent, res.Outcome)
	assert.Equal(t, http.StatusTemporaryRedirect, res.StatusCode)
	assert.Zero(t, atomic.LoadInt32(&followed))
}

func TestWebhookRejectsPlainHTTP(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	w, err := NewWebhook(WebhookOptions{URL: srv.URL}, nil)
	require.NoError(t, err)
	res := w.Deliver(context.Background(), testEvent())
	assert.Equal(t, Result{Outcome: OutcomePermanent, Detail: "unsupported_scheme"}, res)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestWebhookDomainAllowlist(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	host := mustHost(t, srv.URL)

	blocked := newWebhook(t, srv, func(o *WebhookOptions) { o.DomainAllowlist = "hooks.example.com" })
	res := blocked.Deliver(context.Background(), testEvent())
	assert.Equal(t, "forbidden_address", res.Detail)
	assert.Equal(t, OutcomePermanent, res.Outcome)

	allowed := newWebhook(t, srv, func(o *WebhookOptions) { o.DomainAllowlist = "hooks.example.com, " + host })
	assert.Equal(t, OutcomeSuccess, allowed.Deliver(context.Background(), testEvent()).Outcome)

	w := &Webhook{domains: parseDomains("example.com")}
	assert.True(t, w.hostAllowed("hooks.example.com"))
	assert.True(t, w.hostAllowed("EXAMPLE.com."))
	assert.False(t, w.hostAllowed("badexample.com"))
}

func TestWebhookTimeoutIsRetryable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	w := newWebhook(t, srv, func(o *WebhookOptions) { o.Timeout = 50 * time.Millisecond })
	res := w.Deliver(context.Background(), testEvent())
	assert.Equal(t, OutcomeRetryable, res.Outcome)
	assert.Equal(t, "timeout", res.Detail)
}

func TestWebhookNetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	w := newWebhook(t, srv, nil)
	srv.Close()

	res := w.Deliver(context.Background(), testEvent())
	assert.Equal(t, OutcomeRetryable, res.Outcome)
}

func TestWebhookCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w := newWebhook(t, srv, func(o *WebhookOptions) {
		o.BreakerFailures = 2
		o.BreakerTimeout = time.Hour
	})
	assert.Equal(t, "http_502", w.Deliver(context.Background(), testEvent()).Detail)
	assert.Equal(t, "http_502", w.Deliver(context.Background(), testEvent()).Detail)

	res := w.Deliver(context.Background(), testEvent())
	assert.Equal(t, Result{Outcome: OutcomeRetryable, Detail: "circuit_open"}, res)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestWebhookPermanentFailuresDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	w := newWebhook(t, srv, func(o *WebhookOptions) { o.BreakerFailures = 1 })
	for i := 0; i < 3; i++ {
		assert.Equal(t, "http_422", w.Deliver(context.Background(), testEvent()).Detail)
	}
}

func TestNewWebhookConfigErrors(t *testing.T) {
	_, err := NewWebhook(WebhookOptions{}, nil)
	assert.True(t, config.IsConfigError(err))

	_, err = NewWebhook(WebhookOptions{URL: "https://hooks.example.com", SuccessCodes: "299-200"}, nil)
	assert.True(t, config.IsConfigError(err))

	_, err = NewWebhook(WebhookOptions{URL: "https://hooks.example.com", SuccessCodes: "abc"}, nil)
	assert.True(t, config.IsConfigError(err))

	_, err = NewWebhook(WebhookOptions{URL: "https://hooks.example.com", Headers: "novalue"}, nil)
	assert.True(t, config.IsConfigError(err))
}

func TestParseStatusSet(t *testing.T) {
	set, err := parseStatusSet(" 200-204 , 304 ")
	require.NoError(t, err)
	assert.True(t, set.contains(200))
	assert.True(t, set.contains(204))
	assert.False(t, set.contains(205))
	assert.True(t, set.contains(304))

	def, err := parseStatusSet("")
	require.NoError(t, err)
	assert.True(t, def.contains(299))
	assert.False(t, def.contains(300))
}

type fakePublisher struct {
	err error
	msg pubsub.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg pubsub.Message) (string, error) {
	f.msg = msg
	if f.err != nil {
		return "", f.err
	}
	return "server-id-1", nil
}

func (f *fakePublisher) Close() error { return nil }

func TestPubSubPublishesWithAttributes(t *testing.T) {
	pub := &fakePublisher{}
	res := NewPubSub(pub).Deliver(context.Background(), testEvent())

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.JSONEq(t, `{"invoice":"INV-1"}`, string(pub.msg.Data))
	assert.Equal(t, "invoice.approved", pub.msg.Attributes["event_type"])
	assert.Equal(t, "inv-1", pub.msg.Attributes["idempotency_key"])
	assert.Equal(t, "trace-1", pub.msg.Attributes["trace_id"])
	assert.Equal(t, testEvent().TenantID.String(), pub.msg.OrderingKey)
}

func TestPubSubClassification(t *testing.T) {
	cases := map[error]Outcome{
		status.Error(codes.InvalidArgument, "bad"):      OutcomePermanent,
		status.Error(codes.NotFound, "topic"):           OutcomePermanent,
		status.Error(codes.PermissionDenied, "iam"):     OutcomePermanent,
		status.Error(codes.FailedPrecondition, "state"): OutcomePermanent,
		status.Error(codes.Unavailable, "down"):         OutcomeRetryable,
		status.Error(codes.ResourceExhausted, "quota"):  OutcomeRetryable,
		context.DeadlineExceeded:                        OutcomeRetryable,
		errors.New("plain"):                             OutcomeRetryable,
	}
	for err, want := range cases {
		res := NewPubSub(&fakePublisher{err: err}).Deliver(context.Background(), testEvent())
		assert.Equal(t, want, res.Outcome, "error %v", err)
	}
}

func TestLogAlwaysSucceeds(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})
	res := NewLog(logg).Deliver(context.Background(), testEvent())

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Contains(t, buf.String(), `"tenant_id":"11111111-1111-4111-8111-111111111111"`)
	assert.Contains(t, buf.String(), `"event_type":"invoice.approved"`)
	assert.Contains(t, buf.String(), `"trace_id":"trace-1"`)
	assert.Contains(t, buf.String(), `"transport":"log"`)
}

func TestNewSelectsTransport(t *testing.T) {
	tr, err := New(context.Background(), &config.Config{Transport: config.TransportConfig{Kind: "LOG"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "log", tr.Name())

	_, err = New(context.Background(), &config.Config{Transport: config.TransportConfig{Kind: "smtp"}}, nil)
	assert.True(t, config.IsConfigError(err))

	_, err = New(context.Background(), &config.Config{Transport: config.TransportConfig{Kind: config.TransportWebhook}}, nil)
	assert.True(t, config.IsConfigError(err))
}

func TestFromModel(t *testing.T) {
	key := "k1"
	row := models.OutboxEvent{
		ID:             uuid.New(),
		TenantID:       uuid.New(),
		EventType:      "x",
		IdempotencyKey: &key,
		AttemptCount:   2,
	}
	ev := FromModel(row)
	assert.Equal(t, 3, ev.Attempt)
	assert.Equal(t, "k1", ev.IdempotencyKey)
	assert.NotContains(t, FromModel(models.OutboxEvent{}).Attributes(), "idempotency_key")
}

func mustHost(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Hostname()
}
