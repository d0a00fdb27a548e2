package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larriantoniy/device_gateway/internal/domain"
	"github.com/larriantoniy/device_gateway/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// target тестовый получатель: первые failFirst запросов получают 500
type target struct {
	srv       *httptest.Server
	failFirst int32
	hits      atomic.Int32

	mu      sync.Mutex
	bodies  []domain.InboundMessage
	headers []http.Header
}

func newTarget(t *testing.T, failFirst int32) *target {
	tg := &target{failFirst: failFirst}
	tg.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := tg.hits.Add(1)
		if n <= tg.failFirst {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		var msg domain.InboundMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		tg.mu.Lock()
		tg.bodies = append(tg.bodies, msg)
		tg.headers = append(tg.headers, r.Header.Clone())
		tg.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(tg.srv.Close)
	return tg
}

func (tg *target) received() ([]domain.InboundMessage, []http.Header) {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	return append([]domain.InboundMessage(nil), tg.bodies...), append([]http.Header(nil), tg.headers...)
}

func textMessage(text string) *domain.InboundMessage {
	return &domain.InboundMessage{
		Sender:      domain.Sender{CanonicalID: "62811@s.whatsapp.net", Phone: "62811", Name: "Budi"},
		MessageType: domain.TypeConversation,
		Content:     domain.Content{Text: text},
	}
}

func TestDispatch_MatchRules(t *testing.T) {
	all := newTarget(t, 0)
	orders := newTarget(t, 0)
	d := New(discardLogger(), nil, Options{})

	hooks := []domain.Webhook{
		{URL: all.srv.URL},
		{URL: orders.srv.URL, Match: "#order"},
	}

	n := d.Dispatch(context.Background(), "dev-1", hooks, textMessage("hello"))
	assert.Equal(t, 1, n)
	n = d.Dispatch(context.Background(), "dev-1", hooks, textMessage("new #order 7"))
	assert.Equal(t, 2, n)

	assert.EqualValues(t, 2, all.hits.Load())
	assert.EqualValues(t, 1, orders.hits.Load())
	bodies, headers := orders.received()
	require.Len(t, bodies, 1)
	assert.Equal(t, "new #order 7", bodies[0].Content.Text)
	assert.Equal(t, "application/json", headers[0].Get("Content-Type"))
	assert.Equal(t, "dev-1", headers[0].Get("X-Device-Id"))
	assert.NotEmpty(t, headers[0].Get("X-Delivery-Id"))
}

func TestDispatch_NoTextNeverMatchesFilteredHook(t *testing.T) {
	all := newTarget(t, 0)
	filtered := newTarget(t, 0)
	d := New(discardLogger(), nil, Options{})

	msg := &domain.InboundMessage{
		MessageType: domain.TypeImage,
		Content:     domain.Content{Image: &domain.Image{Mimetype: "image/jpeg"}},
	}
	n := d.Dispatch(context.Background(), "dev-1", []domain.Webhook{
		{URL: all.srv.URL},
		{URL: filtered.srv.URL, Match: "x"},
	}, msg)

	assert.Equal(t, 1, n)
	assert.EqualValues(t, 0, filtered.hits.Load())
	bodies, _ := all.received()
	require.Len(t, bodies, 1)
	require.NotNil(t, bodies[0].Content.Image)
	assert.Equal(t, "image/jpeg", bodies[0].Content.Image.Mimetype)
}

func TestDispatch_RetriesThenDelivers(t *testing.T) {
	tg := newTarget(t, 2)
	m := metrics.New(nil)
	d := New(discardLogger(), m, Options{})

	n := d.Dispatch(context.Background(), "dev-1", []domain.Webhook{{URL: tg.srv.URL}}, textMessage("hi"))

	assert.Equal(t, 1, n)
	assert.EqualValues(t, 3, tg.hits.Load())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.WebhookAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookDeliveries.WithLabelValues("delivered")))
}

func TestDispatch_DropsAfterThreeAttempts(t *testing.T) {
	tg := newTarget(t, 100)
	m := metrics.New(nil)
	d := New(discardLogger(), m, Options{})

	n := d.Dispatch(context.Background(), "dev-1", []domain.Webhook{{URL: tg.srv.URL}}, textMessage("hi"))

	assert.Equal(t, 0, n)
	assert.EqualValues(t, 3, tg.hits.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookDeliveries.WithLabelValues("dropped")))
}

func TestDispatch_SameDeliveryIDAcrossRetries(t *testing.T) {
	var (
		mu  sync.Mutex
		ids []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ids = append(ids, r.Header.Get("X-Delivery-Id"))
		mu.Unlock()
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := New(discardLogger(), nil, Options{})
	d.Dispatch(context.Background(), "dev-1", []domain.Webhook{{URL: srv.URL}}, textMessage("hi"))

	require.Len(t, ids, 3)
	assert.Equal(t, ids[0], ids[1])
	assert.Equal(t, ids[1], ids[2])
}

func TestDispatch_UnreachableTarget(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d := New(discardLogger(), nil, Options{})
	n := d.Dispatch(context.Background(), "dev-1", []domain.Webhook{{URL: url}}, textMessage("hi"))
	assert.Equal(t, 0, n)
}

func TestDispatch_WireFormat(t *testing.T) {
	got := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		_ = json.NewDecoder(r.Body).Decode(&raw)
		got <- raw
	}))
	defer srv.Close()

	msg := textMessage("reply")
	msg.MessageType = domain.TypeExtendedText
	msg.Content.ContextInfo = &domain.ContextInfo{
		StanzaID:          "ABC",
		QuotedMessageType: domain.TypeConversation,
		QuotedMessage:     domain.QuotedMessage{Text: "original"},
	}

	d := New(discardLogger(), nil, Options{})
	d.Dispatch(context.Background(), "dev-1", []domain.Webhook{{URL: srv.URL}}, msg)

	raw := <-got
	require.NotNil(t, raw)
	sender := raw["sender"].(map[string]any)
	assert.Equal(t, "62811@s.whatsapp.net", sender["jId"])
	assert.Equal(t, "62811", sender["phone"])
	assert.Equal(t, "extendedTextMessage", raw["messageType"])
	content := raw["content"].(map[string]any)
	ci := content["contextInfo"].(map[string]any)
	assert.Equal(t, "ABC", ci["stanzaId"])
	assert.Equal(t, "original", ci["quotedMessage"].(map[string]any)["text"])
}

func TestRetry_StopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retry(ctx, 3, func(int) error {
		calls++
		cancel()
		return assert.AnError
	})
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, calls)
}
