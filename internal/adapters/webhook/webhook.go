package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/larriantoniy/device_gateway/internal/domain"
	"github.com/larriantoniy/device_gateway/internal/metrics"
)

const (
	DefaultMaxAttempts = 3
	DefaultTimeout     = 10 * time.Second
)

type Options struct {
	// MaxAttempts всего попыток на один вебхук, включая первую
	MaxAttempts int
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Dispatcher рассылает нормализованные сообщения по вебхукам устройства
type Dispatcher struct {
	client      *http.Client
	maxAttempts int
	log         *slog.Logger
	metrics     *metrics.Metrics
}

func New(log *slog.Logger, m *metrics.Metrics, opts Options) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Dispatcher{
		client:      opts.HTTPClient,
		maxAttempts: opts.MaxAttempts,
		log:         log,
		metrics:     m,
	}
}

// Dispatch отправляет msg во все подходящие вебхуки и возвращает число доставленных.
// Ошибки доставки не возвращаются: после всех попыток сообщение просто дропается.
func (d *Dispatcher) Dispatch(ctx context.Context, deviceID string, hooks []domain.Webhook, msg *domain.InboundMessage) int {
	if len(hooks) == 0 {
		return 0
	}

	body, err := json.Marshal(msg)
	if err != nil {
		d.log.Error("marshal inbound message", "device", deviceID, "error", err)
		return 0
	}

	delivered := 0
	for _, h := range hooks {
		if !h.Matches(msg.Content.Text) {
			d.log.Debug("webhook not matched", "device", deviceID, "url", h.URL, "match", h.Match)
			continue
		}

		if err := d.deliver(ctx, deviceID, h.URL, body); err != nil {
			d.log.Error("webhook dropped", "device", deviceID, "url", h.URL, "attempts", d.maxAttempts, "error", err)
			d.metrics.WebhookDeliveries.WithLabelValues("dropped").Inc()
			continue
		}

		d.log.Info("webhook triggered", "device", deviceID, "url", h.URL)
		d.metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
		delivered++
	}
	return delivered
}

func (d *Dispatcher) deliver(ctx context.Context, deviceID, url string, body []byte) error {
	// один id на все попытки, чтобы получатель мог отсечь дубли
	deliveryID := uuid.NewString()

	return retry(ctx, d.maxAttempts, func(attempt int) error {
		d.metrics.WebhookAttempts.Inc()
		err := d.post(ctx, deviceID, deliveryID, url, body)
		if err != nil {
			d.log.Warn("webhook attempt failed", "device", deviceID, "url", url, "attempt", attempt, "error", err)
		}
		return err
	})
}

func (d *Dispatcher) post(ctx context.Context, deviceID, deliveryID, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", deliveryID)
	req.Header.Set("X-Device-Id", deviceID)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(data))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// retry повторяет fn сразу, без пауз, пока не кончатся попытки или контекст
func retry(ctx context.Context, attempts int, fn func(attempt int) error) error {
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(i); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w (after %d attempts): %w", ctx.Err(), i, err)
		}
	}
	return err
}
