package useCases

import (
	"context"
	"log/slog"

	"github.com/larriantoniy/device_gateway/internal/domain"
	"github.com/larriantoniy/device_gateway/internal/metrics"
	"github.com/larriantoniy/device_gateway/internal/ports"
)

// Dispatcher доставка нормализованного сообщения по вебхукам
type Dispatcher interface {
	Dispatch(ctx context.Context, deviceID string, hooks []domain.Webhook, msg *domain.InboundMessage) int
}

// Processor превращает сырое сообщение протокола в domain.InboundMessage
// и отдаёт его в вебхуки (и в sink, если он задан)
type Processor struct {
	protocol   ports.ProtocolClient
	dispatcher Dispatcher
	sink       ports.MessageSink
	metrics    *metrics.Metrics
	log        *slog.Logger
}

func NewProcessor(
	protocol ports.ProtocolClient,
	dispatcher Dispatcher,
	sink ports.MessageSink, // может быть nil
	m *metrics.Metrics,
	log *slog.Logger,
) *Processor {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Processor{
		protocol:   protocol,
		dispatcher: dispatcher,
		sink:       sink,
		metrics:    m,
		log:        log,
	}
}

// Process нормализует raw и рассылает. Ошибки доставки сюда не долетают.
func (p *Processor) Process(ctx context.Context, conn ports.Connection, device *domain.Device, raw *ports.RawMessage) *domain.InboundMessage {
	msg := p.Normalize(ctx, conn, raw)

	p.log.Info("new message",
		"device", device.ID,
		"from", msg.Sender.Name,
		"phone", msg.Sender.Phone,
		"type", msg.MessageType,
	)

	msgType := msg.MessageType
	if msgType == "" {
		msgType = "unknown"
	}
	p.metrics.MessagesProcessed.WithLabelValues(msgType).Inc()

	p.dispatcher.Dispatch(ctx, device.ID, device.Webhooks, msg)

	if p.sink != nil {
		if err := p.sink.Publish(ctx, device.ID, msg); err != nil {
			p.log.Warn("publish inbound message", "device", device.ID, "error", err)
		}
	}
	return msg
}

// Normalize собирает запись без отправки
func (p *Processor) Normalize(ctx context.Context, conn ports.Connection, raw *ports.RawMessage) *domain.InboundMessage {
	from := domain.ParseContactID(raw.Key.RemoteID)
	name := raw.VerifiedBizName
	if name == "" {
		name = raw.PushName
	}

	msg := &domain.InboundMessage{
		Sender: domain.Sender{
			CanonicalID: from.CanonicalID,
			Phone:       from.PhoneNumber,
			Name:        name,
		},
		MessageType: p.protocol.ContentType(raw.Message),
	}
	msg.Content.Text = extractText(raw.Message)

	switch msg.MessageType {
	case domain.TypeImage:
		// картинку скачиваем, но наружу отдаём только mimetype
		if _, err := conn.DownloadMedia(ctx, raw); err != nil {
			p.log.Warn("download media failed, image skipped", "message_id", raw.Key.ID, "error", err)
			break
		}
		mimetype := ""
		if raw.Message.ImageMessage != nil {
			mimetype = raw.Message.ImageMessage.Mimetype
		}
		msg.Content.Image = &domain.Image{Mimetype: mimetype}

	case domain.TypeExtendedText:
		ext := raw.Message.ExtendedTextMessage
		if ext == nil || ext.ContextInfo == nil || ext.ContextInfo.QuotedMessage == nil {
			break
		}
		q := ext.ContextInfo.QuotedMessage
		msg.Content.ContextInfo = &domain.ContextInfo{
			StanzaID:          ext.ContextInfo.StanzaID,
			Participant:       ext.ContextInfo.Participant,
			QuotedMessageType: p.protocol.ContentType(q),
			QuotedMessage:     domain.QuotedMessage{Text: extractText(q)},
		}
	}

	return msg
}

// extractText первый непустой из: текст, подпись картинки, extended text
func extractText(c *ports.MessageContent) string {
	if c == nil {
		return ""
	}
	if c.Conversation != "" {
		return c.Conversation
	}
	if c.ImageMessage != nil && c.ImageMessage.Caption != "" {
		return c.ImageMessage.Caption
	}
	if c.ExtendedTextMessage != nil {
		return c.ExtendedTextMessage.Text
	}
	return ""
}
