package ports

import (
	"context"

	"github.com/larriantoniy/device_gateway/internal/domain"
)

// MessageSink дополнительный получатель нормализованных сообщений (очередь и т.п.)
type MessageSink interface {
	Publish(ctx context.Context, deviceID string, msg *domain.InboundMessage) error
}
