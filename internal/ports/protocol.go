package ports

import (
	"context"

	"github.com/larriantoniy/device_gateway/internal/domain"
)

// ConnectionStatus состояние соединения с протоколом
type ConnectionStatus int

const (
	StatusUnknown ConnectionStatus = iota
	StatusConnecting
	StatusOpen
	StatusClosed
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "close"
	default:
		return "unknown"
	}
}

func (s ConnectionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ConnectionStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "connecting":
		*s = StatusConnecting
	case "open":
		*s = StatusOpen
	case "close":
		*s = StatusClosed
	default:
		*s = StatusUnknown
	}
	return nil
}

// DisconnectError причина последнего разрыва
type DisconnectError struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

func (e *DisconnectError) Error() string {
	return e.Message
}

// ConnectionUpdate частичное обновление: Status может быть StatusUnknown,
// если пришёл, например, только новый QR.
type ConnectionUpdate struct {
	Status         ConnectionStatus `json:"connection"`
	QR             string           `json:"qr,omitempty"`
	LastDisconnect *DisconnectError `json:"lastDisconnect,omitempty"`
}

// Event один из StateChanged, CredentialsUpdated, MessagesReceived
type Event interface {
	isEvent()
}

type StateChanged struct {
	Update ConnectionUpdate
}

type CredentialsUpdated struct{}

type MessagesReceived struct {
	Messages []*RawMessage
}

func (StateChanged) isEvent()       {}
func (CredentialsUpdated) isEvent() {}
func (MessagesReceived) isEvent()   {}

type MessageKey struct {
	RemoteID    string
	FromMe      bool
	ID          string
	Participant string
}

// RawMessage сообщение в том виде, в каком его отдал протокол
type RawMessage struct {
	Key             MessageKey
	PushName        string
	VerifiedBizName string
	// nil, если в сообщении нет ни текста, ни медиа
	Message *MessageContent
}

type MessageContent struct {
	Conversation        string
	ImageMessage        *ImageMessage
	ExtendedTextMessage *ExtendedTextMessage
	// Other тип для всего, что не разбираем (sticker, audio...)
	Other string
}

// Type тип содержимого по первому заполненному полю
func (m *MessageContent) Type() string {
	switch {
	case m == nil:
		return ""
	case m.Conversation != "":
		return domain.TypeConversation
	case m.ImageMessage != nil:
		return domain.TypeImage
	case m.ExtendedTextMessage != nil:
		return domain.TypeExtendedText
	default:
		return m.Other
	}
}

type ImageMessage struct {
	Caption  string
	Mimetype string
	// MediaRef ссылка на медиа внутри адаптера протокола
	MediaRef string
}

type ExtendedTextMessage struct {
	Text        string
	ContextInfo *ContextInfo
}

type ContextInfo struct {
	StanzaID      string
	Participant   string
	QuotedMessage *MessageContent
}

// UserAgent как устройство представляется серверу
type UserAgent struct {
	Name     string
	Platform string
	Version  string
}

type ConnectionConfig struct {
	UserAgent   UserAgent
	Version     string
	Credentials Credentials
	// ShouldIgnoreID true - сообщения от этого id отбрасываются
	ShouldIgnoreID func(id string) bool
	// Extra произвольные настройки адаптера
	Extra map[string]any
}

// ConnectionOption переопределения от вызывающего кода, применяются последними
type ConnectionOption func(*ConnectionConfig)

// Credentials ключи сессии; содержимое знает только адаптер
type Credentials interface {
	Save(ctx context.Context) error
}

// Connection живая сессия одного устройства
type Connection interface {
	// Events пачки событий в порядке поступления; закрывается после Close
	Events() <-chan []Event
	// SelfID id авторизованного аккаунта, пусто до авторизации
	SelfID() string
	SelfName() string
	ProfilePictureURL(ctx context.Context, id string) (string, error)
	DownloadMedia(ctx context.Context, msg *RawMessage) ([]byte, error)
	Close() error
}

// ProtocolClient фабрика соединений и утилиты протокола
type ProtocolClient interface {
	LoadCredentials(ctx context.Context, path string) (Credentials, error)
	NegotiateVersion(ctx context.Context) (string, error)
	Connect(ctx context.Context, cfg ConnectionConfig) (Connection, error)
	ContentType(msg *MessageContent) string
}
