package domain

const (
	TypeConversation = "conversation"
	TypeImage        = "imageMessage"
	TypeExtendedText = "extendedTextMessage"
)

// InboundMessage нормализованное входящее сообщение, уходит в вебхуки
type InboundMessage struct {
	Sender      Sender  `json:"sender"`
	MessageType string  `json:"messageType"`
	Content     Content `json:"content"`
}

type Sender struct {
	CanonicalID string `json:"jId"`
	Phone       string `json:"phone"`
	Name        string `json:"name,omitempty"`
}

type Content struct {
	Text        string       `json:"text,omitempty"`
	Image       *Image       `json:"image,omitempty"`
	ContextInfo *ContextInfo `json:"contextInfo,omitempty"`
}

// Image байты картинки не храним, только mimetype
type Image struct {
	Mimetype string `json:"mimetype,omitempty"`
}

// ContextInfo цитируемое сообщение
type ContextInfo struct {
	StanzaID          string        `json:"stanzaId,omitempty"`
	Participant       string        `json:"participant,omitempty"`
	QuotedMessageType string        `json:"quotedMessageType,omitempty"`
	QuotedMessage     QuotedMessage `json:"quotedMessage"`
}

type QuotedMessage struct {
	Text string `json:"text,omitempty"`
}
