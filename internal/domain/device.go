package domain

import "strings"

// Device аккаунт, от имени которого держим соединение
type Device struct {
	ID          string    `json:"id" yaml:"id" cbor:"id"`
	DisplayName string    `json:"name" yaml:"name" cbor:"name"`
	Webhooks    []Webhook `json:"webhooks" yaml:"webhooks" cbor:"webhooks"`
}

// Webhook пустой Match значит "слать всё"
type Webhook struct {
	URL   string `json:"url" yaml:"url" cbor:"url"`
	Match string `json:"match,omitempty" yaml:"match,omitempty" cbor:"match,omitempty"`
}

// Matches подстрока Match в тексте, регистр важен.
// Без текста webhook с Match не срабатывает.
func (w Webhook) Matches(text string) bool {
	if w.Match == "" {
		return true
	}
	if text == "" {
		return false
	}
	return strings.Contains(text, w.Match)
}

// Profile собственный аккаунт после открытия соединения
type Profile struct {
	ID          string `json:"id"`
	PhoneNumber string `json:"phone"`
	Name        string `json:"name,omitempty"`
	ImgURL      string `json:"imgUrl,omitempty"`
}
