package domain

import "strings"

const (
	UserSuffix      = "@s.whatsapp.net"
	GroupSuffix     = "@g.us"
	BroadcastSuffix = "@broadcast"

	DefaultCountryCode = "62"
)

// ContactIdentity номер телефона и канонический id контакта
type ContactIdentity struct {
	PhoneNumber string
	CanonicalID string
}

// ParseContactID разбирает сырой id из протокола.
// "6281234:12@s.whatsapp.net" -> {6281234, 6281234@s.whatsapp.net}
// "6281234@s.whatsapp.net"    -> {6281234, 6281234@s.whatsapp.net} (id не трогаем)
// "6281234"                   -> {6281234, 6281234}
func ParseContactID(id string) ContactIdentity {
	phone, canonical := id, id

	if i := strings.Index(id, ":"); i >= 0 {
		phone = id[:i]
		// суффикс берём из исходной строки после первого '@', не после ':'
		suffix := ""
		if j := strings.Index(id, "@"); j >= 0 {
			rest := id[j+1:]
			if k := strings.Index(rest, "@"); k >= 0 {
				rest = rest[:k]
			}
			suffix = rest
		}
		canonical = phone + "@" + suffix
	} else if i := strings.Index(id, "@"); i >= 0 {
		phone = id[:i]
	}

	return ContactIdentity{PhoneNumber: phone, CanonicalID: canonical}
}

type canonicalOptions struct {
	countryCode string
	isGroup     bool
}

type CanonicalOption func(*canonicalOptions)

// WithCountryCode код страны, которым заменяется ведущий 0
func WithCountryCode(code string) CanonicalOption {
	return func(o *canonicalOptions) { o.countryCode = code }
}

// AsGroup добавляет групповой суффикс вместо личного
func AsGroup() CanonicalOption {
	return func(o *canonicalOptions) { o.isGroup = true }
}

// ToCanonicalID приводит номер к виду, который понимает протокол.
// Содержимое не валидируется: любая строка получает суффикс.
func ToCanonicalID(numberOrID string, opts ...CanonicalOption) string {
	o := canonicalOptions{countryCode: DefaultCountryCode}
	for _, opt := range opts {
		opt(&o)
	}

	if strings.Contains(numberOrID, GroupSuffix) || strings.Contains(numberOrID, UserSuffix) {
		return numberOrID
	}

	id := numberOrID
	if strings.HasPrefix(id, "0") {
		id = o.countryCode + id[1:]
	}

	if o.isGroup {
		return id + GroupSuffix
	}
	return id + UserSuffix
}

// IsBroadcastID true для рассылок/статусов, их не обрабатываем
func IsBroadcastID(id string) bool {
	return strings.HasSuffix(id, BroadcastSuffix)
}
