package domain

import "strings"

// Коды причин разрыва, которые присылает протокол
const (
	StatusLoggedOut           = 401
	StatusForbidden           = 403
	StatusConnectionLost      = 408
	StatusTimedOut            = 408
	StatusMultideviceMismatch = 411
	StatusConnectionClosed    = 428
	StatusConnectionReplaced  = 440
	StatusBadSession          = 500
	StatusUnavailableService  = 503
	StatusRestartRequired     = 515
)

// Reason строка таблицы, по которой классифицирован разрыв
type Reason int

const (
	ReasonUnknown Reason = iota
	ReasonLoggedOut
	ReasonConnectionClosed
	ReasonConnectionLost
	ReasonRequestTimeout
	ReasonQRTimeout
	ReasonStreamErrored
	ReasonStreamConflict
	ReasonInternalServerError
	ReasonServerUnreachable
)

func (r Reason) String() string {
	switch r {
	case ReasonLoggedOut:
		return "logged_out"
	case ReasonConnectionClosed:
		return "connection_closed"
	case ReasonConnectionLost:
		return "connection_lost"
	case ReasonRequestTimeout:
		return "request_timeout"
	case ReasonQRTimeout:
		return "qr_timeout"
	case ReasonStreamErrored:
		return "stream_errored"
	case ReasonStreamConflict:
		return "stream_conflict"
	case ReasonInternalServerError:
		return "internal_server_error"
	case ReasonServerUnreachable:
		return "server_unreachable"
	default:
		return "unknown"
	}
}

// Verdict что делать после разрыва
type Verdict struct {
	MustDeleteSession  bool
	MustRestart        bool
	IgnoreNotification bool
	Reason             Reason
}

// Classify сопоставляет код и текст ошибки разрыва с действием.
// Проверки текста регистрозависимые, побеждает первая подходящая строка.
func Classify(statusCode int, text string) Verdict {
	v := classify(statusCode, text)
	// QR истёк: не алертим, какая бы строка ни сработала
	if statusCode == StatusTimedOut && strings.Contains(text, "QR refs") {
		v.IgnoreNotification = true
	}
	return v
}

func classify(statusCode int, text string) Verdict {
	restart := func(r Reason) Verdict {
		return Verdict{MustRestart: true, Reason: r}
	}

	switch {
	case statusCode == StatusLoggedOut:
		return Verdict{MustDeleteSession: true, MustRestart: true, Reason: ReasonLoggedOut}
	case statusCode == StatusConnectionClosed:
		return restart(ReasonConnectionClosed)
	case statusCode == StatusConnectionLost && strings.Contains(text, "lost"):
		return restart(ReasonConnectionLost)
	case statusCode == StatusTimedOut && strings.Contains(text, "timed out"):
		return restart(ReasonRequestTimeout)
	case statusCode == StatusTimedOut && strings.Contains(text, "QR refs"):
		return restart(ReasonQRTimeout)
	case statusCode == StatusRestartRequired || statusCode == StatusUnavailableService:
		return restart(ReasonStreamErrored)
	case statusCode == StatusConnectionReplaced && strings.Contains(text, "conflict"):
		return restart(ReasonStreamConflict)
	case statusCode == StatusBadSession:
		return restart(ReasonInternalServerError)
	case strings.Contains(text, "web.whatsapp.com") || strings.Contains(text, "WebSocket Error "):
		return restart(ReasonServerUnreachable)
	}

	return Verdict{Reason: ReasonUnknown}
}
