package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		code int
		text string
		want Verdict
	}{
		{"logged out", StatusLoggedOut, "Connection Failure", Verdict{MustDeleteSession: true, MustRestart: true, Reason: ReasonLoggedOut}},
		{"connection closed", StatusConnectionClosed, "Connection Closed", Verdict{MustRestart: true, Reason: ReasonConnectionClosed}},
		{"connection lost", StatusConnectionLost, "Connection was lost", Verdict{MustRestart: true, Reason: ReasonConnectionLost}},
		{"request timed out", StatusTimedOut, "Request timed out", Verdict{MustRestart: true, Reason: ReasonRequestTimeout}},
		{"qr timeout", StatusTimedOut, "QR refs attempts ended", Verdict{MustRestart: true, IgnoreNotification: true, Reason: ReasonQRTimeout}},
		{"qr timeout with timed out text", StatusTimedOut, "QR refs attempts ended: timed out", Verdict{MustRestart: true, IgnoreNotification: true, Reason: ReasonRequestTimeout}},
		{"restart required", StatusRestartRequired, "Stream Errored (restart required)", Verdict{MustRestart: true, Reason: ReasonStreamErrored}},
		{"unavailable service", StatusUnavailableService, "Stream Errored (unknown)", Verdict{MustRestart: true, Reason: ReasonStreamErrored}},
		{"stream conflict", StatusConnectionReplaced, "stream conflict", Verdict{MustRestart: true, Reason: ReasonStreamConflict}},
		{"replaced without conflict text", StatusConnectionReplaced, "replaced", Verdict{Reason: ReasonUnknown}},
		{"internal server error", StatusBadSession, "Internal Server Error", Verdict{MustRestart: true, Reason: ReasonInternalServerError}},
		{"server unreachable", 0, "getaddrinfo ENOTFOUND web.whatsapp.com", Verdict{MustRestart: true, Reason: ReasonServerUnreachable}},
		{"websocket error", StatusTimedOut, "WebSocket Error (ECONNRESET)", Verdict{MustRestart: true, Reason: ReasonServerUnreachable}},
		{"408 with unrelated text", StatusTimedOut, "something else", Verdict{Reason: ReasonUnknown}},
		{"case sensitive", StatusTimedOut, "QR REFS", Verdict{Reason: ReasonUnknown}},
		{"forbidden", StatusForbidden, "forbidden", Verdict{Reason: ReasonUnknown}},
		{"unknown", 999, "", Verdict{Reason: ReasonUnknown}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.code, tt.text)
			assert.Equal(t, tt.want, got)
			if got.MustDeleteSession {
				assert.True(t, got.MustRestart, "delete implies restart")
			}
		})
	}
}

func TestReasonString(t *testing.T) {
	assert.Equal(t, "logged_out", ReasonLoggedOut.String())
	assert.Equal(t, "qr_timeout", ReasonQRTimeout.String())
	assert.Equal(t, "unknown", Reason(100).String())
}
