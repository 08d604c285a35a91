package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"claude-bridge/internal/canonical"
	anthropicproto "claude-bridge/internal/proto/anthropic"
)

const (
	errTypeInvalidRequest = "invalid_request_error"
	errTypeAuthentication = "authentication_error"
	errTypeNotFound       = "not_found_error"
	errTypeAPI            = "api_error"
)

func writeError(w http.ResponseWriter, status int, typ string, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(anthropicproto.ErrorResponse{
		Type: "error",
		Error: anthropicproto.ErrorObject{
			Type:    typ,
			Message: msg,
		},
	})
}

// statusFor maps an error to the HTTP status and error type reported to the
// client. Errors without a kind are internal.
func statusFor(err error) (int, string) {
	switch canonical.KindOf(err) {
	case canonical.KindBadRequest, canonical.KindUnsupportedDialect:
		return http.StatusBadRequest, errTypeInvalidRequest
	case canonical.KindUpstream:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout, errTypeAPI
		}
		return http.StatusBadGateway, errTypeAPI
	default:
		return http.StatusInternalServerError, errTypeAPI
	}
}

func writeKindError(w http.ResponseWriter, err error) int {
	status, typ := statusFor(err)
	msg := err.Error()
	var ce *canonical.Error
	if errors.As(err, &ce) && ce.Msg != "" && status != http.StatusBadRequest {
		// Transport details stay in the log.
		msg = ce.Msg
	}
	writeError(w, status, typ, msg)
	return status
}
