package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shieldpay/relayer/types"
)

// statusFor maps an error kind onto its HTTP status. The kind string itself
// is the wire-visible "type" field and is stable.
func statusFor(kind types.Kind) int {
	switch kind {
	case types.KindValidation, types.KindSerialization, types.KindDeserialization:
		return http.StatusBadRequest
	case types.KindAuthentication:
		return http.StatusUnauthorized
	case types.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case types.KindAuthorization:
		return http.StatusForbidden
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindDuplicate:
		return http.StatusConflict
	case types.KindRateLimited:
		return http.StatusTooManyRequests
	case types.KindNotSupported:
		return http.StatusNotImplemented
	case types.KindDBConnection, types.KindChainConnection,
		types.KindServiceUnavailable, types.KindServiceRateLimited:
		return http.StatusServiceUnavailable
	case types.KindChainTimeout, types.KindServiceTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError renders the error envelope. Internal errors are masked so SQL
// text and stack detail never reach the client.
func writeError(w http.ResponseWriter, err error) {
	kind := types.KindOf(err)
	message := "internal server error"
	var appErr *types.Error
	if kind != types.KindInternal && errors.As(err, &appErr) {
		message = appErr.Message
	}
	writeJSON(w, statusFor(kind), types.ErrorResponse{
		Error: types.ErrorDetail{Type: string(kind), Message: message},
	})
}

func writeRateLimited(w http.ResponseWriter, retryAfter uint64) {
	writeJSON(w, http.StatusTooManyRequests, types.RateLimitResponse{
		Error: types.ErrorDetail{
			Type:    string(types.KindRateLimited),
			Message: "too many requests",
		},
		RetryAfter: retryAfter,
	})
}
