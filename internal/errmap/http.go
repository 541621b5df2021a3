package errmap

import (
	"encoding/json"
	"net/http"

	"github.com/tradeforge/stream-gateway/internal/domain"
)

// HTTPStatus maps a domain error to the HTTP status used when the handshake
// is refused before the WebSocket upgrade completes.
func HTTPStatus(err error) int {
	switch {
	case domain.IsAuthError(err):
		if domain.IsPermissionError(err) {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case domain.IsRetryable(err):
		return http.StatusTooManyRequests
	case domain.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteRejection writes a refused handshake as a JSON {code, message} body
// with the appropriate HTTP status.
func WriteRejection(w http.ResponseWriter, err error) {
	r := ToRejection(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(r)
}
