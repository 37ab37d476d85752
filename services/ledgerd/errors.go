package ledgerd

import (
	"encoding/json"
	"errors"
	"net/http"

	"aqualedger/native/rewards"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errMissingCaller = errors.New("ledgerd: request has no authenticated caller")

// statusFor maps a ledger error code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case "unauthorized":
		return http.StatusForbidden
	case "system_halted":
		return http.StatusLocked
	case "duplicate_event", "duplicate_image", "achievement_unlocked":
		return http.StatusConflict
	case "insufficient_balance":
		return http.StatusUnprocessableEntity
	case "invalid_participant", "invalid_event", "invalid_amount", "invalid_item",
		"unknown_achievement", "reward_overflow", "invalid_request":
		return http.StatusBadRequest
	case "store_unavailable":
		return http.StatusServiceUnavailable
	case "unauthenticated":
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := rewards.ErrorCode(err)
	if errors.Is(err, errMissingCaller) {
		code = "unauthenticated"
	}
	status := statusFor(code)
	if rewards.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	message := err.Error()
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		// Store errors can carry DSNs and file paths.
		message = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: message})
}
