package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/tradepost/backend/internal/pkg/storeerr"
	httperrors "github.com/tradepost/backend/internal/transport/http/errors"
)

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeBadRequest(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusBadRequest, httperrors.APIError{Code: code, Message: message})
}

func writeUnauthorized(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusUnauthorized, httperrors.APIError{Code: code, Message: message})
}

func writeNotFound(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusNotFound, httperrors.APIError{Code: code, Message: message})
}

func writeInternal(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusInternalServerError, httperrors.APIError{Code: code, Message: message})
}

// writeStorageError answers 503 with a retry hint for transient storage
// failures and 500 for everything else.
func writeStorageError(w http.ResponseWriter, err error, message string) {
	if tu, ok := storeerr.IsTempUnavailable(err); ok {
		httperrors.WriteRetryable(w, http.StatusServiceUnavailable, httperrors.RetryableError{
			Code:          "TEMP_UNAVAILABLE",
			Message:       "storage temporarily unavailable",
			RetryAfterSec: tu.RetryAfter(),
		})
		return
	}
	writeInternal(w, "INTERNAL_ERROR", message)
}

func parseIntOrDefault(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}
