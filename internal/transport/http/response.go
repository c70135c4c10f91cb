package httptransport

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/tebi01/stock-market-e18-jobmaster/internal/apperror"
)

type apiError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, apiError{Message: msg})
}

// writeAppErr maps an *apperror.AppError to its status; anything else is a 500.
// Only the client-facing message is exposed, never the cause.
func writeAppErr(w http.ResponseWriter, err error) {
	var ae *apperror.AppError
	if !errors.As(err, &ae) {
		writeJSON(w, http.StatusInternalServerError, apiError{Code: string(apperror.Internal), Message: "internal error"})
		return
	}
	writeJSON(w, ae.HTTPStatus(), apiError{Code: string(ae.Code()), Message: ae.Message()})
}
