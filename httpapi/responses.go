package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/contractlane/go-webhooks/core"
)

type fieldErrorPayload struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorPayload struct {
	Message string              `json:"message"`
	Code    string              `json:"code,omitempty"`
	Fields  []fieldErrorPayload `json:"fields,omitempty"`
}

type errorResponse struct {
	Success bool         `json:"success"`
	Error   errorPayload `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// renderError maps any error onto the webhook error envelope. Validation
// failures carry the full field-error list so one failed call is fully
// diagnosable.
func renderError(w http.ResponseWriter, err error) {
	rich := core.MapWebhookError(err)
	if rich == nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: errorPayload{Message: "internal error", Code: core.WebhookErrorInternal},
		})
		return
	}

	status := rich.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}

	payload := errorPayload{
		Message: rich.Message,
		Code:    rich.TextCode,
	}
	for _, fieldErr := range rich.AllValidationErrors() {
		payload.Fields = append(payload.Fields, fieldErrorPayload{
			Field:   fieldErr.Field,
			Message: fieldErr.Message,
		})
	}
	writeJSON(w, status, errorResponse{Error: payload})
}
