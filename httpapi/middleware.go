package httpapi

import (
	"net/http"

	"github.com/contractlane/go-webhooks/core"
)

// recoverMiddleware converts a handler panic into a structured 500 so the
// caller always sees the JSON error envelope.
func recoverMiddleware(app *App) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					app.logger().Error("panic while serving request",
						"method", r.Method,
						"path", r.URL.Path,
						"panic", recovered,
					)
					writeJSON(w, http.StatusInternalServerError, errorResponse{
						Error: errorPayload{
							Message: "internal error",
							Code:    core.WebhookErrorInternal,
						},
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
