package httpapi

import "github.com/go-chi/chi/v5"

func RegisterRoutes(r chi.Router, app *App) {
	r.Use(recoverMiddleware(app))

	r.Get("/health", app.healthHandler)
	r.Post("/webhooks/{type}", app.inboundWebhookHandler)
	r.Post("/webhooks/{provider}/status", app.statusCallbackHandler)
	r.Patch("/webhook/{lifecycleEvent}", app.lifecycleCallbackHandler)
}
