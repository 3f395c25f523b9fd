package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
		Identity(),
	)
	// Создающие и патчащие эндпоинты требуют идентичность.
	authed := Chain(
		Recovery(h.logger),
		Logging(h.logger),
		Identity(),
		RequireUser(h.auth.Disabled),
	)

	// Builds
	mux.Handle("POST /api/v1/builds/add", authed(http.HandlerFunc(h.SubmitAdd)))
	mux.Handle("POST /api/v1/builds/rm", authed(http.HandlerFunc(h.SubmitRm)))
	mux.Handle("POST /api/v1/builds/regenerate-bundle", authed(http.HandlerFunc(h.SubmitRegenerateBundle)))
	mux.Handle("POST /api/v1/builds/add-rm-batch", authed(http.HandlerFunc(h.SubmitAddRmBatch)))
	mux.Handle("POST /api/v1/builds/regenerate-bundle-batch", authed(http.HandlerFunc(h.SubmitRegenerateBundleBatch)))
	mux.Handle("GET /api/v1/builds", chain(http.HandlerFunc(h.ListBuilds)))
	mux.Handle("GET /api/v1/builds/{id}", chain(http.HandlerFunc(h.GetBuild)))
	mux.Handle("GET /api/v1/builds/{id}/logs", chain(http.HandlerFunc(h.GetBuildLogs)))
	mux.Handle("PATCH /api/v1/builds/{id}", authed(http.HandlerFunc(h.PatchBuild)))

	// Batches
	mux.Handle("GET /api/v1/batches/{id}", chain(http.HandlerFunc(h.GetBatch)))
}
