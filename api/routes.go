package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"streamgate/handlers"
)

// corsMiddleware handles CORS for API routes
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Register mounts API endpoints onto the provided router.
func Register(
	r *mux.Router,
	authHandler *handlers.AuthHandler,
	streamHandler *handlers.StreamHandler,
	devicesHandler *handlers.DevicesHandler,
	resolverHandler *handlers.ResolverHandler,
	authMW *handlers.AuthMiddleware,
	subscriptionMW *handlers.SubscriptionMiddleware,
) {
	api := r.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware)

	// Auth routes (no authentication required)
	api.HandleFunc("/auth/login", authHandler.Login).Methods(http.MethodPost, http.MethodOptions)

	// Playback gate + session heartbeat. Order matters: the gate runs the
	// subscription check, the heartbeat and stop do not.
	api.HandleFunc("/movies/{id}/stream/status", authMW.Wrap(streamHandler.Status)).Methods(http.MethodGet)
	api.HandleFunc("/movies/{id}/stream/stop", authMW.Wrap(streamHandler.Stop)).Methods(http.MethodPost)
	api.HandleFunc("/movies/{id}/stream", authMW.Wrap(subscriptionMW.Wrap(streamHandler.Start))).Methods(http.MethodGet)

	// Device manager
	api.HandleFunc("/account/devices", authMW.Wrap(devicesHandler.List)).Methods(http.MethodGet)
	api.HandleFunc("/account/devices/{deviceID}", authMW.Wrap(devicesHandler.Remove)).Methods(http.MethodDelete)

	// Stream resolution
	api.HandleFunc("/streams/movie/{contentID}", authMW.Wrap(resolverHandler.Movie)).Methods(http.MethodGet)
	api.HandleFunc("/streams/series/{contentID}", authMW.Wrap(resolverHandler.Series)).Methods(http.MethodGet)
	api.HandleFunc("/streams/anime/{contentID}", authMW.Wrap(resolverHandler.Anime)).Methods(http.MethodGet)
}
