package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"retrocms/pkg/auth"
	"retrocms/pkg/middleware"
	"retrocms/pkg/storage"
)

// Deps are the services the router serves
type Deps struct {
	Content  ContentService
	Auth     AuthService
	Sessions *auth.Manager
	Blobs    *storage.BlobStore
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
	// Origins allowed to open the live stream cross-origin
	Origins []string
}

// NewRouter builds the HTTP API
func NewRouter(deps Deps) http.Handler {
	api := NewAPIHandlers(deps.Content, deps.Blobs, deps.Logger)
	authHandlers := NewAuthHandlers(deps.Auth, deps.Sessions, deps.Logger)
	stream := NewStreamHandler(deps.Content, deps.Logger, deps.Origins...)
	requireAdmin := middleware.RequireAuthAPI(deps.Sessions)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", authHandlers.LoginHandler)
		r.Post("/logout", authHandlers.LogoutHandler)

		r.Get("/photos", api.GetPhotosHandler)
		r.Get("/header-images", api.GetHeaderImagesHandler)
		r.Get("/status", api.StatusHandler)
		r.Method(http.MethodGet, "/stream", stream)

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Post("/photos", api.CreatePhotoHandler)
			r.Post("/photos/upload", api.UploadPhotoHandler)
			r.Patch("/photos/{id}", api.UpdatePhotoHandler)
			r.Delete("/photos/{id}", api.DeletePhotoHandler)

			r.Put("/header-images", api.ReplaceHeaderImagesHandler)
			r.Post("/header-images", api.AddHeaderImageHandler)
			r.Post("/header-images/upload", api.UploadHeaderImageHandler)
			r.Delete("/header-images/{index}", api.DeleteHeaderImageHandler)
		})
	})

	r.Get("/blobs/*", api.BlobHandler)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}
