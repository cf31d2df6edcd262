package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/rohits-web03/clientvault/docs"
	"github.com/rohits-web03/clientvault/internal/api/handlers"
	"github.com/rohits-web03/clientvault/internal/api/middleware"
	"github.com/rohits-web03/clientvault/internal/config"
	"github.com/rohits-web03/clientvault/internal/logging"
)

func SetupRouter(h *handlers.Handler, authn middleware.Authenticator, cfg config.Config, log logging.Logger) http.Handler {
	mainMux := http.NewServeMux()
	c := cors.New(cfg.CorsConfig)

	// ---------- PUBLIC ROUTES ----------
	mainMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})

	mainMux.HandleFunc("/docs/", httpSwagger.WrapHandler)

	// ---------- PROTECTED ROUTES ----------
	protectedMux := http.NewServeMux()

	ownerMux := http.NewServeMux()
	ownerMux.HandleFunc("POST /{ownerId}/bundle", h.BuildBundle)
	ownerMux.HandleFunc("GET /{ownerId}/bundle", h.BundleStatus)
	ownerMux.HandleFunc("GET /{ownerId}/bundle/download", h.DownloadBundle)
	ownerMux.HandleFunc("POST /{ownerId}/batches", h.BuildBatch)
	ownerMux.HandleFunc("POST /{ownerId}/selection", h.BuildSelected)
	ownerMux.HandleFunc("POST /{ownerId}/download-all", h.DownloadAll)
	ownerMux.HandleFunc("GET /{ownerId}/manifest", h.Manifest)
	ownerMux.HandleFunc("GET /{ownerId}/files/{fileId}", h.DownloadFile)
	ownerMux.HandleFunc("POST /{ownerId}/jobs", h.CreateJob)

	jobMux := http.NewServeMux()
	jobMux.HandleFunc("GET /{jobId}", h.JobStatus)

	protectedMux.Handle("/owners/",
		http.StripPrefix("/owners", ownerMux),
	)
	protectedMux.Handle("/jobs/",
		http.StripPrefix("/jobs", jobMux),
	)

	mainMux.Handle("/api/v1/",
		http.StripPrefix(
			"/api/v1",
			middleware.AuthMiddleware(authn)(protectedMux),
		),
	)

	log.Info(context.Background(), "router initialized")
	handler := c.Handler(mainMux)
	handler = middleware.Logger(log)(handler)
	return handler
}
