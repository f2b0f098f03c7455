package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/replace-files/pkg/replacefiles"
	"github.com/tendant/replace-files/pkg/replacefiles/api"
	"github.com/tendant/replace-files/pkg/replacefiles/config"
	"github.com/tendant/replace-files/pkg/replacefiles/metrics"
	"github.com/tendant/replace-files/pkg/replacefiles/workflow"
)

func newRouter(cfg *config.ServerConfig, svc replacefiles.Service, wf *workflow.Workflow, jwtSecret string, reg *prometheus.Registry, logger *slog.Logger) http.Handler {
	server := app.DefaultApp()

	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)

	admin := api.NewAdminHandler(svc, wf,
		api.WithMaxUploadBytes(cfg.MaxUploadBytes),
		api.WithLogger(logger),
	)
	ja := api.NewJWTAuth(jwtSecret)

	server.R.Group(func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(middleware.RealIP)
		r.Use(middleware.Recoverer)
		r.Use(middleware.Timeout(60 * time.Second))

		r.Route(api.DefaultAdminPrefix, func(r chi.Router) {
			r.Use(api.CallerMiddleware(ja, svc, logger))
			r.Mount("/", admin.Routes())
		})
		r.Mount(cfg.FileURLPrefix, api.NewFilesHandler(svc, logger).Routes())

		if cfg.EnableMetrics {
			r.Handle("/metrics", metrics.Handler(reg))
		}
	})

	return server.R
}
