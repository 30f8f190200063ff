// Package server wires handlers, middleware, and routes into one http.Handler.
package server

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/iorran/superfriday/internal/auth"
	"github.com/iorran/superfriday/internal/config"
	"github.com/iorran/superfriday/internal/handlers"
	"github.com/iorran/superfriday/internal/httpx"
	"github.com/iorran/superfriday/internal/mail"
	"github.com/iorran/superfriday/internal/secret"
	"github.com/iorran/superfriday/internal/services"
	"github.com/iorran/superfriday/internal/settings"
	"github.com/iorran/superfriday/internal/storage"
)

// Deps bundles the shared infrastructure the routes are built on.
type Deps struct {
	DB       *gorm.DB
	Blobs    storage.Store
	Secrets  *secret.Box
	Resolver *mail.Resolver
	Settings *settings.Service
}

// NewDeps constructs the default production dependency set.
func NewDeps(db *gorm.DB, cfg config.Config) (*Deps, error) {
	blobs, err := storage.NewFileStore(cfg.BlobDir)
	if err != nil {
		return nil, err
	}
	secrets := secret.New(cfg.SecretKey)
	resolver := mail.NewResolver(db, secrets, mail.FallbackConfig{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom,
	})
	return &Deps{
		DB:       db,
		Blobs:    blobs,
		Secrets:  secrets,
		Resolver: resolver,
		Settings: settings.NewService(db),
	}, nil
}

// New constructs the root handler with all routes and middleware applied.
func New(deps *Deps, cfg config.Config) http.Handler {
	mux := http.NewServeMux()

	invoiceSvc := services.NewInvoiceService(deps.DB, deps.Blobs, deps.Settings)
	dispatchSvc := services.NewDispatchService(deps.DB, deps.Blobs, deps.Resolver, deps.Settings, cfg)
	accountSvc := services.NewAccountService(deps.DB, deps.Secrets, deps.Resolver)

	ih := handlers.NewInvoiceHandler(deps.DB, invoiceSvc, dispatchSvc)
	ch := handlers.NewClientHandler(deps.DB)
	th := handlers.NewTemplateHandler(deps.DB)
	ah := handlers.NewAccountHandler(accountSvc, deps.Resolver)
	sh := handlers.NewSettingsHandler(deps.Settings)

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if err := deps.DB.Exec("SELECT 1").Error; err != nil {
			httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	guard := auth.Middleware(cfg.SecretKey)

	mux.Handle("/invoices", guard(methods(map[string]http.HandlerFunc{
		http.MethodGet:    ih.List,
		http.MethodPost:   ih.Create,
		http.MethodDelete: ih.Delete,
	})))
	mux.Handle("/invoices/files", guard(methods(map[string]http.HandlerFunc{
		http.MethodPost:   ih.AttachFile,
		http.MethodDelete: ih.DetachFile,
	})))
	mux.Handle("/invoices/pdf", guard(methods(map[string]http.HandlerFunc{
		http.MethodGet: ih.PDF,
	})))
	mux.Handle("/invoices/send", guard(methods(map[string]http.HandlerFunc{
		http.MethodPost: ih.Send,
	})))
	mux.Handle("/invoices/payment", guard(methods(map[string]http.HandlerFunc{
		http.MethodPost: ih.Payment,
	})))
	mux.Handle("/invoices/history", guard(methods(map[string]http.HandlerFunc{
		http.MethodGet: ih.History,
	})))

	mux.Handle("/clients", guard(methods(map[string]http.HandlerFunc{
		http.MethodGet:  ch.List,
		http.MethodPost: ch.Create,
		http.MethodPut:  ch.Update,
	})))
	mux.Handle("/templates", guard(methods(map[string]http.HandlerFunc{
		http.MethodGet:  th.List,
		http.MethodPost: th.Upsert,
	})))
	mux.Handle("/accounts", guard(methods(map[string]http.HandlerFunc{
		http.MethodGet:    ah.List,
		http.MethodPost:   ah.Create,
		http.MethodPut:    ah.Update,
		http.MethodDelete: ah.Delete,
	})))
	mux.Handle("/accounts/default", guard(methods(map[string]http.HandlerFunc{
		http.MethodPost: ah.SetDefault,
	})))
	mux.Handle("/accounts/verify", guard(methods(map[string]http.HandlerFunc{
		http.MethodPost: ah.Verify,
	})))
	mux.Handle("/settings", guard(methods(map[string]http.HandlerFunc{
		http.MethodGet: sh.Get,
		http.MethodPut: sh.Put,
	})))

	return withRecover(withLogging(mux))
}

// methods dispatches by HTTP method and answers 405 with an Allow header
// otherwise.
func methods(routes map[string]http.HandlerFunc) http.Handler {
	allow := ""
	for _, m := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
		if _, ok := routes[m]; ok {
			if allow != "" {
				allow += ","
			}
			allow += m
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := routes[r.Method]; ok {
			h(w, r)
			return
		}
		w.Header().Set("Allow", allow)
		httpx.JSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
	})
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panicked")
				httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
