package http

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/cmlabs-hris/payroll-engine/internal/handler/http/middleware"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/jwt"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
	"github.com/go-chi/jwtauth/v5"
)

// RouterOptions carries the request-level settings taken from config.
type RouterOptions struct {
	AllowedOrigins []string
	LogLevel       slog.Level
}

func NewRouter(
	logger *slog.Logger,
	opts RouterOptions,
	JWTService jwt.Service,
	payrollRunHandler PayrollRunHandler,
	templateHandler TemplateHandler,
	invoiceTemplateHandler InvoiceTemplateHandler,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		MaxAge:           300,
	}))

	r.Use(httplog.RequestLogger(logger, &httplog.Options{
		Level:  opts.LogLevel,
		Schema: httplog.SchemaECS,
	}))

	r.Use(chiMiddleware.AllowContentEncoding("application/json"))
	r.Use(chiMiddleware.CleanPath)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/"))

	r.Route("/api/v1", func(r chi.Router) {
		// Requires authentication
		r.Group(func(r chi.Router) {
			r.Use(jwtauth.Verifier(JWTService.JWTAuth()))
			r.Use(middleware.AuthRequired(JWTService.JWTAuth()))

			r.Route("/payroll", func(r chi.Router) {
				r.Route("/runs", func(r chi.Router) {
					r.Get("/", payrollRunHandler.List)
					r.Post("/", payrollRunHandler.Create)
					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", payrollRunHandler.Get)
						r.Delete("/", payrollRunHandler.Delete)
						r.Post("/calculate", payrollRunHandler.Calculate)
						r.Post("/approve", payrollRunHandler.Approve)
						r.Post("/export", payrollRunHandler.Export)
						r.Post("/cancel", payrollRunHandler.Cancel)
					})
				})

				r.Route("/templates", func(r chi.Router) {
					r.Get("/", templateHandler.List)
					r.Post("/", templateHandler.Create)
					r.Get("/default", templateHandler.GetDefault)
					r.Get("/components", templateHandler.ListComponents)
					r.Post("/validate-formula", templateHandler.ValidateFormula)
					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", templateHandler.Get)
						r.Put("/", templateHandler.Update)
						r.Delete("/", templateHandler.Delete)
						r.Post("/clone", templateHandler.Clone)
					})
				})

				r.Route("/invoice-templates", func(r chi.Router) {
					r.Get("/", invoiceTemplateHandler.List)
					r.Post("/", invoiceTemplateHandler.Create)
					r.Get("/default", invoiceTemplateHandler.GetDefault)
					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", invoiceTemplateHandler.Get)
						r.Put("/", invoiceTemplateHandler.Update)
						r.Delete("/", invoiceTemplateHandler.Delete)
						r.Post("/clone", invoiceTemplateHandler.Clone)
					})
				})
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "route not found", http.StatusNotFound)
	})

	return r
}

// NewLogger builds the ECS-formatted JSON logger shared by the router and services.
func NewLogger(w io.Writer, level slog.Level, app, version, env string) *slog.Logger {
	logFormat := httplog.SchemaECS.Concise(false)
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: logFormat.ReplaceAttr,
	})).With(
		slog.String("app", app),
		slog.String("version", version),
		slog.String("env", env),
	)
}
