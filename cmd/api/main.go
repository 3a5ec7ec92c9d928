package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/config"
	"github.com/cmlabs-hris/payroll-engine/internal/fixtures"
	appHTTP "github.com/cmlabs-hris/payroll-engine/internal/handler/http"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/database"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/formula"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/jwt"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/policy"
	"github.com/cmlabs-hris/payroll-engine/internal/repository/postgresql"
	"github.com/cmlabs-hris/payroll-engine/internal/service/calculation"
	payrollService "github.com/cmlabs-hris/payroll-engine/internal/service/payroll"
	templateService "github.com/cmlabs-hris/payroll-engine/internal/service/template"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Println("Error loading config:", err)
		os.Exit(1)
	}

	logger := appHTTP.NewLogger(os.Stdout, cfg.SlogLevel(), cfg.App.Name, cfg.App.Version, cfg.App.Env)
	slog.SetDefault(logger)

	ctx := context.Background()
	db, err := database.NewPostgreSQLDB(ctx, cfg.DatabaseURL(), database.PoolOptions{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		slog.Error("Error connecting to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			slog.Error("Error running migrations", "error", err)
			os.Exit(1)
		}
	}

	transactor := postgresql.NewTransactor(db)
	templateRepo := postgresql.NewTemplateRepository(db)
	invoiceRepo := postgresql.NewInvoiceTemplateRepository(db)
	runRepo := postgresql.NewPayrollRunRepository(db)
	itemRepo := postgresql.NewPayrollItemRepository(db)
	attendanceRepo := postgresql.NewAttendanceRepository(db)
	staffRepo := postgresql.NewStaffRepository(db)
	gradeRepo := postgresql.NewPayGradeRepository(db)

	evaluator, err := formula.NewEvaluator(cfg.Calculation.FormulaCostLimit)
	if err != nil {
		slog.Error("Error building formula evaluator", "error", err)
		os.Exit(1)
	}
	enforcer, err := policy.NewEnforcer()
	if err != nil {
		slog.Error("Error loading access policy", "error", err)
		os.Exit(1)
	}
	JWTService := jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.AccessExpiration)

	templateSvc := templateService.NewTemplateService(templateRepo, transactor, enforcer, evaluator)
	invoiceSvc := templateService.NewInvoiceTemplateService(invoiceRepo, transactor, enforcer)
	payrollSvc := payrollService.NewPayrollService(
		transactor,
		runRepo,
		itemRepo,
		attendanceRepo,
		staffRepo,
		gradeRepo,
		templateSvc,
		invoiceSvc,
		templateRepo,
		invoiceRepo,
		calculation.NewEngine(evaluator),
		enforcer,
		payrollService.Options{Workers: cfg.Calculation.Workers},
	)

	if cfg.Seed.Enabled {
		reqs, err := fixtures.ReadTemplates(cfg.Seed.TemplatesFile)
		if err != nil {
			slog.Error("Error reading template seed file", "error", err)
			os.Exit(1)
		}
		if _, err := fixtures.SeedTemplates(ctx, templateRepo, templateSvc, reqs); err != nil {
			slog.Error("Error seeding templates", "error", err)
			os.Exit(1)
		}
	}

	payrollRunHandler := appHTTP.NewPayrollRunHandler(payrollSvc)
	templateHandler := appHTTP.NewTemplateHandler(templateSvc)
	invoiceTemplateHandler := appHTTP.NewInvoiceTemplateHandler(invoiceSvc)

	router := appHTTP.NewRouter(
		logger,
		appHTTP.RouterOptions{
			AllowedOrigins: cfg.App.AllowedOrigins,
			LogLevel:       cfg.SlogLevel(),
		},
		JWTService,
		payrollRunHandler,
		templateHandler,
		invoiceTemplateHandler,
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Server running", "addr", "http://localhost"+server.Addr)
	if err := server.ListenAndServe(); err != nil {
		slog.Error("Server error", "error", err)
	}
}
