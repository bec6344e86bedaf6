package formflow

import (
	"context"
	"database/sql"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/formflowhq/formflow/internal/actions"
	"github.com/formflowhq/formflow/internal/config"
	"github.com/formflowhq/formflow/internal/controllers"
	"github.com/formflowhq/formflow/internal/core"
	"github.com/formflowhq/formflow/internal/engine"
	"github.com/formflowhq/formflow/internal/migrations"
	"github.com/formflowhq/formflow/internal/notify"
	"github.com/formflowhq/formflow/internal/repository"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lmittmann/tint"

	_ "github.com/go-sql-driver/mysql"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// CustomActions is populated by the caller before Start with any custom
// action handlers the deployment needs.
var CustomActions = actions.NewRegistry()

// Start boots the approval engine, the escalation sweeper and the HTTP
// server. This call blocks until the HTTP server stops.
func Start(mux *http.ServeMux) error {

	databaseType := config.GetSystemSettingString(config.DATABASE_TYPE)
	if databaseType == "" || (databaseType != config.DATABASE_TYPE_POSTGRES && databaseType != config.DATABASE_TYPE_MYSQL && databaseType != config.DATABASE_TYPE_SQLLITE) {
		panic("FFLOW_DATABASE_TYPE must be set to one of the following values: POSTGRES, MYSQL, SQLLITE")
	}

	var db *sql.DB
	if databaseType == config.DATABASE_TYPE_POSTGRES {
		db = setupPostgresDatabase()
		defer db.Close()
	}
	if databaseType == config.DATABASE_TYPE_SQLLITE {
		db = setupSqlLiteDatabase()
		defer db.Close()
	}
	if databaseType == config.DATABASE_TYPE_MYSQL {
		db = setupMysqlDatabase()
		defer db.Close()
	}

	userRepo := repository.NewUserRepository(db)
	formRepo := repository.NewFormRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	definitionRepo := repository.NewWorkflowDefinitionRepository(db)
	actionRepo := repository.NewActionRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	clock := core.NewRealClock()

	var notifier engine.Notifier = notify.LogNotifier{}
	if url := config.GetSystemSettingString(config.NOTIFY_WEBHOOK_URL); url != "" {
		notifier = notify.NewWebhookNotifier(url, nil)
	}

	baseDelay, _ := time.ParseDuration(config.GetSystemSettingString(config.ACTION_RETRY_BASE_DELAY))
	executor := actions.NewExecutor(actionRepo, userRepo, auditRepo, nil, CustomActions, clock, baseDelay)
	dbHandler := actions.NewDatabaseHandler()
	dbHandler.RegisterConnection("default", db, databaseType)
	executor.RegisterHandler("database", dbHandler)
	executor.RegisterHandler("http", actions.NewHTTPHandler(nil))
	if ldapURL := config.GetSystemSettingString(config.LDAP_URL); ldapURL != "" {
		executor.RegisterHandler("directory", actions.NewDirectoryHandler(
			ldapURL,
			config.GetSystemSettingString(config.LDAP_BIND_DN),
			config.GetSystemSettingString(config.LDAP_BIND_PASSWORD),
		))
	}

	approvalEngine := engine.NewApprovalEngine(submissionRepo, taskRepo, definitionRepo,
		auditRepo, userRepo, notifier, executor, nil, clock)

	sweepInterval, _ := time.ParseDuration(config.GetSystemSettingString(config.ESCALATION_SWEEP_INTERVAL))
	go runEscalationSweeper(approvalEngine, sweepInterval)

	if mux == nil {
		mux = http.NewServeMux()
	}
	authController := controllers.NewAuthController(userRepo)
	authController.RegisterRoutes(mux)
	submissionsController := controllers.NewSubmissionsController(userRepo, submissionRepo, taskRepo, auditRepo, approvalEngine)
	submissionsController.RegisterRoutes(mux)
	tasksController := controllers.NewTasksController(userRepo, taskRepo, approvalEngine)
	tasksController.RegisterRoutes(mux)
	workflowsController := controllers.NewWorkflowsController(userRepo, definitionRepo, formRepo, actionRepo)
	workflowsController.RegisterRoutes(mux)

	addr := ":" + config.GetSystemSettingString(config.SERVER_WEB_PORT)
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		addr = v
	}
	slog.Info("Starting HTTP server", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("HTTP server failed", "error", err)
		return err
	}
	return nil
}

func runEscalationSweeper(approvalEngine *engine.ApprovalEngine, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	slog.Info("Starting escalation sweeper", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		approvalEngine.SweepOverdueTasks(context.Background())
	}
}

func setupPostgresDatabase() *sql.DB {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		panic("FFLOW_DATABASE_URL must be set when using the POSTGRES database type")
	}
	slog.Info("Using Postgres database", "url", dbURL)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("postgres", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening Postgres database")
	dbPostgres, err := sql.Open("postgres", dbURL)
	if err != nil {
		slog.Error("DB connection failed", "error", err)
		os.Exit(1)
	}
	return dbPostgres
}

func setupSqlLiteDatabase() *sql.DB {
	fileName := config.GetSystemSettingString(config.DATABASE_SQLLITE_FILE_NAME)
	if fileName == "" {
		panic("FFLOW_DATABASE_SQLLITE_FILE_NAME must be set")
	}
	dbURL := "sqlite3://" + fileName
	slog.Info("Using SQLite database", "file", fileName)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("sqllite3", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening SQLite database")
	dbSqlLite, err := sql.Open("sqlite3", fileName)
	if err != nil {
		log.Fatalf("Failed to open SQLite DB: %v", err)
	}
	if err := dbSqlLite.Ping(); err != nil {
		log.Fatalf("Failed to ping SQLite DB: %v", err)
	}
	return dbSqlLite
}

func setupMysqlDatabase() *sql.DB {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		panic("FFLOW_DATABASE_URL must be set when using the MYSQL database type")
	}
	// panic if url does not contain ?parseTime=true
	if !strings.Contains(dbURL, "parseTime=true") {
		panic("FFLOW_DATABASE_URL must contain 'parseTime=true' for MySQL")
	}
	// panic if url does not  start with mysql://
	if !strings.HasPrefix(dbURL, "mysql://") {
		panic("FFLOW_DATABASE_URL must start with 'mysql://' for MySQL")
	}

	slog.Info("Using MySQL database", "url", dbURL)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("mysql", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening MySQL database")
	//remove mysql:// prefix from url
	dbMysql, err := sql.Open("mysql", strings.Replace(dbURL, "mysql://", "", 1))
	if err != nil {
		slog.Error("DB connection failed", "error", err)
		os.Exit(1)
	}
	return dbMysql
}

func runMigrationsFromEmbed(migrationsPath string, dbURL string) error {
	sub, err := fs.Sub(migrations.FS, migrationsPath)
	if err != nil {
		return err
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func SetupLogger() {
	w := os.Stderr
	_ = slog.New(tint.NewHandler(w, nil))
	slog.SetDefault(slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}
