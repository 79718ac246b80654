//go:build integration && postgres

package httpapi

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/impnet/service_layer/internal/app"
	"github.com/impnet/service_layer/internal/app/money"
	"github.com/impnet/service_layer/internal/app/storage/postgres"
	"github.com/impnet/service_layer/internal/logging"
	"github.com/impnet/service_layer/internal/middleware"
	"github.com/impnet/service_layer/internal/platform/migrations"
	"github.com/impnet/service_layer/pkg/logger"
)

// Integration test against Postgres to ensure migrations + core flows work with persistence.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping Postgres integration")
	}

	ctx := context.Background()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := migrations.Up(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := postgres.New(db)
	application, err := app.New(app.Stores{Ledger: store, Payroll: store, Chat: store},
		app.Options{Codec: money.NewCodec(2, "IMP")}, logger.NewDiscard())
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := application.Start(ctx); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() { _ = application.Stop(ctx) })

	logs := logging.New("integration", "error", "json")
	handler := middleware.NewAuthMiddleware(testSecret, logs, []string{"/healthz"}).
		Handler(NewHandler(application, Options{Logger: logs}))
	s := &testServer{t: t, app: application, handler: handler}

	// unique identities keep reruns against the same database independent
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	alice, bob := "alice-"+suffix, "bob-"+suffix

	if got := s.balance(alice); got != "100.00" {
		t.Fatalf("alice starting balance = %s", got)
	}
	s.balance(bob)

	rec := s.do(http.MethodPost, "/banking/transfer", alice, "citizen", map[string]any{"to_account": bob, "amount": "25", "description": "rent"})
	if rec.Code != http.StatusOK {
		t.Fatalf("transfer status %d body %s", rec.Code, rec.Body.String())
	}
	if got := s.balance(alice); got != "75.00" {
		t.Fatalf("alice balance = %s", got)
	}
	if got := s.balance(bob); got != "125.00" {
		t.Fatalf("bob balance = %s", got)
	}
	if txs := s.transfers(bob); len(txs) != 1 {
		t.Fatalf("bob transfers = %+v", txs)
	}

	rec = s.do(http.MethodPost, "/admin/set-salary", "teller", "bank_employee", map[string]any{"account_id": bob, "salary": 10})
	if rec.Code != http.StatusOK {
		t.Fatalf("set-salary status %d", rec.Code)
	}
	rec = s.do(http.MethodPost, "/admin/pay-salaries", "teller", "bank_employee", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pay-salaries status %d body %s", rec.Code, rec.Body.String())
	}
	if got := s.balance(bob); got != "135.00" {
		t.Fatalf("bob balance after payroll = %s", got)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}
}
