// Package http exposes the ledger and report services over a JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/ledger"
	applog "bilancio/internal/log"
	"bilancio/internal/services"
)

// LedgerAPI is the slice of the ledger service the handlers need.
type LedgerAPI interface {
	Allocate(ctx context.Context, transactionID, budgetItemID int64, amount core.Money, note string) (core.Allocation, error)
	Release(ctx context.Context, allocationID int64) error
	AllocateOneToMany(ctx context.Context, transactionID int64, splits []ledger.Split) ([]core.Allocation, error)
	AllocateManyToOne(ctx context.Context, transactionIDs []int64, budgetItemID int64, note string) ([]core.Allocation, error)
	CloneBudget(ctx context.Context, budgetID int64, newName string, opts ledger.CloneOptions) (core.Budget, error)
	Outstanding(ctx context.Context, transactionID int64) (core.Money, error)
	CanDeleteTransaction(ctx context.Context, transactionID int64) (bool, error)
	CanDeleteBudgetItem(ctx context.Context, budgetItemID int64) (bool, error)
}

// ReportAPI is the read-only report surface.
type ReportAPI interface {
	BudgetReport(ctx context.Context, budgetID int64) (services.BudgetReport, error)
}

type Server struct {
	http.Server
	ledger  LedgerAPI
	reports ReportAPI

	rateLimiter  *rateLimiter
	shutdownOnce sync.Once
}

// NewServer configures routes and returns a ready-to-run server.
func NewServer(addr string, ledgerAPI LedgerAPI, reportAPI ReportAPI) *Server {
	mux := http.NewServeMux()
	logger := applog.New(applog.DefaultConfig()).WithComponent(applog.ComponentHTTP)

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: applog.Middleware(logger)(mux),
		},
		ledger:      ledgerAPI,
		reports:     reportAPI,
		rateLimiter: newRateLimiter(),
	}

	mux.HandleFunc("POST /api/allocations", s.withMiddleware(s.handleCreateAllocation))
	mux.HandleFunc("DELETE /api/allocations/{id}", s.withMiddleware(s.handleDeleteAllocation))
	mux.HandleFunc("POST /api/transactions/{id}/splits", s.withMiddleware(s.handleSplitTransaction))
	mux.HandleFunc("GET /api/transactions/{id}/outstanding", s.withMiddleware(s.handleOutstanding))
	mux.HandleFunc("GET /api/transactions/{id}/can-delete", s.withMiddleware(s.handleCanDeleteTransaction))
	mux.HandleFunc("POST /api/budget-items/{id}/allocations", s.withMiddleware(s.handleBatchAllocate))
	mux.HandleFunc("GET /api/budget-items/{id}/can-delete", s.withMiddleware(s.handleCanDeleteBudgetItem))
	mux.HandleFunc("POST /api/budgets/{id}/clone", s.withMiddleware(s.handleCloneBudget))
	mux.HandleFunc("GET /api/budgets/{id}/report", s.withMiddleware(s.handleBudgetReport))
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withMiddleware wraps a handler with request logging and rate limiting.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := generateRequestID()

		if !s.rateLimiter.allow(clientIP(r)) {
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		applog.FromContext(r.Context()).InfoContext(r.Context(), "Request handled",
			applog.FieldRequestID, requestID,
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldStatusCode, rec.status,
			applog.FieldDuration, time.Since(start).Milliseconds())
	}
}

// Shutdown stops the server and its cleanup goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
