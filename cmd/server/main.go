package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"

	"github.com/loyaltyco/loyalty/engine"
	"github.com/loyaltyco/loyalty/events"
	"github.com/loyaltyco/loyalty/internal/config"
	"github.com/loyaltyco/loyalty/internal/logger"
	"github.com/loyaltyco/loyalty/ledger"

	_ "github.com/lib/pq"
)

type Server struct {
	log      *slog.Logger
	db       *sql.DB
	rules    engine.RuleStore
	compiler *engine.Compiler
	registry *engine.Registry
	ledger   *ledger.Service
	store    ledger.Store
	router   *chi.Mux
}

func newServer(log *slog.Logger, db *sql.DB, rules engine.RuleStore,
	compiler *engine.Compiler, registry *engine.Registry,
	svc *ledger.Service, store ledger.Store) *Server {

	s := &Server{
		log:      log,
		db:       db,
		rules:    rules,
		compiler: compiler,
		registry: registry,
		ledger:   svc,
		store:    store,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)

	r.Route("/api/earning-rules", func(r chi.Router) {
		r.Get("/", s.handleListRules)
		r.Post("/", s.handleCreateRule)

		r.Route("/{ruleId}", func(r chi.Router) {
			r.Get("/", s.handleGetRule)
			r.Put("/", s.handleUpdateRule)
			r.Patch("/", s.handleUpdateRuleStatus)
			r.Delete("/", s.handleDeleteRule)
		})
	})

	r.Route("/api/transactions", func(r chi.Router) {
		r.Post("/", s.handleCreateTransaction)
		r.Post("/simulate", s.handleSimulateTransaction)
	})

	r.Get("/api/points/{userId}", s.handleGetBalance)

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"activeWorkflows": len(s.registry.ActiveWorkflowNames()),
	})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.rules.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	if rules == nil {
		rules = []*engine.EarningRule{}
	}

	respondJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, err := ruleID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule id", err)
		return
	}

	rule, err := s.rules.Get(r.Context(), id)
	if err != nil {
		respondNotFoundOrError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateEarningRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	if err := s.compiler.Validate(req.RuleJSON); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule JSON format", err)
		return
	}

	rule := &engine.EarningRule{
		Name:     req.Name,
		RuleJSON: req.RuleJSON,
		Active:   req.IsActive,
	}
	if err := s.rules.Create(r.Context(), rule); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create rule", err)
		return
	}

	s.reload(r.Context())
	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := ruleID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule id", err)
		return
	}

	var req CreateEarningRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if err := s.compiler.Validate(req.RuleJSON); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule JSON format", err)
		return
	}

	rule := &engine.EarningRule{
		ID:       id,
		Name:     req.Name,
		RuleJSON: req.RuleJSON,
		Active:   req.IsActive,
	}
	if err := s.rules.Update(r.Context(), rule); err != nil {
		respondNotFoundOrError(w, err)
		return
	}

	s.reload(r.Context())
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRuleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := ruleID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule id", err)
		return
	}

	var req UpdateRuleStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.IsActive == nil {
		respondError(w, http.StatusBadRequest, "missing isActive field", nil)
		return
	}

	if err := s.rules.SetActive(r.Context(), id, *req.IsActive); err != nil {
		respondNotFoundOrError(w, err)
		return
	}

	s.reload(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := ruleID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule id", err)
		return
	}

	if err := s.rules.Delete(r.Context(), id); err != nil {
		respondNotFoundOrError(w, err)
		return
	}

	s.reload(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.UserID == 0 {
		respondError(w, http.StatusBadRequest, "userId is required", nil)
		return
	}
	if req.Amount <= 0 {
		respondError(w, http.StatusBadRequest, "amount must be positive", nil)
		return
	}

	receipt, err := s.ledger.Record(r.Context(), req.toTransaction())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to record transaction", err)
		return
	}

	respondJSON(w, http.StatusOK, TransactionResponse{
		Transaction:    receipt.Transaction,
		PointsEarned:   receipt.PointsEarned,
		CurrentBalance: receipt.Balance,
	})
}

func (s *Server) handleSimulateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.UserID == 0 {
		respondError(w, http.StatusBadRequest, "userId is required", nil)
		return
	}

	points, err := s.ledger.Simulate(r.Context(), req.toTransaction())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to simulate transaction", err)
		return
	}

	respondJSON(w, http.StatusOK, SimulateResponse{PointsEarned: points})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userId"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user id", err)
		return
	}

	balance, err := s.store.Balance(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get balance", err)
		return
	}

	respondJSON(w, http.StatusOK, BalanceResponse{UserID: userID, Balance: balance})
}

// reload rebuilds the active workflow set after an administrative
// write. A failed reload keeps the previous set serving, so the write
// itself still succeeds; the failure is only logged.
func (s *Server) reload(ctx context.Context) {
	if err := s.registry.Reload(ctx); err != nil {
		s.log.Error("failed to reload earning rules", "error", err)
	}
}

func ruleID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "ruleId"), 10, 64)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

func respondNotFoundOrError(w http.ResponseWriter, err error) {
	if errors.Is(err, engine.ErrRuleNotFound) {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	respondError(w, http.StatusInternalServerError, "storage error", err)
}

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	ruleStore := engine.NewPostgresRuleStore(db)
	ledgerStore := ledger.NewPostgresStore(db)

	compiler, err := engine.NewCompiler()
	if err != nil {
		log.Error("failed to create rule compiler", "error", err)
		os.Exit(1)
	}

	registry := engine.NewRegistry(ruleStore, compiler, log)
	if err := registry.Reload(context.Background()); err != nil {
		log.Error("failed to load earning rules", "error", err)
		os.Exit(1)
	}
	log.Info("earning rules loaded", "active_workflows", registry.ActiveWorkflowNames())

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			log.Error("failed to connect to NATS", "url", cfg.NATSURL, "error", err)
			os.Exit(1)
		}
		defer nc.Close()
		publisher = events.NewNATSPublisher(nc, cfg.EventSubjectPrefix)
		log.Info("event publishing enabled", "subject_prefix", cfg.EventSubjectPrefix)
	}

	evaluator := engine.NewEvaluator(registry, ledgerStore, log)
	svc := ledger.NewService(ledgerStore, evaluator, publisher, log)

	server := newServer(log, db, ruleStore, compiler, registry, svc, ledgerStore)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("server shutdown error", "error", err)
	}

	log.Info("server stopped")
}
