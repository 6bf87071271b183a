package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"banking-ledger/internal/config"
	"banking-ledger/internal/handler"
	"banking-ledger/internal/ledger"
	"banking-ledger/internal/notify"
	"banking-ledger/internal/repository"
	"banking-ledger/internal/service"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
)

// Server represents the HTTP server
type Server struct {
	router *mux.Router
	server *http.Server
	db     *sql.DB
	logger *slog.Logger
	port   string
}

// NewServer wires the store, notifier, ledger engine and handlers and
// returns a server ready to start.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	var (
		store ledger.Store
		db    *sql.DB
	)

	if cfg.Storage == config.StorageMemory {
		store = repository.NewMemoryStore(cfg.LockWait)
		logger.Info("using in-memory store")
	} else {
		var err error
		db, err = sql.Open("postgres", cfg.GetDBConnectionString())
		if err != nil {
			return nil, err
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("connected to database")

		store = repository.NewStore(db, cfg.LockWait, logger)
	}

	notifier := notify.NewNotifier(logger)
	notifier.Register(notify.NewLogListener(logger))

	engine := ledger.NewEngine(store, notifier, logger)
	accountService := service.NewAccountService(store, logger)

	accountHandler := handler.NewAccountHandler(accountService)
	transactionHandler := handler.NewTransactionHandler(engine)

	router := mux.NewRouter()
	router.Use(loggingMiddleware(logger))

	// Account lifecycle
	router.HandleFunc("/accounts", accountHandler.CreateAccount).Methods("POST")
	router.HandleFunc("/accounts/{account_number}", accountHandler.GetAccount).Methods("GET")
	router.HandleFunc("/accounts/{account_number}/close", accountHandler.CloseAccount).Methods("POST")
	router.HandleFunc("/accounts/{account_number}/suspend", accountHandler.SuspendAccount).Methods("POST")
	router.HandleFunc("/accounts/{account_number}/activate", accountHandler.ActivateAccount).Methods("POST")

	// Ledger operations
	router.HandleFunc("/transactions/deposit", transactionHandler.Deposit).Methods("POST")
	router.HandleFunc("/transactions/withdraw", transactionHandler.Withdraw).Methods("POST")
	router.HandleFunc("/transactions/transfer", transactionHandler.Transfer).Methods("POST")
	router.HandleFunc("/transactions/{reference_number}", transactionHandler.GetTransaction).Methods("GET")
	router.HandleFunc("/accounts/{account_number}/balance", transactionHandler.GetBalance).Methods("GET")
	router.HandleFunc("/accounts/{account_number}/transactions", transactionHandler.GetTransactionHistory).Methods("GET")
	router.HandleFunc("/accounts/{account_number}/deposits/total", transactionHandler.GetTotalDeposits).Methods("GET")

	// Health check
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.Ping(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "database unavailable"})
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods("GET")

	return &Server{
		router: router,
		db:     db,
		logger: logger,
	}, nil
}

// loggingMiddleware adds request logging
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.statusCode,
				"duration", time.Since(start),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server on the specified port
func (s *Server) Start(port string) (string, error) {
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return "", err
	}

	addr := listener.Addr().(*net.TCPAddr)
	s.port = strconv.Itoa(addr.Port)

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting server", "port", s.port)

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server failed", "error", err)
		}
	}()

	return s.port, nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if s.db != nil {
		s.db.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// GetPort returns the port the server is listening on
func (s *Server) GetPort() string {
	return s.port
}

// GetBaseURL returns the base URL for the server
func (s *Server) GetBaseURL() string {
	return "http://localhost:" + s.port
}

// GetRouter returns the router for testing purposes
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// StartServer starts the server with the given configuration
func StartServer(cfg *config.Config) (*Server, string, error) {
	var logger *slog.Logger
	if cfg.ServerPort == "0" {
		// Test environment - keep output quiet
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		return nil, "", err
	}

	port, err := server.Start(cfg.ServerPort)
	if err != nil {
		return nil, "", err
	}

	return server, port, nil
}
