// Package health отдаёт /healthz и /readyz для супервизора и Docker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/features/livestock"
)

const pingTimeout = 3 * time.Second

// Pinger - база данных.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LiveStatus - состояние витрины.
type LiveStatus interface {
	Status() livestock.Status
}

type readiness struct {
	Database  string           `json:"database"`
	LiveStock livestock.Status `json:"live_stock"`
}

// NewRouter собирает маршруты. live может быть nil.
func NewRouter(db Pinger, live LiveStatus) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), pingTimeout)
		defer cancel()

		body := readiness{Database: "ok"}
		code := http.StatusOK
		if err := db.Ping(ctx); err != nil {
			body.Database = err.Error()
			code = http.StatusServiceUnavailable
		}
		if live != nil {
			body.LiveStock = live.Status()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(body); err != nil {
			log.WithError(err).Debug("Ошибка записи ответа /readyz")
		}
	})

	return r
}

// Server - HTTP-сервер проверок.
type Server struct {
	srv *http.Server
}

func NewServer(addr string, h http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Start слушает адрес в фоне.
func (s *Server) Start() {
	go func() {
		log.WithField("addr", s.srv.Addr).Info("Health-сервер запущен")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Health-сервер остановился с ошибкой")
		}
	}()
}

// Shutdown останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
