// Package handlers is the HTTP surface: login, registration, the websocket
// upgrade and the middleware that authenticates both. Everything realtime
// happens behind the upgrade, in the hub.
package handlers

import (
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/Serval-Chat/backend-sub001/internal/database"
	"github.com/Serval-Chat/backend-sub001/internal/hub"
	"github.com/Serval-Chat/backend-sub001/internal/jwt"
	"github.com/Serval-Chat/backend-sub001/internal/keyValue"
	"github.com/Serval-Chat/backend-sub001/internal/models"
	"github.com/Serval-Chat/backend-sub001/internal/snowflake"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Handlers struct {
	sugar      *zap.SugaredLogger
	db         *sql.DB
	store      *database.Store
	signer     *jwt.Signer
	cache      *keyValue.Cache
	hub        *hub.Hub
	snowflakes *snowflake.Generator
}

func New(sugar *zap.SugaredLogger, db *sql.DB, store *database.Store, signer *jwt.Signer, cache *keyValue.Cache, h *hub.Hub, snowflakes *snowflake.Generator) *Handlers {
	return &Handlers{
		sugar:      sugar,
		db:         db,
		store:      store,
		signer:     signer,
		cache:      cache,
		hub:        h,
		snowflakes: snowflakes,
	}
}

func (h *Handlers) Serve(isHttps bool, cfg *models.ConfigFile) error {
	r := chi.NewRouter()
	if cfg.PrintHttpRequests {
		r.Use(middleware.Logger)
	}

	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api", func(api chi.Router) {
		api.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.Login)
			r.Post("/register", h.Register)
			r.With(h.UserVerifier).Post("/logout", h.Logout)
			r.With(h.UserVerifier).Post("/logoutAll", h.LogoutAll)
			r.With(h.UserVerifier).Post("/wsTicket", h.CreateWsTicket)
			r.With(h.UserVerifier).Get("/isLoggedIn", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
		})
	})

	var websocketPath string
	if cfg.BehindNginx {
		websocketPath = "/ws/"
	} else {
		websocketPath = "/ws"
	}
	r.With(h.WsVerifier).Get(websocketPath, h.HandleWebSocket)

	address := fmt.Sprintf("%s:%s", cfg.Address, cfg.Port)

	if isHttps {
		return http.ListenAndServeTLS(address, cfg.TlsCert, cfg.TlsKey, r)
	}
	return http.ListenAndServe(address, r)
}
