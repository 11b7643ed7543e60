package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Serval-Chat/backend-sub001/internal/hub"
)

// WsVerifier authenticates the upgrade request. A single-use ticket from
// /auth/wsTicket takes precedence; otherwise the normal cookie path applies.
func (h *Handlers) WsVerifier(next http.Handler) http.Handler {
	cookiePath := h.UserVerifier(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			cookiePath.ServeHTTP(w, r)
			return
		}

		// GetDel burns the ticket, a replay finds nothing
		value, err := h.cache.GetDel(fmt.Sprintf("wsTicket:%s", ticket))
		if err != nil {
			h.sugar.Error(err)
			http.Error(w, "", http.StatusInternalServerError)
			return
		}
		if value == "" {
			http.Error(w, "Invalid or expired ticket", http.StatusUnauthorized)
			return
		}

		var identity hub.Identity
		if err := json.Unmarshal([]byte(value), &identity); err != nil {
			h.sugar.Error(err)
			http.Error(w, "", http.StatusInternalServerError)
			return
		}

		next.ServeHTTP(w, r.WithContext(withIdentity(r, identity)))
	})
}

func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.hub.HandleClient(w, r, identityFrom(r))
}
