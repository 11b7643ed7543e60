package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Serval-Chat/backend-sub001/internal/hub"
)

type identityKeyType struct{}

func identityFrom(r *http.Request) hub.Identity {
	return r.Context().Value(identityKeyType{}).(hub.Identity)
}

func withIdentity(r *http.Request, identity hub.Identity) context.Context {
	return context.WithValue(r.Context(), identityKeyType{}, identity)
}

func userVersionKey(userID int64) string {
	return fmt.Sprintf("user_version:%d", userID)
}

// UserVerifier authenticates the JWT cookie: signature, expiry and the token
// version against the stored user. A stale version means a logout-everywhere
// happened after this token was issued.
func (h *Handlers) UserVerifier(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jwtCookie, err := r.Cookie("JWT")
		if err != nil {
			h.sugar.Debug(err)
			switch {
			case errors.Is(err, http.ErrNoCookie):
				http.Error(w, "No jwt cookie was provided", http.StatusUnauthorized)
			default:
				http.Error(w, "Couldn't read jwt cookie", http.StatusInternalServerError)
			}
			return
		}

		userToken, err := h.signer.VerifyToken(jwtCookie.Value)
		if err != nil {
			h.sugar.Debug(err)
			http.Error(w, "Couldn't verify JWT", http.StatusBadRequest)
			return
		}

		expired := time.Now().UTC().After(userToken.ExpiresAt.UTC())
		if expired {
			http.Error(w, "Login expired", http.StatusUnauthorized)
			return
		}

		currentVersion, found, err := h.lookupTokenVersion(r.Context(), userToken.UserID)
		if err != nil {
			h.sugar.Error(err)
			http.Error(w, "", http.StatusInternalServerError)
			return
		}

		// a missing user or a stale version both invalidate the cookie
		if !found || userToken.TokenVersion != currentVersion {
			http.SetCookie(w, deleteJwtCookie())
			http.Error(w, "", http.StatusUnauthorized)
			return
		}

		// renew JWT and cookie
		timeSinceLast := time.Now().UTC().Sub(userToken.IssuedAt.Time)
		if timeSinceLast >= 15*time.Minute {
			updatedCookie, err := h.signer.CreateToken(userToken.Remember, userToken.UserID, userToken.Username, userToken.TokenVersion)
			if err != nil {
				h.sugar.Error(err)
				http.Error(w, "Couldn't renew cookie", http.StatusInternalServerError)
				return
			}
			http.SetCookie(w, &updatedCookie)
		}

		identity := hub.Identity{
			UserID:       userToken.UserID,
			Username:     userToken.Username,
			TokenVersion: userToken.TokenVersion,
		}
		ctx := context.WithValue(r.Context(), identityKeyType{}, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// lookupTokenVersion serves the stored token version from the cache and
// falls back to the database, caching hits for 15 minutes.
func (h *Handlers) lookupTokenVersion(ctx context.Context, userID int64) (int64, bool, error) {
	key := userVersionKey(userID)

	value, err := h.cache.Get(key)
	if err != nil {
		return 0, false, err
	}
	if value != "" {
		version, parseErr := strconv.ParseInt(value, 10, 64)
		if parseErr == nil {
			return version, true, nil
		}
		h.sugar.Warnf("Dropping unparseable cached token version for user ID [%d]", userID)
	}

	user, err := h.store.GetUser(ctx, userID)
	if err != nil {
		return 0, false, err
	}
	if user == nil {
		return 0, false, nil
	}

	err = h.cache.Set(key, strconv.FormatInt(user.TokenVersion, 10), 15*time.Minute)
	if err != nil {
		return 0, false, err
	}
	return user.TokenVersion, true, nil
}
