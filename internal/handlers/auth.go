package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Serval-Chat/backend-sub001/internal/models"
	"github.com/Serval-Chat/backend-sub001/internal/validator"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	type Login struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	var login Login
	err := json.NewDecoder(r.Body).Decode(&login)
	if err != nil {
		h.sugar.Debug(err)
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), login.Username)
	if err != nil {
		h.sugar.Error(err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}
	if user == nil {
		// same response as a wrong password, usernames are not probeable
		http.Error(w, "", http.StatusUnauthorized)
		return
	}

	err = bcrypt.CompareHashAndPassword(user.Password, []byte(login.Password))
	if err != nil {
		h.sugar.Debug(err)
		http.Error(w, "", http.StatusUnauthorized)
		return
	}

	cookie, err := h.signer.CreateToken(r.URL.Query().Get("rememberMe") == "true", user.ID, user.UserName, user.TokenVersion)
	if err != nil {
		h.sugar.Error(err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &cookie)
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	registerErrors := make(map[string]string)

	type Registration struct {
		Email           string `json:"email"`
		Username        string `json:"username"`
		DisplayName     string `json:"displayName"`
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirmPassword"`
	}

	var registration Registration
	err := json.NewDecoder(r.Body).Decode(&registration)
	if err != nil {
		h.sugar.Debug(err)
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	if err := validator.Email(registration.Email); err != nil {
		registerErrors["email"] = err.Error()
	}
	if err := validator.Username(registration.Username); err != nil {
		registerErrors["username"] = err.Error()
	}
	if err := validator.Password(registration.Password); err != nil {
		registerErrors["password"] = err.Error()
	}
	if registration.Password != registration.ConfirmPassword {
		registerErrors["confirmPassword"] = "passwords do not match"
	}

	if len(registerErrors) != 0 {
		// sends back 400 with the form field errors
		w.WriteHeader(http.StatusBadRequest)
		if err := json.NewEncoder(w).Encode(registerErrors); err != nil {
			h.sugar.Error(err)
		}
		return
	}

	existing, err := h.store.GetUserByUsername(r.Context(), registration.Username)
	if err != nil {
		h.sugar.Error(err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		registerErrors["username"] = "username is taken"
		w.WriteHeader(http.StatusBadRequest)
		if err := json.NewEncoder(w).Encode(registerErrors); err != nil {
			h.sugar.Error(err)
		}
		return
	}

	userID, err := h.snowflakes.Generate()
	if err != nil {
		h.sugar.Error(err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	passwordBytes, err := bcrypt.GenerateFromPassword([]byte(registration.Password), 12)
	if err != nil {
		h.sugar.Error(err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	displayName := registration.DisplayName
	if displayName == "" {
		displayName = registration.Username
	}

	user := models.User{
		ID:          userID,
		Email:       registration.Email,
		UserName:    registration.Username,
		DisplayName: displayName,
		Password:    passwordBytes,
	}

	err = h.store.CreateUser(r.Context(), &user)
	if err != nil {
		h.sugar.Error(err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	cookie, err := h.signer.CreateToken(false, user.ID, user.UserName, user.TokenVersion)
	if err != nil {
		h.sugar.Error(err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &cookie)
	w.WriteHeader(http.StatusCreated)
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, deleteJwtCookie())
}

// LogoutAll bumps the user's token version so every outstanding token goes
// stale, then drops this client's cookie too.
func (h *Handlers) LogoutAll(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	_, err := h.store.BumpTokenVersion(r.Context(), identity.UserID)
	if err != nil {
		h.sugar.Error(err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	// the verifier caches versions, invalidate so the bump takes effect now
	err = h.cache.Set(userVersionKey(identity.UserID), "", time.Nanosecond)
	if err != nil {
		h.sugar.Error(err)
	}

	http.SetCookie(w, deleteJwtCookie())
}

// CreateWsTicket issues a single-use short-lived ticket a non-browser client
// can pass as ?ticket= on the websocket URL instead of the cookie.
func (h *Handlers) CreateWsTicket(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	ticket, err := uuid.NewV7()
	if err != nil {
		h.sugar.Error(err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	bytes, err := json.Marshal(identity)
	if err != nil {
		h.sugar.Error(err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	err = h.cache.Set(fmt.Sprintf("wsTicket:%s", ticket.String()), string(bytes), 30*time.Second)
	if err != nil {
		h.sugar.Error(err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"ticket": ticket.String()}); err != nil {
		h.sugar.Error(err)
	}
}

func deleteJwtCookie() *http.Cookie {
	return &http.Cookie{
		Name:     "JWT",
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
	}
}
