package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 10

type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Role         string
	Phone        string
	// Status is only meaningful for companies: pending, approved or rejected.
	Status string
}

func (a Account) view() map[string]any {
	v := map[string]any{
		"_id":   a.ID,
		"name":  a.Name,
		"email": a.Email,
		"role":  a.Role,
	}
	if a.Status != "" {
		v["status"] = a.Status
	}
	if a.Phone != "" {
		v["phone"] = a.Phone
	}
	return v
}

// HashPassword produces the bcrypt hash accounts are configured with.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Backend is an in-memory stand-in for the marketplace API, enough to drive
// the client's session flow end to end.
type Backend struct {
	mtx        sync.RWMutex
	accounts   map[string]Account // by lower-cased email
	tokens     map[string]string  // bearer token -> email
	pushTokens map[string]string  // account id -> device token
	resets     map[string]resetState
}

func NewBackend(accounts []Account) *Backend {
	b := &Backend{
		accounts:   make(map[string]Account, len(accounts)),
		tokens:     make(map[string]string),
		pushTokens: make(map[string]string),
		resets:     make(map[string]resetState),
	}
	for _, a := range accounts {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		a.Email = strings.ToLower(a.Email)
		b.accounts[a.Email] = a
	}
	return b
}

// PushToken returns the device token last saved by the account.
func (b *Backend) PushToken(accountID string) (string, bool) {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	t, ok := b.pushTokens[accountID]
	return t, ok
}

func (b *Backend) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", b.health).Methods(http.MethodGet)
	r.HandleFunc("/auth/login", b.login).Methods(http.MethodPost)
	r.HandleFunc("/auth/register", b.registerClient).Methods(http.MethodPost)
	r.HandleFunc("/auth/company/register", b.registerCompany).Methods(http.MethodPost)
	r.HandleFunc("/auth/send-reset-code", b.sendResetCode).Methods(http.MethodPost)
	r.HandleFunc("/auth/verify-reset-code", b.verifyResetCode).Methods(http.MethodPost)
	r.HandleFunc("/auth/reset-password", b.resetPassword).Methods(http.MethodPost)

	authed := r.NewRoute().Subrouter()
	authed.Use(b.requireBearer)
	authed.HandleFunc("/profile", b.profile).Methods(http.MethodGet)
	authed.HandleFunc("/api/users/save-token", b.saveToken).Methods(http.MethodPut)
	return r
}

type ctxKey int

const accountKey ctxKey = iota

func (b *Backend) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeMessage(rw, http.StatusUnauthorized, "missing bearer token")
			return
		}

		b.mtx.RLock()
		email, known := b.tokens[token]
		acc := b.accounts[email]
		b.mtx.RUnlock()
		if !known {
			writeMessage(rw, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(rw, r.WithContext(context.WithValue(r.Context(), accountKey, acc)))
	})
}

func accountFrom(r *http.Request) Account {
	acc, _ := r.Context().Value(accountKey).(Account)
	return acc
}

func (b *Backend) health(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
}

func (b *Backend) login(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(rw, http.StatusBadRequest, "malformed request")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	b.mtx.RLock()
	acc, ok := b.accounts[email]
	b.mtx.RUnlock()
	if !ok || bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(req.Password)) != nil {
		log.Infof("[Web] failed login for %s", email)
		writeMessage(rw, http.StatusUnauthorized, "wrong credentials")
		return
	}

	token := uuid.NewString()
	b.mtx.Lock()
	b.tokens[token] = email
	b.mtx.Unlock()

	log.Infof("[Web] %s logged in as %s", email, acc.Role)
	writeJSON(rw, http.StatusOK, map[string]any{
		"token": token,
		"user":  acc.view(),
	})
}

func (b *Backend) profile(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, accountFrom(r).view())
}

func (b *Backend) saveToken(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeMessage(rw, http.StatusBadRequest, "token is required")
		return
	}

	acc := accountFrom(r)
	b.mtx.Lock()
	b.pushTokens[acc.ID] = req.Token
	b.mtx.Unlock()

	log.Infof("[Web] push token saved for %s", acc.Email)
	writeMessage(rw, http.StatusOK, "token saved")
}

func writeMessage(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"message": msg})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		log.Errorf("[Web] writing response failed: %s", err)
	}
}
