package web

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jltorresm/otpgo"
	log "github.com/sirupsen/logrus"
)

// reset codes stay valid for this many seconds
const resetCodePeriod = 300

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
}

type resetRequest struct {
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

// resetState is a pending password reset. The code is a TOTP over key, so
// nothing but the key has to be kept.
type resetState struct {
	key      string
	lastCode string
}

// ResetCode returns the code last texted to the account, standing in for the SMS.
func (b *Backend) ResetCode(email string) (string, bool) {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	st, ok := b.resets[strings.ToLower(email)]
	if !ok {
		return "", false
	}
	return st.lastCode, true
}

func (b *Backend) registerClient(rw http.ResponseWriter, r *http.Request) {
	b.register(rw, r, "client")
}

func (b *Backend) registerCompany(rw http.ResponseWriter, r *http.Request) {
	b.register(rw, r, "company")
}

func (b *Backend) register(rw http.ResponseWriter, r *http.Request, role string) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(rw, http.StatusBadRequest, "malformed request")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Name == "" {
		writeMessage(rw, http.StatusBadRequest, "name and email are required")
		return
	}
	if role == "client" && req.Password == "" {
		writeMessage(rw, http.StatusBadRequest, "password is required")
		return
	}
	if role == "company" && req.Phone == "" {
		writeMessage(rw, http.StatusBadRequest, "phone is required")
		return
	}

	acc := Account{
		ID:    uuid.NewString(),
		Email: email,
		Name:  req.Name,
		Role:  role,
		Phone: req.Phone,
	}
	if role == "company" {
		acc.Status = "pending"
	}
	if req.Password != "" {
		hash, err := HashPassword(req.Password)
		if err != nil {
			log.Errorf("[Web] hashing password failed: %s", err)
			writeMessage(rw, http.StatusInternalServerError, "internal error")
			return
		}
		acc.PasswordHash = hash
	}

	b.mtx.Lock()
	_, exists := b.accounts[email]
	if !exists {
		b.accounts[email] = acc
	}
	b.mtx.Unlock()
	if exists {
		writeMessage(rw, http.StatusConflict, "email already registered")
		return
	}

	log.Infof("[Web] registered %s as %s", email, role)
	writeJSON(rw, http.StatusCreated, acc.view())
}

func decodeReset(rw http.ResponseWriter, r *http.Request) (resetRequest, bool) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Phone == "" {
		writeMessage(rw, http.StatusBadRequest, "email and phone are required")
		return req, false
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	return req, true
}

func (b *Backend) sendResetCode(rw http.ResponseWriter, r *http.Request) {
	req, ok := decodeReset(rw, r)
	if !ok {
		return
	}

	b.mtx.RLock()
	acc, known := b.accounts[req.Email]
	b.mtx.RUnlock()
	if !known || acc.Phone != req.Phone {
		writeMessage(rw, http.StatusNotFound, "no account with this email and phone")
		return
	}

	totp := otpgo.TOTP{Period: resetCodePeriod}
	code, err := totp.Generate()
	if err != nil {
		log.Errorf("[Web] reset code generate failed: %s", err)
		writeMessage(rw, http.StatusInternalServerError, "internal error")
		return
	}

	b.mtx.Lock()
	b.resets[req.Email] = resetState{key: totp.Key, lastCode: code}
	b.mtx.Unlock()

	log.Infof("[Web] reset code for %s sent to %s", req.Email, req.Phone)
	writeMessage(rw, http.StatusOK, "code sent")
}

// checkCode writes the error response itself when the code is not accepted.
func (b *Backend) checkCode(rw http.ResponseWriter, req resetRequest) bool {
	b.mtx.RLock()
	st, pending := b.resets[req.Email]
	acc := b.accounts[req.Email]
	b.mtx.RUnlock()
	if !pending || acc.Phone != req.Phone || req.Code == "" {
		writeMessage(rw, http.StatusBadRequest, "invalid code")
		return false
	}

	totp := otpgo.TOTP{Key: st.key, Period: resetCodePeriod}
	valid, err := totp.Validate(req.Code)
	if err != nil {
		log.Errorf("[Web] reset code validating error: %s", err)
		writeMessage(rw, http.StatusInternalServerError, "internal error")
		return false
	}
	if !valid {
		writeMessage(rw, http.StatusBadRequest, "invalid code")
		return false
	}
	return true
}

func (b *Backend) verifyResetCode(rw http.ResponseWriter, r *http.Request) {
	req, ok := decodeReset(rw, r)
	if !ok || !b.checkCode(rw, req) {
		return
	}
	writeMessage(rw, http.StatusOK, "code verified")
}

func (b *Backend) resetPassword(rw http.ResponseWriter, r *http.Request) {
	req, ok := decodeReset(rw, r)
	if !ok {
		return
	}
	if req.NewPassword == "" {
		writeMessage(rw, http.StatusBadRequest, "new password is required")
		return
	}
	if !b.checkCode(rw, req) {
		return
	}

	hash, err := HashPassword(req.NewPassword)
	if err != nil {
		log.Errorf("[Web] hashing password failed: %s", err)
		writeMessage(rw, http.StatusInternalServerError, "internal error")
		return
	}

	b.mtx.Lock()
	acc := b.accounts[req.Email]
	acc.PasswordHash = hash
	b.accounts[req.Email] = acc
	delete(b.resets, req.Email)
	for token, email := range b.tokens {
		if email == req.Email {
			delete(b.tokens, token)
		}
	}
	b.mtx.Unlock()

	log.Infof("[Web] password reset for %s", req.Email)
	writeMessage(rw, http.StatusOK, "password updated")
}
