package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Farengier/aircon-market/internal/session"
)

var (
	ErrAccountPending  = errors.New("company account is pending review")
	ErrAccountRejected = errors.New("company account was rejected")
)

type LoginResult struct {
	Token string        `json:"token"`
	User  *session.User `json:"user"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges credentials for a token. It is always sent without a bearer
// credential. Company accounts that are not approved yet are refused.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	res := &LoginResult{}
	err := c.Do(WithoutAuth(ctx), http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, res)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	if res.Token == "" || res.User == nil {
		return nil, fmt.Errorf("login failed: response has no token or user")
	}

	if res.User.Role == session.RoleCompany {
		switch companyStatus(res.User) {
		case "pending":
			return nil, ErrAccountPending
		case "rejected":
			return nil, ErrAccountRejected
		}
	}
	return res, nil
}

func companyStatus(u *session.User) string {
	raw, ok := u.Extra["status"]
	if !ok {
		return ""
	}
	var status string
	if err := json.Unmarshal(raw, &status); err != nil {
		return ""
	}
	return status
}

// SavePushToken registers the device push identifier for the user the bearer
// token belongs to.
func (c *Client) SavePushToken(ctx context.Context, bearer, deviceToken string) error {
	body := map[string]string{"token": deviceToken}
	err := c.Do(WithBearer(ctx, bearer), http.MethodPut, "/api/users/save-token", body, nil)
	if err != nil {
		return fmt.Errorf("save push token failed: %w", err)
	}
	return nil
}

// Profile returns the backend's view of the authenticated user.
func (c *Client) Profile(ctx context.Context) (*session.User, error) {
	u := &session.User{}
	err := c.Do(ctx, http.MethodGet, "/profile", nil, u)
	if err != nil {
		return nil, fmt.Errorf("profile failed: %w", err)
	}
	return u, nil
}
