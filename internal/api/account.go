package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Farengier/aircon-market/internal/session"
)

var ErrInvalidRegistration = errors.New("invalid registration")

// Registration is a new account request. Companies register with a phone
// number and wait for approval; clients need a password.
type Registration struct {
	Name     string       `json:"name"`
	Email    string       `json:"email"`
	Password string       `json:"password,omitempty"`
	Role     session.Role `json:"role"`
	Phone    string       `json:"phone,omitempty"`
}

func (r Registration) validate() error {
	if r.Name == "" || r.Email == "" {
		return fmt.Errorf("%w: name and email are required", ErrInvalidRegistration)
	}
	switch r.Role {
	case session.RoleClient:
		if r.Password == "" {
			return fmt.Errorf("%w: password is required", ErrInvalidRegistration)
		}
	case session.RoleCompany:
		if r.Phone == "" {
			return fmt.Errorf("%w: phone is required for companies", ErrInvalidRegistration)
		}
	default:
		return fmt.Errorf("%w: role %q cannot register", ErrInvalidRegistration, r.Role)
	}
	return nil
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, r Registration) error {
	if err := r.validate(); err != nil {
		return err
	}
	path := "/auth/register"
	if r.Role == session.RoleCompany {
		path = "/auth/company/register"
	}
	if err := c.Do(WithoutAuth(ctx), http.MethodPost, path, r, nil); err != nil {
		return fmt.Errorf("register failed: %w", err)
	}
	return nil
}

type resetRequest struct {
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Code        string `json:"code,omitempty"`
	NewPassword string `json:"newPassword,omitempty"`
}

// SendResetCode asks the backend to text a password reset code to phone.
func (c *Client) SendResetCode(ctx context.Context, email, phone string) error {
	err := c.Do(WithoutAuth(ctx), http.MethodPost, "/auth/send-reset-code", resetRequest{Email: email, Phone: phone}, nil)
	if err != nil {
		return fmt.Errorf("send reset code failed: %w", err)
	}
	return nil
}

// VerifyResetCode checks code without consuming it.
func (c *Client) VerifyResetCode(ctx context.Context, email, phone, code string) error {
	err := c.Do(WithoutAuth(ctx), http.MethodPost, "/auth/verify-reset-code",
		resetRequest{Email: email, Phone: phone, Code: code}, nil)
	if err != nil {
		return fmt.Errorf("verify reset code failed: %w", err)
	}
	return nil
}

// ResetPassword sets a new password using a code from SendResetCode.
func (c *Client) ResetPassword(ctx context.Context, email, phone, code, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("reset password failed: new password is empty")
	}
	err := c.Do(WithoutAuth(ctx), http.MethodPost, "/auth/reset-password",
		resetRequest{Email: email, Phone: phone, Code: code, NewPassword: newPassword}, nil)
	if err != nil {
		return fmt.Errorf("reset password failed: %w", err)
	}
	return nil
}
