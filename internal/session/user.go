package session

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type Role string

const (
	RoleNone    Role = ""
	RoleClient  Role = "client"
	RoleCompany Role = "company"
	RoleAdmin   Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleNone, RoleClient, RoleCompany, RoleAdmin:
		return r, nil
	default:
		return RoleNone, fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

func (r Role) MarshalJSON() ([]byte, error) {
	if r == RoleNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(r))
}

func (r *Role) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*r = RoleNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("role: %w", err)
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// User is the backend's user record. Fields the client does not model are
// kept verbatim in Extra so they survive a save/restore round trip.
type User struct {
	// ID is the canonical identifier, serialized as "_id".
	ID string
	// AltID is the "id" field some backend responses carry instead of "_id".
	AltID string
	Name  string
	Email string
	Role  Role
	Extra map[string]json.RawMessage
}

var knownUserFields = map[string]struct{}{
	"_id":   {},
	"id":    {},
	"name":  {},
	"email": {},
	"role":  {},
}

func (u User) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(u.Extra)+5)
	for k, v := range u.Extra {
		if _, known := knownUserFields[k]; known {
			continue
		}
		out[k] = v
	}
	out["_id"] = u.ID
	if u.AltID != "" {
		out["id"] = u.AltID
	}
	out["name"] = u.Name
	out["email"] = u.Email
	out["role"] = u.Role
	return json.Marshal(out)
}

func (u *User) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("user: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("user: null record")
	}

	parsed := User{}
	fields := []struct {
		name string
		dst  *string
	}{
		{"_id", &parsed.ID},
		{"id", &parsed.AltID},
		{"name", &parsed.Name},
		{"email", &parsed.Email},
	}
	for _, f := range fields {
		v, ok := raw[f.name]
		if !ok || bytes.Equal(v, []byte("null")) {
			continue
		}
		if err := json.Unmarshal(v, f.dst); err != nil {
			return fmt.Errorf("user field %s: %w", f.name, err)
		}
	}
	if v, ok := raw["role"]; ok {
		if err := json.Unmarshal(v, &parsed.Role); err != nil {
			return fmt.Errorf("user field role: %w", err)
		}
	}

	for k, v := range raw {
		if _, known := knownUserFields[k]; known {
			continue
		}
		if parsed.Extra == nil {
			parsed.Extra = make(map[string]json.RawMessage)
		}
		parsed.Extra[k] = v
	}

	*u = parsed
	return nil
}

// Clone returns a deep copy, so readers never share Extra with the manager.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(u.Extra))
		for k, v := range u.Extra {
			c.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &c
}

// normalize fills the canonical id from the alternate field. The fallback
// reports whether it was used so callers can log it.
func (u *User) normalize() (usedFallback bool) {
	if u.ID == "" && u.AltID != "" {
		u.ID = u.AltID
		return true
	}
	return false
}
