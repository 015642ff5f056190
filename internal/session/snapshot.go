package session

type State int

const (
	Bootstrapping State = iota
	Unauthenticated
	Authenticated
)

func (s State) String() string {
	switch s {
	case Bootstrapping:
		return "bootstrapping"
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Snapshot is a read-only copy of the session. Authorization decisions must
// not be made from a snapshot that is not Ready.
type Snapshot struct {
	Ready bool
	Token string
	User  *User
}

func (s Snapshot) State() State {
	switch {
	case !s.Ready && !s.IsLoggedIn():
		return Bootstrapping
	case s.IsLoggedIn():
		return Authenticated
	default:
		return Unauthenticated
	}
}

func (s Snapshot) IsLoggedIn() bool {
	return s.Token != "" && s.User != nil
}

func (s Snapshot) Role() Role {
	if s.User == nil {
		return RoleNone
	}
	return s.User.Role
}

func (s Snapshot) IsAdmin() bool   { return s.Role() == RoleAdmin }
func (s Snapshot) IsCompany() bool { return s.Role() == RoleCompany }
func (s Snapshot) IsClient() bool  { return s.Role() == RoleClient }
