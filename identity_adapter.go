package auth

// UserIdentity adapts a User into the Identity interface
type UserIdentity struct {
	user *User
}

// NewIdentityFromUser returns an Identity for user, nil for a nil user
func NewIdentityFromUser(user *User) Identity {
	if user == nil {
		return nil
	}
	return UserIdentity{user: user}
}

func (u UserIdentity) ID() string {
	if u.user == nil {
		return ""
	}
	return u.user.ID.String()
}

func (u UserIdentity) Username() string {
	if u.user == nil {
		return ""
	}
	return u.user.Username
}

func (u UserIdentity) Email() string {
	if u.user == nil {
		return ""
	}
	return u.user.Email
}

// Role falls back to RoleUser for rows with an unknown role
func (u UserIdentity) Role() string {
	if u.user == nil {
		return ""
	}
	return string(ParseRole(string(u.user.Role)))
}

// Verified reports whether the address was confirmed
func (u UserIdentity) Verified() bool {
	return u.user != nil && u.user.EmailVerified
}
