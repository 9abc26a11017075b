package session

import "fmt"

// User is rebuilt from token claims on every successful auth event.
type User struct {
	ID            string  `json:"id"`
	Username      string  `json:"username"`
	Email         string  `json:"email"`
	EmailVerified bool    `json:"email_verified"`
	FirstName     string  `json:"first_name,omitempty"`
	LastName      string  `json:"last_name,omitempty"`
	Roles         RoleSet `json:"roles"`
}

// UserFromClaims builds a User value from parsed claims.
func UserFromClaims(c *Claims) *User {
	if c == nil {
		return nil
	}
	return &User{
		ID:            c.Subject,
		Username:      c.PreferredUsername,
		Email:         c.Email,
		EmailVerified: c.EmailVerified,
		FirstName:     c.GivenName,
		LastName:      c.FamilyName,
		Roles:         NewRoleSet(c.RealmRoles...),
	}
}

// HasRole checks role membership.
func (u *User) HasRole(role string) bool {
	if u == nil {
		return false
	}
	return u.Roles.Has(role)
}

// DisplayName prefers first/last name and falls back to the username.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Username
	}
}

func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Roles = u.Roles.clone()
	return &c
}

func (u User) String() string {
	return fmt.Sprintf("id=%s username=%s email=%s roles=%v", u.ID, u.Username, u.Email, u.Roles.Slice())
}
