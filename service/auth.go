package service

import (
	"crypto/subtle"
	"fmt"

	"displayfleet/config"
	"displayfleet/models"
)

// Principal is the caller behind an admin request.
type Principal struct {
	UserID  string
	IsAdmin bool
}

// Tenant is the scope used for timers and flyer state.
func (p Principal) Tenant() string {
	if p.UserID == "" {
		return models.GlobalTenant
	}
	return p.UserID
}

// Owner returns the broadcast owner, nil for principals without a user.
func (p Principal) Owner() *string {
	if p.UserID == "" {
		return nil
	}
	id := p.UserID
	return &id
}

// Actor names the principal in activity records and queued commands.
func (p Principal) Actor() string {
	if p.UserID == "" {
		return "admin"
	}
	return p.UserID
}

// Authorizer resolves a session or API token to a principal.
type Authorizer interface {
	Authorize(token string) (Principal, error)
}

// StaticTokenAuthorizer checks tokens listed in the config file.
type StaticTokenAuthorizer struct {
	tokens []config.TokenConfig
}

func NewStaticTokenAuthorizer(tokens []config.TokenConfig) *StaticTokenAuthorizer {
	return &StaticTokenAuthorizer{tokens: tokens}
}

func (a *StaticTokenAuthorizer) Authorize(token string) (Principal, error) {
	if token == "" {
		return Principal{}, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	for _, t := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(t.Token), []byte(token)) == 1 {
			return Principal{UserID: t.UserID, IsAdmin: t.Admin}, nil
		}
	}
	return Principal{}, fmt.Errorf("%w: unknown token", ErrUnauthorized)
}

// CheckOwnership guards every command and config call. Admins and legacy
// unowned devices pass; otherwise the device owner must be the caller.
func CheckOwnership(p Principal, d *models.Device) error {
	if p.IsAdmin || d.OwnerUserID == nil {
		return nil
	}
	if *d.OwnerUserID == p.UserID {
		return nil
	}
	return fmt.Errorf("%w: display %s belongs to another user", ErrConflict, d.ID)
}
