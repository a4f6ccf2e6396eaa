package session

import (
	"github.com/wolfeidau/pipeline-console/internal/authz"
	"github.com/wolfeidau/pipeline-console/internal/models"
)

// State is the position of a Session in the authentication state machine.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateUnauthenticated
	StateAwaitingMFA
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAwaitingMFA:
		return "awaiting_mfa"
	case StateAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

// Session is a snapshot of the current authentication state. The User and
// Permissions values are never modified after a snapshot is taken.
type Session struct {
	State           State
	IsAuthenticated bool
	User            *models.User
	Permissions     authz.PermissionSet
	Loading         bool
	Error           string
}

func unauthenticated(errMsg string) Session {
	return Session{
		State:       StateUnauthenticated,
		Permissions: authz.NewPermissionSet(),
		Error:       errMsg,
	}
}

func authenticated(user *models.User) Session {
	return Session{
		State:           StateAuthenticated,
		IsAuthenticated: true,
		User:            user,
		Permissions:     authz.PermissionsForUser(user),
	}
}

func awaitingMFA() Session {
	return Session{
		State:       StateAwaitingMFA,
		Permissions: authz.NewPermissionSet(),
	}
}
