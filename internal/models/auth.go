package models

import "time"

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username   string `json:"username" validate:"required,max=128"`
	Password   string `json:"password" validate:"required,max=256"`
	RememberMe bool   `json:"rememberMe,omitempty"`
}

// MFAVerifyRequest is the body of POST /auth/mfa/verify.
type MFAVerifyRequest struct {
	MFAToken         string `json:"mfaToken" validate:"required"`
	VerificationCode string `json:"verificationCode" validate:"required,numeric,len=6"`
}

// RefreshRequest is the body of POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// LoginResponse is returned by login, MFA verification and refresh.
// ExpiresAt is epoch milliseconds.
type LoginResponse struct {
	User         *User  `json:"user,omitempty"`
	Token        string `json:"token,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresAt    int64  `json:"expiresAt,omitempty"`
	RequiresMFA  bool   `json:"requiresMfa"`
	MFAToken     string `json:"mfaToken,omitempty"`
}

// Expiry returns ExpiresAt as a time; ok is false when it is not set.
func (r *LoginResponse) Expiry() (time.Time, bool) {
	if r.ExpiresAt <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(r.ExpiresAt), true
}
