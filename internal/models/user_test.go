package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUser_UnmarshalIsActive(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		active bool
	}{
		{name: "missing defaults to active", body: `{"id":"1","username":"root","role":"admin"}`, active: true},
		{name: "explicit true", body: `{"id":"1","username":"root","role":"admin","isActive":true}`, active: true},
		{name: "explicit false", body: `{"id":"1","username":"root","role":"admin","isActive":false}`, active: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var u User
			require.NoError(t, json.Unmarshal([]byte(tt.body), &u))
			assert.Equal(t, tt.active, u.IsActive)
			assert.Equal(t, "1", u.ID)
			assert.Equal(t, "root", u.Username)
			assert.Equal(t, RoleAdmin, u.Role)
		})
	}
}

func TestUser_UnmarshalUnknownRole(t *testing.T) {
	var u User
	err := json.Unmarshal([]byte(`{"id":"1","username":"x","role":"wizard"}`), &u)
	require.ErrorIs(t, err, ErrUnknownRole)
}

func TestUser_DisplayName(t *testing.T) {
	u := User{Username: "jdoe"}
	assert.Equal(t, "jdoe", u.DisplayName())

	u.FirstName, u.LastName = "Jane", "Doe"
	assert.Equal(t, "Jane Doe", u.DisplayName())
}
