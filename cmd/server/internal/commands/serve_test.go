package commands

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/pipeline-console/internal/mockapi"
)

func TestServeCmd_MockConfig(t *testing.T) {
	tests := []struct {
		name    string
		cmd     ServeCmd
		wantJWT bool
		wantErr string
	}{
		{name: "generated key", cmd: ServeCmd{TokenTTL: time.Hour}, wantJWT: true},
		{name: "explicit key", cmd: ServeCmd{TokenTTL: time.Hour, SigningKey: strings.Repeat("k", 32)}, wantJWT: true},
		{name: "opaque tokens", cmd: ServeCmd{TokenTTL: time.Hour, OpaqueTokens: true, SigningKey: "ignored"}},
		{name: "short key", cmd: ServeCmd{TokenTTL: time.Hour, SigningKey: "short"}, wantErr: "at least 32 bytes"},
		{name: "zero ttl", cmd: ServeCmd{}, wantErr: "token TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := tt.cmd.mockConfig()
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantJWT, len(cfg.SigningKey) >= 32)
		})
	}
}

func TestConfigureHTTPServer(t *testing.T) {
	cmd := ServeCmd{BasePath: "/api", TokenTTL: time.Hour, Gzip: true, CORSOrigins: []string{"http://localhost:3000"}}
	cfg, err := cmd.mockConfig()
	require.NoError(t, err)

	srv := configureHTTPServer("localhost:0", mockapi.New(cfg).Handler())
	assert.Equal(t, time.Second, srv.ReadHeaderTimeout)
	assert.Equal(t, 8*1024, srv.MaxHeaderBytes)

	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/auth/login",
		strings.NewReader(`{"username":"admin","password":"Admin123!"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
