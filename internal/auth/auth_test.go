package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "rollcall-test"
)

func TestIssueAndParse(t *testing.T) {
	t.Parallel()
	token, exp, err := Issue("kiosk-1", RoleDevice, testIssuer, testKey, time.Minute)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 5*time.Second)

	claims, err := Parse(token, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "kiosk-1", claims.Subject)
	assert.Equal(t, RoleDevice, claims.Role)

	_, err = Parse(token, "other-key", testIssuer)
	assert.Error(t, err)
	_, err = Parse(token, testKey, "someone-else")
	assert.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	t.Parallel()
	token, _, err := Issue("kiosk-1", RoleDevice, testIssuer, testKey, -time.Minute)
	require.NoError(t, err)
	_, err = Parse(token, testKey, testIssuer)
	assert.Error(t, err)
}

func TestServiceTokensReuse(t *testing.T) {
	t.Parallel()
	st := NewServiceTokens("edge-1", testIssuer, testKey, time.Hour)
	first, err := st.Token()
	require.NoError(t, err)
	second, err := st.Token()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	claims, err := Parse(first, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, RoleNode, claims.Role)
	assert.Equal(t, "edge-1", claims.Subject)
}

func TestBearer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/sync", Bearer(testKey, testIssuer, RoleNode), func(c *gin.Context) {
		claims, ok := FromContext(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.Subject)
	})

	nodeToken, _, err := Issue("edge-1", RoleNode, testIssuer, testKey, time.Minute)
	require.NoError(t, err)
	deviceToken, _, err := Issue("kiosk-1", RoleDevice, testIssuer, testKey, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-token", http.StatusUnauthorized},
		{"wrong role", "Bearer " + deviceToken, http.StatusForbidden},
		{"ok", "Bearer " + nodeToken, http.StatusOK},
		{"lowercase scheme", "bearer " + nodeToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/sync", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "edge-1", w.Body.String())
			}
		})
	}
}
