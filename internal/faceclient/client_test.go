package faceclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, similarity float64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/verify", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req["image_url"] == "broken" {
			http.Error(w, "no face", http.StatusUnprocessableEntity)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user_id":    req["user_id"],
			"verified":   true,
			"similarity": similarity,
			"threshold":  req["threshold"],
		})
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestVerify(t *testing.T) {
	t.Parallel()
	srv := newService(t, 0.81)
	c := New(srv.URL+"/", false, 0.45)
	c.HTTP = srv.Client()

	res, err := c.Verify(context.Background(), "s-1", "https://img.example/a.jpg")
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, "s-1", res.SubjectID)
	assert.InDelta(t, 0.81, res.Similarity, 1e-9)
	assert.InDelta(t, 0.45, res.Threshold, 1e-9)

	_, err = c.Verify(context.Background(), "s-1", "broken")
	assert.ErrorContains(t, err, "422")

	_, err = c.Verify(context.Background(), "s-1", "")
	assert.Error(t, err)

	require.NoError(t, c.Health(context.Background()))
}

func TestVerifyEnforcesThresholdLocally(t *testing.T) {
	t.Parallel()
	srv := newService(t, 0.30)
	c := New(srv.URL, false, 0.45)
	c.HTTP = srv.Client()

	res, err := c.Verify(context.Background(), "s-1", "https://img.example/a.jpg")
	require.NoError(t, err)
	assert.False(t, res.Verified)
}

func TestSkipMode(t *testing.T) {
	t.Parallel()
	c := New("http://127.0.0.1:1", true, 0.45)
	res, err := c.Verify(context.Background(), "s-9", "")
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, "s-9", res.SubjectID)
	assert.NoError(t, c.Health(context.Background()))
}
