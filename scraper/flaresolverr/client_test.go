package flaresolverr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Callejox/watch-my-bag-scraper/utils"
)

func solverTestLogger() *utils.Logger { return utils.NewLoggerAt(utils.LevelError) }

func TestGetSendsWireFormatAndParsesSolution(t *testing.T) {
	var received request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(response{
			Status: "ok",
			Solution: Solution{
				Response: "<html>solved</html>",
				Status:   200,
				Cookies: []Cookie{
					{Name: "cf_clearance", Value: "tok", Domain: ".chrono24.es", Path: "/"},
				},
			},
		})
	}))
	defer server.Close()

	c := New(server.URL, 30*time.Second, time.Millisecond, solverTestLogger())
	solution, err := c.Get(context.Background(), "https://www.chrono24.es/search")
	require.NoError(t, err)

	assert.Equal(t, "request.get", received.Cmd)
	assert.Equal(t, "https://www.chrono24.es/search", received.URL)
	assert.Equal(t, 30000, received.MaxTimeout)

	assert.Equal(t, "<html>solved</html>", solution.Response)
	require.Len(t, solution.Cookies, 1)
	assert.Equal(t, "cf_clearance", solution.Cookies[0].Name)
}

func TestGetSolverError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(response{Status: "error", Message: "challenge not solved"})
	}))
	defer server.Close()

	c := New(server.URL, 30*time.Second, time.Millisecond, solverTestLogger())
	_, err := c.Get(context.Background(), "https://example.test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "challenge not solved")
}

func TestGetUpstreamHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(response{Status: "ok", Solution: Solution{Status: 403}})
	}))
	defer server.Close()

	c := New(server.URL, 30*time.Second, time.Millisecond, solverTestLogger())
	_, err := c.Get(context.Background(), "https://example.test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestGetSpacesCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(response{Status: "ok", Solution: Solution{Response: "x", Status: 200}})
	}))
	defer server.Close()

	gap := 80 * time.Millisecond
	c := New(server.URL, 30*time.Second, gap, solverTestLogger())

	start := time.Now()
	_, err := c.Get(context.Background(), "https://example.test/1")
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "https://example.test/2")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), gap, "second call must wait out the gap")
}
