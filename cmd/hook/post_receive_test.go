package hook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindRef(t *testing.T) {
	input := strings.Join([]string{
		"garbage",
		"aaa bbb refs/heads/dev",
		"ccc ddd refs/heads/main",
	}, "\n")

	u, ok, err := findRef(strings.NewReader(input), "refs/heads/main")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, refUpdate{Old: "ccc", New: "ddd", Ref: "refs/heads/main"}, u)

	_, ok, err = findRef(strings.NewReader(input), "refs/heads/release")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostTrigger(t *testing.T) {
	var got triggerRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got.Branch == "busy" {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"deployment lock is held"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"pipeline":{"id":"p-1"}}`))
	}))
	defer srv.Close()

	id, err := postTrigger(srv.URL, triggerRequest{RepoURL: "/srv/app.git", Branch: "main", CommitHash: "abc"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "p-1", id)
	assert.Equal(t, "/srv/app.git", got.RepoURL)

	_, err = postTrigger(srv.URL, triggerRequest{RepoURL: "/srv/app.git", Branch: "busy"}, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock is held")
}
