package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/slotboard/internal/config"
	apperrors "github.com/kimhsiao/slotboard/internal/errors"
	"github.com/kimhsiao/slotboard/internal/models"
)

type staticCreds struct{ token string }

func (s staticCreds) Get(context.Context) (string, bool, error) {
	return s.token, s.token != "", nil
}

// fakeGitHub emulates the raw host and the contents API for one file.
type fakeGitHub struct {
	mu        sync.Mutex
	content   []byte
	sha       string
	seq       int
	token     string
	putStatus int // forced status for the next PUT, 0 means normal handling
	lastPut   putRequest
	rawHits   int
	rawQuery  string
}

func (f *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.HasPrefix(r.URL.Path, "/raw/"):
		f.rawHits++
		f.rawQuery = r.URL.RawQuery
		if f.content == nil {
			http.NotFound(w, r)
			return
		}
		w.Write(f.content)

	case strings.HasPrefix(r.URL.Path, "/api/repos/"):
		if r.Header.Get("Authorization") != "token "+f.token {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"Bad credentials"}`))
			return
		}
		switch r.Method {
		case http.MethodGet:
			if f.content == nil {
				http.NotFound(w, r)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"sha": f.sha})
		case http.MethodPut:
			var req putRequest
			json.NewDecoder(r.Body).Decode(&req)
			f.lastPut = req
			if f.putStatus != 0 {
				w.WriteHeader(f.putStatus)
				w.Write([]byte(`{"message":"sha does not match"}`))
				f.putStatus = 0
				return
			}
			if req.SHA != f.sha {
				w.WriteHeader(http.StatusConflict)
				w.Write([]byte(`{"message":"is at ` + f.sha + ` but expected ` + req.SHA + `"}`))
				return
			}
			data, _ := base64.StdEncoding.DecodeString(req.Content)
			f.content = data
			f.seq++
			f.sha = "sha-" + string(rune('0'+f.seq))
			status := http.StatusOK
			if req.SHA == "" {
				status = http.StatusCreated
			}
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]interface{}{"content": map[string]string{"sha": f.sha}})
		}
	default:
		http.NotFound(w, r)
	}
}

func newGitHubFixture(t *testing.T, token string) (*GitHubStore, *fakeGitHub) {
	t.Helper()
	fake := &fakeGitHub{token: "ghp_valid"}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store := NewGitHubStore(config.GitHubConfig{
		Owner:      "team",
		Repo:       "board",
		Branch:     "main",
		Path:       "data.json",
		APIBaseURL: srv.URL + "/api",
		RawBaseURL: srv.URL + "/raw",
	}, staticCreds{token: token}, srv.Client(), 5*time.Second, 0)
	return store, fake
}

func TestGitHubStore_URLs(t *testing.T) {
	g := NewGitHubStore(config.GitHubConfig{Owner: "o", Repo: "r", Path: "/data.json"}, nil, nil, 0, 0)
	assert.Equal(t, "https://raw.githubusercontent.com/o/r/main/data.json", g.RawURL())
	assert.Equal(t, "https://api.github.com/repos/o/r/contents/data.json", g.APIURL())
}

// TestGitHubStore_FetchMissing verifies 404 is an empty result, not an error.
func TestGitHubStore_FetchMissing(t *testing.T) {
	g, _ := newGitHubFixture(t, "ghp_valid")

	res, err := g.FetchSnapshot(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Nil(t, res.Snapshot)
}

func TestGitHubStore_WriteAndFetch(t *testing.T) {
	g, fake := newGitHubFixture(t, "ghp_valid")
	ctx := context.Background()

	snap := &models.RemoteSnapshot{
		Schedules: []models.ScheduleRecord{{ID: "r1", Status: models.SlotBusy}},
		Admins:    []models.AdminProfile{{Username: "admin", DisplayName: "Admin", CredentialSecret: "secret-hash"}},
		Version:   "2.2",
		UpdatedBy: "Admin",
		UpdatedAt: time.Date(2025, 4, 1, 8, 30, 0, 0, time.UTC),
	}

	token, err := g.WriteSnapshot(ctx, snap, "")
	require.NoError(t, err)
	assert.Equal(t, "sha-1", token)
	assert.Equal(t, "schedule sync v2.2 - Admin - 2025-04-01 08:30:00", fake.lastPut.Message)
	assert.Equal(t, "main", fake.lastPut.Branch)
	assert.NotContains(t, string(fake.content), "secret-hash")

	res, err := g.FetchSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, "sha-1", res.Snapshot.VersionToken)
	assert.Equal(t, models.SlotBusy, res.Snapshot.Schedules[0].Status)
	assert.True(t, strings.HasPrefix(fake.rawQuery, "t="), "raw fetch must bust caches, query = %q", fake.rawQuery)
}

func TestGitHubStore_StaleTokenConflicts(t *testing.T) {
	g, _ := newGitHubFixture(t, "ghp_valid")
	ctx := context.Background()

	_, err := g.WriteSnapshot(ctx, &models.RemoteSnapshot{}, "")
	require.NoError(t, err)

	_, err = g.WriteSnapshot(ctx, &models.RemoteSnapshot{}, "sha-0")
	require.Error(t, err)
	assert.True(t, IsVersionConflict(err))
	assert.Equal(t, apperrors.ErrSyncConflict, apperrors.CodeOf(err))
}

func TestGitHubStore_422ShaMismatchConflicts(t *testing.T) {
	g, fake := newGitHubFixture(t, "ghp_valid")
	fake.putStatus = http.StatusUnprocessableEntity

	_, err := g.WriteSnapshot(context.Background(), &models.RemoteSnapshot{}, "")
	assert.True(t, IsVersionConflict(err), "err = %v", err)
}

func TestGitHubStore_Unauthorized(t *testing.T) {
	g, _ := newGitHubFixture(t, "ghp_revoked")
	ctx := context.Background()

	_, err := g.WriteSnapshot(ctx, &models.RemoteSnapshot{}, "")
	assert.True(t, IsAuth(err), "err = %v", err)
	assert.Equal(t, apperrors.ErrSyncAuthFailed, apperrors.CodeOf(err))

	_, _, err = g.FetchVersionToken(ctx)
	assert.True(t, IsAuth(err))

	assert.True(t, IsAuth(g.TestCredential(ctx, "ghp_wrong")))
	assert.NoError(t, g.TestCredential(ctx, "ghp_valid"))
}

// TestGitHubStore_NoCredential verifies reads work and the token is unknown without a credential.
func TestGitHubStore_NoCredential(t *testing.T) {
	g, fake := newGitHubFixture(t, "")
	fake.content = []byte(`{"schedules":[],"adminUsers":[]}`)
	fake.sha = "sha-x"
	ctx := context.Background()

	token, ok, err := g.FetchVersionToken(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, token)

	res, err := g.FetchSnapshot(ctx)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Empty(t, res.Snapshot.VersionToken)

	_, err = g.WriteSnapshot(ctx, &models.RemoteSnapshot{}, "")
	assert.True(t, IsAuth(err))
}

func TestGitHubStore_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	g := NewGitHubStore(config.GitHubConfig{Owner: "o", Repo: "r", Path: "d.json", RawBaseURL: srv.URL},
		nil, srv.Client(), 50*time.Millisecond, 0)

	_, err := g.FetchSnapshot(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestGitHubStore_MalformedDocument(t *testing.T) {
	g, fake := newGitHubFixture(t, "ghp_valid")
	fake.content = []byte(`not json`)

	_, err := g.FetchSnapshot(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindOther, KindOf(err))
}
