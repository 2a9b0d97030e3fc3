package s3store

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/slotboard/internal/config"
	"github.com/kimhsiao/slotboard/internal/models"
	"github.com/kimhsiao/slotboard/internal/remote"
)

// fakeS3 serves one bucket with path-style addressing and honors conditional puts.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	deny    bool
}

func (f *fakeS3) etag(key string) string {
	sum := md5.Sum(f.objects[key])
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func writeS3Error(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message><RequestId>req</RequestId></Error>`, code, code)
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deny {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		writeS3Error(w, http.StatusForbidden, "AccessDenied")
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/")
	_, exists := f.objects[key]

	switch r.Method {
	case http.MethodGet:
		if !exists {
			writeS3Error(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		w.Header().Set("ETag", f.etag(key))
		w.Write(f.objects[key])
	case http.MethodHead:
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("ETag", f.etag(key))
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		if m := r.Header.Get("If-Match"); m != "" && (!exists || m != f.etag(key)) {
			writeS3Error(w, http.StatusPreconditionFailed, "PreconditionFailed")
			return
		}
		if r.Header.Get("If-None-Match") == "*" && exists {
			writeS3Error(w, http.StatusPreconditionFailed, "PreconditionFailed")
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		w.Header().Set("ETag", f.etag(key))
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStore(t *testing.T) (*Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string][]byte)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := New(context.Background(), config.S3Config{
		Provider: ProviderMinIO,
		Bucket:   "board",
		Key:      "data.json",
		Endpoint: srv.URL,
	}, 5*time.Second,
		WithStaticCredentials("test", "secret"),
		WithHTTPClient(srv.Client()),
		WithMaxAttempts(1))
	require.NoError(t, err)
	return s, fake
}

func snapshot(status models.SlotStatus) *models.RemoteSnapshot {
	return &models.RemoteSnapshot{
		Schedules: []models.ScheduleRecord{{ID: "r1", Date: "2025-01-01", StartTime: "09:00", EndTime: "10:00", Status: status}},
		Admins:    []models.AdminProfile{{Username: "admin", DisplayName: "Admin", CredentialSecret: "hash"}},
	}
}

func TestStore_MissingObject(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	res, err := s.FetchSnapshot(ctx)
	require.NoError(t, err)
	assert.False(t, res.Found)

	_, ok, err := s.FetchVersionToken(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ConditionalWrites(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	first, err := s.WriteSnapshot(ctx, snapshot(models.SlotFree), "")
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	// Create-only write loses once the object exists.
	_, err = s.WriteSnapshot(ctx, snapshot(models.SlotBusy), "")
	assert.True(t, remote.IsVersionConflict(err), "err = %v", err)

	token, ok, err := s.FetchVersionToken(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, token)

	second, err := s.WriteSnapshot(ctx, snapshot(models.SlotBusy), first)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = s.WriteSnapshot(ctx, snapshot(models.SlotFree), first)
	assert.True(t, remote.IsVersionConflict(err), "stale token must conflict, err = %v", err)

	res, err := s.FetchSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, second, res.Snapshot.VersionToken)
	assert.Equal(t, models.SlotBusy, res.Snapshot.Schedules[0].Status)
	assert.Empty(t, res.Snapshot.Admins[0].CredentialSecret)

	fake.mu.Lock()
	assert.NotContains(t, string(fake.objects["board/data.json"]), "hash")
	fake.mu.Unlock()
}

func TestStore_AccessDenied(t *testing.T) {
	s, fake := newTestStore(t)
	fake.deny = true
	ctx := context.Background()

	_, err := s.WriteSnapshot(ctx, snapshot(models.SlotFree), "")
	assert.True(t, remote.IsAuth(err), "err = %v", err)

	_, err = s.FetchSnapshot(ctx)
	assert.True(t, remote.IsAuth(err), "err = %v", err)
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), config.S3Config{}, time.Second)
	assert.Error(t, err)
}
