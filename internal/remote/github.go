package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kimhsiao/slotboard/internal/config"
	"github.com/kimhsiao/slotboard/internal/logging"
	"github.com/kimhsiao/slotboard/internal/models"
)

const (
	defaultAPIBaseURL = "https://api.github.com"
	defaultRawBaseURL = "https://raw.githubusercontent.com"
	githubAccept      = "application/vnd.github.v3+json"
	userAgent         = "slotboard-sync"
)

// GitHubStore keeps the document as a file in a GitHub repository. Reads go through the
// raw content host; the blob sha from the contents API is the version token.
type GitHubStore struct {
	cfg     config.GitHubConfig
	client  *http.Client
	creds   CredentialSource
	limiter *rate.Limiter
	timeout time.Duration
	now     func() time.Time
}

// NewGitHubStore creates a GitHubStore. rps <= 0 disables request pacing.
func NewGitHubStore(cfg config.GitHubConfig, creds CredentialSource, client *http.Client, timeout time.Duration, rps float64) *GitHubStore {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.RawBaseURL == "" {
		cfg.RawBaseURL = defaultRawBaseURL
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}

	return &GitHubStore{
		cfg:     cfg,
		client:  client,
		creds:   creds,
		limiter: limiter,
		timeout: timeout,
		now:     time.Now,
	}
}

// RawURL is the unauthenticated download URL of the document.
func (g *GitHubStore) RawURL() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", strings.TrimSuffix(g.cfg.RawBaseURL, "/"),
		g.cfg.Owner, g.cfg.Repo, g.cfg.Branch, strings.TrimPrefix(g.cfg.Path, "/"))
}

// APIURL is the contents API URL of the document.
func (g *GitHubStore) APIURL() string {
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s", strings.TrimSuffix(g.cfg.APIBaseURL, "/"),
		g.cfg.Owner, g.cfg.Repo, strings.TrimPrefix(g.cfg.Path, "/"))
}

func (g *GitHubStore) credential(ctx context.Context) (string, bool) {
	if g.creds == nil {
		return "", false
	}
	token, ok, err := g.creds.Get(ctx)
	if err != nil {
		logging.Warn("Failed to read sync credential", map[string]interface{}{"error": err.Error()})
		return "", false
	}
	return token, ok && token != ""
}

// do paces, bounds and sends one request. The caller closes the body.
func (g *GitHubStore) do(ctx context.Context, op string, req *http.Request) (*http.Response, context.CancelFunc, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, nil, TransportError(op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	resp, err := g.client.Do(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, nil, TransportError(op, err)
	}
	return resp, cancel, nil
}

func (g *GitHubStore) newAPIRequest(method, token string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, g.APIURL(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", githubAccept)
	req.Header.Set("User-Agent", userAgent)
	if token != "" {
		req.Header.Set("Authorization", "token "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// FetchSnapshot downloads the document from the raw host with a cache-busting query.
func (g *GitHubStore) FetchSnapshot(ctx context.Context) (FetchResult, error) {
	const op = "fetch"

	url := g.RawURL() + "?t=" + strconv.FormatInt(g.now().UnixMilli(), 10)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return FetchResult{}, NewError(KindOther, op, 0, err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", userAgent)
	if token, ok := g.credential(ctx); ok {
		req.Header.Set("Authorization", "token "+token)
	}

	resp, cancel, err := g.do(ctx, op, req)
	if err != nil {
		return FetchResult{}, err
	}
	defer cancel()
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return FetchResult{Found: false}, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return FetchResult{}, NewError(KindAuth, op, resp.StatusCode, nil)
	case resp.StatusCode != http.StatusOK:
		return FetchResult{}, NewError(KindOther, op, resp.StatusCode, readErrorBody(resp.Body))
	}

	var snap models.RemoteSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return FetchResult{}, NewError(KindOther, op, resp.StatusCode, fmt.Errorf("decode document: %w", err))
	}

	token, ok, err := g.FetchVersionToken(ctx)
	if err != nil {
		return FetchResult{}, err
	}
	if ok {
		snap.VersionToken = token
	}
	return FetchResult{Snapshot: &snap, Found: true}, nil
}

type contentsResponse struct {
	SHA string `json:"sha"`
}

// FetchVersionToken returns the blob sha of the document. Without a credential, or when
// the document does not exist, ok is false.
func (g *GitHubStore) FetchVersionToken(ctx context.Context) (string, bool, error) {
	token, ok := g.credential(ctx)
	if !ok {
		return "", false, nil
	}
	return g.fetchSHA(ctx, "version", token)
}

func (g *GitHubStore) fetchSHA(ctx context.Context, op, token string) (string, bool, error) {
	req, err := g.newAPIRequest(http.MethodGet, token, nil)
	if err != nil {
		return "", false, NewError(KindOther, op, 0, err)
	}

	resp, cancel, err := g.do(ctx, op, req)
	if err != nil {
		return "", false, err
	}
	defer cancel()
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", false, nil
	case http.StatusUnauthorized:
		return "", false, NewError(KindAuth, op, resp.StatusCode, nil)
	default:
		return "", false, NewError(KindOther, op, resp.StatusCode, readErrorBody(resp.Body))
	}

	var body contentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", false, NewError(KindOther, op, resp.StatusCode, fmt.Errorf("decode contents: %w", err))
	}
	return body.SHA, body.SHA != "", nil
}

// TestCredential checks token against the contents API without storing it.
// A missing document still proves the token works.
func (g *GitHubStore) TestCredential(ctx context.Context, token string) error {
	_, _, err := g.fetchSHA(ctx, "test_credential", token)
	return err
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

type putResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

// CommitMessage formats the commit message for an upload.
func CommitMessage(snap *models.RemoteSnapshot) string {
	by := snap.UpdatedBy
	if by == "" {
		by = "unknown"
	}
	at := snap.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}
	return fmt.Sprintf("schedule sync v%s - %s - %s", snap.Version, by, at.UTC().Format("2006-01-02 15:04:05"))
}

// WriteSnapshot commits the document through the contents API.
func (g *GitHubStore) WriteSnapshot(ctx context.Context, snap *models.RemoteSnapshot, expected string) (string, error) {
	const op = "write"

	token, ok := g.credential(ctx)
	if !ok {
		return "", NewError(KindAuth, op, 0, fmt.Errorf("no credential configured"))
	}

	doc, err := json.MarshalIndent(snap.ForUpload(), "", "  ")
	if err != nil {
		return "", NewError(KindOther, op, 0, fmt.Errorf("encode document: %w", err))
	}

	payload, err := json.Marshal(putRequest{
		Message: CommitMessage(snap),
		Content: base64.StdEncoding.EncodeToString(doc),
		Branch:  g.cfg.Branch,
		SHA:     expected,
	})
	if err != nil {
		return "", NewError(KindOther, op, 0, err)
	}

	req, err := g.newAPIRequest(http.MethodPut, token, bytes.NewReader(payload))
	if err != nil {
		return "", NewError(KindOther, op, 0, err)
	}

	resp, cancel, err := g.do(ctx, op, req)
	if err != nil {
		return "", err
	}
	defer cancel()
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict:
		return "", NewError(KindVersionConflict, op, resp.StatusCode, readErrorBody(resp.Body))
	case http.StatusUnprocessableEntity:
		body := readErrorBody(resp.Body)
		if body != nil && strings.Contains(strings.ToLower(body.Error()), "sha") {
			return "", NewError(KindVersionConflict, op, resp.StatusCode, body)
		}
		return "", NewError(KindOther, op, resp.StatusCode, body)
	case http.StatusUnauthorized:
		return "", NewError(KindAuth, op, resp.StatusCode, readErrorBody(resp.Body))
	default:
		return "", NewError(KindOther, op, resp.StatusCode, readErrorBody(resp.Body))
	}

	var out putResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", NewError(KindOther, op, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	if out.Content.SHA == "" {
		return "", NewError(KindOther, op, resp.StatusCode, fmt.Errorf("response carries no sha"))
	}
	return out.Content.SHA, nil
}

func readErrorBody(r io.Reader) error {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return nil
	}
	return fmt.Errorf("%s", msg)
}
