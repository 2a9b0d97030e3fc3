// Package remote provides clients for the shared document store that every device
// reconciles against. The document is one JSON blob guarded by an opaque version token.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"

	apperrors "github.com/kimhsiao/slotboard/internal/errors"
	"github.com/kimhsiao/slotboard/internal/models"
)

// Kind classifies a remote failure.
type Kind int

const (
	KindOther Kind = iota
	KindVersionConflict
	KindAuth
	KindNetwork
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindVersionConflict:
		return "version_conflict"
	case KindAuth:
		return "auth"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	default:
		return "other"
	}
}

// Error is returned by every Store operation that fails.
type Error struct {
	Kind   Kind
	Op     string
	Status int // HTTP status when one was received
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("remote %s: %s", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code maps the kind onto the application error codes.
func (e *Error) Code() apperrors.ErrorCode {
	switch e.Kind {
	case KindVersionConflict:
		return apperrors.ErrSyncConflict
	case KindAuth:
		return apperrors.ErrSyncAuthFailed
	case KindNetwork:
		return apperrors.ErrNetwork
	case KindTimeout:
		return apperrors.ErrSyncTimeout
	default:
		return apperrors.ErrSyncFailed
	}
}

// NewError builds an *Error.
func NewError(kind Kind, op string, status int, err error) *Error {
	return &Error{Kind: kind, Op: op, Status: status, Err: err}
}

// KindOf returns the kind of a remote error, or KindOther.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindOther
}

// IsVersionConflict reports whether err is a lost optimistic-concurrency race.
func IsVersionConflict(err error) bool {
	return err != nil && KindOf(err) == KindVersionConflict
}

// IsAuth reports whether err means the credential was rejected.
func IsAuth(err error) bool {
	return err != nil && KindOf(err) == KindAuth
}

// TransportError classifies an error that happened before any response arrived.
func TransportError(op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, op, 0, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return NewError(KindTimeout, op, 0, err)
	}
	return NewError(KindNetwork, op, 0, err)
}

// FetchResult is the outcome of FetchSnapshot. A missing document is a valid result
// with Found false, not an error.
type FetchResult struct {
	Snapshot *models.RemoteSnapshot
	Found    bool
}

// Store is the shared document store.
type Store interface {
	// FetchSnapshot reads the current document and, when available, its version token.
	FetchSnapshot(ctx context.Context) (FetchResult, error)
	// FetchVersionToken returns the current token. ok is false when the store cannot
	// tell (no credential, or no document yet); callers then write unconditionally.
	FetchVersionToken(ctx context.Context) (token string, ok bool, err error)
	// WriteSnapshot replaces the document if its token still equals expected.
	// An empty expected token means the document must not exist yet.
	WriteSnapshot(ctx context.Context, snap *models.RemoteSnapshot, expected string) (string, error)
}

// CredentialTester is implemented by stores that can check a credential before it is saved.
type CredentialTester interface {
	TestCredential(ctx context.Context, token string) error
}

// CredentialSource supplies the credential used for authenticated requests.
type CredentialSource interface {
	Get(ctx context.Context) (string, bool, error)
}

// AmbientCredentials is a credential source for stores authenticated outside the
// application, such as the AWS default chain or a shared folder. It always reports a
// credential as present.
type AmbientCredentials struct{}

func (AmbientCredentials) Get(context.Context) (string, bool, error) { return "", true, nil }
func (AmbientCredentials) Set(context.Context, string) error      { return nil }
func (AmbientCredentials) Clear(context.Context) error             { return nil }
