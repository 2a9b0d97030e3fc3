package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/kimhsiao/slotboard/internal/errors"
)

func TestError_CodeMapping(t *testing.T) {
	tests := []struct {
		kind Kind
		code apperrors.ErrorCode
	}{
		{KindVersionConflict, apperrors.ErrSyncConflict},
		{KindAuth, apperrors.ErrSyncAuthFailed},
		{KindNetwork, apperrors.ErrNetwork},
		{KindTimeout, apperrors.ErrSyncTimeout},
		{KindOther, apperrors.ErrSyncFailed},
	}
	for _, tt := range tests {
		err := fmt.Errorf("wrapped: %w", NewError(tt.kind, "write", 0, nil))
		assert.Equal(t, tt.code, apperrors.CodeOf(err), tt.kind.String())
		assert.Equal(t, tt.kind, KindOf(err))
	}
}

func TestTransportError(t *testing.T) {
	assert.Equal(t, KindTimeout, TransportError("fetch", context.DeadlineExceeded).Kind)
	assert.Equal(t, KindNetwork, TransportError("fetch", errors.New("connection refused")).Kind)
}

func TestError_Message(t *testing.T) {
	err := NewError(KindVersionConflict, "write", 409, errors.New("sha mismatch"))
	assert.Equal(t, "remote write: version_conflict (status 409): sha mismatch", err.Error())
	assert.False(t, IsVersionConflict(nil))
	assert.Equal(t, KindOther, KindOf(errors.New("plain")))
}

func TestAmbientCredentials(t *testing.T) {
	var c AmbientCredentials
	_, ok, err := c.Get(context.Background())
	assert.True(t, ok)
	assert.NoError(t, err)
}
