package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/kimhsiao/slotboard/internal/errors"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code apperrors.ErrorCode
		want int
	}{
		{apperrors.ErrValidation, http.StatusBadRequest},
		{apperrors.ErrInvalidCredential, http.StatusBadRequest},
		{apperrors.ErrNotFound, http.StatusNotFound},
		{apperrors.ErrSyncAuthFailed, http.StatusUnauthorized},
		{apperrors.ErrSyncConflict, http.StatusConflict},
		{apperrors.ErrSyncSkipped, http.StatusAccepted},
		{apperrors.ErrSyncDisabled, http.StatusAccepted},
		{apperrors.ErrQueueFull, http.StatusTooManyRequests},
		{apperrors.ErrNetwork, http.StatusBadGateway},
		{apperrors.ErrStorage, http.StatusInternalServerError},
		{apperrors.ErrInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.code); got != tt.want {
			t.Errorf("statusFor(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, apperrors.New(apperrors.ErrNotFound, "record r1 not found"))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["code"] != string(apperrors.ErrNotFound) {
		t.Errorf("code = %q", body["code"])
	}

	w = httptest.NewRecorder()
	writeError(w, errors.New("boom"))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("plain error status = %d, want 500", w.Code)
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Token string `json:"token"`
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"token":"abc"}`))
	if !decodeJSON(w, r, &v) || v.Token != "abc" {
		t.Fatalf("decodeJSON failed: %+v", v)
	}

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{`))
	if decodeJSON(w, r, &v) {
		t.Fatal("expected decode failure")
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
