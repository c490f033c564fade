package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("commit: %w", InsufficientFunds)
	if !Is(err, ErrInsufficientFunds) {
		t.Error("Expected wrapped insufficient funds to match")
	}
	if !errors.Is(err, InsufficientFunds) {
		t.Error("Expected errors.Is to match the sentinel")
	}
	if Is(errors.New("plain"), ErrInsufficientFunds) {
		t.Error("Plain errors must not match")
	}
	if GetCode(errors.New("plain")) != ErrInternalServerError {
		t.Error("Plain errors map to internal")
	}
}

func TestHTTPStatusFromCode(t *testing.T) {
	tests := []struct {
		code   int
		status int
	}{
		{ErrInsufficientFunds, http.StatusBadRequest},
		{ErrBagFull, http.StatusConflict},
		{ErrBagExpired, http.StatusConflict},
		{ErrBagNotFound, http.StatusNotFound},
		{ErrNotSeated, http.StatusForbidden},
		{ErrRateLimited, http.StatusTooManyRequests},
		{ErrCommitFailure, http.StatusBadGateway},
		{9999, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatusFromCode(tt.code); got != tt.status {
			t.Errorf("code %d: expected %d, got %d", tt.code, tt.status, got)
		}
	}
}
