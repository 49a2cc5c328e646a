package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return false }

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"net timeout", fmt.Errorf("dial: %w", timeoutErr{}), true},
		{"temporary flag", &ProviderError{Temporary: true, Err: errors.New("connection reset by peer")}, true},
		{"rate limited", &ProviderError{Status: 429}, true},
		{"server error", &ProviderError{Status: 503}, true},
		{"bad request", &ProviderError{Status: 400, Err: errors.New("invalid request")}, false},
		{"plain error", errors.New("something else"), false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("%s: IsTransient = %v, want %v", tc.name, got, tc.want)
		}
	}
}
