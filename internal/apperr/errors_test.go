package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("register: %w", New(KindConflict, CodeEventFull, "event e1 full"))
	if !errors.Is(err, ErrEventFull) {
		t.Fatalf("expected errors.Is to match EVENT_FULL through wrapping")
	}
	if errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("did not expect ALREADY_REGISTERED to match")
	}
}

func TestKindAndCodeOf(t *testing.T) {
	cause := errors.New("database is locked")
	err := fmt.Errorf("tx: %w", Wrap(KindTransient, CodeLockTimeout, "lock event", cause))

	if got := KindOf(err); got != KindTransient {
		t.Errorf("KindOf = %s, want TRANSIENT", got)
	}
	if got := CodeOf(err); got != CodeLockTimeout {
		t.Errorf("CodeOf = %s, want LOCK_TIMEOUT", got)
	}
	if !IsTransient(err) {
		t.Errorf("expected transient")
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected cause to be reachable via Unwrap")
	}

	plain := errors.New("boom")
	if KindOf(plain) != KindInternal || CodeOf(plain) != CodeUnknown {
		t.Errorf("foreign error classified as %s/%s", KindOf(plain), CodeOf(plain))
	}
	if IsTransient(nil) {
		t.Errorf("nil must not be transient")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:    http.StatusBadRequest,
		KindAuthorization: http.StatusForbidden,
		KindConflict:      http.StatusConflict,
		KindTransient:     http.StatusServiceUnavailable,
		KindNotFound:      http.StatusNotFound,
		KindIntegrity:     http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := kind.HTTPStatus(); got != want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", kind, got, want)
		}
	}
}
