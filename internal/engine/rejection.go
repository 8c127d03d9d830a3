package engine

import (
	"context"
	"errors"

	"github.com/gyaneshwarpardhi/turnstile/internal/apperr"
)

// Rejection is the structured refusal returned to staff and clients.
type Rejection struct {
	Kind     apperr.Kind       `json:"kind"`
	Code     apperr.Code       `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Reject converts any error into a Rejection. Errors outside the taxonomy
// are reported as internal without their text.
func Reject(err error) Rejection {
	if e, ok := apperr.As(err); ok {
		return Rejection{Kind: e.Kind, Code: e.Code, Message: e.Error(), Metadata: e.Metadata}
	}
	if errors.Is(err, context.Canceled) {
		return Rejection{Kind: apperr.KindTransient, Code: apperr.CodeTimeout, Message: "request cancelled"}
	}
	return Rejection{Kind: apperr.KindInternal, Code: apperr.CodeUnknown, Message: "internal error"}
}
