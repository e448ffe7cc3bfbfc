package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Provider is a remote embedding backend. Implementations take batches of at
// most MaxBatchItems texts, each truncated to MaxItemChars by the caller.
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dim() int
}

// ProviderError carries the HTTP-like status and provider error code needed
// to distinguish quota/auth failures from transient ones.
type ProviderError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsFatal reports whether err permanently disqualifies the provider for the
// rest of the process lifetime. Quota exhaustion and auth failures are not
// worth retrying against a known-bad credential.
func IsFatal(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	if pe.StatusCode == http.StatusUnauthorized || pe.StatusCode == http.StatusForbidden || pe.StatusCode == http.StatusTooManyRequests {
		return true
	}
	code := strings.ToUpper(pe.Code)
	return code == "RESOURCE_EXHAUSTED" || code == "PERMISSION_DENIED" || code == "UNAUTHENTICATED"
}
