package erp

import (
	"errors"
	"fmt"
)

// ErrTenantNotConfigured is returned when an ERP system lacks a domain or credential.
var ErrTenantNotConfigured = errors.New("erp: system is missing domain or api key")

// maxErrorBody bounds the upstream body echoed in error messages.
const maxErrorBody = 512

// UpstreamError is returned for any non-2xx ERP response.
type UpstreamError struct {
	Operation  string
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	body := e.Body
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	if len(body) == 0 {
		return fmt.Sprintf("erp: %s: upstream returned status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("erp: %s: upstream returned status %d: %s", e.Operation, e.StatusCode, body)
}

// AsUpstreamError unwraps err into an UpstreamError when possible.
func AsUpstreamError(err error) (*UpstreamError, bool) {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream, true
	}
	return nil, false
}
