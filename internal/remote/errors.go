package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError reports a non-2xx HTTP response from a remote service.
type StatusError struct {
	Service string
	Path    string
	Code    int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s returned HTTP %d", e.Service, e.Path, e.Code)
}

// IsNotFound reports whether err is an HTTP 404 from a remote service.
// Callers use this to treat "no related items" as an empty result.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// StatusCode extracts the HTTP status from err, or 0 when err is not a
// remote status failure.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
