// Package handler provides HTTP handlers for the DriveProfile API.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/driveprofile/driveprofile/internal/provider/resilience"
	"github.com/driveprofile/driveprofile/internal/routing"
)

// maxBodyBytes bounds request bodies; every accepted body is a handful of
// short strings.
const maxBodyBytes = 64 << 10

// providerRetryAfter is suggested to clients when a map provider is down.
// It matches the breaker's open interval.
const providerRetryAfter = 30 * time.Second

var errEmptyBody = errors.New("empty body")

// decodeJSON decodes a single JSON object from the request body, rejecting
// unknown fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON object")
	}
	return nil
}

// isUnavailable reports whether err is a transient map provider failure.
func isUnavailable(err error) bool {
	return errors.Is(err, routing.ErrProviderUnavailable) ||
		errors.Is(err, routing.ErrRateLimitExceeded) ||
		errors.Is(err, resilience.ErrCircuitOpen)
}
