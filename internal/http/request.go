package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cardledger/internal/core"
)

const maxBodyBytes = 64 << 10

var errBadRequest = errors.New("bad request")

// decodeJSON reads exactly one JSON object into dst, rejecting unknown
// fields and bodies over maxBodyBytes.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("%w: content type must be application/json", errBadRequest)
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return fmt.Errorf("%w: body larger than %d bytes", errBadRequest, maxBodyBytes)
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: empty body", errBadRequest)
		default:
			return fmt.Errorf("%w: %v", errBadRequest, err)
		}
	}
	if dec.More() {
		return fmt.Errorf("%w: body must contain a single object", errBadRequest)
	}
	return nil
}

// parseAsOf reads the as_of query parameter, defaulting to today.
func (s *Server) parseAsOf(r *http.Request) (core.Date, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("as_of"))
	if raw == "" {
		return core.DateOf(s.now()), nil
	}
	d, ok := core.ParseDate(raw)
	if !ok {
		return core.Date{}, fmt.Errorf("%w: as_of must be YYYY-MM-DD", errBadRequest)
	}
	return d, nil
}
