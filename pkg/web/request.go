package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxBodyBytes bounds how much of a request body Decode will read.
const maxBodyBytes = 1 << 20

// Decode reads the body of an HTTP request and decodes it as JSON into the
// provided value. Unknown fields are rejected.
func Decode(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("request: unable to read payload: %w", err)
	}

	if len(data) == 0 {
		return fmt.Errorf("request: empty payload")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("request: decode: %w", err)
	}

	return nil
}
