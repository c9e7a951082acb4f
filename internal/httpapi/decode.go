package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/golang/gddo/httputil/header"
)

const maxBodyBytes = 1 << 20

// MalformedRequestError is a client error with the status to answer with
type MalformedRequestError struct {
	Status int
	Msg    string
}

func (e *MalformedRequestError) Error() string {
	return e.Msg
}

// decodeJSONBody decodes a single JSON object into dst and runs its
// `validate` tags. Unknown fields are ignored.
func (h *handler) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if r.Header.Get("Content-Type") != "" {
		value, _ := header.ParseValueAndParams(r.Header, "Content-Type")
		if value != "application/json" {
			return &MalformedRequestError{Status: http.StatusUnsupportedMediaType, Msg: "Content-Type header is not application/json"}
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)

	if err := dec.Decode(dst); err != nil {
		var syntaxError *json.SyntaxError
		var unmarshalTypeError *json.UnmarshalTypeError
		var maxBytesError *http.MaxBytesError

		switch {
		case errors.As(err, &syntaxError):
			msg := fmt.Sprintf("Request body contains badly-formed JSON (at position %d)", syntaxError.Offset)
			return &MalformedRequestError{Status: http.StatusBadRequest, Msg: msg}

		case errors.Is(err, io.ErrUnexpectedEOF):
			return &MalformedRequestError{Status: http.StatusBadRequest, Msg: "Request body contains badly-formed JSON"}

		case errors.As(err, &unmarshalTypeError):
			msg := fmt.Sprintf("Request body contains an invalid value for the %q field (at position %d)", unmarshalTypeError.Field, unmarshalTypeError.Offset)
			return &MalformedRequestError{Status: http.StatusBadRequest, Msg: msg}

		case errors.Is(err, io.EOF):
			return &MalformedRequestError{Status: http.StatusBadRequest, Msg: "Request body must not be empty"}

		case errors.As(err, &maxBytesError):
			return &MalformedRequestError{Status: http.StatusRequestEntityTooLarge, Msg: "Request body must not be larger than 1MB"}

		default:
			return err
		}
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return &MalformedRequestError{Status: http.StatusBadRequest, Msg: "Request body must only contain a single JSON object"}
	}

	if err := h.validator.Struct(dst); err != nil {
		return &MalformedRequestError{Status: http.StatusBadRequest, Msg: err.Error()}
	}

	return nil
}
