package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"banking-ledger/internal/errors"
)

// validate is shared across handlers; validator.Validate is safe for
// concurrent use.
var validate = validator.New()

type Response struct {
	Data  interface{} `json:"data,omitempty"`
	Error *Error      `json:"error,omitempty"`
}

type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := Response{Data: data}
	json.NewEncoder(w).Encode(response)
}

func writeError(w http.ResponseWriter, err error) {
	appErr := errors.FromError(err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus())

	errResponse := Error{
		Code:      string(appErr.Code),
		Message:   appErr.Message,
		Details:   appErr.Details,
		Retryable: appErr.Retryable(),
	}
	json.NewEncoder(w).Encode(Response{Error: &errResponse})
}

func decodeAndValidate(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.NewAppError(errors.InvalidInput, "invalid request body").WithDetails(err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		return errors.NewAppError(errors.InvalidInput, "validation failed").WithDetails(err.Error())
	}
	return nil
}
