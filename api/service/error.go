package service

import (
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/peer-mapper/trust-indexer/api/util"
	"github.com/peer-mapper/trust-indexer/chain"
	"github.com/peer-mapper/trust-indexer/handshake"
	"github.com/peer-mapper/trust-indexer/relay"
)

var (
	errInvalidRequest   = errors.New("invalid_request")
	errRelayUnavailable = errors.New("relay_unavailable")
	errRequestTooLarge  = errors.New("request_too_large")
	errInternal         = errors.New("internal_error")
)

type errorCode struct {
	Status int
	Code   string
}

// ErrorCode maps known errors to their response status and stable code.
var ErrorCode = map[error]errorCode{
	handshake.ErrChallengeNotFound: {http.StatusNotFound, "challenge_not_found"},
	handshake.ErrChallengeUsed:     {http.StatusConflict, "challenge_used"},
	handshake.ErrChallengeExpired:  {http.StatusGone, "challenge_expired"},
	handshake.ErrChallengeMismatch: {http.StatusBadRequest, "challenge_mismatch"},
	handshake.ErrInvalidSignature:  {http.StatusBadRequest, "invalid_signature"},
	chain.ErrInvalidSignature:      {http.StatusBadRequest, "invalid_signature"},
	relay.ErrSignerMismatch:        {http.StatusBadRequest, "invalid_signature"},
	relay.ErrDeadlinePassed:        {http.StatusBadRequest, "deadline_passed"},
	relay.ErrInvalidBytes32:        {http.StatusBadRequest, "invalid_request"},
	util.ErrInvalidNumber:          {http.StatusBadRequest, "invalid_request"},
	errInvalidRequest:              {http.StatusBadRequest, "invalid_request"},
	errRelayUnavailable:            {http.StatusServiceUnavailable, "relay_unavailable"},
	errRequestTooLarge:             {http.StatusRequestEntityTooLarge, "request_too_large"},
}

// RequestError is a request that could not be decoded or validated.
type RequestError struct {
	Err error
}

// InvalidRequest wraps a binding or validation failure.
func InvalidRequest(err error) error {
	return &RequestError{Err: err}
}

func (e *RequestError) Error() string {
	return "invalid request: " + e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

type fieldDetails struct {
	Fields map[string]string `json:"fields,omitempty"`
	Reason string            `json:"reason,omitempty"`
}

// ErrorResponse returns the status and body err is reported with. The
// status is 500 for errors that are not known.
func ErrorResponse(err error) (int, *ErrorBody) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		err = errRequestTooLarge
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return http.StatusBadRequest, &ErrorBody{
			Error:   "invalid_request",
			Details: requestDetails(reqErr.Err),
		}
	}

	for known, code := range ErrorCode {
		if errors.Is(err, known) {
			return code.Status, &ErrorBody{Error: code.Code}
		}
	}

	return http.StatusInternalServerError, &ErrorBody{Error: errInternal.Error()}
}

func requestDetails(err error) *fieldDetails {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &fieldDetails{Reason: err.Error()}
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		ns := fe.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		fields[ns] = fe.Tag()
	}

	return &fieldDetails{Fields: fields}
}

// fieldName names struct fields in validation errors by their json, uri
// or form key.
func fieldName(fld reflect.StructField) string {
	for _, tag := range []string{"json", "uri", "form"} {
		name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}

	return fld.Name
}
