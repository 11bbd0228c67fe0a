package core

import (
	"errors"
	"net/http"

	"github.com/putto11262002/roomchat/pkg/router"
)

var kindResponses = map[Kind]struct {
	status int
	code   string
}{
	KindValidation:       {http.StatusBadRequest, "VALIDATION_ERROR"},
	KindInvalidOperation: {http.StatusBadRequest, "VALIDATION_ERROR"},
	KindAuthentication:   {http.StatusUnauthorized, "AUTHENTICATION_ERROR"},
	KindTokenExpired:     {http.StatusUnauthorized, "TOKEN_EXPIRED"},
	KindInvalidToken:     {http.StatusUnauthorized, "INVALID_TOKEN"},
	KindForbidden:        {http.StatusForbidden, "AUTHORIZATION_ERROR"},
	KindNotFound:         {http.StatusNotFound, "NOT_FOUND"},
	KindConflict:         {http.StatusConflict, "CONFLICT"},
	KindRateLimit:        {http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED"},
}

// MapError translates an operational *Error into an API error.
// Internal errors are left to the router's default error.
func MapError(err error) (router.JsonError, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return router.JsonError{}, false
	}
	res, ok := kindResponses[e.Kind]
	if !ok {
		return router.JsonError{}, false
	}
	return router.NewJsonError(res.status, res.code, e.Message).WithDetails(e.Details), true
}
