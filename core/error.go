package core

import (
	"errors"
	"fmt"
)

// Kind classifies an error so that the HTTP and socket boundaries can map it
// without knowing every sentinel.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindInvalidOperation
	KindAuthentication
	KindTokenExpired
	KindInvalidToken
	KindForbidden
	KindNotFound
	KindConflict
	KindRateLimit
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInvalidOperation:
		return "invalid operation"
	case KindAuthentication:
		return "authentication"
	case KindTokenExpired:
		return "token expired"
	case KindInvalidToken:
		return "invalid token"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	case KindRateLimit:
		return "rate limit"
	default:
		return "internal"
	}
}

// Error is an expected, operational failure. Message is safe to show to clients.
type Error struct {
	Kind    Kind
	Message string
	Details any
	Err     error
}

func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func NewErrorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ValidationError returns a validation error carrying per-field details.
func ValidationError(msg string, details any) *Error {
	return &Error{Kind: KindValidation, Message: msg, Details: details}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the kind of the first *Error in err's chain.
// Errors that carry no kind are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

var (
	ErrUserNotFound        = NewError(KindNotFound, "User not found")
	ErrRoomNotFound        = NewError(KindNotFound, "Room not found")
	ErrMessageNotFound     = NewError(KindNotFound, "Message not found")
	ErrFriendReqNotFound   = NewError(KindNotFound, "Friend request not found")
	ErrNotFriends          = NewError(KindNotFound, "Not friends")
	ErrNotRoomMember       = NewError(KindForbidden, "Not a member of this room")
	ErrNotMessageSender    = NewError(KindForbidden, "Only the sender can modify this message")
	ErrDirectRoomMembers   = NewError(KindInvalidOperation, "Cannot change members of a direct chat")
	ErrSameUser            = NewError(KindValidation, "Direct room needs two distinct users")
	ErrNoValidFields       = NewError(KindValidation, "No valid fields to update")
	ErrEmailTaken          = NewError(KindConflict, "Email already registered")
	ErrAlreadyMember       = NewError(KindConflict, "User is already a member of this room")
	ErrNotMember           = NewError(KindConflict, "User is not a member of this room")
	ErrAlreadyFriends      = NewError(KindConflict, "Already friends")
	ErrPendingRequest      = NewError(KindConflict, "Friend request already pending")
	ErrRequestNotPending   = NewError(KindConflict, "Friend request is no longer pending")
	ErrSelfFriendRequest   = NewError(KindValidation, "Cannot send a friend request to yourself")
	ErrBadCredentials      = NewError(KindAuthentication, "Invalid email or password")
	ErrUnauthenticated     = NewError(KindAuthentication, "No token provided")
	ErrTokenExpired        = NewError(KindTokenExpired, "Token expired")
	ErrTokenInvalid        = NewError(KindInvalidToken, "Invalid token")
	ErrForbidden           = NewError(KindForbidden, "Not allowed")
	ErrNotRequestAddressee = NewError(KindForbidden, "Not authorized to respond to this request")
	ErrRoomDeleteForbidden = NewError(KindForbidden, "Only the creator can delete this room")
)
