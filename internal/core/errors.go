package core

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied     = errors.New("permission denied")
	ErrSessionClosed        = errors.New("session closed")
	ErrSignalingClosed      = errors.New("signaling connection closed")
	ErrUnexpectedAnswer     = errors.New("answer without pending offer")
	ErrNegotiationTimeout   = errors.New("negotiation timed out")
	ErrConnectivityFailed   = errors.New("peer connectivity failed")
	ErrNoRemoteDescription  = errors.New("remote description not set")
	ErrAlreadyStarted       = errors.New("session already started")
	ErrNotStarted           = errors.New("session not started")
	ErrRemotePeerUnexpected = errors.New("unexpected remote peer")
)

type ErrorKind int

const (
	KindPermissionDenied ErrorKind = iota + 1
	KindMediaAcquisition
	KindSignalingUnavailable
	KindNegotiation
	KindNegotiationTimeout
	KindICEFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindMediaAcquisition:
		return "MediaAcquisitionError"
	case KindSignalingUnavailable:
		return "SignalingUnavailable"
	case KindNegotiation:
		return "NegotiationError"
	case KindNegotiationTimeout:
		return "NegotiationTimeout"
	case KindICEFailure:
		return "ICEFailure"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Terminal reports whether an error of this kind ends the session.
// Negotiation errors are dropped and the session carries on.
func (k ErrorKind) Terminal() bool {
	return k != KindNegotiation
}

type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
