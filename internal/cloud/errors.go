package cloud

import "errors"

var (
	// ErrThrottled marks rate-limit errors; the only class that is retried.
	ErrThrottled = errors.New("throttled")
	// ErrNotFound marks a missing dependent object. Treated as detached.
	ErrNotFound = errors.New("not found")
	// ErrUnsupported marks an operation the provider does not offer for a kind.
	ErrUnsupported = errors.New("unsupported")
	// ErrPermanent marks every other provider failure.
	ErrPermanent = errors.New("permanent provider error")
)

// Error is a provider error tagged with its class. Error() returns the
// provider message verbatim.
type Error struct {
	Class error
	Op    string
	Err   error
}

// NewError classifies err. Nil stays nil.
func NewError(class error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Op: op, Err: err}
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the class sentinel.
func (e *Error) Is(target error) bool {
	return target == e.Class
}

// IsThrottled reports whether err is a rate-limit error.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// IsNotFound reports whether err means the dependent object is gone.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
