package kernel

import (
	"errors"
	"fmt"
)

// Errno is a negative kernel status code. It implements error so callers
// can match codes with errors.Is.
type Errno int

const (
	EUNSPECIFIED Errno = -(iota + 1) // unspecified or unknown problem
	EBADENV                          // environment doesn't exist or otherwise cannot be used
	EINVAL                           // invalid parameter
	ENOMEM                           // request failed due to memory shortage
	ENOFREEENV                       // attempt to create a new environment beyond the maximum allowed
	EFAULT                           // memory fault
)

var errnoText = map[Errno]string{
	EUNSPECIFIED: "unspecified error",
	EBADENV:      "bad environment",
	EINVAL:       "invalid parameter",
	ENOMEM:       "out of memory",
	ENOFREEENV:   "out of environments",
	EFAULT:       "segmentation fault",
}

func (e Errno) Error() string {
	if s, ok := errnoText[e]; ok {
		return s
	}
	return fmt.Sprintf("error %d", int(e))
}

// ErrKilled is returned to code running in an environment that was
// destroyed, typically by an unresolved page fault.
var ErrKilled = errors.New("environment destroyed")

// Code extracts the negative status code carried by err. Errors that do
// not wrap an Errno map to EUNSPECIFIED.
func Code(err error) Errno {
	var e Errno
	if errors.As(err, &e) {
		return e
	}
	return EUNSPECIFIED
}
