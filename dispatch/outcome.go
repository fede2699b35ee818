package dispatch

import (
	"fmt"

	"github.com/apiarist/hive/store"
	"github.com/pkg/errors"
)

// Status tags the business outcome of a dispatcher operation. The HTTP
// adapter maps tags to status codes; the dispatcher itself never signals
// a normal business-rule result through an error.
type Status int

const (
	StatusOK Status = iota
	StatusNotFound
	StatusConflict
	StatusInvalid
	StatusUnauthorized
)

// Outcome is the tagged result of one dispatcher operation.
type Outcome struct {
	Status  Status
	Message string
	// Body is the response payload: an instance or list for reads, the
	// literal "OK"/"FAIL" for mutations.
	Body any
	// InstanceID carries the created or associated instance's identity
	// for the id-bearing response header.
	InstanceID string
	// Location is the canonical detail URL of a created resource.
	Location string
}

func resultOK(body any) Outcome {
	return Outcome{Status: StatusOK, Body: body}
}

func notFound(format string, args ...any) Outcome {
	return Outcome{Status: StatusNotFound, Message: fmt.Sprintf(format, args...)}
}

func conflict(message string) Outcome {
	return Outcome{Status: StatusConflict, Message: message}
}

func invalid(format string, args ...any) Outcome {
	return Outcome{Status: StatusInvalid, Message: fmt.Sprintf(format, args...)}
}

func unauthorized() Outcome {
	return Outcome{Status: StatusUnauthorized, Message: "unauthorized"}
}

// outcomeForStoreError converts the store error taxonomy into response
// outcomes. Unrecognized errors are internal and propagate unhandled.
func outcomeForStoreError(err error) (Outcome, bool) {
	switch {
	case store.IsUniquenessViolation(err):
		return conflict(err.Error()), true
	case store.IsValidationFailure(err):
		return invalid("%s", err.Error()), true
	case errors.Is(err, store.ErrNotFound):
		return notFound("%s", err.Error()), true
	}
	return Outcome{}, false
}
