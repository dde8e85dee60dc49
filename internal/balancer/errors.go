package balancer

import (
	"errors"
	"strings"

	"go.uber.org/multierr"
)

var (
	ErrNoSuitableHost  = errors.New("no suitable host was found")
	ErrUnableToConnect = errors.New("unable to connect to a suitable host")
	ErrAcquireTimeout  = errors.New("timed out while acquiring a connection")
	ErrRouterClosed    = errors.New("router is closed")
)

// NodeError is a failure to open or validate a connection to a single node.
type NodeError struct {
	Host string
	Err  error
}

func (e *NodeError) Error() string {
	return "host " + e.Host + ": " + e.Err.Error()
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// AcquireError is returned when every candidate node has been exhausted.
type AcquireError struct {
	Cluster string

	kind error
	errs error
}

func (e *AcquireError) Error() string {
	if e.errs == nil {
		return e.kind.Error()
	}

	return e.kind.Error() + ": " + e.errs.Error()
}

func (e *AcquireError) Is(target error) bool {
	return target == e.kind
}

func (e *AcquireError) Unwrap() []error {
	return multierr.Errors(e.errs)
}

// NodeErrors returns the per-node failures collected during the acquisition.
func (e *AcquireError) NodeErrors() []error {
	return multierr.Errors(e.errs)
}

type sqlStateError interface {
	SQLState() string
}

// SQLState extracts the database error code from the chain, if any.
func SQLState(err error) (string, bool) {
	var se sqlStateError
	if !errors.As(err, &se) {
		return "", false
	}

	return se.SQLState(), true
}

// newExhaustedError builds the error of a failed acquisition. When every
// recorded failure carries the same database error code that failure is
// returned as is.
func newExhaustedError(clusterName string, errs []error) error {
	if len(errs) == 0 {
		return &AcquireError{Cluster: clusterName, kind: ErrNoSuitableHost}
	}

	if code, ok := SQLState(errs[0]); ok {
		same := true
		for _, err := range errs[1:] {
			c, ok := SQLState(err)
			if !ok || c != code {
				same = false
				break
			}
		}
		if same {
			var se sqlStateError
			errors.As(errs[0], &se)
			return se.(error)
		}
	}

	return &AcquireError{
		Cluster: clusterName,
		kind:    ErrUnableToConnect,
		errs:    multierr.Combine(errs...),
	}
}

func errorStrings(errs []error) []string {
	res := make([]string, 0, len(errs))
	for _, err := range errs {
		res = append(res, strings.TrimSpace(err.Error()))
	}

	return res
}
