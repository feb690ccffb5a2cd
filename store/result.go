package store

import (
	"errors"
	"fmt"
)

// Outcome is the result of one write against one backend and scope.
type Outcome struct {
	Backend Backend
	Scope   Scope
	Primary bool
	Err     error
}

func (o Outcome) String() string {
	status := "ok"
	if o.Err != nil {
		status = o.Err.Error()
	}
	return fmt.Sprintf("%s/%s: %s", o.Backend, o.Scope, status)
}

// WriteResult collects the per-store outcomes of a multi-store write. A
// failed primary write is returned as an error by the caller; failed
// secondary writes only mark the result degraded.
type WriteResult struct {
	Outcomes []Outcome
}

// Record appends an outcome.
func (r *WriteResult) Record(b Backend, scope Scope, primary bool, err error) {
	r.Outcomes = append(r.Outcomes, Outcome{Backend: b, Scope: scope, Primary: primary, Err: err})
}

// Merge appends the outcomes of other.
func (r *WriteResult) Merge(other *WriteResult) {
	if other == nil {
		return
	}
	r.Outcomes = append(r.Outcomes, other.Outcomes...)
}

// Degraded reports whether any secondary write failed.
func (r *WriteResult) Degraded() bool {
	if r == nil {
		return false
	}
	for _, o := range r.Outcomes {
		if !o.Primary && o.Err != nil {
			return true
		}
	}
	return false
}

// Err joins the errors of failed secondary writes, or returns nil.
func (r *WriteResult) Err() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, o := range r.Outcomes {
		if !o.Primary && o.Err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", o.Backend, o.Scope, o.Err))
		}
	}
	return errors.Join(errs...)
}

// Succeeded reports whether a write to b and scope was recorded without error.
func (r *WriteResult) Succeeded(b Backend, scope Scope) bool {
	if r == nil {
		return false
	}
	for _, o := range r.Outcomes {
		if o.Backend == b && o.Scope == scope {
			return o.Err == nil
		}
	}
	return false
}
