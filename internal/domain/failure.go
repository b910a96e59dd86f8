package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// failureKinds are the sentinels a Failure can carry across the runner.
var failureKinds = []error{ErrMalformedLine, ErrInvalidRainfall, ErrMalformedKey}

// Failure is an element rejected by a decoding or decomposition stage. It is
// plain data so it can leave the job graph as its own output and be turned
// back into an error once the run finishes.
type Failure struct {
	Source string `json:"source"`
	Number int    `json:"number,omitempty"`
	Reason string `json:"reason,omitempty"`
	Detail string `json:"detail"`
}

// LineFailure records why a raw line was rejected.
func LineFailure(line RawLine, err error) Failure {
	return Failure{Source: line.Source, Number: line.Number, Reason: reasonOf(err), Detail: err.Error()}
}

// KeyFailure records why a joined key could not be decomposed.
func KeyFailure(key AggregateKey, err error) Failure {
	return Failure{Source: string(key), Reason: reasonOf(err), Detail: err.Error()}
}

// Err rebuilds the error. errors.Is matches the original sentinel.
func (f Failure) Err() error {
	return &failureError{f: f}
}

// Less orders failures by source and line number.
func (f Failure) Less(o Failure) bool {
	if f.Source != o.Source {
		return f.Source < o.Source
	}
	return f.Number < o.Number
}

func reasonOf(err error) string {
	for _, kind := range failureKinds {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return ""
}

type failureError struct {
	f Failure
}

func (e *failureError) Error() string {
	loc := e.f.Source
	if e.f.Number > 0 {
		loc += ":" + strconv.Itoa(e.f.Number)
	}
	return fmt.Sprintf("%s: %s", loc, e.f.Detail)
}

func (e *failureError) Unwrap() error {
	for _, kind := range failureKinds {
		if kind.Error() == e.f.Reason {
			return kind
		}
	}
	return nil
}
