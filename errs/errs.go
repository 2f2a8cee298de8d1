// Package errs defines the failure categories shared by every pipeline stage.
// Each type keeps the low-level cause reachable through errors.Unwrap so that
// callers can report it alongside the file or field that triggered it.
package errs

import (
	"fmt"
	"strings"
)

// ConfigError reports a missing or malformed setting in a setup or
// coefficient specification document.
type ConfigError struct {
	File   string
	Fields []string
	Err    error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.File != "" {
		fmt.Fprintf(&b, " in %s", e.File)
	}
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, ": field(s) %s", strings.Join(e.Fields, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// InputFileError reports an input that could not be read or that lacks a
// required column.
type InputFileError struct {
	Path   string
	Column string
	Err    error
}

func (e *InputFileError) Error() string {
	msg := "input file " + e.Path
	if e.Column != "" {
		msg += ": column " + e.Column
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InputFileError) Unwrap() error { return e.Err }

// JoinIntegrityError reports a join whose keys or columns do not line up.
type JoinIntegrityError struct {
	Key    string
	Detail string
}

func (e *JoinIntegrityError) Error() string {
	return fmt.Sprintf("join on %s: %s", e.Key, e.Detail)
}

// NumericDomainError reports a computation that produced a non-finite value.
type NumericDomainError struct {
	Quantity string
	Detail   string
}

func (e *NumericDomainError) Error() string {
	return fmt.Sprintf("non-finite %s: %s", e.Quantity, e.Detail)
}

// SequencingError reports an operation invoked before the step that produces
// its data.
type SequencingError struct {
	Op       string
	Requires string
}

func (e *SequencingError) Error() string {
	return fmt.Sprintf("%s called before %s", e.Op, e.Requires)
}

// Missing builds the InputFileError returned when a required column is absent.
func Missing(path, column string) error {
	return &InputFileError{Path: path, Column: column, Err: fmt.Errorf("not found")}
}
