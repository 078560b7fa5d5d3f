package edelta

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotPersisted   = errors.New("object has no persistent id")
	ErrChildNotLocked = errors.New("child not locked")
	ErrParentMismatch = errors.New("parent mismatch")
	ErrNotInView      = errors.New("object missing from snapshot view")
	ErrCompleted      = errors.New("unit of work already completed")
)

// ConsistencyError reports that the in-memory graph disagrees with the
// tracked locks. It is fatal for the unit of work that produced it.
type ConsistencyError struct {
	Op       string
	ObjectID ObjectID
	Class    *ClassMeta
	Msg      string
	Err      error
}

func consistencyErrf(op string, id ObjectID, cls *ClassMeta, err error, format string, args ...any) error {
	return &ConsistencyError{op, id, cls, fmt.Sprintf(format, args...), err}
}

func (e *ConsistencyError) Unwrap() error {
	return e.Err
}

func (e *ConsistencyError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Op)
	buf.WriteByte(' ')
	if e.Class != nil {
		buf.WriteString(e.Class.Name())
		buf.WriteByte(':')
	}
	buf.WriteString(e.ObjectID.String())
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	return buf.String()
}

// ConfigError describes one problem in a class declaration.
type ConfigError struct {
	Class    string
	Property string
	Msg      string
}

func configErrf(cls *ClassMeta, prop string, format string, args ...any) *ConfigError {
	e := &ConfigError{Property: prop, Msg: fmt.Sprintf(format, args...)}
	if cls != nil {
		e.Class = cls.name
	}
	return e
}

func (e *ConfigError) Error() string {
	switch {
	case e.Class != "" && e.Property != "":
		return e.Class + "." + e.Property + ": " + e.Msg
	case e.Class != "":
		return e.Class + ": " + e.Msg
	default:
		return e.Msg
	}
}

// SchemaError is returned by Schema.Seal and lists every configuration
// problem found.
type SchemaError struct {
	Errs []*ConfigError
}

func (e *SchemaError) Unwrap() []error {
	errs := make([]error, len(e.Errs))
	for i, err := range e.Errs {
		errs[i] = err
	}
	return errs
}

func (e *SchemaError) Error() string {
	if len(e.Errs) == 1 {
		return "invalid schema: " + e.Errs[0].Error()
	}
	var buf strings.Builder
	fmt.Fprintf(&buf, "invalid schema (%d errors):", len(e.Errs))
	for _, err := range e.Errs {
		buf.WriteString("\n  ")
		buf.WriteString(err.Error())
	}
	return buf.String()
}

// DataError reports malformed encoded data.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	var msg string
	if e.Err != nil {
		msg = e.Msg + ": " + e.Err.Error()
	} else {
		msg = e.Msg
	}
	switch {
	case e.Data == nil:
		return msg
	case n <= prefixLen+suffixLen:
		return fmt.Sprintf("%s: (%d @%d) %x", msg, n, e.Off, e.Data)
	default:
		return fmt.Sprintf("%s: (%d @%d) %x...%x", msg, n, e.Off, e.Data[:prefixLen], e.Data[n-suffixLen:])
	}
}
