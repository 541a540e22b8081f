package adapters

import "fmt"

// FormatError is returned by Ingest when a payload looked like the adapter's
// format but could not be parsed or mapped.
type FormatError struct {
	Adapter string
	Message string
	Err     error
}

func (e *FormatError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Adapter, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Adapter, e.Message)
}

func (e *FormatError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Errorf builds a FormatError for adapter name.
func Errorf(name, format string, args ...any) *FormatError {
	return &FormatError{Adapter: name, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a FormatError around a parser error.
func Wrap(name string, err error, msg string) *FormatError {
	return &FormatError{Adapter: name, Message: msg, Err: err}
}
