package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidInput marks a request whose payload does not match the capability's modality.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnknownProvider is returned by a Registry for unregistered names.
	ErrUnknownProvider = errors.New("unknown ai provider")
	// ErrNotConfigured is returned when a provider is known but has no credentials.
	ErrNotConfigured = errors.New("ai provider not configured")
)

func invalidInput(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}

// ErrorKind distinguishes the three ways a provider call can fail.
type ErrorKind string

const (
	// KindRejected: the provider answered with a non-success status.
	KindRejected ErrorKind = "rejected"
	// KindUnreachable: transport failure, no usable answer.
	KindUnreachable ErrorKind = "unreachable"
	// KindMalformed: the answer could not be read in the expected shape.
	KindMalformed ErrorKind = "malformed"
)

// ProviderError is the single failure shape every adapter reports.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Message    string
	// Raw keeps a bounded copy of an unparseable body.
	Raw string
	Err error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

func Rejected(provider string, status int, msg string) *ProviderError {
	if strings.TrimSpace(msg) == "" {
		msg = fmt.Sprintf("status %d", status)
	}
	return &ProviderError{Provider: provider, Kind: KindRejected, StatusCode: status, Message: msg}
}

func Unreachable(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindUnreachable, Err: err}
}

func Malformed(provider, msg string, raw []byte) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindMalformed, Message: msg, Raw: truncate(string(raw), maxRawBytes)}
}

// KindOf returns the kind of a wrapped ProviderError.
func KindOf(err error) (ErrorKind, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

const maxRawBytes = 4 * 1024

// errorMessage pulls a human readable message out of an error body. Providers
// disagree on shape: {"error":"..."}, {"error":{"message":"..."}},
// {"message":"..."}, or plain text.
func errorMessage(body []byte) string {
	var structured struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Detail  string          `json:"detail"`
	}
	if err := json.Unmarshal(body, &structured); err == nil {
		if msg := rawErrorText(structured.Error); msg != "" {
			return msg
		}
		if structured.Message != "" {
			return structured.Message
		}
		if structured.Detail != "" {
			return structured.Detail
		}
	}
	return truncate(strings.TrimSpace(string(body)), maxRawBytes)
}

// rawErrorText decodes an error field that may be null, a string, or an object with a message.
func rawErrorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return truncate(string(raw), maxRawBytes)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Outcome labels the result of a provider call for metrics.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind, ok := KindOf(err); ok {
		return string(kind)
	}
	if errors.Is(err, ErrInvalidInput) {
		return "invalid"
	}
	return "error"
}
