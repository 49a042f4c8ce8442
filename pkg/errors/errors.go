package errors

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// 错误码
const (
	CodeUnknown = iota
	CodeInvalidArgument
	CodeNotFound
	CodeInvalidTransition
	CodeDuplicateFacility
	CodeSessionAlreadyActive
	CodeCapacityUnderflow
	CodeNoCoverage
	CodeDeliveryFailure
	CodeUnavailable
)

var codeNames = map[int]string{
	CodeUnknown:              "Unknown",
	CodeInvalidArgument:      "InvalidArgument",
	CodeNotFound:             "NotFound",
	CodeInvalidTransition:    "InvalidTransition",
	CodeDuplicateFacility:    "DuplicateFacility",
	CodeSessionAlreadyActive: "SessionAlreadyActive",
	CodeCapacityUnderflow:    "CapacityUnderflow",
	CodeNoCoverage:           "NoCoverage",
	CodeDeliveryFailure:      "DeliveryFailure",
	CodeUnavailable:          "Unavailable",
}

// CodeName returns the taxonomy name of a code, e.g. "InvalidTransition".
func CodeName(code int) string {
	if n, ok := codeNames[code]; ok {
		return n
	}
	return codeNames[CodeUnknown]
}

// HTTPStatus maps an error code onto the status the API layer answers with.
func HTTPStatus(code int) int {
	switch code {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidTransition, CodeDuplicateFacility, CodeSessionAlreadyActive, CodeCapacityUnderflow:
		return http.StatusConflict
	case CodeUnavailable, CodeNoCoverage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error represents a custom error with stack trace
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Err     error      `json:"-"` // 原始错误，不序列化
	Stack   string     `json:"stack,omitempty"`
	Context []KeyValue `json:"context,omitempty"`
}

// KeyValue represents a key-value pair for context
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

// Unwrap implements the errors.Wrapper interface
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target carries the same non-zero code, so sentinel
// values such as ErrNotFound match any error created with that code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	if t.Code == CodeUnknown {
		return e == t
	}
	return e.Code == t.Code
}

// Sentinels for errors.Is checks across packages.
var (
	ErrInvalidArgument      = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrNotFound             = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInvalidTransition    = &Error{Code: CodeInvalidTransition, Message: "invalid transition"}
	ErrDuplicateFacility    = &Error{Code: CodeDuplicateFacility, Message: "duplicate facility"}
	ErrSessionAlreadyActive = &Error{Code: CodeSessionAlreadyActive, Message: "session already active"}
	ErrCapacityUnderflow    = &Error{Code: CodeCapacityUnderflow, Message: "capacity underflow"}
	ErrNoCoverage           = &Error{Code: CodeNoCoverage, Message: "no coverage"}
	ErrDeliveryFailure      = &Error{Code: CodeDeliveryFailure, Message: "delivery failure"}
	ErrUnavailable          = &Error{Code: CodeUnavailable, Message: "unavailable"}
)

// WithCode creates a new error with code
func WithCode(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Stack:   captureStack(),
	}
}

// WithCodef creates a new error with code and formatted message
func WithCodef(code int, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(),
	}
}

// Wrap wraps an error with message. The code of a wrapped *Error is kept.
func Wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:    GetCode(err),
		Message: message + ": " + err.Error(),
		Err:     err,
		Stack:   captureStack(),
	}
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// New creates a new error
func New(message string) *Error {
	return &Error{
		Message: message,
		Stack:   captureStack(),
	}
}

// WithContext adds context to an error
func (e *Error) WithContext(key, value string) *Error {
	if e == nil {
		return nil
	}

	// 创建新的错误实例以避免修改原始错误
	newErr := &Error{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Stack:   e.Stack,
		Context: make([]KeyValue, len(e.Context), len(e.Context)+1),
	}
	copy(newErr.Context, e.Context)
	newErr.Context = append(newErr.Context, KeyValue{Key: key, Value: value})

	return newErr
}

// captureStack captures the current stack trace
func captureStack() string {
	buf := make([]byte, 1024)
	n := runtime.Stack(buf, false)
	stack := string(buf[:n])

	// 移除顶部几行（captureStack 和构造函数本身）
	lines := strings.Split(stack, "\n")
	if len(lines) > 6 {
		stack = strings.Join(lines[6:], "\n")
	}

	return strings.TrimSpace(stack)
}

// GetCode returns the code of the first *Error in the chain.
func GetCode(err error) int {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Code != CodeUnknown || e.Err == nil {
				return e.Code
			}
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return CodeUnknown
		}
		err = u.Unwrap()
	}
	return CodeUnknown
}

// GetMessage returns the error message
func GetMessage(err error) string {
	if e, ok := err.(*Error); ok {
		return e.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// Cause returns the underlying error
func Cause(err error) error {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Err != nil {
			err = e.Err
		} else {
			return err
		}
	}
	return err
}

// Format implements fmt.Formatter
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s", e.Error())
			if e.Stack != "" {
				fmt.Fprintf(s, "\n%s", e.Stack)
			}
			return
		}
		fallthrough
	case 's':
		fmt.Fprintf(s, "%s", e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
