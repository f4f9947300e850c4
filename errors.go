package walter_arm

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// ErrorCode is the flat error enumeration, grouped by subsystem.
type ErrorCode int

const (
	NoError ErrorCode = 0

	// communication
	ChecksumExpected          ErrorCode = 1
	ChecksumWrong             ErrorCode = 2
	ParamWrong                ErrorCode = 3
	ParamNumberWrong          ErrorCode = 4
	UnrecognizedCmd           ErrorCode = 5
	CortexPowerOnWithoutSetup ErrorCode = 6
	CortexSetupMissing        ErrorCode = 7

	// encoder
	EncoderConnectionFailed ErrorCode = 10
	EncoderCallFailed       ErrorCode = 11
	EncoderCheckFailed      ErrorCode = 12

	// configuration
	MisconfigTooManyServos          ErrorCode = 20
	MisconfigTooManyEncoders        ErrorCode = 21
	MisconfigTooManySteppers        ErrorCode = 22
	MisconfigServoWithStepper       ErrorCode = 23
	MisconfigServoWithEncoder       ErrorCode = 24
	MisconfigEncoderStepperMismatch ErrorCode = 25
	MisconfigNoSteppers             ErrorCode = 26
	MisconfigNoEncoders             ErrorCode = 27
	MisconfigEncoderWithNoStepper   ErrorCode = 28
	MisconfigStepper                ErrorCode = 29
	MisconfigServo                  ErrorCode = 30

	// servo driver
	ServoCommunicationFailed ErrorCode = 40
	ServoStatusFailed        ErrorCode = 41

	// controller
	CortexConnectionFailed ErrorCode = 50
	CortexComFailed        ErrorCode = 51
	CortexLogComFailed     ErrorCode = 52
	CortexNoResponse       ErrorCode = 53

	// application
	WebserverTimeout  ErrorCode = 60
	Unreachable       ErrorCode = 61
	InvalidTrajectory ErrorCode = 62

	UnknownError ErrorCode = 99
)

var errorMessages = map[ErrorCode]string{
	NoError:                         "no error",
	ChecksumExpected:                "checksum expected",
	ChecksumWrong:                   "checksum wrong",
	ParamWrong:                      "parameter wrong",
	ParamNumberWrong:                "wrong number of parameters",
	UnrecognizedCmd:                 "unrecognized command",
	CortexPowerOnWithoutSetup:       "power on without setup",
	CortexSetupMissing:              "setup missing",
	EncoderConnectionFailed:         "encoder connection failed",
	EncoderCallFailed:               "encoder call failed",
	EncoderCheckFailed:              "encoder variance check failed",
	MisconfigTooManyServos:          "too many servos configured",
	MisconfigTooManyEncoders:        "too many encoders configured",
	MisconfigTooManySteppers:        "too many steppers configured",
	MisconfigServoWithStepper:       "servo configured together with a stepper",
	MisconfigServoWithEncoder:       "servo configured together with an encoder",
	MisconfigEncoderStepperMismatch: "encoder and stepper do not match",
	MisconfigNoSteppers:             "no steppers configured",
	MisconfigNoEncoders:             "no encoders configured",
	MisconfigEncoderWithNoStepper:   "encoder without stepper",
	MisconfigStepper:                "stepper misconfigured",
	MisconfigServo:                  "servo misconfigured",
	ServoCommunicationFailed:        "servo communication failed",
	ServoStatusFailed:               "servo status failed",
	CortexConnectionFailed:          "controller connection failed",
	CortexComFailed:                 "controller communication failed",
	CortexLogComFailed:              "controller log communication failed",
	CortexNoResponse:                "controller did not respond",
	WebserverTimeout:                "web server timeout",
	Unreachable:                     "pose not reachable",
	InvalidTrajectory:               "invalid trajectory",
	UnknownError:                    "unknown error",
}

// Message returns the human readable message of the code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return errorMessages[UnknownError]
}

func (c ErrorCode) String() string {
	return fmt.Sprintf("%d (%s)", int(c), c.Message())
}

// Error is a fault reported by the controller, tagged with its code and originating joint or subsystem.
type Error struct {
	Code   ErrorCode
	Source string
	Err    error
}

// NewError creates a coded error. err may be nil.
func NewError(code ErrorCode, source string, err error) *Error {
	return &Error{Code: code, Source: source, Err: err}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("error %d %s: %s", int(e.Code), e.Source, e.Code.Message())
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the code from any error chain. Errors without a code map to UnknownError.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return NoError
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return UnknownError
}

// ErrorLatch keeps the latest error until it is read once.
type ErrorLatch struct {
	mu     sync.Mutex
	last   *Error
	logger logging.Logger
}

// NewErrorLatch creates an empty latch
func NewErrorLatch(logger logging.Logger) *ErrorLatch {
	return &ErrorLatch{logger: logger}
}

// Set logs the error and keeps it as the latest one. Uncoded errors become UnknownError.
func (l *ErrorLatch) Set(err error) {
	if err == nil {
		return
	}
	var coded *Error
	if !errors.As(err, &coded) {
		coded = NewError(UnknownError, "", err)
	}

	l.mu.Lock()
	l.last = coded
	l.mu.Unlock()

	if l.logger != nil {
		l.logger.Errorf("%s: %v", coded.Source, err)
	}
}

// Last returns the latest error and clears it.
func (l *ErrorLatch) Last() *Error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.last
	l.last = nil
	return err
}

// Peek returns the latest error without clearing it.
func (l *ErrorLatch) Peek() *Error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// LastCode returns the code of the latest error and clears it.
func (l *ErrorLatch) LastCode() ErrorCode {
	if err := l.Last(); err != nil {
		return err.Code
	}
	return NoError
}

// IsError reports whether an error is pending. Like Last, it clears the pending error.
func (l *ErrorLatch) IsError() bool {
	return l.Last() != nil
}
