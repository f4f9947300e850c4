package walter_arm

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"go.viam.com/rdk/logging"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, NoError, CodeOf(nil))
	assert.Equal(t, UnknownError, CodeOf(errors.New("plain")))

	coded := NewError(EncoderCallFailed, "wrist", errors.New("nack"))
	assert.Equal(t, EncoderCallFailed, CodeOf(coded))
	assert.Equal(t, EncoderCallFailed, CodeOf(fmt.Errorf("tick: %w", coded)))
	assert.Equal(t, EncoderCallFailed, CodeOf(errors.Wrap(coded, "loop")))
}

func TestErrorMessage(t *testing.T) {
	inner := errors.New("nack")
	err := NewError(EncoderCallFailed, "wrist", inner)

	assert.Equal(t, "error 11 wrist: encoder call failed: nack", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "error 7 controller: setup missing", NewError(CortexSetupMissing, "controller", nil).Error())

	assert.Equal(t, "unknown error", ErrorCode(42).Message())
	assert.Equal(t, "61 (pose not reachable)", Unreachable.String())
}

func TestErrorLatch(t *testing.T) {
	latch := NewErrorLatch(logging.NewTestLogger(t))

	assert.Nil(t, latch.Last())
	assert.Equal(t, NoError, latch.LastCode())

	latch.Set(nil)
	assert.False(t, latch.IsError())

	latch.Set(NewError(EncoderCallFailed, "hip", nil))
	latch.Set(NewError(Unreachable, "kinematics", nil))
	assert.Equal(t, Unreachable, latch.LastCode(), "latest error wins")
	assert.Equal(t, NoError, latch.LastCode(), "reading clears the error")

	latch.Set(errors.New("plain"))
	last := latch.Last()
	if assert.NotNil(t, last) {
		assert.Equal(t, UnknownError, last.Code)
	}

	latch.Set(NewError(ServoStatusFailed, "elbow", nil))
	assert.True(t, latch.IsError())
	assert.False(t, latch.IsError())
}
