package walter_arm

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

func newSimulatedArm(t *testing.T) *walterArm {
	t.Helper()
	t.Setenv("VIAM_MODULE_DATA", t.TempDir())

	conf := resource.Config{
		Name:                "arm",
		API:                 arm.API,
		Model:               WalterArmModel,
		ConvertedAttributes: &WalterArmConfig{Simulated: true},
	}
	a, err := newWalterArm(context.Background(), nil, conf, logging.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, a.Close(context.Background()))
	})
	return a.(*walterArm)
}

// waitIdle polls the status command until no trajectory is playing.
func waitIdle(t *testing.T, s *walterArm) {
	t.Helper()
	require.Eventually(t, func() bool {
		status, err := s.DoCommand(context.Background(), map[string]any{"command": "status"})
		require.NoError(t, err)
		return !status["playing"].(bool)
	}, 10*time.Second, 20*time.Millisecond)
}

func TestFloatArg(t *testing.T) {
	cmd := map[string]any{"a": 1.5, "b": 2, "c": "three"}

	v, ok, err := floatArg(cmd, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1.5, v)

	v, ok, err = floatArg(cmd, "b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)

	_, ok, err = floatArg(cmd, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = floatArg(cmd, "c")
	assert.Error(t, err)
}

func TestJointArg(t *testing.T) {
	joint, err := jointArg(map[string]any{"joint": "wrist"})
	require.NoError(t, err)
	assert.Equal(t, Wrist, joint)

	joint, err = jointArg(map[string]any{"joint": 2.0})
	require.NoError(t, err)
	assert.Equal(t, Forearm, joint)

	_, err = jointArg(map[string]any{"joint": 7.0})
	assert.ErrorIs(t, err, ErrJointIndexOutOfRange)
	_, err = jointArg(map[string]any{"joint": "knee"})
	assert.ErrorIs(t, err, ErrJointIndexOutOfRange)
	_, err = jointArg(map[string]any{})
	assert.Error(t, err)
}

func TestTrajectoryArg(t *testing.T) {
	t.Run("inline", func(t *testing.T) {
		trajectory, err := trajectoryArg(map[string]any{
			"trajectory": map[string]any{
				"nodes": []any{
					map[string]any{"pose": map[string]any{"position": map[string]any{"x": 100.0, "z": 500.0}}},
					map[string]any{"interpolation": "pose_linear"},
				},
			},
		})
		require.NoError(t, err)
		require.Len(t, trajectory.Nodes, 2)
		assert.Equal(t, 100.0, trajectory.Nodes[0].Pose.Position.X)
		assert.Equal(t, PoseLinear, trajectory.Nodes[1].Interpolation)
	})

	t.Run("file", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("VIAM_MODULE_DATA", dir)
		kin := NewKinematics(DefaultArmGeometry())
		saved := threeNodeTrajectory(t, kin)
		require.NoError(t, SaveTrajectoryToFile(filepath.Join(dir, "wave.json"), saved))

		trajectory, err := trajectoryArg(map[string]any{"file": "wave.json"})
		require.NoError(t, err)
		assert.Equal(t, saved.ID, trajectory.ID)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := trajectoryArg(map[string]any{})
		assert.Error(t, err)
		_, err = trajectoryArg(map[string]any{"trajectory": map[string]any{"nodes": "none"}})
		assert.Error(t, err)
	})
}

func TestSimulatedArmCommands(t *testing.T) {
	ctx := context.Background()
	s := newSimulatedArm(t)

	readings, err := s.DoCommand(ctx, map[string]any{"command": "readings"})
	require.NoError(t, err)
	assert.Equal(t, "running", readings["state"])
	assert.Equal(t, "front/flip-up/turn-up", readings["configuration"])
	assert.InDelta(t, Radians(35)*DefaultArmGeometry().GripperMMPerRadian, readings["gripper_mm"], FloatPrecision)
	assert.Contains(t, readings, "joints")
	assert.NotContains(t, readings, "playing")

	t.Run("set_angles", func(t *testing.T) {
		resp, err := s.DoCommand(ctx, map[string]any{
			"command": "set_angles",
			"angles":  []any{10.0, 10.0, 20.0},
		})
		require.NoError(t, err)
		assert.Equal(t, true, resp["success"])
		waitIdle(t, s)

		require.Eventually(t, func() bool {
			return s.controller.Angles().Equal(anglesDeg(t, 10, 10, 20, 0, 0, 0, 35))
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("solve", func(t *testing.T) {
		resp, err := s.DoCommand(ctx, map[string]any{"command": "solve"})
		require.NoError(t, err)
		assert.Equal(t, true, resp["reachable"], "the current pose is reachable")

		resp, err = s.DoCommand(ctx, map[string]any{"command": "solve", "x": 5000.0})
		require.NoError(t, err)
		assert.Equal(t, false, resp["reachable"])
	})

	t.Run("unreachable pose", func(t *testing.T) {
		resp, err := s.DoCommand(ctx, map[string]any{"command": "set_pose", "x": 5000.0})
		assert.Error(t, err)
		assert.Equal(t, int(Unreachable), resp["code"])

		readings := s.readings()
		require.Contains(t, readings, "error")
		assert.Equal(t, int(Unreachable), readings["error"].(map[string]any)["code"])
		assert.Contains(t, s.readings(), "error", "readings leave the error latched")

		resp, err = s.DoCommand(ctx, map[string]any{"command": "last_error"})
		require.NoError(t, err)
		assert.Equal(t, int(Unreachable), resp["code"])
		assert.NotContains(t, s.readings(), "error", "last_error clears the latch")
	})

	t.Run("set_gripper", func(t *testing.T) {
		resp, err := s.DoCommand(ctx, map[string]any{"command": "set_gripper", "distance": 30.0})
		require.NoError(t, err)
		assert.Equal(t, true, resp["success"])
		waitIdle(t, s)

		require.Eventually(t, func() bool {
			status, err := s.DoCommand(ctx, map[string]any{"command": "status"})
			require.NoError(t, err)
			return almostEqual(status["gripper_mm"].(float64), 30, FloatPrecision)
		}, time.Second, 10*time.Millisecond)

		_, err = s.DoCommand(ctx, map[string]any{"command": "set_gripper"})
		assert.Error(t, err)
	})

	t.Run("set_configuration", func(t *testing.T) {
		_, err := s.DoCommand(ctx, map[string]any{"command": "set_configuration", "configuration": "upside-down"})
		assert.Error(t, err)
	})

	t.Run("encoder commands without encoders", func(t *testing.T) {
		_, err := s.DoCommand(ctx, map[string]any{"command": "get_null_angle", "joint": "hip"})
		assert.Equal(t, EncoderConnectionFailed, CodeOf(err))
		assert.ErrorIs(t, err, errNoEncoder)
	})

	t.Run("set_torque", func(t *testing.T) {
		resp, err := s.DoCommand(ctx, map[string]any{"command": "set_torque", "enable": true})
		require.NoError(t, err)
		assert.Equal(t, true, resp["success"])

		_, err = s.DoCommand(ctx, map[string]any{"command": "set_torque", "enable": "yes"})
		assert.Error(t, err)
	})

	t.Run("last_error", func(t *testing.T) {
		resp, err := s.DoCommand(ctx, map[string]any{"command": "last_error"})
		require.NoError(t, err)
		assert.Equal(t, int(NoError), resp["code"])
	})

	t.Run("save_calibration", func(t *testing.T) {
		resp, err := s.DoCommand(ctx, map[string]any{"command": "save_calibration"})
		require.NoError(t, err)
		path := resp["file"].(string)

		loaded, err := LoadCalibrationFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, s.cfg.Servos, loaded.Servos)
	})

	t.Run("unknown command", func(t *testing.T) {
		_, err := s.DoCommand(ctx, map[string]any{"command": "dance"})
		assert.ErrorContains(t, err, "unknown command")
		_, err = s.DoCommand(ctx, map[string]any{"command": 1})
		assert.Error(t, err)
	})
}
