package walter_arm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compiledTrajectory(t *testing.T, kin *Kinematics, interpolation InterpolationType) *Trajectory {
	t.Helper()
	trajectory := threeNodeTrajectory(t, kin)
	for i := range trajectory.Nodes {
		trajectory.Nodes[i].Interpolation = interpolation
	}
	require.NoError(t, trajectory.Compile(kin, PoseConfiguration{}))
	return trajectory
}

func TestPlayerClampsAtBothEnds(t *testing.T) {
	kin := NewKinematics(DefaultArmGeometry())
	trajectory := compiledTrajectory(t, kin, PoseCubicBezier)
	player, err := NewPlayer(trajectory, kin)
	require.NoError(t, err)

	first, last := trajectory.Nodes[0], trajectory.Nodes[2]

	pose, err := player.Sample(-time.Second)
	require.NoError(t, err)
	assert.True(t, pose.Equal(first.Pose))
	assert.Equal(t, first.Pose.Angles, pose.Angles)

	pose, err = player.Sample(trajectory.Duration() + time.Hour)
	require.NoError(t, err)
	assert.True(t, pose.Equal(last.Pose))
	assert.True(t, player.Done(trajectory.Duration()))
	assert.False(t, player.Done(trajectory.Duration()-time.Millisecond))
}

func TestPlayerPassesThroughNodes(t *testing.T) {
	kin := NewKinematics(DefaultArmGeometry())
	for _, interpolation := range []InterpolationType{PoseCubicBezier, PoseLinear, JointLinear} {
		t.Run(interpolation.String(), func(t *testing.T) {
			trajectory := compiledTrajectory(t, kin, interpolation)
			player, err := NewPlayer(trajectory, kin)
			require.NoError(t, err)

			for _, n := range trajectory.Nodes {
				pose, err := player.Sample(n.Time)
				require.NoError(t, err)
				assert.True(t, pose.Equal(n.Pose), "at %s want %s got %s", n.Time, n.Pose, pose)
			}

			// every sample in between is solved and reachable
			for ts := time.Duration(0); ts < trajectory.Duration(); ts += 50 * time.Millisecond {
				pose, err := player.Sample(ts)
				require.NoError(t, err)
				assert.True(t, kin.Forward(pose.Angles).Equal(pose), "sample at %s is not solved", ts)
			}
		})
	}
}

func TestPlayerIsStateless(t *testing.T) {
	kin := NewKinematics(DefaultArmGeometry())
	trajectory := compiledTrajectory(t, kin, PoseCubicBezier)
	player, err := NewPlayer(trajectory, kin)
	require.NoError(t, err)

	mid := trajectory.Duration() / 2
	a, err := player.Sample(mid)
	require.NoError(t, err)
	_, err = player.Sample(trajectory.Duration())
	require.NoError(t, err)
	b, err := player.Sample(mid)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPlayerLinearMidpoint(t *testing.T) {
	kin := NewKinematics(DefaultArmGeometry())
	trajectory := compiledTrajectory(t, kin, PoseLinear)
	trajectory.Nodes[0].Continuously = false
	require.NoError(t, trajectory.Compile(kin, PoseConfiguration{}))
	player, err := NewPlayer(trajectory, kin)
	require.NoError(t, err)

	from, to := trajectory.Nodes[0], trajectory.Nodes[1]
	pose, err := player.Sample(from.Duration / 2)
	require.NoError(t, err)

	// symmetric profile with both ends at rest
	want := from.Pose.Position.PointOfLine(0.5, to.Pose.Position)
	assert.True(t, pose.Position.Equal(want), "want %s got %s", want, pose.Position)
}

func TestProgress(t *testing.T) {
	n := TrajectoryNode{Duration: time.Second, Distance: 100}

	assert.Zero(t, progress(0, n))
	assert.InDelta(t, 1, progress(1, n), 1e-9)
	assert.InDelta(t, 0.5, progress(0.5, n), 1e-9)
	assert.InDelta(t, 1, progress(2, n), 1e-9, "clamped")

	// at rest the profile starts flat
	assert.Less(t, progress(0.1, n), 0.1)

	// moving at the average speed the profile is linear
	n.StartSpeed, n.EndSpeed = 100, 100
	assert.InDelta(t, 0.25, progress(0.25, n), 1e-9)
}

func TestNewPlayerRejectsEmpty(t *testing.T) {
	kin := NewKinematics(DefaultArmGeometry())
	_, err := NewPlayer(NewTrajectory(), kin)
	assert.ErrorIs(t, err, ErrEmptyTrajectory)
	_, err = NewPlayer(nil, kin)
	assert.Equal(t, InvalidTrajectory, CodeOf(err))
}
