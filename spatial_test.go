package walter_arm

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointOperations(t *testing.T) {
	p := Point{X: 1, Y: 2, Z: 3}
	q := Point{X: 4, Y: 6, Z: 3}

	assert.True(t, p.Add(q).Equal(Point{X: 5, Y: 8, Z: 6}))
	assert.True(t, q.Sub(p).Equal(Point{X: 3, Y: 4, Z: 0}))
	assert.True(t, p.Scale(2).Equal(Point{X: 2, Y: 4, Z: 6}))
	assert.True(t, p.Translate(-1, -2, -3).Equal(Point{}))
	assert.InDelta(t, 5, p.Distance(q), FloatPrecision)
	assert.InDelta(t, math.Sqrt(14), p.Length(), FloatPrecision)
	assert.InDelta(t, 25, p.ScalarProduct(q), FloatPrecision)
	assert.True(t, p.PointOfLine(0.5, q).Equal(Point{X: 2.5, Y: 4, Z: 3}))
	assert.True(t, p.MirrorAt(Point{}).Equal(Point{X: -1, Y: -2, Z: -3}))

	// within tolerance
	assert.True(t, p.Equal(Point{X: 1.0005, Y: 2, Z: 3}))
	assert.False(t, p.Equal(Point{X: 1.01, Y: 2, Z: 3}))
}

func TestOrthogonalProjection(t *testing.T) {
	a := Point{}
	b := Point{X: 10}

	projected := Point{X: 3, Y: 4, Z: 5}.OrthogonalProjection(a, b)
	assert.True(t, projected.Equal(Point{X: 3}), "got %s", projected)

	// degenerate line
	projected = Point{X: 3, Y: 4}.OrthogonalProjection(a, a)
	assert.True(t, projected.Equal(a))
}

func TestRotationCompare(t *testing.T) {
	r := Rotation{X: math.Pi, Y: 0.1, Z: -0.2}

	assert.True(t, r.Equal(r))
	assert.False(t, r.Equal(Rotation{X: -math.Pi, Y: 0.1, Z: -0.2}))
	assert.True(t, r.AlmostEqual(Rotation{X: -math.Pi, Y: 0.1, Z: -0.2}), "wrapped angles are equal")
	assert.True(t, r.Add(r).Sub(r).AlmostEqual(r))
	assert.True(t, r.Scale(0).Equal(Rotation{}))
}

func TestJointAngles(t *testing.T) {
	var a JointAngles

	t.Run("index checks", func(t *testing.T) {
		require.NoError(t, a.Set(Hip, 1))
		v, err := a.At(Hip)
		require.NoError(t, err)
		assert.Equal(t, 1.0, v)

		_, err = a.At(NumberOfActuators)
		assert.ErrorIs(t, err, ErrJointIndexOutOfRange)
		assert.ErrorIs(t, a.Set(-1, 0), ErrJointIndexOutOfRange)
	})

	t.Run("arithmetic", func(t *testing.T) {
		b := JointAngles{1, 2, 3, 4, 5, 6, 7}
		sum := b.Add(b)
		assert.Equal(t, JointAngles{2, 4, 6, 8, 10, 12, 14}, sum)
		assert.Equal(t, b, sum.Sub(b))
		assert.Equal(t, sum, b.Scale(2))
		assert.Equal(t, JointAngles{1, 2, 3, 4, 5, 6, 7}, b, "value receivers leave the operand alone")
	})

	t.Run("degrees", func(t *testing.T) {
		angles, err := JointAnglesFromDegrees([]float64{90, -45})
		require.NoError(t, err)
		assert.InDelta(t, math.Pi/2, angles[Hip], 1e-9)
		assert.InDelta(t, -math.Pi/4, angles[Upperarm], 1e-9)
		assert.Zero(t, angles[Gripper])
		assert.InDeltaSlice(t, []float64{90, -45, 0, 0, 0, 0, 0}, angles.Degrees(), 1e-9)

		_, err = JointAnglesFromDegrees(make([]float64, NumberOfActuators+1))
		assert.ErrorIs(t, err, ErrJointIndexOutOfRange)
	})
}

func TestJointNames(t *testing.T) {
	for i := 0; i < NumberOfActuators; i++ {
		idx, err := JointIndex(JointName(i))
		require.NoError(t, err)
		assert.Equal(t, i, idx)
	}
	assert.Equal(t, "joint(9)", JointName(9))

	_, err := JointIndex("shoulder")
	assert.ErrorIs(t, err, ErrJointIndexOutOfRange)
}

func TestPoseEqualIgnoresAngles(t *testing.T) {
	a := Pose{Position: Point{X: 100}, GripperDistance: 20}
	b := a
	b.Angles[Hip] = 1

	assert.True(t, a.Equal(b))
	b.GripperDistance = 21
	assert.False(t, a.Equal(b))
}

func TestPoseConfiguration(t *testing.T) {
	configs := AllConfigurations()
	require.Len(t, configs, 8)

	seen := map[PoseConfiguration]bool{}
	for _, c := range configs {
		assert.False(t, seen[c], "duplicate configuration %s", c)
		seen[c] = true

		parsed, err := ParsePoseConfiguration(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}

	c := PoseConfiguration{}
	assert.Equal(t, "front/flip-up/turn-up", c.String())
	assert.Equal(t, PoseConfiguration{Turn: TurnDown}, c.Toggle(ToggleTurn))
	assert.Equal(t, PoseConfiguration{Direction: DirectionBack, Flip: FlipDown, Turn: TurnDown},
		c.Toggle(ToggleTurn|ToggleFlip|ToggleDirection))
	assert.Equal(t, c, c.Toggle(ToggleFlip).Toggle(ToggleFlip))

	_, err := ParsePoseConfiguration("sideways")
	assert.Error(t, err)
}

func TestInterpolationTypeJSON(t *testing.T) {
	var node struct {
		Interpolation InterpolationType `json:"interpolation"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"interpolation":"joint_linear"}`), &node))
	assert.Equal(t, JointLinear, node.Interpolation)

	require.NoError(t, json.Unmarshal([]byte(`{"interpolation":""}`), &node))
	assert.Equal(t, PoseCubicBezier, node.Interpolation, "empty name is the default")

	assert.Error(t, json.Unmarshal([]byte(`{"interpolation":"spline"}`), &node))

	data, err := json.Marshal(map[string]InterpolationType{"interpolation": PoseLinear})
	require.NoError(t, err)
	assert.JSONEq(t, `{"interpolation":"pose_linear"}`, string(data))
}

func TestNormalizeRadians(t *testing.T) {
	assert.InDelta(t, math.Pi, normalizeRadians(-math.Pi), 1e-9)
	assert.InDelta(t, -math.Pi/2, normalizeRadians(3*math.Pi/2), 1e-9)
	assert.InDelta(t, 0.5, normalizeRadians(0.5+4*math.Pi), 1e-9)
}
