package walter_arm

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrUnreachable is returned when no configuration reaches a pose.
	ErrUnreachable = errors.New("pose not reachable")
	// ErrNoValidConfiguration is returned when the configuration search is exhausted.
	ErrNoValidConfiguration = errors.New("no valid configuration")
)

// JointLimit bounds one joint. Angles in radians, speed in radians per second.
type JointLimit struct {
	Min      float64
	Max      float64
	MaxSpeed float64
}

// ArmGeometry holds the fixed link lengths (mm) and joint limits.
type ArmGeometry struct {
	HipHeight          float64
	UpperarmLength     float64
	ForearmLength      float64
	HandLength         float64
	GripperMMPerRadian float64
	TCPDeviation       Point
	Limits             [NumberOfActuators]JointLimit
}

func limitDeg(min, max, speed float64) JointLimit {
	return JointLimit{Min: Radians(min), Max: Radians(max), MaxSpeed: Radians(speed)}
}

// DefaultArmGeometry returns the geometry of the reference arm.
func DefaultArmGeometry() ArmGeometry {
	return ArmGeometry{
		HipHeight:          260,
		UpperarmLength:     350,
		ForearmLength:      260,
		HandLength:         120,
		GripperMMPerRadian: 40,
		Limits: [NumberOfActuators]JointLimit{
			Hip:      limitDeg(-170, 170, 90),
			Upperarm: limitDeg(-90, 90, 60),
			Forearm:  limitDeg(-150, 150, 90),
			Elbow:    limitDeg(-170, 170, 120),
			Wrist:    limitDeg(-130, 130, 120),
			Hand:     limitDeg(-170, 170, 180),
			Gripper:  limitDeg(0, 90, 180),
		},
	}
}

// Kinematics converts between joint angles and TCP poses.
//
// In the zero position the arm stands upright. The hip turns about z, upperarm and forearm
// tilt about the shoulder axis, the elbow twists the forearm, the wrist tilts the hand and
// the hand turns about its own axis. The wrist center is where the last three axes meet.
type Kinematics struct {
	geometry ArmGeometry
}

// NewKinematics creates a solver for the given geometry
func NewKinematics(geometry ArmGeometry) *Kinematics {
	return &Kinematics{geometry: geometry}
}

// Geometry returns the arm geometry
func (k *Kinematics) Geometry() ArmGeometry {
	return k.geometry
}

func rotX(a float64) *mat.Dense {
	c, s := math.Cos(a), math.Sin(a)
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, c, -s, 0, s, c})
}

func rotY(a float64) *mat.Dense {
	c, s := math.Cos(a), math.Sin(a)
	return mat.NewDense(3, 3, []float64{c, 0, s, 0, 1, 0, -s, 0, c})
}

func rotZ(a float64) *mat.Dense {
	c, s := math.Cos(a), math.Sin(a)
	return mat.NewDense(3, 3, []float64{c, -s, 0, s, c, 0, 0, 0, 1})
}

func mul(ms ...mat.Matrix) *mat.Dense {
	result := mat.DenseCopyOf(ms[0])
	for _, m := range ms[1:] {
		var next mat.Dense
		next.Mul(result, m)
		result = &next
	}
	return result
}

func apply(m mat.Matrix, v r3.Vector) r3.Vector {
	var out mat.VecDense
	out.MulVec(m, mat.NewVecDense(3, []float64{v.X, v.Y, v.Z}))
	return r3.Vector{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}
}

// orientationMatrix returns Rz(yaw)*Ry(nick)*Rx(roll).
func orientationMatrix(r Rotation) *mat.Dense {
	return mul(rotZ(r.Z), rotY(r.Y), rotX(r.X))
}

// rotationOf is the inverse of orientationMatrix. At nick = +/-90 deg roll is set to 0.
func rotationOf(m mat.Matrix) Rotation {
	nick := math.Atan2(-m.At(2, 0), math.Hypot(m.At(0, 0), m.At(1, 0)))
	if math.Abs(math.Cos(nick)) < 1e-9 {
		return Rotation{X: 0, Y: nick, Z: math.Atan2(-m.At(0, 1), m.At(1, 1))}
	}
	return Rotation{
		X: math.Atan2(m.At(2, 1), m.At(2, 2)),
		Y: nick,
		Z: math.Atan2(m.At(1, 0), m.At(0, 0)),
	}
}

// frame returns TCP position and hand orientation for the given angles.
func (k *Kinematics) frame(a JointAngles, deviation Point) (r3.Vector, *mat.Dense) {
	g := k.geometry
	upperarm := mul(rotZ(a[Hip]), rotY(a[Upperarm]))
	elbow := r3.Vector{Z: g.HipHeight}.Add(apply(upperarm, r3.Vector{Z: g.UpperarmLength}))
	forearm := mul(upperarm, rotY(a[Forearm]))
	wrist := elbow.Add(apply(forearm, r3.Vector{Z: g.ForearmLength}))
	hand := mul(forearm, rotZ(a[Elbow]), rotY(a[Wrist]), rotZ(a[Hand]))
	tcp := wrist.Add(apply(hand, deviation.vector().Add(r3.Vector{Z: g.HandLength})))
	return tcp, hand
}

// Forward computes the TCP pose of the given angles using the geometry's tool offset.
// Angles outside the joint limits are computed anyway; see JointsOutOfLimits.
func (k *Kinematics) Forward(angles JointAngles) Pose {
	return k.forwardWithDeviation(angles, k.geometry.TCPDeviation)
}

func (k *Kinematics) forwardWithDeviation(angles JointAngles, deviation Point) Pose {
	tcp, hand := k.frame(angles, deviation)
	return Pose{
		Position:        pointOf(tcp),
		Orientation:     rotationOf(hand),
		GripperDistance: angles[Gripper] * k.geometry.GripperMMPerRadian,
		Angles:          angles,
		TCPDeviation:    deviation,
	}
}

// JointsOutOfLimits lists the joints whose angle is outside its limits.
func (k *Kinematics) JointsOutOfLimits(angles JointAngles) []int {
	var out []int
	for i, a := range angles {
		l := k.geometry.Limits[i]
		if a < l.Min-FloatPrecision || a > l.Max+FloatPrecision {
			out = append(out, i)
		}
	}
	return out
}

// ClampToLimits moves every angle into its joint limits
func (k *Kinematics) ClampToLimits(angles JointAngles) JointAngles {
	for i, a := range angles {
		l := k.geometry.Limits[i]
		angles[i] = math.Max(l.Min, math.Min(l.Max, a))
	}
	return angles
}

// Inverse returns every configuration that reaches pose within tolerance and keeps all joints
// within their limits. The result is unordered and empty if the pose is unreachable.
func (k *Kinematics) Inverse(pose Pose) []KinematicsSolution {
	g := k.geometry
	target := orientationMatrix(pose.Orientation)
	wrist := pose.Position.vector().Sub(apply(target, pose.TCPDeviation.vector().Add(r3.Vector{Z: g.HandLength})))

	gripper := 0.0
	if g.GripperMMPerRadian > 0 {
		gripper = pose.GripperDistance / g.GripperMMPerRadian
	}

	var solutions []KinematicsSolution
	for _, config := range AllConfigurations() {
		angles, ok := k.solveConfiguration(wrist, target, config)
		if !ok {
			continue
		}
		angles[Gripper] = gripper
		if len(k.JointsOutOfLimits(angles)) > 0 {
			continue
		}
		tcp, hand := k.frame(angles, pose.TCPDeviation)
		if !pointOf(tcp).Equal(pose.Position) || !mat.EqualApprox(hand, target, FloatPrecision) {
			continue
		}
		solutions = append(solutions, KinematicsSolution{Config: config, Angles: angles})
	}
	return solutions
}

func (k *Kinematics) solveConfiguration(wrist r3.Vector, target *mat.Dense, config PoseConfiguration) (JointAngles, bool) {
	var a JointAngles
	g := k.geometry

	// hip and the planar triangle of upperarm and forearm
	r := math.Hypot(wrist.X, wrist.Y)
	hip := 0.0
	if r > FloatPrecision {
		hip = math.Atan2(wrist.Y, wrist.X)
	}
	u := r
	if config.Direction == DirectionBack {
		hip = normalizeRadians(hip + math.Pi)
		u = -r
	}
	v := wrist.Z - g.HipHeight

	upper, fore := g.UpperarmLength, g.ForearmLength
	c := (u*u + v*v - upper*upper - fore*fore) / (2 * upper * fore)
	if math.Abs(c) > 1 {
		if math.Abs(c) > 1+1e-9 {
			return a, false
		}
		c = math.Copysign(1, c)
	}
	forearm := math.Acos(c)
	if config.Flip == FlipDown {
		forearm = -forearm
	}
	upperarm := normalizeRadians(math.Atan2(u, v) - math.Atan2(fore*math.Sin(forearm), upper+fore*math.Cos(forearm)))

	// remaining rotation is Rz(elbow)*Ry(wrist)*Rz(hand)
	var w mat.Dense
	w.Mul(mul(rotZ(hip), rotY(upperarm+forearm)).T(), target)

	var elbow, wristAngle, hand float64
	s := math.Hypot(w.At(0, 2), w.At(1, 2))
	switch {
	case s < 1e-9 && w.At(2, 2) > 0:
		hand = math.Atan2(w.At(1, 0), w.At(0, 0))
	case s < 1e-9:
		wristAngle = math.Pi
		hand = math.Atan2(w.At(0, 1), -w.At(0, 0))
	default:
		wristAngle = math.Atan2(s, w.At(2, 2))
		elbow = math.Atan2(w.At(1, 2), w.At(0, 2))
		hand = math.Atan2(w.At(2, 1), -w.At(2, 0))
		if config.Turn == TurnDown {
			wristAngle = -wristAngle
			elbow = normalizeRadians(elbow + math.Pi)
			hand = normalizeRadians(hand + math.Pi)
		}
	}

	a[Hip] = hip
	a[Upperarm] = upperarm
	a[Forearm] = forearm
	a[Elbow] = elbow
	a[Wrist] = wristAngle
	a[Hand] = hand
	return a, true
}

// configurationSearchOrder toggles at most all three flags, fewest toggles first.
var configurationSearchOrder = []int{
	0,
	ToggleTurn,
	ToggleFlip,
	ToggleDirection,
	ToggleTurn | ToggleFlip,
	ToggleTurn | ToggleDirection,
	ToggleFlip | ToggleDirection,
	ToggleTurn | ToggleFlip | ToggleDirection,
}

// SelectSolution returns the solution of the preferred configuration, or the first one found
// by toggling flags in a fixed order.
func SelectSolution(solutions []KinematicsSolution, preferred PoseConfiguration) (KinematicsSolution, error) {
	for _, mask := range configurationSearchOrder {
		want := preferred.Toggle(mask)
		for _, s := range solutions {
			if s.Config == want {
				return s, nil
			}
		}
	}
	return KinematicsSolution{}, ErrNoValidConfiguration
}

// Solve computes the inverse kinematics of pose and picks a solution close to the preferred configuration.
func (k *Kinematics) Solve(pose Pose, preferred PoseConfiguration) (KinematicsSolution, error) {
	solutions := k.Inverse(pose)
	solution, err := SelectSolution(solutions, preferred)
	if err != nil {
		return KinematicsSolution{}, NewError(Unreachable, "kinematics", fmt.Errorf("%w: %w at %s", ErrUnreachable, err, pose))
	}
	return solution, nil
}

// ConfigurationOf returns the configuration whose solution matches angles, if any.
func (k *Kinematics) ConfigurationOf(angles JointAngles) (PoseConfiguration, bool) {
	pose := k.Forward(angles)
	for _, s := range k.Inverse(pose) {
		if s.Angles.Equal(angles) {
			return s.Config, true
		}
	}
	return PoseConfiguration{}, false
}
