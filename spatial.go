package walter_arm

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// FloatPrecision is the tolerance used for every position, orientation and angle comparison.
const FloatPrecision = 1e-3

// NumberOfActuators is the number of joints driven by the controller, gripper included.
const NumberOfActuators = 7

// Joint indices
const (
	Hip = iota
	Upperarm
	Forearm
	Elbow
	Wrist
	Hand
	Gripper
)

// NumberOfKinematicJoints excludes the gripper, which does not take part in kinematics.
const NumberOfKinematicJoints = Gripper

var jointNames = [NumberOfActuators]string{
	"hip", "upperarm", "forearm", "elbow", "wrist", "hand", "gripper",
}

// JointName returns the human readable name of a joint index
func JointName(i int) string {
	if i < 0 || i >= NumberOfActuators {
		return fmt.Sprintf("joint(%d)", i)
	}
	return jointNames[i]
}

// JointIndex returns the index of a joint name
func JointIndex(name string) (int, error) {
	for i, n := range jointNames {
		if n == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown joint %q", ErrJointIndexOutOfRange, name)
}

// Radians converts degrees to radians
func Radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Degrees converts radians to degrees
func Degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

func almostEqual(a, b, precision float64) bool {
	return math.Abs(a-b) < precision
}

// normalizeRadians maps an angle into (-pi, pi]
func normalizeRadians(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a <= -math.Pi {
		a += 2 * math.Pi
	}
	if a > math.Pi {
		a -= 2 * math.Pi
	}
	return a
}

// Point is a position or translation in mm.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (p Point) vector() r3.Vector {
	return r3.Vector{X: p.X, Y: p.Y, Z: p.Z}
}

func pointOf(v r3.Vector) Point {
	return Point{X: v.X, Y: v.Y, Z: v.Z}
}

// Add returns p+q
func (p Point) Add(q Point) Point {
	return pointOf(p.vector().Add(q.vector()))
}

// Sub returns p-q
func (p Point) Sub(q Point) Point {
	return pointOf(p.vector().Sub(q.vector()))
}

// Scale multiplies every coordinate by f
func (p Point) Scale(f float64) Point {
	return pointOf(p.vector().Mul(f))
}

// Translate moves the point by (dx, dy, dz)
func (p Point) Translate(dx, dy, dz float64) Point {
	return p.Add(Point{X: dx, Y: dy, Z: dz})
}

// MirrorAt reflects p at the point center.
func (p Point) MirrorAt(center Point) Point {
	return center.Scale(2).Sub(p)
}

// Distance returns the euclidean distance between p and q
func (p Point) Distance(q Point) float64 {
	return p.vector().Distance(q.vector())
}

// Length returns the distance to the origin
func (p Point) Length() float64 {
	return p.vector().Norm()
}

// ScalarProduct returns the dot product of p and q
func (p Point) ScalarProduct(q Point) float64 {
	return p.vector().Dot(q.vector())
}

// OrthogonalProjection projects p onto the line through a and b. A degenerate line yields a.
func (p Point) OrthogonalProjection(a, b Point) Point {
	line := b.vector().Sub(a.vector())
	norm2 := line.Dot(line)
	if norm2 < FloatPrecision*FloatPrecision {
		return a
	}
	t := p.vector().Sub(a.vector()).Dot(line) / norm2
	return pointOf(a.vector().Add(line.Mul(t)))
}

// PointOfLine returns the point at ratio t on the line from p to q
func (p Point) PointOfLine(t float64, q Point) Point {
	return p.Add(q.Sub(p).Scale(t))
}

// Equal compares with FloatPrecision tolerance
func (p Point) Equal(q Point) bool {
	return almostEqual(p.X, q.X, FloatPrecision) &&
		almostEqual(p.Y, q.Y, FloatPrecision) &&
		almostEqual(p.Z, q.Z, FloatPrecision)
}

func (p Point) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)", p.X, p.Y, p.Z)
}

// Rotation is an orientation given as roll (X), nick (Y) and yaw (Z) in radians.
type Rotation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Equal is exact.
func (r Rotation) Equal(o Rotation) bool {
	return r == o
}

// AlmostEqual compares with FloatPrecision tolerance after wrapping each component.
func (r Rotation) AlmostEqual(o Rotation) bool {
	return almostEqual(normalizeRadians(r.X-o.X), 0, FloatPrecision) &&
		almostEqual(normalizeRadians(r.Y-o.Y), 0, FloatPrecision) &&
		almostEqual(normalizeRadians(r.Z-o.Z), 0, FloatPrecision)
}

// Add returns the component-wise sum
func (r Rotation) Add(o Rotation) Rotation {
	return Rotation{X: r.X + o.X, Y: r.Y + o.Y, Z: r.Z + o.Z}
}

// Sub returns the component-wise difference
func (r Rotation) Sub(o Rotation) Rotation {
	return Rotation{X: r.X - o.X, Y: r.Y - o.Y, Z: r.Z - o.Z}
}

// Scale multiplies each component by f
func (r Rotation) Scale(f float64) Rotation {
	return Rotation{X: r.X * f, Y: r.Y * f, Z: r.Z * f}
}

// JointAngles holds one angle in radians per actuator.
type JointAngles [NumberOfActuators]float64

// ErrJointIndexOutOfRange is returned for joint indices outside [0, NumberOfActuators).
var ErrJointIndexOutOfRange = fmt.Errorf("joint index out of range [0,%d)", NumberOfActuators)

// At returns the angle of joint i
func (a JointAngles) At(i int) (float64, error) {
	if i < 0 || i >= NumberOfActuators {
		return 0, fmt.Errorf("%w: %d", ErrJointIndexOutOfRange, i)
	}
	return a[i], nil
}

// Set changes the angle of joint i
func (a *JointAngles) Set(i int, angle float64) error {
	if i < 0 || i >= NumberOfActuators {
		return fmt.Errorf("%w: %d", ErrJointIndexOutOfRange, i)
	}
	a[i] = angle
	return nil
}

// Add returns the element-wise sum
func (a JointAngles) Add(b JointAngles) JointAngles {
	for i := range a {
		a[i] += b[i]
	}
	return a
}

// Sub returns the element-wise difference
func (a JointAngles) Sub(b JointAngles) JointAngles {
	for i := range a {
		a[i] -= b[i]
	}
	return a
}

// Scale multiplies every angle by f
func (a JointAngles) Scale(f float64) JointAngles {
	for i := range a {
		a[i] *= f
	}
	return a
}

// Equal compares with FloatPrecision tolerance
func (a JointAngles) Equal(b JointAngles) bool {
	for i := range a {
		if !almostEqual(a[i], b[i], FloatPrecision) {
			return false
		}
	}
	return true
}

// Degrees returns the angles in degrees, for presentation.
func (a JointAngles) Degrees() []float64 {
	out := make([]float64, NumberOfActuators)
	for i, v := range a {
		out[i] = Degrees(v)
	}
	return out
}

// JointAnglesFromDegrees builds JointAngles from a slice in degrees. Missing trailing joints stay 0.
func JointAnglesFromDegrees(deg []float64) (JointAngles, error) {
	var a JointAngles
	if len(deg) > NumberOfActuators {
		return a, fmt.Errorf("%w: got %d angles", ErrJointIndexOutOfRange, len(deg))
	}
	for i, d := range deg {
		a[i] = Radians(d)
	}
	return a, nil
}

// DefaultJointAngles is the resting position: every joint at zero, gripper half open.
func DefaultJointAngles() JointAngles {
	var a JointAngles
	a[Gripper] = Radians(35)
	return a
}

// Pose describes where the tool is. Angles is a cache of the last solving result.
type Pose struct {
	Position        Point       `json:"position"`
	Orientation     Rotation    `json:"orientation"`
	GripperDistance float64     `json:"gripper_distance"`
	Angles          JointAngles `json:"angles"`
	TCPDeviation    Point       `json:"tcp_deviation"`
}

// Equal compares position, orientation and gripper distance with tolerance. The angle cache is ignored.
func (p Pose) Equal(o Pose) bool {
	return p.Position.Equal(o.Position) &&
		p.Orientation.AlmostEqual(o.Orientation) &&
		almostEqual(p.GripperDistance, o.GripperDistance, FloatPrecision)
}

// Distance returns the TCP distance between two poses
func (p Pose) Distance(o Pose) float64 {
	return p.Position.Distance(o.Position)
}

func (p Pose) String() string {
	return fmt.Sprintf("pos=%s rot=(%.1f, %.1f, %.1f)deg gripper=%.1fmm",
		p.Position, Degrees(p.Orientation.X), Degrees(p.Orientation.Y), Degrees(p.Orientation.Z), p.GripperDistance)
}

// Direction tells whether the arm faces front or back.
type Direction int

// Flip selects the elbow triangle solution.
type Flip int

// Turn selects the forearm twist sense.
type Turn int

const (
	DirectionFront Direction = iota
	DirectionBack
)

const (
	FlipUp Flip = iota
	FlipDown
)

const (
	TurnUp Turn = iota
	TurnDown
)

// PoseConfiguration is one of the 8 combinations of direction, flip and turn.
type PoseConfiguration struct {
	Direction Direction `json:"direction"`
	Flip      Flip      `json:"flip"`
	Turn      Turn      `json:"turn"`
}

// Toggle masks
const (
	ToggleTurn = 1 << iota
	ToggleFlip
	ToggleDirection
)

// Toggle inverts the flags selected by mask
func (c PoseConfiguration) Toggle(mask int) PoseConfiguration {
	if mask&ToggleTurn != 0 {
		c.Turn = 1 - c.Turn
	}
	if mask&ToggleFlip != 0 {
		c.Flip = 1 - c.Flip
	}
	if mask&ToggleDirection != 0 {
		c.Direction = 1 - c.Direction
	}
	return c
}

func (c PoseConfiguration) String() string {
	dir := "front"
	if c.Direction == DirectionBack {
		dir = "back"
	}
	flip := "up"
	if c.Flip == FlipDown {
		flip = "down"
	}
	turn := "up"
	if c.Turn == TurnDown {
		turn = "down"
	}
	return fmt.Sprintf("%s/flip-%s/turn-%s", dir, flip, turn)
}

// ParsePoseConfiguration parses the format written by PoseConfiguration.String
func ParsePoseConfiguration(s string) (PoseConfiguration, error) {
	for _, c := range AllConfigurations() {
		if c.String() == s {
			return c, nil
		}
	}
	return PoseConfiguration{}, fmt.Errorf("unknown pose configuration %q", s)
}

// AllConfigurations lists the 8 nominal configurations
func AllConfigurations() []PoseConfiguration {
	configs := make([]PoseConfiguration, 0, 8)
	for _, d := range []Direction{DirectionFront, DirectionBack} {
		for _, f := range []Flip{FlipUp, FlipDown} {
			for _, t := range []Turn{TurnUp, TurnDown} {
				configs = append(configs, PoseConfiguration{Direction: d, Flip: f, Turn: t})
			}
		}
	}
	return configs
}

// KinematicsSolution is one concrete inverse kinematics result.
type KinematicsSolution struct {
	Config PoseConfiguration `json:"config"`
	Angles JointAngles       `json:"angles"`
}

// InterpolationType governs how the player blends between two nodes.
type InterpolationType int

const (
	PoseCubicBezier InterpolationType = iota
	PoseLinear
	JointLinear
)

func (t InterpolationType) String() string {
	switch t {
	case PoseLinear:
		return "pose_linear"
	case PoseCubicBezier:
		return "pose_cubic_bezier"
	case JointLinear:
		return "joint_linear"
	default:
		return "unknown"
	}
}

// ParseInterpolationType parses the String form. An empty string yields the default.
func ParseInterpolationType(s string) (InterpolationType, error) {
	switch s {
	case "", "pose_cubic_bezier":
		return PoseCubicBezier, nil
	case "pose_linear":
		return PoseLinear, nil
	case "joint_linear":
		return JointLinear, nil
	default:
		return PoseCubicBezier, fmt.Errorf("unknown interpolation type: %s", s)
	}
}

// MarshalText encodes the interpolation type by name
func (t InterpolationType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes the interpolation type from its name
func (t *InterpolationType) UnmarshalText(text []byte) error {
	parsed, err := ParseInterpolationType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
