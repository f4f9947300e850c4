package walter_arm

import (
	"math"
	"sort"
	"time"
)

// Player samples a compiled trajectory. It keeps no state besides the trajectory, so samples
// may be taken in any order and from several callers.
type Player struct {
	trajectory *Trajectory
	kin        *Kinematics
}

// NewPlayer creates a player for a compiled trajectory
func NewPlayer(trajectory *Trajectory, kin *Kinematics) (*Player, error) {
	if trajectory == nil || len(trajectory.Nodes) == 0 {
		return nil, NewError(InvalidTrajectory, "player", ErrEmptyTrajectory)
	}
	return &Player{trajectory: trajectory, kin: kin}, nil
}

// Trajectory returns the trajectory being played
func (p *Player) Trajectory() *Trajectory {
	return p.trajectory
}

// Duration returns the total duration of the trajectory
func (p *Player) Duration() time.Duration {
	return p.trajectory.Duration()
}

// Done reports whether t is at or after the last node
func (p *Player) Done(t time.Duration) bool {
	return t >= p.Duration()
}

// Sample returns the target pose, with solved angles, at time t since the trajectory start.
// Before the first node and after the last one the pose of that node is returned.
func (p *Player) Sample(t time.Duration) (Pose, error) {
	nodes := p.trajectory.Nodes
	if t <= 0 || len(nodes) == 1 {
		return nodes[0].Pose, nil
	}
	last := nodes[len(nodes)-1]
	if t >= last.Time {
		return last.Pose, nil
	}

	i := sort.Search(len(nodes), func(i int) bool { return nodes[i].Time > t }) - 1
	from, to := nodes[i], nodes[i+1]
	if from.Duration <= 0 {
		return to.Pose, nil
	}
	ratio := progress(float64(t-from.Time)/float64(from.Duration), from)

	var pose Pose
	switch from.Interpolation {
	case JointLinear:
		angles := from.Pose.Angles.Add(to.Pose.Angles.Sub(from.Pose.Angles).Scale(ratio))
		return p.kin.forwardWithDeviation(angles, from.Pose.TCPDeviation), nil
	case PoseLinear:
		pose = interpolateLinear(from.Pose, to.Pose, ratio)
	default:
		pose = p.interpolateBezier(i, ratio)
	}

	solution, err := p.kin.Solve(pose, from.Config)
	if err != nil {
		return Pose{}, err
	}
	pose.Angles = solution.Angles
	return pose, nil
}

// SampleAngles returns the joint angles at time t
func (p *Player) SampleAngles(t time.Duration) (JointAngles, error) {
	pose, err := p.Sample(t)
	if err != nil {
		return JointAngles{}, err
	}
	return pose.Angles, nil
}

// progress maps the time ratio of a segment to its path ratio with a cubic Hermite profile
// whose slopes match the segment's start and end speed.
func progress(tau float64, n TrajectoryNode) float64 {
	tau = math.Max(0, math.Min(1, tau))
	var m0, m1 float64
	if n.Distance > FloatPrecision {
		scale := n.Duration.Seconds() / n.Distance
		// slopes above 3 would overshoot
		m0 = math.Max(0, math.Min(3, n.StartSpeed*scale))
		m1 = math.Max(0, math.Min(3, n.EndSpeed*scale))
	}
	t2 := tau * tau
	t3 := t2 * tau
	return (t3-2*t2+tau)*m0 + (-2*t3 + 3*t2) + (t3-t2)*m1
}

// poseVector flattens the interpolated parts of a pose: position, orientation, gripper.
type poseVector [7]float64

// vectorOf unwraps the orientation of p relative to ref so blending takes the short way.
func vectorOf(p Pose, ref Rotation) poseVector {
	return poseVector{
		p.Position.X, p.Position.Y, p.Position.Z,
		ref.X + normalizeRadians(p.Orientation.X-ref.X),
		ref.Y + normalizeRadians(p.Orientation.Y-ref.Y),
		ref.Z + normalizeRadians(p.Orientation.Z-ref.Z),
		p.GripperDistance,
	}
}

func (v poseVector) pose(deviation Point) Pose {
	return Pose{
		Position:        Point{X: v[0], Y: v[1], Z: v[2]},
		Orientation:     Rotation{X: normalizeRadians(v[3]), Y: normalizeRadians(v[4]), Z: normalizeRadians(v[5])},
		GripperDistance: v[6],
		TCPDeviation:    deviation,
	}
}

func combine(weights []float64, vs ...poseVector) poseVector {
	var out poseVector
	for k, v := range vs {
		for i := range out {
			out[i] += weights[k] * v[i]
		}
	}
	return out
}

func interpolateLinear(from, to Pose, ratio float64) Pose {
	a := vectorOf(from, from.Orientation)
	b := vectorOf(to, from.Orientation)
	return combine([]float64{1 - ratio, ratio}, a, b).pose(from.TCPDeviation)
}

// interpolateBezier blends segment i along a cubic Bezier curve whose control points follow
// the neighbour nodes, so the path passes corners without stopping.
func (p *Player) interpolateBezier(i int, ratio float64) Pose {
	nodes := p.trajectory.Nodes
	from, to := nodes[i].Pose, nodes[i+1].Pose
	ref := from.Orientation

	p0 := vectorOf(from, ref)
	p3 := vectorOf(to, ref)
	prev, next := p0, p3
	if i > 0 {
		prev = vectorOf(nodes[i-1].Pose, ref)
	}
	if i+2 < len(nodes) {
		next = vectorOf(nodes[i+2].Pose, ref)
	}

	c1 := combine([]float64{1, 1.0 / 6, -1.0 / 6}, p0, p3, prev)
	c2 := combine([]float64{1, -1.0 / 6, 1.0 / 6}, p3, next, p0)

	u := 1 - ratio
	return combine([]float64{u * u * u, 3 * u * u * ratio, 3 * u * ratio * ratio, ratio * ratio * ratio},
		p0, c1, c2, p3).pose(from.TCPDeviation)
}
