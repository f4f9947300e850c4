package walter_arm

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyTrajectory is returned when compiling or playing a trajectory without nodes.
var ErrEmptyTrajectory = errors.New("trajectory has no nodes")

// TrajectoryNode is a waypoint. The derived fields are owned by Trajectory.Compile and describe
// the segment from this node to the next one; the last node has no segment.
type TrajectoryNode struct {
	Name            string            `json:"name,omitempty"`
	Pose            Pose              `json:"pose"`
	DurationDef     time.Duration     `json:"duration_def,omitempty"`
	AverageSpeedDef float64           `json:"average_speed_def,omitempty"` // mm/s
	Interpolation   InterpolationType `json:"interpolation"`
	Continuously    bool              `json:"continuously"`
	// JointTarget nodes are authored as joint angles; their pose follows from the angles.
	JointTarget bool `json:"joint_target,omitempty"`

	Duration    time.Duration     `json:"duration"`
	Time        time.Duration     `json:"time"`
	StartSpeed  float64           `json:"start_speed"`
	EndSpeed    float64           `json:"end_speed"`
	Distance    float64           `json:"distance"`
	MinDuration time.Duration     `json:"min_duration"`
	Config      PoseConfiguration `json:"config"`
}

func (n TrajectoryNode) label(i int) string {
	if n.Name != "" {
		return fmt.Sprintf("node %d (%s)", i, n.Name)
	}
	return fmt.Sprintf("node %d", i)
}

// NewNodeFromAngles creates a node whose pose is the forward kinematics of angles.
func NewNodeFromAngles(kin *Kinematics, angles JointAngles, interpolation InterpolationType) TrajectoryNode {
	return TrajectoryNode{
		Pose:          kin.Forward(angles),
		Interpolation: interpolation,
		Continuously:  true,
		JointTarget:   true,
	}
}

// Trajectory is an ordered list of nodes owned by the planning session that created it.
type Trajectory struct {
	ID    uuid.UUID        `json:"id"`
	Nodes []TrajectoryNode `json:"nodes"`
}

// NewTrajectory creates a trajectory with a fresh id
func NewTrajectory(nodes ...TrajectoryNode) *Trajectory {
	return &Trajectory{ID: uuid.New(), Nodes: nodes}
}

// Clone returns a deep copy
func (t *Trajectory) Clone() *Trajectory {
	nodes := make([]TrajectoryNode, len(t.Nodes))
	copy(nodes, t.Nodes)
	return &Trajectory{ID: t.ID, Nodes: nodes}
}

// Duration returns the time of the last node
func (t *Trajectory) Duration() time.Duration {
	if len(t.Nodes) == 0 {
		return 0
	}
	return t.Nodes[len(t.Nodes)-1].Time
}

// Compile resolves the inverse kinematics of every node, starting from the start configuration and
// keeping it continuous, and computes all derived fields. If any node is unreachable the trajectory
// is left untouched and the error is returned. Compiling twice yields the same result.
func (t *Trajectory) Compile(kin *Kinematics, start PoseConfiguration) error {
	if len(t.Nodes) == 0 {
		return NewError(InvalidTrajectory, "trajectory", ErrEmptyTrajectory)
	}

	nodes := make([]TrajectoryNode, len(t.Nodes))
	copy(nodes, t.Nodes)

	config := start
	for i := range nodes {
		if nodes[i].JointTarget {
			angles := nodes[i].Pose.Angles
			if out := kin.JointsOutOfLimits(angles); len(out) > 0 {
				return fmt.Errorf("failed to compile %s: %w", nodes[i].label(i),
					NewError(Unreachable, JointName(out[0]), fmt.Errorf("%w: angle out of limits", ErrUnreachable)))
			}
			nodes[i].Pose = kin.forwardWithDeviation(angles, nodes[i].Pose.TCPDeviation)
			if c, ok := kin.ConfigurationOf(angles); ok {
				config = c
			}
			nodes[i].Config = config
			continue
		}

		solution, err := kin.Solve(nodes[i].Pose, config)
		if err != nil {
			return fmt.Errorf("failed to compile %s: %w", nodes[i].label(i), err)
		}
		nodes[i].Pose.Angles = solution.Angles
		nodes[i].Config = solution.Config
		config = solution.Config
	}

	geometry := kin.Geometry()
	var elapsed time.Duration
	for i := range nodes {
		n := &nodes[i]
		n.Time = elapsed
		n.Duration, n.MinDuration, n.Distance = 0, 0, 0
		n.StartSpeed, n.EndSpeed = 0, 0
		if i+1 == len(nodes) {
			break
		}
		next := nodes[i+1]

		n.Distance = n.Pose.Distance(next.Pose)
		n.MinDuration = minDuration(geometry, n.Pose.Angles, next.Pose.Angles)

		duration := n.DurationDef
		if duration <= 0 && n.AverageSpeedDef > 0 {
			duration = time.Duration(n.Distance / n.AverageSpeedDef * float64(time.Second))
		}
		if duration < n.MinDuration {
			duration = n.MinDuration
		}
		n.Duration = duration
		elapsed += duration
	}

	for i := 0; i+1 < len(nodes); i++ {
		n := &nodes[i]
		if i > 0 {
			n.StartSpeed = nodes[i-1].EndSpeed
		}
		if n.Continuously && i+2 < len(nodes) {
			n.EndSpeed = (averageSpeed(nodes[i]) + averageSpeed(nodes[i+1])) / 2
		}
	}

	t.Nodes = nodes
	return nil
}

// minDuration is the time the slowest joint needs for the largest angle change.
func minDuration(geometry ArmGeometry, from, to JointAngles) time.Duration {
	var seconds float64
	for i := range from {
		speed := geometry.Limits[i].MaxSpeed
		if speed <= 0 {
			continue
		}
		seconds = math.Max(seconds, math.Abs(to[i]-from[i])/speed)
	}
	return time.Duration(math.Ceil(seconds * float64(time.Second)))
}

func averageSpeed(n TrajectoryNode) float64 {
	if n.Duration <= 0 {
		return 0
	}
	return n.Distance / n.Duration.Seconds()
}

// LoadTrajectoryFromFile reads a trajectory saved by SaveTrajectoryToFile. A missing id is generated.
func LoadTrajectoryFromFile(filePath string) (*Trajectory, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read trajectory file: %w", err)
	}

	var t Trajectory
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse trajectory file: %w", err)
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return &t, nil
}

// SaveTrajectoryToFile writes the trajectory as indented JSON
func SaveTrajectoryToFile(filePath string, t *Trajectory) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal trajectory: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write trajectory file: %w", err)
	}
	return nil
}
