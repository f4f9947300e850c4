// commands.go - DoCommand surface of the Walter arm: motion, calibration and status
package walter_arm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"
)

// readings returns loop state, pose, joint angles, sensor data and the pending error.
// The error stays pending until last_error reads it.
func (s *walterArm) readings() map[string]any {
	pose := s.controller.Pose()
	angles := s.controller.Angles()
	target := s.controller.Target()

	joints := make(map[string]any, NumberOfActuators)
	for j := 0; j < NumberOfActuators; j++ {
		joints[JointName(j)] = map[string]any{
			"angle_deg":  Degrees(angles[j]),
			"target_deg": Degrees(target[j]),
			"available":  s.controller.Available(j),
		}
	}

	var configurations []any
	for _, solution := range s.controller.ReachableSolutions() {
		configurations = append(configurations, solution.Config.String())
	}

	readings := map[string]any{
		"state":                    s.controller.State().String(),
		"configuration":            s.controller.Configuration().String(),
		"position_mm":              pointReading(pose.Position),
		"orientation_deg":          rotationReading(pose.Orientation),
		"orientation_vector":       orientationVectorReading(pose.Orientation),
		"gripper_mm":               pose.GripperDistance,
		"joints":                   joints,
		"reachable_configurations": configurations,
		"encoders":                 s.encoderReadings(),
	}

	if id, ok := s.controller.Playing(); ok {
		readings["playing"] = id.String()
	}
	if err := s.controller.Errors().Peek(); err != nil {
		readings["error"] = errorReading(err)
	}
	return readings
}

func (s *walterArm) encoderReadings() map[string]any {
	out := make(map[string]any)
	for j := 0; j < NumberOfActuators; j++ {
		joint := j
		_ = s.controller.WithEncoder(joint, func(e *Encoder) error {
			out[JointName(joint)] = map[string]any{
				"raw_deg":    e.RawAngle(),
				"nulled_deg": e.NulledAngle(),
				"angle_deg":  e.Angle(),
				"null_angle": e.NullAngle(),
				"offset":     e.Offset(),
				"failures":   e.FailureCount(),
				"available":  e.Available(),
			}
			return nil
		})
	}
	return out
}

func pointReading(p Point) map[string]any {
	return map[string]any{"x": p.X, "y": p.Y, "z": p.Z}
}

func rotationReading(r Rotation) map[string]any {
	return map[string]any{"roll": Degrees(r.X), "nick": Degrees(r.Y), "yaw": Degrees(r.Z)}
}

func orientationVectorReading(r Rotation) map[string]any {
	ov := (&spatialmath.EulerAngles{Roll: r.X, Pitch: r.Y, Yaw: r.Z}).OrientationVectorDegrees()
	return map[string]any{"o_x": ov.OX, "o_y": ov.OY, "o_z": ov.OZ, "theta": ov.Theta}
}

func errorReading(err *Error) map[string]any {
	return map[string]any{
		"code":    int(err.Code),
		"source":  err.Source,
		"message": err.Error(),
	}
}

// DoCommand handles motion, calibration and status commands
func (s *walterArm) DoCommand(ctx context.Context, cmd map[string]any) (map[string]any, error) {
	command, ok := cmd["command"].(string)
	if !ok {
		return nil, fmt.Errorf("command must be a string")
	}

	switch command {
	case "set_pose":
		return s.setPose(cmd)

	case "set_angles":
		return s.setAngles(cmd)

	case "set_configuration":
		return s.setConfiguration(cmd)

	case "set_gripper":
		return s.setGripper(cmd)

	case "solve":
		return s.solve(cmd)

	case "play":
		return s.play(cmd)

	case "readings":
		return s.readings(), nil

	case "status":
		_, playing := s.controller.Playing()
		return map[string]any{
			"state":      s.controller.State().String(),
			"playing":    playing,
			"gripper_mm": s.controller.Pose().GripperDistance,
		}, nil

	case "stop":
		s.controller.Stop()
		return map[string]any{"success": true}, nil

	case "set_torque":
		enable, ok := cmd["enable"].(bool)
		if !ok {
			return nil, fmt.Errorf("set_torque command requires 'enable' boolean parameter")
		}
		err := s.controller.SetTorque(ctx, enable)
		return map[string]any{"success": err == nil}, err

	case "sample_variance":
		return s.sampleVariance(ctx, cmd)

	case "set_null_angle":
		return s.setNullAngle(cmd)

	case "get_null_angle":
		return s.getNullAngle(cmd)

	case "set_offset":
		return s.setOffset(cmd)

	case "save_calibration":
		return s.saveCalibration()

	case "last_error":
		err := s.controller.Errors().Last()
		if err == nil {
			return map[string]any{"code": int(NoError), "message": NoError.Message()}, nil
		}
		return errorReading(err), nil

	default:
		return nil, fmt.Errorf("unknown command: %s", command)
	}
}

// floatArg reads a number argument; JSON numbers arrive as float64
func floatArg(cmd map[string]any, key string) (float64, bool, error) {
	v, ok := cmd[key]
	if !ok {
		return 0, false, nil
	}
	switch n := v.(type) {
	case float64:
		return n, true, nil
	case int:
		return float64(n), true, nil
	default:
		return 0, false, fmt.Errorf("%s must be a number, got %T", key, v)
	}
}

// jointArg accepts a joint name or index
func jointArg(cmd map[string]any) (int, error) {
	switch j := cmd["joint"].(type) {
	case string:
		return JointIndex(j)
	case float64:
		if j < 0 || j >= NumberOfActuators {
			return 0, fmt.Errorf("%w: %v", ErrJointIndexOutOfRange, j)
		}
		return int(j), nil
	default:
		return 0, fmt.Errorf("joint must be a name or index")
	}
}

// poseArg builds a pose from x, y, z (mm), roll, nick, yaw (deg) and gripper (mm).
// Missing values are taken from the current pose.
func (s *walterArm) poseArg(cmd map[string]any) (Pose, error) {
	pose := s.controller.Pose()
	fields := []struct {
		key     string
		dst     *float64
		degrees bool
	}{
		{"x", &pose.Position.X, false},
		{"y", &pose.Position.Y, false},
		{"z", &pose.Position.Z, false},
		{"roll", &pose.Orientation.X, true},
		{"nick", &pose.Orientation.Y, true},
		{"yaw", &pose.Orientation.Z, true},
		{"gripper", &pose.GripperDistance, false},
	}
	for _, f := range fields {
		v, ok, err := floatArg(cmd, f.key)
		if err != nil {
			return Pose{}, err
		}
		if !ok {
			continue
		}
		if f.degrees {
			v = Radians(v)
		}
		*f.dst = v
	}
	return pose, nil
}

func (s *walterArm) setPose(cmd map[string]any) (map[string]any, error) {
	pose, err := s.poseArg(cmd)
	if err != nil {
		return map[string]any{"success": false}, err
	}
	if err := s.controller.MoveToPose(pose, time.Now()); err != nil {
		return map[string]any{"success": false, "code": int(CodeOf(err))}, err
	}
	return map[string]any{"success": true, "pose": pose.String()}, nil
}

func (s *walterArm) setAngles(cmd map[string]any) (map[string]any, error) {
	raw, ok := cmd["angles"].([]any)
	if !ok {
		return map[string]any{"success": false}, fmt.Errorf("angles must be a list of degrees")
	}
	current := s.controller.Angles().Degrees()
	deg := make([]float64, NumberOfActuators)
	copy(deg, current)
	if len(raw) > NumberOfActuators {
		return map[string]any{"success": false}, fmt.Errorf("%w: %d angles given", ErrJointIndexOutOfRange, len(raw))
	}
	for i, v := range raw {
		f, ok := v.(float64)
		if !ok {
			return map[string]any{"success": false}, fmt.Errorf("angle %d must be a number", i)
		}
		deg[i] = f
	}

	angles, err := JointAnglesFromDegrees(deg)
	if err != nil {
		return map[string]any{"success": false}, err
	}
	if err := s.controller.MoveToAngles(angles, time.Now()); err != nil {
		return map[string]any{"success": false, "code": int(CodeOf(err))}, err
	}
	return map[string]any{"success": true}, nil
}

func (s *walterArm) setConfiguration(cmd map[string]any) (map[string]any, error) {
	name, ok := cmd["configuration"].(string)
	if !ok {
		return map[string]any{"success": false}, fmt.Errorf("configuration must be a string")
	}
	config, err := ParsePoseConfiguration(name)
	if err != nil {
		return map[string]any{"success": false}, err
	}
	if err := s.controller.SetConfiguration(config, time.Now()); err != nil {
		return map[string]any{"success": false, "code": int(CodeOf(err))}, err
	}
	return map[string]any{"success": true, "configuration": config.String()}, nil
}

func (s *walterArm) setGripper(cmd map[string]any) (map[string]any, error) {
	distance, ok, err := floatArg(cmd, "distance")
	if err != nil {
		return map[string]any{"success": false}, err
	}
	if !ok {
		return map[string]any{"success": false}, fmt.Errorf("set_gripper needs a distance in mm")
	}
	if err := s.controller.MoveGripper(distance, time.Now()); err != nil {
		return map[string]any{"success": false, "code": int(CodeOf(err))}, err
	}
	return map[string]any{"success": true, "distance_mm": distance}, nil
}

func (s *walterArm) solve(cmd map[string]any) (map[string]any, error) {
	pose, err := s.poseArg(cmd)
	if err != nil {
		return nil, err
	}
	var solutions []any
	for _, solution := range s.controller.Kinematics().Inverse(pose) {
		angles := make([]any, 0, NumberOfActuators)
		for _, a := range solution.Angles.Degrees() {
			angles = append(angles, a)
		}
		solutions = append(solutions, map[string]any{
			"configuration": solution.Config.String(),
			"angles_deg":    angles,
		})
	}
	return map[string]any{
		"pose":      pose.String(),
		"reachable": len(solutions) > 0,
		"solutions": solutions,
	}, nil
}

// trajectoryArg loads a trajectory from "file" or decodes it from "trajectory"
func trajectoryArg(cmd map[string]any) (*Trajectory, error) {
	if file, ok := cmd["file"].(string); ok {
		return LoadTrajectoryFromFile(resolveModuleDataPath(file))
	}
	raw, ok := cmd["trajectory"]
	if !ok {
		return nil, fmt.Errorf("play needs a file or a trajectory")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode trajectory")
	}
	trajectory := NewTrajectory()
	if err := json.Unmarshal(data, trajectory); err != nil {
		return nil, errors.Wrap(err, "failed to decode trajectory")
	}
	return trajectory, nil
}

func (s *walterArm) play(cmd map[string]any) (map[string]any, error) {
	trajectory, err := trajectoryArg(cmd)
	if err != nil {
		return map[string]any{"success": false}, err
	}
	if err := s.controller.Play(trajectory, time.Now()); err != nil {
		return map[string]any{"success": false, "code": int(CodeOf(err))}, err
	}
	return map[string]any{
		"success":     true,
		"id":          trajectory.ID.String(),
		"duration_ms": trajectory.Duration().Milliseconds(),
	}, nil
}

func (s *walterArm) sampleVariance(ctx context.Context, cmd map[string]any) (map[string]any, error) {
	joint, err := jointArg(cmd)
	if err != nil {
		return nil, err
	}
	samples := EncoderCheckSamples
	if n, ok, err := floatArg(cmd, "samples"); err != nil {
		return nil, err
	} else if ok {
		samples = int(n)
	}

	var result VarianceResult
	err = s.controller.WithEncoder(joint, func(e *Encoder) error {
		var err error
		result, err = e.SampleVariance(ctx, samples)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !result.Stable {
		s.controller.Errors().Set(NewError(EncoderCheckFailed, JointName(joint),
			fmt.Errorf("variance %.3f exceeds %.3f", result.Variance, EncoderCheckMaxVariance)))
	}
	return map[string]any{
		"joint":    JointName(joint),
		"mean":     result.Mean,
		"variance": result.Variance,
		"stable":   result.Stable,
	}, nil
}

// setNullAngle stores the given raw angle, or the current raw reading, as the joint's zero
func (s *walterArm) setNullAngle(cmd map[string]any) (map[string]any, error) {
	joint, err := jointArg(cmd)
	if err != nil {
		return nil, err
	}
	angle, explicit, err := floatArg(cmd, "angle")
	if err != nil {
		return nil, err
	}

	err = s.controller.WithEncoder(joint, func(e *Encoder) error {
		if !explicit {
			if !e.ReadNewAngle(time.Now()) {
				return NewError(EncoderCallFailed, JointName(joint), errors.New("failed to read current angle"))
			}
			angle = e.RawAngle()
		}
		e.SetNullAngle(angle)
		return nil
	})
	if err != nil {
		return map[string]any{"success": false}, err
	}
	s.logger.Infof("null angle of %s set to %.2f", JointName(joint), angle)
	return map[string]any{"success": true, "joint": JointName(joint), "null_angle": angle}, nil
}

func (s *walterArm) getNullAngle(cmd map[string]any) (map[string]any, error) {
	joint, err := jointArg(cmd)
	if err != nil {
		return nil, err
	}
	var null float64
	err = s.controller.WithEncoder(joint, func(e *Encoder) error {
		null = e.NullAngle()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"joint": JointName(joint), "null_angle": null}, nil
}

func (s *walterArm) setOffset(cmd map[string]any) (map[string]any, error) {
	joint, err := jointArg(cmd)
	if err != nil {
		return nil, err
	}
	offset, ok, err := floatArg(cmd, "offset")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("offset is required")
	}
	err = s.controller.WithEncoder(joint, func(e *Encoder) error {
		e.SetOffset(offset)
		return nil
	})
	if err != nil {
		return map[string]any{"success": false}, err
	}
	return map[string]any{"success": true, "joint": JointName(joint), "offset": offset}, nil
}

func (s *walterArm) saveCalibration() (map[string]any, error) {
	calibration := CalibrationData{
		Encoders: s.controller.EncoderCalibrations(),
		Servos:   s.cfg.Servos,
	}
	path := resolveModuleDataPath(s.cfg.CalibrationFile)
	if err := SaveCalibrationToFile(path, calibration); err != nil {
		return map[string]any{"success": false}, err
	}
	s.logger.Infof("calibration saved to %s", path)
	return map[string]any{"success": true, "file": path}, nil
}
