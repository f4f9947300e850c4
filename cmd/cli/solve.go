package main

import (
	"fmt"
	"strings"

	walter "walter_arm"
)

func solve(arm *walter.WalterArmConfig, values []float64) error {
	if len(values) != 6 && len(values) != 7 {
		return fmt.Errorf("solve needs x y z roll nick yaw and an optional gripper distance")
	}
	geometry, err := arm.Geometry.ArmGeometry()
	if err != nil {
		return err
	}
	kin := walter.NewKinematics(geometry)

	pose := walter.Pose{
		Position: walter.Point{X: values[0], Y: values[1], Z: values[2]},
		Orientation: walter.Rotation{
			X: walter.Radians(values[3]),
			Y: walter.Radians(values[4]),
			Z: walter.Radians(values[5]),
		},
		TCPDeviation: geometry.TCPDeviation,
	}
	if len(values) == 7 {
		pose.GripperDistance = values[6]
	}

	solutions := kin.Inverse(pose)
	if len(solutions) == 0 {
		fmt.Printf("%s is not reachable\n", pose)
		return nil
	}

	fmt.Printf("%s\n", pose)
	for _, s := range solutions {
		angles := make([]string, 0, walter.NumberOfActuators)
		for _, a := range s.Angles.Degrees() {
			angles = append(angles, fmt.Sprintf("%7.2f", a))
		}
		fmt.Printf("  %-24s %s\n", s.Config, strings.Join(angles, " "))
	}
	return nil
}
