package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.viam.com/rdk/logging"
	walter "walter_arm"
)

// simulate plays a trajectory on ideal actuators with a virtual clock and prints one line per step.
func simulate(cfg *cliConfig, arm *walter.WalterArmConfig, file string, logger logging.Logger) error {
	ctx := context.Background()

	trajectory, err := walter.LoadTrajectoryFromFile(file)
	if err != nil {
		return err
	}

	simulated := *arm
	simulated.Simulated = true
	hw, err := walter.BuildHardware(&simulated, walter.CalibrationData{}, walter.NewBusRegistry(logger), logger)
	if err != nil {
		return err
	}
	defer hw.Close()
	controller := hw.Controller

	if _, err := controller.Setup(ctx); err != nil {
		return err
	}

	now := time.Unix(0, 0)
	if err := controller.Play(trajectory, now); err != nil {
		return err
	}
	logger.Infof("simulating %d nodes over %s", len(trajectory.Nodes), trajectory.Duration())

	step := time.Duration(cfg.StepMs) * time.Millisecond
	end := now.Add(trajectory.Duration() + time.Second)
	start := now
	for ; now.Before(end); now = now.Add(simulated.Cadence()) {
		if err := controller.Tick(ctx, now); err != nil {
			return err
		}
		if now.Sub(start)%step == 0 {
			printStep(now.Sub(start), controller)
		}
		if _, playing := controller.Playing(); !playing {
			printStep(now.Sub(start), controller)
			break
		}
	}

	if err := controller.Errors().Last(); err != nil {
		return err
	}
	return nil
}

func printStep(elapsed time.Duration, controller *walter.Controller) {
	angles := make([]string, 0, walter.NumberOfActuators)
	for _, a := range controller.Angles().Degrees() {
		angles = append(angles, fmt.Sprintf("%7.2f", a))
	}
	fmt.Printf("%8.3fs %s  %s\n", elapsed.Seconds(), strings.Join(angles, " "), controller.Pose())
}
