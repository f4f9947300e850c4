package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"go.viam.com/rdk/logging"
)

const usage = `usage: walter-cli <command> [args]

commands:
  ports                          list serial ports, open USB ports when check is set
  solve x y z roll nick yaw [g]  print every configuration reaching a pose (mm, degrees)
  simulate <trajectory.json>     run a trajectory on simulated actuators and print the joints
  plot <trajectory.json>         plot the joint angles of a trajectory`

func main() {
	err := realMain(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func realMain(args []string) error {
	logger := logging.NewLogger("walter-cli")
	if len(args) == 0 {
		return errors.New(usage)
	}

	cfg, arm, err := loadConfig(".")
	if err != nil {
		return err
	}

	switch args[0] {
	case "ports":
		return listPorts(cfg, logger)
	case "solve":
		values, err := parseFloats(args[1:])
		if err != nil {
			return err
		}
		return solve(arm, values)
	case "simulate":
		if len(args) < 2 {
			return fmt.Errorf("simulate needs a trajectory file")
		}
		return simulate(cfg, arm, args[1], logger)
	case "plot":
		if len(args) < 2 {
			return fmt.Errorf("plot needs a trajectory file")
		}
		return plotTrajectory(cfg, arm, args[1], logger)
	default:
		return fmt.Errorf("unknown command: %s\n%s", args[0], usage)
	}
}

func parseFloats(args []string) ([]float64, error) {
	values := make([]float64, 0, len(args))
	for _, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", a, err)
		}
		values = append(values, v)
	}
	return values, nil
}
