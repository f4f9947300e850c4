package main

import (
	"fmt"
	"time"

	"go.viam.com/rdk/logging"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	walter "walter_arm"
)

// plotTrajectory compiles a trajectory and plots every joint angle over time.
func plotTrajectory(cfg *cliConfig, arm *walter.WalterArmConfig, file string, logger logging.Logger) error {
	trajectory, err := walter.LoadTrajectoryFromFile(file)
	if err != nil {
		return err
	}
	geometry, err := arm.Geometry.ArmGeometry()
	if err != nil {
		return err
	}
	kin := walter.NewKinematics(geometry)

	if err := trajectory.Compile(kin, walter.PoseConfiguration{}); err != nil {
		return err
	}
	player, err := walter.NewPlayer(trajectory, kin)
	if err != nil {
		return err
	}

	step := time.Duration(cfg.StepMs) * time.Millisecond
	points := make([]plotter.XYs, walter.NumberOfActuators)
	for t := time.Duration(0); ; t += step {
		angles, err := player.SampleAngles(t)
		if err != nil {
			return fmt.Errorf("failed to sample at %s: %w", t, err)
		}
		for j, a := range angles.Degrees() {
			points[j] = append(points[j], plotter.XY{X: t.Seconds(), Y: a})
		}
		if player.Done(t) {
			break
		}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("trajectory %s", trajectory.ID)
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = "angle (deg)"
	p.Add(plotter.NewGrid())

	for j, pts := range points {
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("failed to create line for %s: %w", walter.JointName(j), err)
		}
		line.Color = plotutil.Color(j)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(walter.JointName(j), line)
	}

	if err := p.Save(14*vg.Inch, 6*vg.Inch, cfg.Output); err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	logger.Infof("plotted %d samples to %s", len(points[0]), cfg.Output)
	return nil
}
