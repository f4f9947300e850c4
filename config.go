package walter_arm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.viam.com/rdk/logging"
)

const defaultCalibrationFile = "walter_calibration.json"

// WalterArmConfig configures the arm: servo bus, angle sensors, geometry and loop cadence.
type WalterArmConfig struct {
	Port     string        `json:"port,omitempty"`
	Baudrate int           `json:"baudrate,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`

	// Simulated replaces the servos with ideal actuators and ignores the sensors
	Simulated bool `json:"simulated,omitempty"`

	Servos []ServoCalibration `json:"servos,omitempty"`

	// I2CDevices lists the sensor channels, encoders pick theirs by index.
	// I2CDevice is the single channel form and is ignored when I2CDevices is set.
	I2CDevices []string        `json:"i2c_devices,omitempty"`
	I2CDevice  string          `json:"i2c_device,omitempty"`
	Encoders   []EncoderConfig `json:"encoders,omitempty"`

	Geometry  *GeometryConfig `json:"geometry,omitempty"`
	CadenceMs int             `json:"cadence_ms,omitempty"`

	CalibrationFile string `json:"calibration_file,omitempty"`

	// Not serialized
	Logger logging.Logger `json:"-"`
}

// GeometryConfig overrides the default geometry. Lengths in mm, angles in degrees.
// Zero values keep the default.
type GeometryConfig struct {
	HipHeight          float64            `json:"hip_height_mm,omitempty"`
	UpperarmLength     float64            `json:"upperarm_length_mm,omitempty"`
	ForearmLength      float64            `json:"forearm_length_mm,omitempty"`
	HandLength         float64            `json:"hand_length_mm,omitempty"`
	GripperMMPerDegree float64            `json:"gripper_mm_per_degree,omitempty"`
	TCPDeviation       []float64          `json:"tcp_deviation_mm,omitempty"`
	Limits             []JointLimitConfig `json:"limits,omitempty"`
}

// JointLimitConfig is a joint limit in degrees and degrees per second.
type JointLimitConfig struct {
	Joint    string  `json:"joint"`
	Min      float64 `json:"min_deg"`
	Max      float64 `json:"max_deg"`
	MaxSpeed float64 `json:"max_speed_degs_per_sec"`
}

// ArmGeometry applies the overrides to the default geometry
func (g *GeometryConfig) ArmGeometry() (ArmGeometry, error) {
	geometry := DefaultArmGeometry()
	if g == nil {
		return geometry, nil
	}

	setIfPositive := func(dst *float64, v float64) {
		if v > 0 {
			*dst = v
		}
	}
	setIfPositive(&geometry.HipHeight, g.HipHeight)
	setIfPositive(&geometry.UpperarmLength, g.UpperarmLength)
	setIfPositive(&geometry.ForearmLength, g.ForearmLength)
	setIfPositive(&geometry.HandLength, g.HandLength)
	if g.GripperMMPerDegree > 0 {
		geometry.GripperMMPerRadian = Degrees(g.GripperMMPerDegree)
	}

	switch len(g.TCPDeviation) {
	case 0:
	case 3:
		geometry.TCPDeviation = Point{X: g.TCPDeviation[0], Y: g.TCPDeviation[1], Z: g.TCPDeviation[2]}
	default:
		return ArmGeometry{}, fmt.Errorf("tcp_deviation_mm needs 3 values, got %d", len(g.TCPDeviation))
	}

	for _, l := range g.Limits {
		joint, err := JointIndex(l.Joint)
		if err != nil {
			return ArmGeometry{}, err
		}
		if l.Min >= l.Max {
			return ArmGeometry{}, fmt.Errorf("joint %s: min (%.1f) must be less than max (%.1f)", l.Joint, l.Min, l.Max)
		}
		if l.MaxSpeed <= 0 {
			return ArmGeometry{}, fmt.Errorf("joint %s: max speed must be positive", l.Joint)
		}
		geometry.Limits[joint] = limitDeg(l.Min, l.Max, l.MaxSpeed)
	}
	return geometry, nil
}

// Validate ensures all parts of the config are valid and fills in defaults
func (cfg *WalterArmConfig) Validate(path string) ([]string, []string, error) {
	if !cfg.Simulated && cfg.Port == "" {
		return nil, nil, fmt.Errorf("%s: must specify port for serial communication", path)
	}

	if cfg.Baudrate == 0 {
		cfg.Baudrate = 1000000
	}

	if len(cfg.Servos) == 0 {
		cfg.Servos = DefaultServoCalibrations()
	}
	if len(cfg.Servos) > NumberOfActuators {
		return nil, nil, NewError(MisconfigTooManyServos, path, fmt.Errorf("%d servos configured", len(cfg.Servos)))
	}
	for i := range cfg.Servos {
		if err := cfg.Servos[i].Validate(); err != nil {
			return nil, nil, NewError(MisconfigServo, path, err)
		}
	}

	if len(cfg.Encoders) > NumberOfActuators {
		return nil, nil, NewError(MisconfigTooManyEncoders, path, fmt.Errorf("%d encoders configured", len(cfg.Encoders)))
	}
	devices := cfg.SensorDevices()
	if len(cfg.Encoders) > 0 && len(devices) == 0 && !cfg.Simulated {
		return nil, nil, fmt.Errorf("%s: encoders configured without i2c_devices", path)
	}
	for _, e := range cfg.Encoders {
		if e.Joint < 0 || e.Joint >= NumberOfActuators {
			return nil, nil, NewError(MisconfigEncoderWithNoStepper, path, fmt.Errorf("encoder for unknown joint %d", e.Joint))
		}
		if !cfg.Simulated && (e.Bus < 0 || e.Bus >= len(devices)) {
			return nil, nil, NewError(MisconfigEncoderStepperMismatch, path,
				fmt.Errorf("encoder of %s is on bus %d, %d buses configured", JointName(e.Joint), e.Bus, len(devices)))
		}
	}

	if _, err := cfg.Geometry.ArmGeometry(); err != nil {
		return nil, nil, fmt.Errorf("%s: invalid geometry: %w", path, err)
	}

	if cfg.CadenceMs < 0 {
		return nil, nil, fmt.Errorf("%s: cadence_ms must not be negative", path)
	}

	if cfg.CalibrationFile == "" {
		cfg.CalibrationFile = defaultCalibrationFile
	}

	return nil, nil, nil
}

// SensorDevices returns the I2C device of every sensor channel, in bus order
func (cfg *WalterArmConfig) SensorDevices() []string {
	if len(cfg.I2CDevices) > 0 {
		return cfg.I2CDevices
	}
	if cfg.I2CDevice != "" {
		return []string{cfg.I2CDevice}
	}
	return nil
}

// Cadence returns the control loop period
func (cfg *WalterArmConfig) Cadence() time.Duration {
	if cfg.CadenceMs <= 0 {
		return DefaultCadence
	}
	return time.Duration(cfg.CadenceMs) * time.Millisecond
}

// resolveModuleDataPath makes relative paths relative to VIAM_MODULE_DATA
func resolveModuleDataPath(file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	moduleDataDir := os.Getenv("VIAM_MODULE_DATA")
	if moduleDataDir == "" {
		moduleDataDir = "/tmp" // Fallback if VIAM_MODULE_DATA not set
	}
	return filepath.Join(moduleDataDir, file)
}

// EncoderCalibration is the persisted calibration of one angle sensor, in degrees.
type EncoderCalibration struct {
	Joint     string  `json:"joint"`
	NullAngle float64 `json:"null_angle"`
	Offset    float64 `json:"offset"`
}

// CalibrationData is the content of a calibration file
type CalibrationData struct {
	Encoders []EncoderCalibration `json:"encoders"`
	Servos   []ServoCalibration   `json:"servos,omitempty"`
}

// Apply overrides null angle and offset of the matching encoder configs
func (d CalibrationData) Apply(encoders []EncoderConfig) []EncoderConfig {
	out := make([]EncoderConfig, len(encoders))
	copy(out, encoders)
	for _, c := range d.Encoders {
		joint, err := JointIndex(c.Joint)
		if err != nil {
			continue
		}
		for i := range out {
			if out[i].Joint == joint {
				out[i].NullAngle = c.NullAngle
				out[i].Offset = c.Offset
			}
		}
	}
	return out
}

// LoadCalibration loads calibration from file, or returns an empty calibration.
// Returns (calibration, fromFile) where fromFile indicates if loaded from file
func (cfg *WalterArmConfig) LoadCalibration(logger logging.Logger) (CalibrationData, bool) {
	if cfg.CalibrationFile == "" {
		if logger != nil {
			logger.Debug("No calibration file specified, using configured null angles")
		}
		return CalibrationData{}, false
	}

	cfg.CalibrationFile = resolveModuleDataPath(cfg.CalibrationFile)
	calibration, err := LoadCalibrationFromFile(cfg.CalibrationFile)
	if err != nil {
		if logger != nil {
			logger.Warnf("Failed to load calibration from %s: %v, using configured null angles", cfg.CalibrationFile, err)
		}
		return CalibrationData{}, false
	}

	if logger != nil {
		logger.Infof("Successfully loaded calibration from %s", cfg.CalibrationFile)
	}
	return calibration, true
}

// LoadCalibrationFromFile loads and validates a calibration file
func LoadCalibrationFromFile(filePath string) (CalibrationData, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return CalibrationData{}, fmt.Errorf("failed to read calibration file: %w", err)
	}

	var calibration CalibrationData
	if err := json.Unmarshal(data, &calibration); err != nil {
		return CalibrationData{}, fmt.Errorf("failed to parse calibration JSON: %w", err)
	}

	for _, c := range calibration.Encoders {
		if _, err := JointIndex(c.Joint); err != nil {
			return CalibrationData{}, fmt.Errorf("calibration validation failed: %w", err)
		}
	}
	for i := range calibration.Servos {
		if err := calibration.Servos[i].Validate(); err != nil {
			return CalibrationData{}, fmt.Errorf("calibration validation failed: %w", err)
		}
	}
	return calibration, nil
}

// SaveCalibrationToFile saves calibration to a JSON file
func SaveCalibrationToFile(filePath string, calibration CalibrationData) error {
	data, err := json.MarshalIndent(calibration, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal calibration: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write calibration file: %w", err)
	}

	return nil
}
