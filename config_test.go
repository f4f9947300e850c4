package walter_arm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

func testCalibration() CalibrationData {
	return CalibrationData{
		Encoders: []EncoderCalibration{
			{Joint: "hip", NullAngle: 123.5, Offset: 1.5},
			{Joint: "wrist", NullAngle: 270, Offset: -0.25},
		},
		Servos: DefaultServoCalibrations(),
	}
}

func TestLoadCalibrationFromFile(t *testing.T) {
	logger := logging.NewTestLogger(t)

	t.Run("returns fromFile=true when file exists", func(t *testing.T) {
		tmpDir := t.TempDir()
		calibFile := filepath.Join(tmpDir, "test_calibration.json")
		err := SaveCalibrationToFile(calibFile, testCalibration())
		if err != nil {
			t.Fatalf("Failed to create test calibration file: %v", err)
		}

		cfg := &WalterArmConfig{
			CalibrationFile: calibFile,
		}

		cal, fromFile := cfg.LoadCalibration(logger)

		if !fromFile {
			t.Error("Expected fromFile=true when loading from existing file")
		}
		if diff := cmp.Diff(testCalibration(), cal); diff != "" {
			t.Errorf("calibration mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("returns fromFile=false when no file configured", func(t *testing.T) {
		cfg := &WalterArmConfig{}

		cal, fromFile := cfg.LoadCalibration(logger)

		if fromFile {
			t.Error("Expected fromFile=false when no file configured")
		}
		assert.Empty(t, cal.Encoders)
	})

	t.Run("returns fromFile=false when file doesn't exist", func(t *testing.T) {
		cfg := &WalterArmConfig{
			CalibrationFile: "/nonexistent/path/calibration.json",
		}

		_, fromFile := cfg.LoadCalibration(logger)

		if fromFile {
			t.Error("Expected fromFile=false when file doesn't exist")
		}
	})

	t.Run("relative paths resolve against VIAM_MODULE_DATA", func(t *testing.T) {
		tmpDir := t.TempDir()
		t.Setenv("VIAM_MODULE_DATA", tmpDir)
		require.NoError(t, SaveCalibrationToFile(filepath.Join(tmpDir, "arm.json"), testCalibration()))

		cfg := &WalterArmConfig{CalibrationFile: "arm.json"}
		_, fromFile := cfg.LoadCalibration(logger)

		assert.True(t, fromFile)
		assert.Equal(t, filepath.Join(tmpDir, "arm.json"), cfg.CalibrationFile)
	})

	t.Run("rejects unknown joints", func(t *testing.T) {
		calibFile := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(calibFile, []byte(`{"encoders":[{"joint":"knee"}]}`), 0644))

		_, err := LoadCalibrationFromFile(calibFile)
		assert.ErrorIs(t, err, ErrJointIndexOutOfRange)
	})
}

func TestCalibrationApply(t *testing.T) {
	encoders := []EncoderConfig{
		{Joint: Hip, Address: 0x40, NullAngle: 10},
		{Joint: Forearm, Address: 0x41, NullAngle: 20},
	}

	applied := testCalibration().Apply(encoders)

	assert.Equal(t, 123.5, applied[0].NullAngle)
	assert.Equal(t, 1.5, applied[0].Offset)
	assert.Equal(t, 20.0, applied[1].NullAngle, "joints without calibration keep their config")
	assert.Equal(t, 10.0, encoders[0].NullAngle, "input must not be modified")
}

func TestConfigValidate(t *testing.T) {
	t.Run("requires a port unless simulated", func(t *testing.T) {
		_, _, err := (&WalterArmConfig{}).Validate("arm")
		assert.Error(t, err)

		cfg := &WalterArmConfig{Simulated: true}
		_, _, err = cfg.Validate("arm")
		require.NoError(t, err)
		assert.Equal(t, 1000000, cfg.Baudrate)
		assert.Len(t, cfg.Servos, NumberOfActuators)
		assert.Equal(t, defaultCalibrationFile, cfg.CalibrationFile)
		assert.Equal(t, DefaultCadence, cfg.Cadence())
	})

	t.Run("too many servos", func(t *testing.T) {
		cfg := &WalterArmConfig{Simulated: true, Servos: make([]ServoCalibration, NumberOfActuators+1)}
		_, _, err := cfg.Validate("arm")
		assert.Equal(t, MisconfigTooManyServos, CodeOf(err))
	})

	t.Run("invalid servo range", func(t *testing.T) {
		cfg := &WalterArmConfig{Simulated: true, Servos: []ServoCalibration{{ID: 1, RangeMin: 100, RangeMax: 50}}}
		_, _, err := cfg.Validate("arm")
		assert.Equal(t, MisconfigServo, CodeOf(err))
	})

	t.Run("encoders need an i2c device", func(t *testing.T) {
		cfg := &WalterArmConfig{Port: "/dev/ttyUSB0", Encoders: []EncoderConfig{{Joint: Hip}}}
		_, _, err := cfg.Validate("arm")
		assert.Error(t, err)

		cfg.I2CDevice = "/dev/i2c-1"
		_, _, err = cfg.Validate("arm")
		assert.NoError(t, err)
	})

	t.Run("encoders pick one of the sensor buses", func(t *testing.T) {
		cfg := &WalterArmConfig{
			Port:       "/dev/ttyUSB0",
			I2CDevice:  "/dev/i2c-7",
			I2CDevices: []string{"/dev/i2c-1", "/dev/i2c-2"},
			Encoders:   []EncoderConfig{{Joint: Hip}, {Joint: Wrist, Bus: 1}},
		}
		_, _, err := cfg.Validate("arm")
		require.NoError(t, err)
		assert.Equal(t, []string{"/dev/i2c-1", "/dev/i2c-2"}, cfg.SensorDevices(), "the list wins over the single device")

		cfg.Encoders[1].Bus = 2
		_, _, err = cfg.Validate("arm")
		assert.Equal(t, MisconfigEncoderStepperMismatch, CodeOf(err))

		single := &WalterArmConfig{I2CDevice: "/dev/i2c-1"}
		assert.Equal(t, []string{"/dev/i2c-1"}, single.SensorDevices())
		assert.Empty(t, (&WalterArmConfig{}).SensorDevices())
	})

	t.Run("encoder for unknown joint", func(t *testing.T) {
		cfg := &WalterArmConfig{Simulated: true, Encoders: []EncoderConfig{{Joint: NumberOfActuators}}}
		_, _, err := cfg.Validate("arm")
		assert.Equal(t, MisconfigEncoderWithNoStepper, CodeOf(err))
	})
}

func TestGeometryConfig(t *testing.T) {
	var nilConfig *GeometryConfig
	geometry, err := nilConfig.ArmGeometry()
	require.NoError(t, err)
	assert.Equal(t, DefaultArmGeometry(), geometry)

	cfg := &GeometryConfig{
		UpperarmLength: 400,
		TCPDeviation:   []float64{0, 0, 15},
		Limits:         []JointLimitConfig{{Joint: "wrist", Min: -90, Max: 90, MaxSpeed: 45}},
	}
	geometry, err = cfg.ArmGeometry()
	require.NoError(t, err)
	assert.Equal(t, 400.0, geometry.UpperarmLength)
	assert.Equal(t, DefaultArmGeometry().ForearmLength, geometry.ForearmLength)
	assert.Equal(t, Point{Z: 15}, geometry.TCPDeviation)
	assert.InDelta(t, Radians(90), geometry.Limits[Wrist].Max, 1e-12)
	assert.InDelta(t, Radians(45), geometry.Limits[Wrist].MaxSpeed, 1e-12)

	_, err = (&GeometryConfig{TCPDeviation: []float64{1, 2}}).ArmGeometry()
	assert.Error(t, err)

	_, err = (&GeometryConfig{Limits: []JointLimitConfig{{Joint: "hip", Min: 10, Max: -10, MaxSpeed: 1}}}).ArmGeometry()
	assert.Error(t, err)
}
