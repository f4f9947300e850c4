// discovery.go
package walter_arm

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial/enumerator"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
)

var WalterDiscoveryModel = resource.NewModel("devrel", "walter", "discovery")

func init() {
	resource.RegisterService(
		discovery.API,
		WalterDiscoveryModel,
		resource.Registration[discovery.Service, *WalterDiscoveryConfig]{
			Constructor: newWalterDiscovery,
		})
}

// WalterDiscoveryConfig is the configuration for the discovery service
type WalterDiscoveryConfig struct {
	// Baudrate of the servo bus, defaults to 1000000
	Baudrate int `json:"baudrate,omitempty"`
	// I2CDevices are copied into generated configs when set
	I2CDevices []string `json:"i2c_devices,omitempty"`
}

// Validate ensures the config is valid
func (cfg *WalterDiscoveryConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Baudrate == 0 {
		cfg.Baudrate = 1000000
	}
	return nil, nil, nil
}

// walterDiscovery implements the discovery service
type walterDiscovery struct {
	resource.Named
	resource.AlwaysRebuild
	resource.TriviallyCloseable
	cfg    *WalterDiscoveryConfig
	logger logging.Logger
}

// newWalterDiscovery creates a new Walter discovery service
func newWalterDiscovery(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (discovery.Service, error) {
	cfg, err := resource.NativeConfig[*WalterDiscoveryConfig](conf)
	if err != nil {
		return nil, err
	}
	cfg.Validate(conf.Name)

	return &walterDiscovery{
		Named:  conf.ResourceName().AsNamed(),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// DiscoverResources scans serial ports for a Walter servo bus and returns component configurations
func (dis *walterDiscovery) DiscoverResources(ctx context.Context, extra map[string]any) ([]resource.Config, error) {
	dis.logger.Info("Starting Walter discovery")

	allPorts := enumerateSerialPorts()
	dis.logger.Debugf("Found %d total serial ports", len(allPorts))

	candidates := filterCandidatePorts(allPorts)
	dis.logger.Debugf("Filtered to %d candidate ports", len(candidates))

	var allConfigs []resource.Config
	for _, portPath := range candidates {
		select {
		case <-ctx.Done():
			dis.logger.Info("Discovery cancelled")
			return allConfigs, ctx.Err()
		default:
		}

		if cfg, ok := dis.discoverPort(ctx, portPath); ok {
			allConfigs = append(allConfigs, cfg)
		}
	}

	if len(allConfigs) == 0 {
		dis.logger.Info("No Walter arms discovered")
	} else {
		dis.logger.Infof("Discovered %d arms", len(allConfigs))
	}

	return allConfigs, nil
}

// discoverPort pings the hip servo on a single port and generates the arm configuration
func (dis *walterDiscovery) discoverPort(ctx context.Context, portPath string) (resource.Config, bool) {
	portSuffix := extractPortSuffix(portPath)
	dis.logger.Debugf("Checking port %s", portPath)

	if !dis.pingHipServo(ctx, portPath) {
		dis.logger.Debugf("No Walter servos detected on %s", portPath)
		return resource.Config{}, false
	}

	dis.logger.Infof("Discovered Walter arm on %s", portPath)

	calibrationFile := findCalibrationFile(resolveModuleDataPath(""), portSuffix, dis.logger)
	return generateConfig(portPath, portSuffix, dis.cfg.I2CDevices, calibrationFile), true
}

// pingHipServo pings the servo driving the hip, ID 1 in the default calibration
func (dis *walterDiscovery) pingHipServo(ctx context.Context, portPath string) bool {
	busConfig := feetech.BusConfig{
		Port:     portPath,
		BaudRate: dis.cfg.Baudrate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  500 * time.Millisecond,
	}

	bus, err := feetech.NewBus(busConfig)
	if err != nil {
		dis.logger.Debugf("Failed to open port %s: %v", portPath, err)
		return false
	}
	defer bus.Close()

	hip := DefaultServoCalibrations()[Hip]
	servo := feetech.NewServo(bus, hip.ID, &feetech.ModelSTS3215)
	_, err = servo.Ping(ctx)
	return err == nil
}

// generateConfig creates the arm configuration for a discovered port
func generateConfig(portPath, portSuffix string, i2cDevices []string, calibrationFile string) resource.Config {
	attrs := map[string]interface{}{
		"port": portPath,
	}
	if calibrationFile != "" {
		attrs["calibration_file"] = calibrationFile
	}
	if len(i2cDevices) > 0 {
		devices := make([]interface{}, len(i2cDevices))
		for i, d := range i2cDevices {
			devices[i] = d
		}
		attrs["i2c_devices"] = devices
	}

	return resource.Config{
		Name:       "walter-arm-" + portSuffix,
		API:        arm.API,
		Model:      WalterArmModel,
		Attributes: attrs,
	}
}

// filterCandidatePorts filters serial ports by platform-specific naming patterns
func filterCandidatePorts(ports []string) []string {
	candidates := []string{}
	for _, port := range ports {
		if isCandidatePort(port) {
			candidates = append(candidates, port)
		}
	}
	return candidates
}

// isCandidatePort checks if a port matches USB serial adapter naming patterns
func isCandidatePort(port string) bool {
	// Linux: /dev/ttyUSB*, /dev/ttyACM*
	if strings.HasPrefix(port, "/dev/ttyUSB") || strings.HasPrefix(port, "/dev/ttyACM") {
		return true
	}
	// macOS: /dev/tty.usbmodem*, /dev/tty.usbserial*, /dev/cu.usbmodem*, /dev/cu.usbserial*
	if strings.HasPrefix(port, "/dev/tty.usbmodem") || strings.HasPrefix(port, "/dev/tty.usbserial") || strings.HasPrefix(port, "/dev/cu.usbmodem") || strings.HasPrefix(port, "/dev/cu.usbserial") {
		return true
	}
	// Windows: COM*
	if strings.HasPrefix(port, "COM") {
		return true
	}
	return false
}

// extractPortSuffix extracts a friendly suffix from port path for naming
// /dev/ttyUSB0 -> "ttyUSB0"
// COM3 -> "COM3"
// /dev/tty.usbmodem123 -> "usbmodem123"
func extractPortSuffix(portPath string) string {
	base := filepath.Base(portPath)

	// For macOS /dev/tty.usb* ports, strip the "tty." prefix
	if strings.HasPrefix(base, "tty.usb") {
		return strings.TrimPrefix(base, "tty.")
	}
	if strings.HasPrefix(base, "cu.usb") {
		return strings.TrimPrefix(base, "cu.")
	}

	return base
}

// findCalibrationFile searches for calibration files in moduleDataDir
// Tries port-specific file first, then falls back to default
// Returns just the filename (not full path) or empty string if not found
func findCalibrationFile(moduleDataDir, portSuffix string, logger logging.Logger) string {
	// Try port-specific file first: ttyUSB0_calibration.json
	portSpecific := filepath.Join(moduleDataDir, portSuffix+"_calibration.json")
	if _, err := os.Stat(portSpecific); err == nil {
		logger.Debugf("Found port-specific calibration file: %s", filepath.Base(portSpecific))
		return filepath.Base(portSpecific)
	}

	// Try default file
	defaultFile := filepath.Join(moduleDataDir, defaultCalibrationFile)
	if _, err := os.Stat(defaultFile); err == nil {
		logger.Debugf("Found default calibration file: %s", defaultCalibrationFile)
		return defaultCalibrationFile
	}

	logger.Debug("No calibration file found")
	return ""
}

// enumerateSerialPorts returns a list of all serial ports on the system
func enumerateSerialPorts() []string {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return []string{}
	}

	var portPaths []string
	for _, port := range ports {
		portPaths = append(portPaths, port.Name)
	}
	return portPaths
}
