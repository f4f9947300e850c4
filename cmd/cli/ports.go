package main

import (
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.viam.com/rdk/logging"
)

func listPorts(cfg *cliConfig, logger logging.Logger) error {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return fmt.Errorf("failed to list serial ports: %w", err)
	}
	if len(ports) == 0 {
		fmt.Println("no serial ports found")
		return nil
	}

	for _, port := range ports {
		line := port.Name
		if port.IsUSB {
			line += fmt.Sprintf("  usb %s:%s %s", port.VID, port.PID, port.SerialNumber)
		}
		if cfg.Check && port.IsUSB {
			line += "  " + checkPort(port.Name, cfg.Baudrate, logger)
		}
		fmt.Println(line)
	}
	return nil
}

// checkPort checks that the port can be opened at the servo baudrate
func checkPort(name string, baudrate int, logger logging.Logger) string {
	mode := &serial.Mode{
		BaudRate: baudrate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		logger.Debugf("failed to open %s: %v", name, err)
		return "unavailable"
	}
	defer port.Close()

	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		return "no timeout support"
	}
	return "ok"
}
