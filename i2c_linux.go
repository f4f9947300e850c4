//go:build linux

package walter_arm

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// LinuxI2C is an I2C master on a Linux i2c-dev character device, e.g. /dev/i2c-1.
type LinuxI2C struct {
	path string
	mu   sync.Mutex
	file *os.File
	addr uint16
}

// OpenLinuxI2C opens the i2c-dev device at path
func OpenLinuxI2C(path string) (*LinuxI2C, error) {
	d := &LinuxI2C{path: path}
	if err := d.open(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *LinuxI2C) open() error {
	f, err := os.OpenFile(d.path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to open i2c device %s: %w", d.path, err)
	}
	d.file = f
	d.addr = 0
	return nil
}

// Tx writes w to the device at addr, then reads len(r) bytes.
func (d *LinuxI2C) Tx(addr uint16, w, r []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return fmt.Errorf("i2c device %s is closed", d.path)
	}
	if d.addr != addr {
		if err := unix.IoctlSetInt(int(d.file.Fd()), unix.I2C_SLAVE, int(addr)); err != nil {
			return fmt.Errorf("failed to select i2c address 0x%02x: %w", addr, err)
		}
		d.addr = addr
	}
	if len(w) > 0 {
		if _, err := d.file.Write(w); err != nil {
			return fmt.Errorf("i2c write to 0x%02x: %w", addr, err)
		}
	}
	if len(r) > 0 {
		if _, err := d.file.Read(r); err != nil {
			return fmt.Errorf("i2c read from 0x%02x: %w", addr, err)
		}
	}
	return nil
}

// Reset reopens the device
func (d *LinuxI2C) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file != nil {
		d.file.Close()
		d.file = nil
	}
	return d.open()
}

// Close closes the device
func (d *LinuxI2C) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}
