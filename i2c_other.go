//go:build !linux

package walter_arm

import (
	"errors"
)

var errI2CUnsupported = errors.New("i2c-dev is only available on linux")

// LinuxI2C is unavailable on this platform.
type LinuxI2C struct{}

// OpenLinuxI2C always fails on this platform
func OpenLinuxI2C(path string) (*LinuxI2C, error) {
	return nil, errI2CUnsupported
}

func (d *LinuxI2C) Tx(addr uint16, w, r []byte) error {
	return errI2CUnsupported
}

func (d *LinuxI2C) Reset() error {
	return errI2CUnsupported
}

func (d *LinuxI2C) Close() error {
	return nil
}
