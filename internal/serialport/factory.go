package serialport

import (
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// ErrNoUSBPort indicates that automatic port discovery found no USB serial
// port to connect to.
var ErrNoUSBPort = errors.New("no usb serial port found")

// Open opens a real serial port at the given path using the provided options.
func Open(path string, opts Options) (TimeoutPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return port, nil
}

// ListPorts returns the names of the serial ports available on the system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// FindUSBPort returns the first available port whose name contains "usb".
// Used when no explicit port path is configured.
func FindUSBPort() (string, error) {
	ports, err := ListPorts()
	if err != nil {
		return "", err
	}
	for _, p := range ports {
		if strings.Contains(strings.ToLower(p), "usb") {
			return p, nil
		}
	}
	return "", ErrNoUSBPort
}
