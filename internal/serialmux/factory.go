package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// BugstFactory opens real ports with go.bug.st/serial.
var BugstFactory SerialPortFactory = SerialPortOpener(func(path string, mode *SerialPortMode) (SerialPorter, error) {
	m := &serial.Mode{BaudRate: mode.BaudRate, DataBits: mode.DataBits}
	switch mode.Parity {
	case EvenParity:
		m.Parity = serial.EvenParity
	case OddParity:
		m.Parity = serial.OddParity
	default:
		m.Parity = serial.NoParity
	}
	if mode.StopBits == TwoStopBits {
		m.StopBits = serial.TwoStopBits
	} else {
		m.StopBits = serial.OneStopBit
	}
	port, err := serial.Open(path, m)
	if err != nil {
		return nil, err
	}
	return port, nil
})

// OpenSerialMux opens path through factory and wraps it in a SerialMux.
// initLines are sent by Initialize.
func OpenSerialMux(factory SerialPortFactory, path string, opts PortOptions, initLines ...string) (*SerialMux[SerialPorter], error) {
	mode, err := opts.PortMode()
	if err != nil {
		return nil, err
	}
	port, err := factory.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return NewSerialMux(port, initLines...), nil
}

// NewRealSerialMux opens a real serial port at path.
func NewRealSerialMux(path string, opts PortOptions, initLines ...string) (*SerialMux[SerialPorter], error) {
	return OpenSerialMux(BugstFactory, path, opts, initLines...)
}
