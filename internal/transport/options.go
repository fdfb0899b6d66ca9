package transport

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate is the telemetry radio rate used when none is configured.
const DefaultBaudRate = 57600

// DefaultFraming is what SiK telemetry radios speak out of the box.
const DefaultFraming = "8N1"

// PortOptions are the serial line settings for a telemetry radio or a USB
// link to the flight controller. Zero fields take the 57600 8N1 defaults.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

var parities = map[string]serial.Parity{
	"N": serial.NoParity,
	"E": serial.EvenParity,
	"O": serial.OddParity,
}

var parityWords = map[string]string{"": "N", "NONE": "N", "EVEN": "E", "ODD": "O"}

// ParseFraming reads the usual data-bits/parity/stop-bits shorthand such as
// "8N1" or "7E2". The returned options carry no baud rate.
func ParseFraming(s string) (PortOptions, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 3 {
		return PortOptions{}, fmt.Errorf("invalid framing %q: want data bits, parity and stop bits like 8N1", s)
	}
	opts := PortOptions{
		DataBits: int(s[0]) - '0',
		Parity:   s[1:2],
		StopBits: int(s[2]) - '0',
	}
	if opts.DataBits == 0 || opts.StopBits == 0 {
		return PortOptions{}, fmt.Errorf("invalid framing %q: data and stop bits must be set", s)
	}
	if _, err := opts.Normalize(); err != nil {
		return PortOptions{}, fmt.Errorf("invalid framing %q: %w", s, err)
	}
	return opts, nil
}

// Normalize fills in defaults and rejects settings the serial driver cannot
// apply.
func (o PortOptions) Normalize() (PortOptions, error) {
	if o.BaudRate <= 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.DataBits == 0 {
		o.DataBits = 8
	}
	if o.DataBits < 5 || o.DataBits > 8 {
		return o, fmt.Errorf("invalid data bits %d: must be between 5 and 8", o.DataBits)
	}
	if o.StopBits == 0 {
		o.StopBits = 1
	}
	if o.StopBits != 1 && o.StopBits != 2 {
		return o, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", o.StopBits)
	}

	p := strings.ToUpper(strings.TrimSpace(o.Parity))
	if word, ok := parityWords[p]; ok {
		p = word
	}
	if _, ok := parities[p]; !ok {
		return o, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	o.Parity = p
	return o, nil
}

// String formats the options as "57600 8N1".
func (o PortOptions) String() string {
	n, err := o.Normalize()
	if err != nil {
		return fmt.Sprintf("%d %d%s%d (invalid)", o.BaudRate, o.DataBits, o.Parity, o.StopBits)
	}
	return fmt.Sprintf("%d %d%s%d", n.BaudRate, n.DataBits, n.Parity, n.StopBits)
}

// SerialMode converts the options for go.bug.st/serial.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: n.BaudRate,
		DataBits: n.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   parities[n.Parity],
	}
	if n.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	return mode, nil
}
