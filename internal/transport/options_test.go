package transport

import (
	"testing"

	"go.bug.st/serial"
)

func TestPortOptions_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		in      PortOptions
		want    PortOptions
		wantErr bool
	}{
		{"defaults", PortOptions{}, PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"}, false},
		{"even parity words", PortOptions{BaudRate: 115200, Parity: " even "}, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "E"}, false},
		{"bad data bits", PortOptions{DataBits: 9}, PortOptions{}, true},
		{"bad stop bits", PortOptions{StopBits: 3}, PortOptions{}, true},
		{"bad parity", PortOptions{Parity: "mark"}, PortOptions{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Normalize(%+v) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize(%+v) failed: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%+v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{StopBits: 2, Parity: "O"}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode failed: %v", err)
	}
	if mode.BaudRate != DefaultBaudRate || mode.DataBits != 8 {
		t.Errorf("mode = %+v", mode)
	}
	if mode.StopBits != serial.TwoStopBits {
		t.Errorf("StopBits = %v, want TwoStopBits", mode.StopBits)
	}
	if mode.Parity != serial.OddParity {
		t.Errorf("Parity = %v, want OddParity", mode.Parity)
	}

	mode, err = PortOptions{}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode failed: %v", err)
	}
	if mode.StopBits != serial.OneStopBit || mode.Parity != serial.NoParity {
		t.Errorf("default mode = %+v", mode)
	}
}

func TestParseFraming(t *testing.T) {
	tests := []struct {
		in      string
		want    PortOptions
		wantErr bool
	}{
		{"8N1", PortOptions{DataBits: 8, Parity: "N", StopBits: 1}, false},
		{" 7e2 ", PortOptions{DataBits: 7, Parity: "E", StopBits: 2}, false},
		{"8O1", PortOptions{DataBits: 8, Parity: "O", StopBits: 1}, false},
		{"9N1", PortOptions{}, true},
		{"8M1", PortOptions{}, true},
		{"8N3", PortOptions{}, true},
		{"8N", PortOptions{}, true},
		{"", PortOptions{}, true},
		{"0N1", PortOptions{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFraming(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseFraming(%q) = %+v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFraming(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseFraming(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestPortOptions_String(t *testing.T) {
	if got := (PortOptions{}).String(); got != "57600 8N1" {
		t.Errorf("String() = %q, want 57600 8N1", got)
	}
	if got := (PortOptions{BaudRate: 115200, DataBits: 7, Parity: "even", StopBits: 2}).String(); got != "115200 7E2" {
		t.Errorf("String() = %q, want 115200 7E2", got)
	}
}
