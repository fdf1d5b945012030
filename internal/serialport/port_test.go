package serialport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestOptionsNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      Options
		want    Options
		wantErr bool
	}{
		{
			name: "defaults",
			in:   Options{},
			want: Options{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"},
		},
		{
			name: "explicit values kept",
			in:   Options{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "even"},
			want: Options{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "E"},
		},
		{
			name: "parity word forms",
			in:   Options{Parity: "odd"},
			want: Options{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "O"},
		},
		{
			name:    "invalid data bits",
			in:      Options{DataBits: 9},
			wantErr: true,
		},
		{
			name:    "invalid stop bits",
			in:      Options{StopBits: 3},
			wantErr: true,
		},
		{
			name:    "unsupported parity",
			in:      Options{Parity: "mark"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOptionsSerialMode(t *testing.T) {
	mode, err := Options{BaudRate: 9600, Parity: "E", StopBits: 2}.SerialMode()
	require.NoError(t, err)

	assert.Equal(t, 9600, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
}

func TestOptionsSerialModeInvalid(t *testing.T) {
	_, err := Options{DataBits: 3}.SerialMode()
	assert.Error(t, err)
}
