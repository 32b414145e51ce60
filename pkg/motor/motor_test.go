package motor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedSetSpeed(t *testing.T) {
	tests := []struct {
		name       string
		port, stbd float64
		wantErr    bool
	}{
		{name: "ahead", port: 0.5, stbd: 0.5},
		{name: "spin", port: -1, stbd: 1},
		{name: "port too fast", port: 1.5, stbd: 0, wantErr: true},
		{name: "starboard too fast astern", port: 0, stbd: -1.01, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewSimulated()
			err := m.SetSpeed(tt.port, tt.stbd)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrSpeedOutOfRange)
				assert.False(t, m.Moving())
				return
			}
			require.NoError(t, err)
			port, stbd := m.Speeds()
			assert.Equal(t, tt.port, port)
			assert.Equal(t, tt.stbd, stbd)
			assert.Equal(t, 1, m.Commands())
		})
	}
}

func TestSimulatedStop(t *testing.T) {
	m := NewSimulated()
	require.NoError(t, m.SetSpeed(0.3, 0.3))
	assert.True(t, m.Moving())

	require.NoError(t, m.Stop())
	assert.False(t, m.Moving())
	assert.Equal(t, 1, m.Stops())
}
