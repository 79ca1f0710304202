package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext(t *testing.T) {
	tests := []struct {
		from State
		cmd  Command
		want State
		err  error
	}{
		{StateHalted, CommandInitialize, StateInitialized, nil},
		{StateInitialized, CommandConfigure, StateConfigured, nil},
		{StateStopped, CommandConfigure, StateConfigured, nil},
		{StateConfigured, CommandStart, StateRunning, nil},
		{StateRunning, CommandPause, StatePaused, nil},
		{StatePaused, CommandResume, StateRunning, nil},
		{StateRunning, CommandStop, StateStopped, nil},
		{StatePaused, CommandStop, StateStopped, nil},
		{StateRunning, CommandHalt, StateHalted, nil},
		{StateHalted, CommandHalt, StateHalted, nil},
		{StateFailed, CommandReset, StateHalted, nil},
		{StateRunning, CommandReset, StateHalted, nil},
		{StateHalted, CommandReset, StateHalted, nil},

		{StateFailed, CommandHalt, StateFailed, ErrInvalidTransition},
		{StateFailed, CommandInitialize, StateFailed, ErrInvalidTransition},
		{StateHalted, CommandConfigure, StateHalted, ErrInvalidTransition},
		{StateInitialized, CommandStart, StateInitialized, ErrInvalidTransition},
		{StateConfigured, CommandPause, StateConfigured, ErrInvalidTransition},
		{StateRunning, CommandResume, StateRunning, ErrInvalidTransition},
		{StateStopped, CommandStart, StateStopped, ErrInvalidTransition},
		{StateInitialized, CommandStop, StateInitialized, ErrInvalidTransition},
		{StateHalted, Command("explode"), StateHalted, ErrUnknownCommand},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.cmd), func(t *testing.T) {
			got, err := Next(tt.from, tt.cmd)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommand(t *testing.T) {
	for _, cmd := range Commands {
		got, err := ParseCommand(string(cmd))
		require.NoError(t, err)
		assert.Equal(t, cmd, got)
	}

	_, err := ParseCommand("Initialize")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}
