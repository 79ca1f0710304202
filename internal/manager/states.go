package manager

import (
	"fmt"
	"time"
)

type State string

const (
	StateHalted      State = "halted"
	StateInitialized State = "initialized"
	StateConfigured  State = "configured"
	StateRunning     State = "running"
	StatePaused      State = "paused"
	StateStopped     State = "stopped"
	StateFailed      State = "failed"
)

type Command string

const (
	CommandInitialize Command = "initialize"
	CommandConfigure  Command = "configure"
	CommandStart      Command = "start"
	CommandPause      Command = "pause"
	CommandResume     Command = "resume"
	CommandStop       Command = "stop"
	CommandHalt       Command = "halt"
	CommandReset      Command = "reset"
)

// Commands lists every lifecycle command.
var Commands = []Command{
	CommandInitialize,
	CommandConfigure,
	CommandStart,
	CommandPause,
	CommandResume,
	CommandStop,
	CommandHalt,
	CommandReset,
}

// ParseCommand accepts the lower-case command names.
func ParseCommand(s string) (Command, error) {
	for _, cmd := range Commands {
		if string(cmd) == s {
			return cmd, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
}

var transitions = map[Command]struct {
	from []State
	to   State
}{
	CommandInitialize: {[]State{StateHalted}, StateInitialized},
	CommandConfigure:  {[]State{StateInitialized, StateStopped}, StateConfigured},
	CommandStart:      {[]State{StateConfigured}, StateRunning},
	CommandPause:      {[]State{StateRunning}, StatePaused},
	CommandResume:     {[]State{StatePaused}, StateRunning},
	CommandStop:       {[]State{StateRunning, StatePaused}, StateStopped},
}

// Next returns the state cmd leads to from state. Halt is accepted from
// every state except Failed; reset from every state.
func Next(state State, cmd Command) (State, error) {
	switch cmd {
	case CommandReset:
		return StateHalted, nil
	case CommandHalt:
		if state == StateFailed {
			return state, fmt.Errorf("%w: %s from %s (reset required)", ErrInvalidTransition, cmd, state)
		}
		return StateHalted, nil
	}

	t, ok := transitions[cmd]
	if !ok {
		return state, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
	for _, from := range t.from {
		if from == state {
			return t.to, nil
		}
	}
	return state, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, cmd, state)
}

// TransitionRecord describes one executed lifecycle command.
type TransitionRecord struct {
	ID         string        `json:"id"`
	Command    Command       `json:"command"`
	From       State         `json:"from"`
	To         State         `json:"to"`
	Result     string        `json:"result"`
	FailedSlot int           `json:"failed_slot,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// Transition results.
const (
	ResultOK       = "ok"
	ResultFailed   = "failed"
	ResultRejected = "rejected"
)
