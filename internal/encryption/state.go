package encryption

import (
	"errors"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"
)

// Action is the direction of a run.
type Action string

const (
	// ActionEncrypt turns plaintext files into ciphertext files.
	ActionEncrypt Action = "encrypt"
	// ActionDecrypt turns ciphertext files back into plaintext.
	ActionDecrypt Action = "decrypt"
)

// State is the lifecycle position of a single file.
type State int

// File states. Committing is only reachable from Writing.
const (
	StatePending State = iota
	StateReading
	StateTranscoding
	StateVerifying
	StateWriting
	StateCommitting
	StateDone
	StateSkipped
	StateFailed
)

var stateNames = [...]string{ //nolint:gochecknoglobals
	"pending", "reading", "transcoding", "verifying", "writing", "committing", "done", "skipped", "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}

	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateSkipped || s == StateFailed
}

//nolint:gochecknoglobals
var transitions = map[State][]State{
	StatePending:     {StateReading, StateSkipped},
	StateReading:     {StateTranscoding, StateVerifying, StateSkipped},
	StateTranscoding: {StateVerifying, StateWriting},
	StateVerifying:   {StateWriting},
	StateWriting:     {StateCommitting},
	StateCommitting:  {StateDone},
}

// ErrInvalidTransition is returned for a transition the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

// Recorder persists state transitions, for example to a journal.
type Recorder interface {
	Record(action, path, state, detail string) error
}

// tracker walks one file through its lifecycle.
type tracker struct {
	state    State
	action   Action
	path     string
	recorder Recorder
	log      *logrus.Entry
}

func newTracker(action Action, path string, recorder Recorder, log *logrus.Entry) *tracker {
	t := &tracker{state: StatePending, action: action, path: path, recorder: recorder, log: log}

	t.record("")

	return t
}

func (t *tracker) to(next State) error {
	if !slices.Contains(transitions[t.state], next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.state, next)
	}

	t.log.WithField("state", next).Debug("transition")

	t.state = next
	t.record("")

	return nil
}

func (t *tracker) fail(err error) {
	if t.state.Terminal() {
		return
	}

	t.state = StateFailed
	t.record(err.Error())
}

func (t *tracker) record(detail string) {
	if t.recorder == nil {
		return
	}

	if err := t.recorder.Record(string(t.action), t.path, t.state.String(), detail); err != nil {
		t.log.WithError(err).Warn("recording state")
	}
}
