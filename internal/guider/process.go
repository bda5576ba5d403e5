package guider

import (
	"fmt"
	"strings"

	"github.com/danmuck/guidectl/internal/property"
)

// Mode is a guider process.
type Mode uint8

const (
	ModeNone Mode = iota
	ModePreview
	ModeCalibration
	ModeGuiding
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModePreview:
		return "preview"
	case ModeCalibration:
		return "calibration"
	case ModeGuiding:
		return "guiding"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "preview":
		return ModePreview, nil
	case "calibration", "calibrate":
		return ModeCalibration, nil
	case "guiding", "guide":
		return ModeGuiding, nil
	default:
		return ModeNone, fmt.Errorf("%w: %q", ErrUnknownMode, raw)
	}
}

// modeOf maps a single-flag process request to its mode.
func modeOf(req property.RequestProcess) Mode {
	switch {
	case req.Preview:
		return ModePreview
	case req.Calibration:
		return ModeCalibration
	case req.Guiding:
		return ModeGuiding
	default:
		return ModeNone
	}
}

// ProcessState is the agent process state. Exactly one holds at any instant.
type ProcessState uint8

const (
	StateIdle ProcessState = iota
	StatePreviewBusy
	StateCalibrationBusy
	StateGuidingBusy
	StateAlert
)

func (s ProcessState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreviewBusy:
		return "preview_busy"
	case StateCalibrationBusy:
		return "calibration_busy"
	case StateGuidingBusy:
		return "guiding_busy"
	case StateAlert:
		return "alert"
	default:
		return fmt.Sprintf("process_state(%d)", uint8(s))
	}
}

func (s ProcessState) Busy() bool {
	return s == StatePreviewBusy || s == StateCalibrationBusy || s == StateGuidingBusy
}

// Mode returns the running mode, ModeNone when not busy.
func (s ProcessState) Mode() Mode {
	switch s {
	case StatePreviewBusy:
		return ModePreview
	case StateCalibrationBusy:
		return ModeCalibration
	case StateGuidingBusy:
		return ModeGuiding
	default:
		return ModeNone
	}
}

// Property is the lifecycle tag published on the process vector.
func (s ProcessState) Property() property.State {
	switch {
	case s.Busy():
		return property.StateBusy
	case s == StateAlert:
		return property.StateAlert
	default:
		return property.StateOK
	}
}

func busyState(m Mode) ProcessState {
	switch m {
	case ModePreview:
		return StatePreviewBusy
	case ModeCalibration:
		return StateCalibrationBusy
	case ModeGuiding:
		return StateGuidingBusy
	default:
		return StateIdle
	}
}
