// Package property defines the typed state vectors exchanged between the
// guider agent and the devices it controls.
//
// Every message on the bus is one of the concrete types below. The set is
// closed: Message carries an unexported marker method, so a type switch over
// the types listed in Kinds is exhaustive and new variants must be added here.
package property

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownMessage = errors.New("property: unknown message")

// State is the lifecycle tag carried by every property update.
type State uint8

const (
	StateIdle State = iota
	StateOK
	StateBusy
	StateAlert
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOK:
		return "ok"
	case StateBusy:
		return "busy"
	case StateAlert:
		return "alert"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Algorithm selects the frame digest variant.
type Algorithm uint8

const (
	AlgorithmDonuts Algorithm = iota
	AlgorithmCentroid
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmCentroid:
		return "centroid"
	case AlgorithmDonuts:
		return "donuts"
	default:
		return fmt.Sprintf("algorithm(%d)", uint8(a))
	}
}

// ParseAlgorithm accepts the names produced by Algorithm.String.
func ParseAlgorithm(raw string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "centroid":
		return AlgorithmCentroid, nil
	case "donuts", "donut":
		return AlgorithmDonuts, nil
	default:
		return 0, fmt.Errorf("property: unknown algorithm %q", raw)
	}
}

// Kind is the wire discriminator of a Message.
type Kind uint32

const (
	KindSelectDevices Kind = iota + 1
	KindSelectMode
	KindRequestProcess
	KindRequestAbort
	KindRequestStop
	KindSetExposure
	KindExposureState
	KindImageReady
	KindStartExposure
	KindAbortExposure
	KindGuidePulse
	KindProcessState
	KindStatsReport
	KindModeReport
)

// Kinds lists every variant of the closed message set.
var Kinds = []Kind{
	KindSelectDevices,
	KindSelectMode,
	KindRequestProcess,
	KindRequestAbort,
	KindRequestStop,
	KindSetExposure,
	KindExposureState,
	KindImageReady,
	KindStartExposure,
	KindAbortExposure,
	KindGuidePulse,
	KindProcessState,
	KindStatsReport,
	KindModeReport,
}

func (k Kind) String() string {
	switch k {
	case KindSelectDevices:
		return "select_devices"
	case KindSelectMode:
		return "select_mode"
	case KindRequestProcess:
		return "request_process"
	case KindRequestAbort:
		return "request_abort"
	case KindRequestStop:
		return "request_stop"
	case KindSetExposure:
		return "set_exposure"
	case KindExposureState:
		return "exposure_state"
	case KindImageReady:
		return "image_ready"
	case KindStartExposure:
		return "start_exposure"
	case KindAbortExposure:
		return "abort_exposure"
	case KindGuidePulse:
		return "guide_pulse"
	case KindProcessState:
		return "process_state"
	case KindStatsReport:
		return "stats_report"
	case KindModeReport:
		return "mode_report"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// Message is one typed state vector.
type Message interface {
	Kind() Kind
	// Target names the device the vector belongs to (the agent for requests
	// and reports, the remote device for commands and observations).
	Target() string
	sealed()
}
