// Package guider implements the autoguiding agent.
//
// An Agent binds to a CCD and a guider output, runs one cooperative mode at a
// time (preview, calibration or guiding), reduces every completed frame to a
// digest and publishes the drift against the session's reference frame.
//
// All inbound traffic arrives through Agent.Handle, which never blocks: mode
// workers run on their own goroutines and frames are handed to a single
// intake worker through a bounded queue. Agent state is guarded by one mutex
// that is never held across a publish.
package guider

import "errors"

var (
	ErrNoDeviceSelected = errors.New("guider: no CCD is selected")
	ErrExposureTimeout  = errors.New("guider: exposure did not become busy")
	ErrModeBusy         = errors.New("guider: another mode is running")
	ErrAmbiguousRequest = errors.New("guider: more than one process requested")
	ErrAborted          = errors.New("guider: aborted")
	ErrStopped          = errors.New("guider: stopped")
	ErrUnknownMode      = errors.New("guider: unknown mode")
	ErrInvalidExposure  = errors.New("guider: invalid exposure time")
	ErrInvalidAlgorithm = errors.New("guider: invalid algorithm")
	ErrStaleFrame       = errors.New("guider: frame belongs to a previous session")
	ErrClosed           = errors.New("guider: agent closed")
	ErrFramePanic       = errors.New("guider: frame processing panicked")
)
