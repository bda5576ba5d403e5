package property

// SelectDevices binds the agent to a CCD and a guider. Empty names clear.
type SelectDevices struct {
	Agent  string
	CCD    string
	Guider string
}

// SelectMode picks the digest algorithm for subsequent frames.
type SelectMode struct {
	Agent     string
	Algorithm Algorithm
}

// RequestProcess asks the agent to start one mode. At most one flag is set.
type RequestProcess struct {
	Agent       string
	Preview     bool
	Calibration bool
	Guiding     bool
}

// RequestAbort cancels the running mode.
type RequestAbort struct {
	Agent string
}

// RequestStop asks the running mode to finish cooperatively.
type RequestStop struct {
	Agent string
}

// SetExposure changes the exposure target used by the next cycle.
type SetExposure struct {
	Agent   string
	Seconds float64
}

// ExposureState is the observed CCD exposure vector.
type ExposureState struct {
	Device    string
	State     State
	Remaining float64
}

// ImageReady carries a completed frame as a raw blob.
type ImageReady struct {
	Device string
	State  State
	Blob   []byte
}

// StartExposure commands the CCD to expose.
type StartExposure struct {
	Device  string
	Seconds float64
}

// AbortExposure commands the CCD to abort the current exposure.
type AbortExposure struct {
	Device string
}

// GuidePulse commands the guider output, durations in milliseconds.
type GuidePulse struct {
	Device string
	North  float64
	South  float64
	East   float64
	West   float64
}

// ProcessState is the published agent process vector.
type ProcessState struct {
	Agent   string
	State   State
	Mode    string
	Message string
}

// StatsReport is the published agent stats vector.
type StatsReport struct {
	Agent string
	Stats Stats
}

// ModeReport is the published algorithm selector.
type ModeReport struct {
	Agent     string
	Algorithm Algorithm
	State     State
}

// Stats is the guiding statistics vector.
type Stats struct {
	Frame         int64
	DriftX        float64
	DriftY        float64
	DriftRA       float64
	DriftDec      float64
	CorrectionRA  float64
	CorrectionDec float64
	RMSERA        float64
	RMSEDec       float64
}

func (SelectDevices) Kind() Kind  { return KindSelectDevices }
func (SelectMode) Kind() Kind     { return KindSelectMode }
func (RequestProcess) Kind() Kind { return KindRequestProcess }
func (RequestAbort) Kind() Kind   { return KindRequestAbort }
func (RequestStop) Kind() Kind    { return KindRequestStop }
func (SetExposure) Kind() Kind    { return KindSetExposure }
func (ExposureState) Kind() Kind  { return KindExposureState }
func (ImageReady) Kind() Kind     { return KindImageReady }
func (StartExposure) Kind() Kind  { return KindStartExposure }
func (AbortExposure) Kind() Kind  { return KindAbortExposure }
func (GuidePulse) Kind() Kind     { return KindGuidePulse }
func (ProcessState) Kind() Kind   { return KindProcessState }
func (StatsReport) Kind() Kind    { return KindStatsReport }
func (ModeReport) Kind() Kind     { return KindModeReport }

func (m SelectDevices) Target() string  { return m.Agent }
func (m SelectMode) Target() string     { return m.Agent }
func (m RequestProcess) Target() string { return m.Agent }
func (m RequestAbort) Target() string   { return m.Agent }
func (m RequestStop) Target() string    { return m.Agent }
func (m SetExposure) Target() string    { return m.Agent }
func (m ExposureState) Target() string  { return m.Device }
func (m ImageReady) Target() string     { return m.Device }
func (m StartExposure) Target() string  { return m.Device }
func (m AbortExposure) Target() string  { return m.Device }
func (m GuidePulse) Target() string     { return m.Device }
func (m ProcessState) Target() string   { return m.Agent }
func (m StatsReport) Target() string    { return m.Agent }
func (m ModeReport) Target() string     { return m.Agent }

func (SelectDevices) sealed()  {}
func (SelectMode) sealed()     {}
func (RequestProcess) sealed() {}
func (RequestAbort) sealed()   {}
func (RequestStop) sealed()    {}
func (SetExposure) sealed()    {}
func (ExposureState) sealed()  {}
func (ImageReady) sealed()     {}
func (StartExposure) sealed()  {}
func (AbortExposure) sealed()  {}
func (GuidePulse) sealed()     {}
func (ProcessState) sealed()   {}
func (StatsReport) sealed()    {}
func (ModeReport) sealed()     {}

// Requested reports how many process flags are set.
func (m RequestProcess) Requested() int {
	n := 0
	for _, v := range []bool{m.Preview, m.Calibration, m.Guiding} {
		if v {
			n++
		}
	}
	return n
}
