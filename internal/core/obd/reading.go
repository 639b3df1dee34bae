package obd

// Pid names a decoded diagnostic parameter, or one of the two fallback variants.
type Pid string

const (
	PidVehicleSpeed             Pid = "VehicleSpeed"
	PidEngineRPM                Pid = "EngineRPM"
	PidEngineCoolantTemperature Pid = "EngineCoolantTemperature"
	PidThrottlePosition         Pid = "ThrottlePosition"
	PidAmbientAirTemperature    Pid = "AmbientAirTemperature"
	PidEngineLoad               Pid = "EngineLoad"

	// PidUnknownObdPid is an OBD-II response whose PID byte is not in the formula table.
	PidUnknownObdPid Pid = "UnknownObdPid"
	// PidUnknownArbitrationID is a frame that is not an OBD-II response at all.
	PidUnknownArbitrationID Pid = "UnknownArbitrationId"
)

// Known reports whether p is one of the decoded (non-fallback) parameters.
func (p Pid) Known() bool {
	switch p {
	case PidVehicleSpeed, PidEngineRPM, PidEngineCoolantTemperature,
		PidThrottlePosition, PidAmbientAirTemperature, PidEngineLoad:
		return true
	}
	return false
}

// Source tells which protocol layer a reading was interpreted at.
type Source string

const (
	SourceOBD2   Source = "OBD-II"
	SourceCANBus Source = "CAN Bus"
)

// Reading is the decoded form of one RawRecord. JSON keys follow the
// downstream message shape consumers already parse.
type Reading struct {
	Pid       Pid     `json:"Pid"`
	Value     float64 `json:"Value"`
	Units     string  `json:"Units,omitempty"`
	Source    Source  `json:"Source"`
	Timestamp float64 `json:"Timestamp"`

	// Set only on fallback variants.
	ArbitrationID string `json:"ArbitrationId,omitempty"`
	RawMessage    string `json:"RawMessage,omitempty"`
}

// Fallback reports whether the reading is one of the decode fallback variants.
func (r Reading) Fallback() bool { return r.Pid.Fallback() }

// Fallback reports whether p names a decode fallback variant.
func (p Pid) Fallback() bool {
	return p == PidUnknownObdPid || p == PidUnknownArbitrationID
}
