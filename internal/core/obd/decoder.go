package obd

// DefaultResponseID is the CAN arbitration id ECUs answer OBD-II PID queries on.
const DefaultResponseID = 0x7E8

// pidByteOffset is where the PID sits in a mode 01 response:
// [length, mode+0x40, pid, A, B, ...].
const pidByteOffset = 2

// Formula converts the data bytes of a response into a value.
// Data starts at byte A (offset 3 of the payload).
type Formula struct {
	Pid      Pid
	Units    string
	MinBytes int // data bytes the formula reads
	Eval     func(data []byte) float64
}

// Formulas is the PID byte -> conversion table.
// To support a new parameter add an entry here; Decode needs no change.
var Formulas = map[byte]Formula{
	0x04: {Pid: PidEngineLoad, Units: "%", MinBytes: 1, Eval: func(d []byte) float64 {
		return float64(d[0]) / 2.55
	}},
	0x05: {Pid: PidEngineCoolantTemperature, Units: "Celsius", MinBytes: 1, Eval: func(d []byte) float64 {
		return float64(d[0]) - 40
	}},
	0x0C: {Pid: PidEngineRPM, Units: "rpm", MinBytes: 2, Eval: func(d []byte) float64 {
		return (float64(d[0])*256 + float64(d[1])) / 4
	}},
	0x0D: {Pid: PidVehicleSpeed, Units: "km/h", MinBytes: 1, Eval: func(d []byte) float64 {
		return float64(d[0])
	}},
	0x11: {Pid: PidThrottlePosition, Units: "%", MinBytes: 1, Eval: func(d []byte) float64 {
		return float64(d[0]) / 2.55
	}},
	0x46: {Pid: PidAmbientAirTemperature, Units: "Celsius", MinBytes: 1, Eval: func(d []byte) float64 {
		return float64(d[0]) - 40
	}},
}

// Decoder turns raw frames into readings. It is stateless and safe for concurrent use.
type Decoder struct {
	responseID uint32
}

// NewDecoder returns a decoder matching OBD-II responses on responseID.
// Zero selects DefaultResponseID.
func NewDecoder(responseID uint32) *Decoder {
	if responseID == 0 {
		responseID = DefaultResponseID
	}
	return &Decoder{responseID: responseID}
}

// Decode never fails: frames it cannot interpret become fallback readings that
// carry the raw payload.
func (d *Decoder) Decode(rec RawRecord) Reading {
	id, err := parseArbitrationID(rec.ArbitrationID)
	if err != nil || id != d.responseID {
		return Reading{
			Pid:           PidUnknownArbitrationID,
			Source:        SourceCANBus,
			Timestamp:     rec.Timestamp,
			ArbitrationID: rec.ArbitrationID,
			RawMessage:    rec.payloadHex(),
		}
	}

	if len(rec.Payload) <= pidByteOffset {
		return unknownPid(rec, -1)
	}

	pid := rec.Payload[pidByteOffset]
	f, ok := Formulas[pid]
	data := rec.Payload[pidByteOffset+1:]
	if !ok || len(data) < f.MinBytes {
		return unknownPid(rec, float64(pid))
	}

	return Reading{
		Pid:       f.Pid,
		Value:     f.Eval(data),
		Units:     f.Units,
		Source:    SourceOBD2,
		Timestamp: rec.Timestamp,
	}
}

// unknownPid carries the PID byte as the value; -1 marks a payload too short to hold one.
func unknownPid(rec RawRecord, value float64) Reading {
	return Reading{
		Pid:        PidUnknownObdPid,
		Value:      value,
		Source:     SourceOBD2,
		Timestamp:  rec.Timestamp,
		RawMessage: rec.payloadHex(),
	}
}
