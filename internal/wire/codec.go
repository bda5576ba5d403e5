package wire

import (
	"bytes"
	"fmt"

	"github.com/danmuck/guidectl/internal/property"
)

// Field ids shared by every message kind. Field 1 is always the target name.
const (
	fieldTarget uint16 = 1

	fieldA uint16 = 2
	fieldB uint16 = 3
	fieldC uint16 = 4
	fieldD uint16 = 5
	fieldE uint16 = 6
	fieldF uint16 = 7
	fieldG uint16 = 8
	fieldH uint16 = 9
	fieldI uint16 = 10
)

// Marshal encodes msg into one frame.
func Marshal(seq uint64, msg property.Message) ([]byte, error) {
	fields, err := encodeMessage(msg)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	f := Frame{
		Header:  Header{Sequence: seq, Kind: uint32(msg.Kind())},
		Payload: EncodeFields(fields),
	}
	if err := WriteFrame(&buf, f, DefaultLimits()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes one frame produced by Marshal.
func Unmarshal(data []byte) (property.Message, uint64, error) {
	f, err := ReadFrame(bytes.NewReader(data), DefaultLimits())
	if err != nil {
		return nil, 0, err
	}
	fields, err := DecodeFields(f.Payload)
	if err != nil {
		return nil, 0, err
	}
	msg, err := decodeMessage(property.Kind(f.Header.Kind), indexFields(fields))
	if err != nil {
		return nil, 0, err
	}
	return msg, f.Header.Sequence, nil
}

func encodeMessage(msg property.Message) ([]Field, error) {
	out := []Field{String(fieldTarget, msg.Target())}
	switch m := msg.(type) {
	case property.SelectDevices:
		out = append(out, String(fieldA, m.CCD), String(fieldB, m.Guider))
	case property.SelectMode:
		out = append(out, U8(fieldA, uint8(m.Algorithm)))
	case property.RequestProcess:
		out = append(out, Bool(fieldA, m.Preview), Bool(fieldB, m.Calibration), Bool(fieldC, m.Guiding))
	case property.RequestAbort, property.RequestStop, property.AbortExposure:
	case property.SetExposure:
		out = append(out, Float64(fieldA, m.Seconds))
	case property.ExposureState:
		out = append(out, U8(fieldA, uint8(m.State)), Float64(fieldB, m.Remaining))
	case property.ImageReady:
		out = append(out, U8(fieldA, uint8(m.State)), Bytes(fieldB, m.Blob))
	case property.StartExposure:
		out = append(out, Float64(fieldA, m.Seconds))
	case property.GuidePulse:
		out = append(out,
			Float64(fieldA, m.North),
			Float64(fieldB, m.South),
			Float64(fieldC, m.East),
			Float64(fieldD, m.West),
		)
	case property.ProcessState:
		out = append(out, U8(fieldA, uint8(m.State)), String(fieldB, m.Mode), String(fieldC, m.Message))
	case property.StatsReport:
		s := m.Stats
		out = append(out,
			U64(fieldA, uint64(s.Frame)),
			Float64(fieldB, s.DriftX),
			Float64(fieldC, s.DriftY),
			Float64(fieldD, s.DriftRA),
			Float64(fieldE, s.DriftDec),
			Float64(fieldF, s.CorrectionRA),
			Float64(fieldG, s.CorrectionDec),
			Float64(fieldH, s.RMSERA),
			Float64(fieldI, s.RMSEDec),
		)
	case property.ModeReport:
		out = append(out, U8(fieldA, uint8(m.Algorithm)), U8(fieldB, uint8(m.State)))
	default:
		return nil, fmt.Errorf("%w: %T", property.ErrUnknownMessage, msg)
	}
	return out, nil
}

// decoder keeps the first field error so message builders stay linear.
type decoder struct {
	set fieldSet
	err error
}

func (d *decoder) str(id uint16) string {
	v, err := d.set.str(id)
	d.keep(err)
	return v
}

func (d *decoder) u8(id uint16) uint8 {
	v, err := d.set.u8(id)
	d.keep(err)
	return v
}

func (d *decoder) u64(id uint16) uint64 {
	v, err := d.set.u64(id)
	d.keep(err)
	return v
}

func (d *decoder) boolean(id uint16) bool {
	v, err := d.set.boolean(id)
	d.keep(err)
	return v
}

func (d *decoder) f64(id uint16) float64 {
	v, err := d.set.f64(id)
	d.keep(err)
	return v
}

func (d *decoder) bytes(id uint16) []byte {
	v, err := d.set.bytes(id)
	d.keep(err)
	return v
}

func (d *decoder) keep(err error) {
	if d.err == nil && err != nil {
		d.err = err
	}
}

func decodeMessage(kind property.Kind, set fieldSet) (property.Message, error) {
	if !set.has(fieldTarget) {
		return nil, fmt.Errorf("%w: target", ErrMissingField)
	}
	d := &decoder{set: set}
	target := d.str(fieldTarget)

	var msg property.Message
	switch kind {
	case property.KindSelectDevices:
		msg = property.SelectDevices{Agent: target, CCD: d.str(fieldA), Guider: d.str(fieldB)}
	case property.KindSelectMode:
		msg = property.SelectMode{Agent: target, Algorithm: property.Algorithm(d.u8(fieldA))}
	case property.KindRequestProcess:
		msg = property.RequestProcess{
			Agent:       target,
			Preview:     d.boolean(fieldA),
			Calibration: d.boolean(fieldB),
			Guiding:     d.boolean(fieldC),
		}
	case property.KindRequestAbort:
		msg = property.RequestAbort{Agent: target}
	case property.KindRequestStop:
		msg = property.RequestStop{Agent: target}
	case property.KindSetExposure:
		msg = property.SetExposure{Agent: target, Seconds: d.f64(fieldA)}
	case property.KindExposureState:
		msg = property.ExposureState{Device: target, State: property.State(d.u8(fieldA)), Remaining: d.f64(fieldB)}
	case property.KindImageReady:
		msg = property.ImageReady{Device: target, State: property.State(d.u8(fieldA)), Blob: d.bytes(fieldB)}
	case property.KindStartExposure:
		msg = property.StartExposure{Device: target, Seconds: d.f64(fieldA)}
	case property.KindAbortExposure:
		msg = property.AbortExposure{Device: target}
	case property.KindGuidePulse:
		msg = property.GuidePulse{
			Device: target,
			North:  d.f64(fieldA),
			South:  d.f64(fieldB),
			East:   d.f64(fieldC),
			West:   d.f64(fieldD),
		}
	case property.KindProcessState:
		msg = property.ProcessState{
			Agent:   target,
			State:   property.State(d.u8(fieldA)),
			Mode:    d.str(fieldB),
			Message: d.str(fieldC),
		}
	case property.KindStatsReport:
		msg = property.StatsReport{Agent: target, Stats: property.Stats{
			Frame:         int64(d.u64(fieldA)),
			DriftX:        d.f64(fieldB),
			DriftY:        d.f64(fieldC),
			DriftRA:       d.f64(fieldD),
			DriftDec:      d.f64(fieldE),
			CorrectionRA:  d.f64(fieldF),
			CorrectionDec: d.f64(fieldG),
			RMSERA:        d.f64(fieldH),
			RMSEDec:       d.f64(fieldI),
		}}
	case property.KindModeReport:
		msg = property.ModeReport{
			Agent:     target,
			Algorithm: property.Algorithm(d.u8(fieldA)),
			State:     property.State(d.u8(fieldB)),
		}
	default:
		return nil, fmt.Errorf("%w: kind %d", property.ErrUnknownMessage, uint32(kind))
	}
	if d.err != nil {
		return nil, d.err
	}
	return msg, nil
}
