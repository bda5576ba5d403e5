package wire

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/danmuck/guidectl/internal/property"
	"github.com/danmuck/guidectl/internal/testutil/testlog"
)

// sample returns one populated value for every kind in property.Kinds.
func sample(kind property.Kind) property.Message {
	switch kind {
	case property.KindSelectDevices:
		return property.SelectDevices{Agent: "Guider Agent", CCD: "CCD Simulator", Guider: "Mount Simulator"}
	case property.KindSelectMode:
		return property.SelectMode{Agent: "Guider Agent", Algorithm: property.AlgorithmCentroid}
	case property.KindRequestProcess:
		return property.RequestProcess{Agent: "Guider Agent", Guiding: true}
	case property.KindRequestAbort:
		return property.RequestAbort{Agent: "Guider Agent"}
	case property.KindRequestStop:
		return property.RequestStop{Agent: "Guider Agent"}
	case property.KindSetExposure:
		return property.SetExposure{Agent: "Guider Agent", Seconds: 2.5}
	case property.KindExposureState:
		return property.ExposureState{Device: "CCD Simulator", State: property.StateBusy, Remaining: 0.75}
	case property.KindImageReady:
		return property.ImageReady{Device: "CCD Simulator", State: property.StateOK, Blob: []byte{1, 2, 3}}
	case property.KindStartExposure:
		return property.StartExposure{Device: "CCD Simulator", Seconds: 1}
	case property.KindAbortExposure:
		return property.AbortExposure{Device: "CCD Simulator"}
	case property.KindGuidePulse:
		return property.GuidePulse{Device: "Mount Simulator", North: 120, West: 35.5}
	case property.KindProcessState:
		return property.ProcessState{Agent: "Guider Agent", State: property.StateAlert, Mode: "preview", Message: "aborted"}
	case property.KindStatsReport:
		return property.StatsReport{Agent: "Guider Agent", Stats: property.Stats{Frame: 7, DriftX: -1.25, DriftY: 3, RMSEDec: 0.1}}
	case property.KindModeReport:
		return property.ModeReport{Agent: "Guider Agent", Algorithm: property.AlgorithmDonuts, State: property.StateBusy}
	}
	return nil
}

func TestMarshalCoversEveryKind(t *testing.T) {
	testlog.Start(t)

	for i, kind := range property.Kinds {
		msg := sample(kind)
		if msg == nil {
			t.Fatalf("no sample for %s", kind)
		}
		data, err := Marshal(uint64(i+1), msg)
		if err != nil {
			t.Fatalf("marshal %s: %v", kind, err)
		}
		got, seq, err := Unmarshal(data)
		if err != nil {
			t.Fatalf("unmarshal %s: %v", kind, err)
		}
		if seq != uint64(i+1) {
			t.Fatalf("%s: unexpected sequence %d", kind, seq)
		}
		if !reflect.DeepEqual(got, msg) {
			t.Fatalf("%s: decoded %+v want %+v", kind, got, msg)
		}
	}
}

func TestUnmarshalRejectsBadMagic(t *testing.T) {
	testlog.Start(t)

	data, err := Marshal(1, property.RequestAbort{Agent: "a"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	data[0] = 0
	if _, _, err := Unmarshal(data); !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestUnmarshalRejectsTruncatedPayload(t *testing.T) {
	testlog.Start(t)

	data, err := Marshal(1, property.SelectDevices{Agent: "a", CCD: "ccd"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, _, err := Unmarshal(data[:len(data)-2]); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestUnmarshalRejectsUnknownKind(t *testing.T) {
	testlog.Start(t)

	var buf bytes.Buffer
	payload := EncodeFields([]Field{String(fieldTarget, "a")})
	if err := WriteFrame(&buf, Frame{Header: Header{Kind: 999}, Payload: payload}, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if _, _, err := Unmarshal(buf.Bytes()); !errors.Is(err, property.ErrUnknownMessage) {
		t.Fatalf("expected ErrUnknownMessage, got %v", err)
	}
}

func TestUnmarshalRejectsFieldTypeMismatch(t *testing.T) {
	testlog.Start(t)

	var buf bytes.Buffer
	payload := EncodeFields([]Field{
		String(fieldTarget, "ccd"),
		String(fieldA, "not-a-float"),
	})
	f := Frame{Header: Header{Kind: uint32(property.KindStartExposure)}, Payload: payload}
	if err := WriteFrame(&buf, f, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if _, _, err := Unmarshal(buf.Bytes()); !errors.Is(err, ErrFieldTypeMismatch) {
		t.Fatalf("expected ErrFieldTypeMismatch, got %v", err)
	}
}

func TestReadFrameEnforcesLimit(t *testing.T) {
	testlog.Start(t)

	var buf bytes.Buffer
	if err := WriteFrame(&buf, Frame{Payload: make([]byte, 32)}, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	_, err := ReadFrame(bytes.NewReader(buf.Bytes()), Limits{MaxPayloadBytes: 16})
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}
