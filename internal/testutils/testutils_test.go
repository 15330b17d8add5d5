package testutils

import (
	"testing"
	"time"

	"github.com/saviobatista/adsb-capture/internal/crc"
)

func TestEncodedFrameHasValidCRC(t *testing.T) {
	frame := EncodeIdentification(0x4840D6, 4, 0, "KAL123")
	if len(frame) != 14 {
		t.Fatalf("frame length = %d, want 14", len(frame))
	}
	if s := crc.Syndrome(frame); s != 0 {
		t.Errorf("Syndrome = %06X, want 0", s)
	}
	if df := frame[0] >> 3; df != 17 {
		t.Errorf("DF = %d, want 17", df)
	}
}

func TestSynthesizeIQShape(t *testing.T) {
	frame := EncodeIdentification(0x4840D6, 4, 0, "KAL123")
	iq := SynthesizeIQ([][]byte{frame}, 0)

	if len(iq)%2 != 0 {
		t.Error("IQ stream must be whole sample pairs")
	}
	// 512 + 16 + 112*2 + 512 samples.
	want := (512 + 16 + 224 + 512) * 2
	if len(iq) != want {
		t.Errorf("len(iq) = %d, want %d", len(iq), want)
	}

	// Quiet padding sits at the DC center.
	if iq[0] != 127 || iq[1] != 127 {
		t.Errorf("padding = (%d, %d), want (127, 127)", iq[0], iq[1])
	}
	// First preamble pulse is offset onto the I rail.
	if iq[512*2] == 127 {
		t.Error("first preamble pulse missing")
	}
}

func TestFlipBit(t *testing.T) {
	data := make([]byte, 14)
	FlipBit(data, 0)
	if data[0] != 0x80 {
		t.Errorf("bit 0 flip: data[0] = %02X, want 80", data[0])
	}
	FlipBit(data, 0)
	if data[0] != 0 {
		t.Error("second flip did not restore")
	}
	FlipBit(data, 111)
	if data[13] != 0x01 {
		t.Errorf("bit 111 flip: data[13] = %02X, want 01", data[13])
	}
}

func TestWaitForCondition(t *testing.T) {
	calls := 0
	err := WaitForCondition(func() bool {
		calls++
		return calls >= 3
	}, time.Second)
	if err != nil {
		t.Errorf("WaitForCondition() unexpected error: %v", err)
	}

	if err := WaitForCondition(func() bool { return false }, 50*time.Millisecond); err == nil {
		t.Error("WaitForCondition() expected timeout error")
	}
}
