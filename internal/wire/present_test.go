package wire

import "testing"

// TestDecodePresentEventCompleteNotifyRoundTrip encodes a CompleteNotify
// body by hand (mirroring what the server actually puts on the wire)
// and checks DecodePresentEvent recovers the same (serial, msc, mode)
// regardless of the high bits of msc, including the wrap value.
func TestDecodePresentEventCompleteNotifyRoundTrip(t *testing.T) {
	cases := []CompleteNotify{
		{Serial: 1, MSC: 2, Mode: PresentCompleteModeCopy},
		{Serial: 0xffffffff, MSC: 0xffffffffffffffff, Mode: PresentCompleteModeFlip},
		{Serial: 42, MSC: 0, Mode: 0},
	}
	for _, want := range cases {
		data := make([]byte, 32)
		data[10] = want.Mode
		byteOrder.PutUint32(data[12:], want.Serial)
		byteOrder.PutUint64(data[16:], want.MSC)

		got, err := DecodePresentEvent(presentEvtCompleteNotify, data)
		if err != nil {
			t.Fatalf("DecodePresentEvent: %v", err)
		}
		cn, ok := got.(CompleteNotify)
		if !ok {
			t.Fatalf("DecodePresentEvent returned %T, want CompleteNotify", got)
		}
		if cn != want {
			t.Errorf("round trip = %+v, want %+v", cn, want)
		}
	}
}

func TestDecodePresentEventShortBody(t *testing.T) {
	if _, err := DecodePresentEvent(presentEvtCompleteNotify, make([]byte, 10)); err == nil {
		t.Error("DecodePresentEvent with a short body should fail")
	}
}

func TestDecodePresentEventUnknownSubCode(t *testing.T) {
	if _, err := DecodePresentEvent(0xff, make([]byte, 32)); err == nil {
		t.Error("DecodePresentEvent with an unknown sub-code should fail")
	}
}

func TestDecodePresentEventConfigureNotify(t *testing.T) {
	data := make([]byte, 32)
	byteOrder.PutUint16(data[20:], 1920)
	byteOrder.PutUint16(data[22:], 1080)
	data[28] = 1 // WindowDestroyed flag bit

	got, err := DecodePresentEvent(presentEvtConfigureNotify, data)
	if err != nil {
		t.Fatalf("DecodePresentEvent: %v", err)
	}
	cn, ok := got.(ConfigureNotify)
	if !ok {
		t.Fatalf("DecodePresentEvent returned %T, want ConfigureNotify", got)
	}
	if cn.Width != 1920 || cn.Height != 1080 || !cn.WindowDestroyed {
		t.Errorf("ConfigureNotify = %+v, want {1920 1080 true}", cn)
	}
}

func TestDecodePresentEventIdleNotify(t *testing.T) {
	data := make([]byte, 32)
	byteOrder.PutUint32(data[8:], 7)   // Serial
	byteOrder.PutUint32(data[12:], 9)  // Pixmap

	got, err := DecodePresentEvent(presentEvtIdleNotify, data)
	if err != nil {
		t.Fatalf("DecodePresentEvent: %v", err)
	}
	in, ok := got.(IdleNotify)
	if !ok {
		t.Fatalf("DecodePresentEvent returned %T, want IdleNotify", got)
	}
	if in.Serial != 7 || in.Pixmap != 9 {
		t.Errorf("IdleNotify = %+v, want {Serial:7 Pixmap:9}", in)
	}
}
