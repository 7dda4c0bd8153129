package grpcx

import "testing"

func TestRawCodecRoundTrip(t *testing.T) {
	c := RawCodec{}
	in := &Frame{Payload: []byte(`{"text":"hi"}`)}

	b, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out Frame
	if err := c.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(out.Payload) != `{"text":"hi"}` {
		t.Fatalf("payload = %s", out.Payload)
	}
}

func TestRawCodecMarshalRejectsNonFrame(t *testing.T) {
	c := RawCodec{}
	if _, err := c.Marshal("not a frame"); err == nil {
		t.Fatalf("Marshal: want error for non-*Frame value")
	}
}

func TestRawCodecUnmarshalRejectsNonFrame(t *testing.T) {
	c := RawCodec{}
	var notAFrame string
	if err := c.Unmarshal([]byte("data"), &notAFrame); err == nil {
		t.Fatalf("Unmarshal: want error for non-*Frame target")
	}
}

func TestRawCodecName(t *testing.T) {
	if RawCodec{}.Name() != "proto" {
		t.Fatalf("Name() = %q, want %q", RawCodec{}.Name(), "proto")
	}
}
