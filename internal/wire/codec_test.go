package wire

import (
	"testing"
	"time"

	"nymquest/internal/authtag"
	"nymquest/internal/protocol"
)

func testKey(t *testing.T) authtag.Key {
	t.Helper()
	k, err := authtag.NewRandomKey()
	if err != nil {
		t.Fatalf("NewRandomKey: %v", err)
	}
	return k
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	k := testKey(t)
	msg := ClientMessage{Kind: ClientMove, Seq: 42, Move: &MoveBody{Direction: protocol.DirUp}}

	data, err := Encode(msg, k, 1, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, authenticated, err := Decode[ClientMessage](data, k, time.Now())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !authenticated {
		t.Error("expected decoded message to be authenticated")
	}
	if decoded.Seq != msg.Seq || decoded.Kind != msg.Kind {
		t.Errorf("got %+v, want %+v", decoded, msg)
	}
}

func TestDecodeWrongKeyFailsAuthentication(t *testing.T) {
	k1 := testKey(t)
	k2 := testKey(t)
	msg := ClientMessage{Kind: ClientChat, Seq: 1, Chat: &ChatBody{Message: "hi"}}

	data, err := Encode(msg, k1, 1, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	_, authenticated, err := Decode[ClientMessage](data, k2, time.Now())
	if authenticated {
		t.Error("expected authentication to fail with the wrong key")
	}
	if err == nil {
		t.Error("expected an error verifying with the wrong key")
	}
}

func TestEncodeOutputIsPaddedToBucket(t *testing.T) {
	k := testKey(t)
	msg := ClientMessage{Kind: ClientHeartbeat, Seq: 1}
	data, err := Encode(msg, k, 1, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// The serialized Padded<Authenticated<T>> envelope itself carries extra
	// JSON structure, but the padding field contents should make the overall
	// payload at least as large as the smallest bucket.
	if len(data) < sizeBuckets[0] {
		t.Errorf("encoded payload is %d bytes, want at least the smallest bucket (%d)", len(data), sizeBuckets[0])
	}
}

func TestPadBytesRejectsOversizedPayload(t *testing.T) {
	_, err := padBytes(MaxAllowedSize+1, 1, RotationInterval)
	if err == nil {
		t.Error("expected ErrTooLarge for an oversized payload")
	}
}

func TestPadBytesTargetsSmallestBucket(t *testing.T) {
	pad, err := padBytes(100, 1, 0)
	if err != nil {
		t.Fatalf("padBytes: %v", err)
	}
	if len(pad) != sizeBuckets[0]-100 {
		t.Errorf("got pad len %d, want %d", len(pad), sizeBuckets[0]-100)
	}
}

func TestJitterFractionOnlyFiresOnRotation(t *testing.T) {
	if jitterFraction(1, 20) != 0 {
		t.Error("jitter should be zero off the rotation boundary")
	}
	if jitterFraction(20, 20) == 0 {
		// Not guaranteed nonzero for every counter, but with this multiplier
		// and modulus it is nonzero for 20.
		t.Skip("deterministic hash happened to land on zero for this counter")
	}
}
