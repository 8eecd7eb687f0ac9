package wire

import (
	"encoding/json"
	"time"

	"nymquest/internal/authtag"
)

// Authenticated is the keyed-MAC envelope of spec §4.2.
type Authenticated[T any] struct {
	Message   T      `json:"message"`
	AuthTag   string `json:"auth_tag"`
	ExpiresAt *int64 `json:"expires_at,omitempty"`
}

// Padded is the size-normalizing outer envelope of spec §4.1.
type Padded[T any] struct {
	Message T      `json:"message"`
	Padding []byte `json:"padding"`
}

// RotationInterval controls how often deterministic jitter is layered onto
// the padding bucket (spec §4.1: "every rotation_interval messages").
const RotationInterval = 20

// Encode wraps msg in Authenticated then Padded and serializes to JSON.
// counter is the sender's outbound message counter (both endpoints pass the
// message's sequence number), used only to derive the padding rotation
// jitter; Encode never writes it into the message. expiresAt is optional
// (nil disables expiry checking).
func Encode[T any](msg T, key authtag.Key, counter uint64, expiresAt *int64) ([]byte, error) {
	inner, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	tag, err := key.Tag(inner)
	if err != nil {
		return nil, err
	}
	auth := Authenticated[T]{Message: msg, AuthTag: tag, ExpiresAt: expiresAt}

	authSerialized, err := json.Marshal(auth)
	if err != nil {
		return nil, err
	}
	pad, err := padBytes(len(authSerialized), counter, RotationInterval)
	if err != nil {
		return nil, err
	}
	wrapped := Padded[Authenticated[T]]{Message: auth, Padding: pad}
	return json.Marshal(wrapped)
}

// shapeProbe is used to sniff which of the three accepted shapes a payload
// is, without committing to a type parameter.
type shapeProbe struct {
	Message json.RawMessage `json:"message"`
	Padding json.RawMessage `json:"padding"`
}

type authProbe struct {
	AuthTag json.RawMessage `json:"auth_tag"`
}

// Decode accepts, in priority order: Padded<Authenticated<M>>,
// Authenticated<M>, raw M (spec §4.1). It verifies the auth tag whenever an
// Authenticated envelope is present; raw messages are accepted unauthenticated
// only for backward-compatibility during rollouts, per spec.
func Decode[T any](data []byte, key authtag.Key, now time.Time) (msg T, authenticated bool, err error) {
	var outer shapeProbe
	if err := json.Unmarshal(data, &outer); err == nil && outer.Message != nil {
		// Could be Padded<Authenticated<M>> or Authenticated<M> itself
		// (Authenticated also has a top-level "message" field). Disambiguate
		// by checking for auth_tag at this level vs one level down.
		var probe authProbe
		_ = json.Unmarshal(data, &probe)
		if probe.AuthTag != nil {
			// This is Authenticated<M> directly (no padding wrapper).
			var auth Authenticated[T]
			if err := json.Unmarshal(data, &auth); err != nil {
				return msg, false, err
			}
			return finishAuthenticated(auth, key, now)
		}
		// Padded<Authenticated<M>>: unwrap one level and check for auth_tag.
		var innerProbe authProbe
		if err := json.Unmarshal(outer.Message, &innerProbe); err == nil && innerProbe.AuthTag != nil {
			var auth Authenticated[T]
			if err := json.Unmarshal(outer.Message, &auth); err != nil {
				return msg, false, err
			}
			return finishAuthenticated(auth, key, now)
		}
		// Padded<M> with no authentication anywhere, or Padded wraps raw M.
		var raw T
		if err := json.Unmarshal(outer.Message, &raw); err == nil {
			return raw, false, nil
		}
	}

	// Fall back to raw M (backward compatibility).
	var raw T
	if err := json.Unmarshal(data, &raw); err != nil {
		return msg, false, err
	}
	return raw, false, nil
}

func finishAuthenticated[T any](auth Authenticated[T], key authtag.Key, now time.Time) (T, bool, error) {
	inner, err := json.Marshal(auth.Message)
	if err != nil {
		return auth.Message, false, err
	}
	if err := key.Verify(inner, auth.AuthTag, auth.ExpiresAt, now); err != nil {
		return auth.Message, false, err
	}
	return auth.Message, true, nil
}
