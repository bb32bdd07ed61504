package protocol

import (
	"bytes"
	"encoding/json"
)

// Envelope frames every message on the socket, in both directions.
// Requests that expect an ack carry a client-chosen Seq; the broker answers
// with an "ack" envelope echoing the same Seq.
type Envelope struct {
	Event string          `json:"event"`
	Seq   uint64          `json:"seq,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EventAck is the reserved envelope name for request callbacks.
const EventAck = "ack"

// DecodeEnvelope parses a raw text frame into an Envelope.
func DecodeEnvelope(frame []byte) (*Envelope, *Error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, invalidPayload("malformed envelope: %v", err)
	}
	if env.Event == "" {
		return nil, invalidPayload("envelope event is required")
	}
	return &env, nil
}

// DecodeStrict unmarshals an event payload rejecting unknown fields.
// Opaque blobs (controller input, signals) survive because they are typed
// json.RawMessage inside the payload structs, not unknown fields.
func DecodeStrict(data json.RawMessage, v any) *Error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalidPayload("malformed payload: %v", err)
	}
	return nil
}

// EncodeEvent marshals a fire-and-forget server event.
func EncodeEvent(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// EncodeAck marshals the callback for the request identified by seq.
func EncodeAck(seq uint64, ack Ack) ([]byte, error) {
	data, err := json.Marshal(ack)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: EventAck, Seq: seq, Data: data})
}
