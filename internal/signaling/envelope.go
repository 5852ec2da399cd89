package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Server-generated envelope types. Client-originated types (offer, answer,
// candidate, ...) are opaque tags and pass through unvalidated.
const (
	TypeExistingUsers = "existing-users"
	TypeUserJoined    = "user-joined"
	TypeUserLeft      = "user-left"
)

// Envelope is the unit of wire communication.
//
// Target is only meaningful on client-to-server messages and requests direct
// routing. Sender is only present on server-to-client messages and is always
// injected by the relay; an inbound Sender value is never trusted, which
// makes origin spoofing impossible.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Target  string          `json:"target,omitempty"`
	Sender  string          `json:"sender,omitempty"`
}

// DecodeError reports a malformed inbound envelope. It is recovered locally:
// the message is dropped and the connection stays up.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode envelope: %s: %v", e.Reason, e.Err)
	}
	return "decode envelope: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ParseEnvelope decodes one inbound wire message.
//
// The decode is strict about framing (no trailing data) and requires a
// non-empty type tag, but deliberately tolerates unknown fields and arbitrary
// payloads: signaling schemas belong to the clients, not the relay.
func ParseEnvelope(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, &DecodeError{Reason: "invalid json", Err: err}
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Envelope{}, &DecodeError{Reason: "trailing data"}
	}
	if env.Type == "" {
		return Envelope{}, &DecodeError{Reason: "missing type"}
	}
	return env, nil
}

type existingUsersPayload struct {
	Users []string `json:"users"`
}

type memberPayload struct {
	ClientID string `json:"clientId"`
}

func existingUsersMessage(users []string) []byte {
	if users == nil {
		users = []string{}
	}
	return mustMarshal(Envelope{
		Type:    TypeExistingUsers,
		Payload: mustMarshalRaw(existingUsersPayload{Users: users}),
	})
}

func userJoinedMessage(clientID string) []byte {
	return mustMarshal(Envelope{
		Type:    TypeUserJoined,
		Payload: mustMarshalRaw(memberPayload{ClientID: clientID}),
	})
}

func userLeftMessage(clientID string) []byte {
	return mustMarshal(Envelope{
		Type:    TypeUserLeft,
		Payload: mustMarshalRaw(memberPayload{ClientID: clientID}),
	})
}

func forwardedMessage(env Envelope, senderID string) []byte {
	return mustMarshal(Envelope{
		Type:    env.Type,
		Payload: env.Payload,
		Sender:  senderID,
	})
}

// mustMarshal is only used for server-constructed envelopes, which are built
// from plain structs and raw payloads that already round-tripped json.Decode.
func mustMarshal(env Envelope) []byte {
	data, err := json.Marshal(env)
	if err != nil {
		panic(err)
	}
	return data
}

func mustMarshalRaw(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
