package signaling

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Envelope
		wantErr string
	}{
		{
			name:  "targeted offer",
			input: `{"type":"offer","target":"bob","payload":{"sdp":"v=0"}}`,
			want:  Envelope{Type: "offer", Target: "bob", Payload: json.RawMessage(`{"sdp":"v=0"}`)},
		},
		{
			name:  "payload may be any json value",
			input: `{"type":"candidate","target":"bob","payload":"raw-string"}`,
			want:  Envelope{Type: "candidate", Target: "bob", Payload: json.RawMessage(`"raw-string"`)},
		},
		{
			name:  "no payload",
			input: `{"type":"bye","target":"bob"}`,
			want:  Envelope{Type: "bye", Target: "bob"},
		},
		{
			name:  "unknown fields tolerated",
			input: `{"type":"offer","target":"bob","extra":42}`,
			want:  Envelope{Type: "offer", Target: "bob"},
		},
		{
			name:  "inbound sender is parsed but never trusted",
			input: `{"type":"offer","target":"bob","sender":"mallory"}`,
			want:  Envelope{Type: "offer", Target: "bob", Sender: "mallory"},
		},
		{
			name:    "not json",
			input:   `hello`,
			wantErr: "invalid json",
		},
		{
			name:    "wrong top-level type",
			input:   `["offer"]`,
			wantErr: "invalid json",
		},
		{
			name:    "missing type",
			input:   `{"target":"bob"}`,
			wantErr: "missing type",
		},
		{
			name:    "empty type",
			input:   `{"type":""}`,
			wantErr: "missing type",
		},
		{
			name:    "trailing data",
			input:   `{"type":"offer"}{"type":"offer"}`,
			wantErr: "trailing data",
		},
		{
			name:    "trailing garbage",
			input:   `{"type":"offer"} nonsense`,
			wantErr: "trailing data",
		},
		{
			name:    "empty input",
			input:   ``,
			wantErr: "invalid json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseEnvelope([]byte(tt.input))
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("ParseEnvelope(%q) = %+v, want error containing %q", tt.input, env, tt.wantErr)
				}
				var decErr *DecodeError
				if !errors.As(err, &decErr) {
					t.Fatalf("error %v is not a *DecodeError", err)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error %q does not mention %q", err.Error(), tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEnvelope(%q) error: %v", tt.input, err)
			}
			if env.Type != tt.want.Type || env.Target != tt.want.Target || env.Sender != tt.want.Sender {
				t.Fatalf("envelope = %+v, want %+v", env, tt.want)
			}
			if string(env.Payload) != string(tt.want.Payload) {
				t.Fatalf("payload = %s, want %s", env.Payload, tt.want.Payload)
			}
		})
	}
}

func TestExistingUsersMessage(t *testing.T) {
	env, err := ParseEnvelope(existingUsersMessage([]string{"alice", "bob"}))
	if err != nil {
		t.Fatal(err)
	}
	if env.Type != TypeExistingUsers {
		t.Fatalf("type = %q", env.Type)
	}
	var p existingUsersPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if len(p.Users) != 2 || p.Users[0] != "alice" || p.Users[1] != "bob" {
		t.Fatalf("users = %v", p.Users)
	}
}

func TestExistingUsersMessage_EmptyIsArrayNotNull(t *testing.T) {
	data := existingUsersMessage(nil)
	if !strings.Contains(string(data), `"users":[]`) {
		t.Fatalf("empty room snapshot must serialize as an empty array, got %s", data)
	}
}

func TestMembershipMessages(t *testing.T) {
	for _, tt := range []struct {
		data     []byte
		wantType string
	}{
		{userJoinedMessage("alice"), TypeUserJoined},
		{userLeftMessage("alice"), TypeUserLeft},
	} {
		env, err := ParseEnvelope(tt.data)
		if err != nil {
			t.Fatal(err)
		}
		if env.Type != tt.wantType {
			t.Fatalf("type = %q, want %q", env.Type, tt.wantType)
		}
		var p memberPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.Fatal(err)
		}
		if p.ClientID != "alice" {
			t.Fatalf("clientId = %q", p.ClientID)
		}
	}
}

func TestForwardedMessage(t *testing.T) {
	in, err := ParseEnvelope([]byte(`{"type":"offer","target":"bob","sender":"forged","payload":{"sdp":"v=0"}}`))
	if err != nil {
		t.Fatal(err)
	}

	out, err := ParseEnvelope(forwardedMessage(in, "alice"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Sender != "alice" {
		t.Fatalf("sender = %q, want the relay-injected identity", out.Sender)
	}
	if out.Target != "" {
		t.Fatalf("target = %q, must not be echoed back out", out.Target)
	}
	if out.Type != "offer" || string(out.Payload) != `{"sdp":"v=0"}` {
		t.Fatalf("forwarded envelope = %+v", out)
	}
}
