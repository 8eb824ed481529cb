package v1

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{name: "ok", env: Envelope{V: Version, Type: TypeArchiveQuery}},
		{name: "missing version", env: Envelope{Type: TypeHello}, wantErr: true},
		{name: "wrong version", env: Envelope{V: "v2", Type: TypeHello}, wantErr: true},
		{name: "missing type", env: Envelope{V: Version}, wantErr: true},
		{name: "unknown type", env: Envelope{V: Version, Type: "conversation_join"}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.env.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate()=%v wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestArchiveResultWireShape(t *testing.T) {
	t.Parallel()

	stamp := time.Date(2014, 1, 2, 0, 0, 0, 0, time.UTC)
	b, err := json.Marshal(ArchiveResultPayload{
		QueryID: "q1",
		ID:      "01HZX",
		Forwarded: Forwarded{
			Delay:   Delay{Stamp: stamp, From: "alice@example.com"},
			Message: Message{To: "bob@example.com", Body: "hi"},
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	fwd, ok := m["forwarded"].(map[string]any)
	if !ok {
		t.Fatalf("missing forwarded: %s", b)
	}
	delay, ok := fwd["delay"].(map[string]any)
	if !ok || delay["stamp"] != "2014-01-02T00:00:00Z" {
		t.Fatalf("unexpected delay: %s", b)
	}
}
