package archive

import (
	"encoding/json"
	"fmt"

	"mam/cmd/identity"
)

// Persisted record layout, shared by every backend and read directly by
// external tooling. Changing a field name is a schema change.
//
//	messages {
//	  user, server          owner (bare JID parts)
//	  jid {user, server, resource?}   counterpart
//	  body, direction ("out"|"in"), ts, raw
//	}
const (
	CollectionMessages = "messages"

	fieldUser      = "user"
	fieldServer    = "server"
	fieldJID       = "jid"
	fieldBody      = "body"
	fieldDirection = "direction"
	fieldTS        = "ts"
	fieldRaw       = "raw"
)

// jidDoc is the counterpart sub-document.
type jidDoc struct {
	User     string `json:"user" bson:"user"`
	Server   string `json:"server" bson:"server"`
	Resource string `json:"resource,omitempty" bson:"resource,omitempty"`
}

func newJIDDoc(j identity.JID) jidDoc {
	return jidDoc{User: j.User, Server: j.Server, Resource: j.Resource}
}

func marshalJIDDoc(j identity.JID) ([]byte, error) {
	b, err := json.Marshal(newJIDDoc(j))
	if err != nil {
		return nil, fmt.Errorf("archive: marshal jid: %w", err)
	}
	return b, nil
}
