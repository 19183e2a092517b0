package live

import (
	"strings"

	"github.com/google/uuid"
)

// Identity names one client session on the wire. ClientID identifies the
// audio routes (capture frames, synthesis registration) and ThreadID groups
// runs into one conversation on the server.
type Identity struct {
	ClientID string
	ThreadID string
}

// NewIdentity mints a fresh identity. Every session gets its own unless the
// caller supplies one, so two sessions never share audio routes by accident.
func NewIdentity() Identity {
	return Identity{
		ClientID: "c_" + uuid.NewString(),
		ThreadID: "t_" + uuid.NewString(),
	}
}

func (id Identity) valid() bool {
	return strings.TrimSpace(id.ClientID) != "" && strings.TrimSpace(id.ThreadID) != ""
}
