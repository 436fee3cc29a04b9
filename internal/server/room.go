package server

import (
	"net/http"

	"github.com/Tyrowin/projectpulse/internal/auth"
	"github.com/Tyrowin/projectpulse/internal/broadcast"
)

// room decides whether an authenticated identity may open a connection and
// builds the per-connection session when it may.
type room interface {
	name() string
	// admit runs before the upgrade. A non-nil refusal aborts the handshake
	// with the refusal's status code.
	admit(r *http.Request, id auth.Identity) (session, *refusal)
}

// session is the per-connection state machine of a room.
type session interface {
	name() string
	// groups are joined, in order, before onJoin runs.
	groups() []broadcast.GroupKey
	// accepts filters registry events before they reach the send queue.
	accepts(ev broadcast.Event) bool
	onJoin(c *Client)
	handle(c *Client, raw []byte)
	// onLeave runs on the read goroutine before the connection leaves its
	// groups, so members still present observe anything it publishes.
	onLeave(c *Client)
}

type refusal struct {
	status int
	reason string
}

func (r *refusal) Error() string { return r.reason }

func refuse(status int, reason string) *refusal {
	return &refusal{status: status, reason: reason}
}

// acceptTypes returns a filter that passes only the given event types.
func acceptTypes(types ...string) func(broadcast.Event) bool {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(ev broadcast.Event) bool {
		_, ok := set[ev.Type]
		return ok
	}
}
