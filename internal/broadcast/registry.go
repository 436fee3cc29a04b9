package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"
)

// Member is a connection that can be joined to groups.
type Member interface {
	ID() string
	// Deliver enqueues an already encoded frame without blocking. It returns
	// false when the frame was not queued.
	Deliver(ev Event, frame []byte) bool
}

// Publisher is the inbound interface the rest of the system uses to push
// events to connected clients.
type Publisher interface {
	Publish(key GroupKey, eventType string, payload any) int
}

type group struct {
	mu      sync.RWMutex
	members map[string]Member
	// dead is set once the group has been removed from the map; a joiner that
	// raced with the removal must retry against a fresh group.
	dead bool
}

// memberSet is copy-on-write so that values read from the index are never
// mutated afterwards.
type memberSet map[GroupKey]struct{}

// Registry maintains the member to group mapping and fans events out to
// current members of a group.
type Registry struct {
	groups cmap.ConcurrentMap[GroupKey, *group]
	joined cmap.ConcurrentMap[string, memberSet]
	logger *zap.Logger
	now    func() time.Time
}

var _ Publisher = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		groups: cmap.NewStringer[GroupKey, *group](),
		joined: cmap.New[memberSet](),
		logger: logger,
		now:    time.Now,
	}
}

// Join adds m to the group. Joining twice is a no-op.
func (r *Registry) Join(m Member, key GroupKey) {
	for {
		g := r.groups.Upsert(key, nil, func(exist bool, cur, _ *group) *group {
			if exist {
				return cur
			}
			return &group{members: make(map[string]Member)}
		})

		g.mu.Lock()
		if g.dead {
			g.mu.Unlock()
			continue
		}
		g.members[m.ID()] = m
		g.mu.Unlock()
		break
	}

	r.joined.Upsert(m.ID(), nil, func(exist bool, cur, _ memberSet) memberSet {
		next := make(memberSet, len(cur)+1)
		for k := range cur {
			next[k] = struct{}{}
		}
		next[key] = struct{}{}
		return next
	})
	r.logger.Debug("joined group", zap.String("conn", m.ID()), zap.Stringer("group", key))
}

// Leave removes m from the group and drops the group once it is empty.
// Leaving a group m is not part of is a no-op.
func (r *Registry) Leave(m Member, key GroupKey) {
	r.leaveGroup(m.ID(), key)

	remaining := r.joined.Upsert(m.ID(), nil, func(_ bool, cur, _ memberSet) memberSet {
		next := make(memberSet, len(cur))
		for k := range cur {
			if k != key {
				next[k] = struct{}{}
			}
		}
		return next
	})
	if len(remaining) == 0 {
		r.joined.RemoveCb(m.ID(), func(_ string, v memberSet, exists bool) bool {
			return exists && len(v) == 0
		})
	}
}

// LeaveAll removes m from every group it belongs to.
func (r *Registry) LeaveAll(m Member) {
	keys, ok := r.joined.Pop(m.ID())
	if !ok {
		return
	}
	for key := range keys {
		r.leaveGroup(m.ID(), key)
	}
	r.logger.Debug("left all groups", zap.String("conn", m.ID()), zap.Int("groups", len(keys)))
}

func (r *Registry) leaveGroup(memberID string, key GroupKey) {
	g, ok := r.groups.Get(key)
	if !ok {
		return
	}

	g.mu.Lock()
	delete(g.members, memberID)
	empty := len(g.members) == 0
	g.mu.Unlock()

	if !empty {
		return
	}
	r.groups.RemoveCb(key, func(_ GroupKey, v *group, exists bool) bool {
		if !exists {
			return false
		}
		v.mu.Lock()
		defer v.mu.Unlock()
		if len(v.members) > 0 {
			return false
		}
		v.dead = true
		return true
	})
}

// Publish builds an event stamped with the current time and fans it out.
// It returns the number of members that accepted the frame.
func (r *Registry) Publish(key GroupKey, eventType string, payload any) int {
	return r.PublishEvent(Event{Group: key, Type: eventType, Payload: payload})
}

// PublishEvent fans ev out to a snapshot of the group's members. Publishing to
// a group without members is a no-op.
func (r *Registry) PublishEvent(ev Event) int {
	members := r.snapshot(ev.Group)
	if len(members) == 0 {
		return 0
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now()
	}

	frame, err := json.Marshal(Envelope{Type: ev.Type, Data: ev.Payload})
	if err != nil {
		r.logger.Error("encoding event", zap.Stringer("group", ev.Group), zap.String("type", ev.Type), zap.Error(err))
		return 0
	}

	delivered := 0
	for _, m := range members {
		if m.Deliver(ev, frame) {
			delivered++
		}
	}
	r.logger.Debug("published event",
		zap.Stringer("group", ev.Group),
		zap.String("type", ev.Type),
		zap.Int("members", len(members)),
		zap.Int("delivered", delivered))
	return delivered
}

func (r *Registry) snapshot(key GroupKey) []Member {
	g, ok := r.groups.Get(key)
	if !ok {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	members := make([]Member, 0, len(g.members))
	for _, m := range g.members {
		members = append(members, m)
	}
	return members
}

// GroupsOf returns the groups m currently belongs to.
func (r *Registry) GroupsOf(m Member) []GroupKey {
	set, ok := r.joined.Get(m.ID())
	if !ok {
		return nil
	}
	keys := make([]GroupKey, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	return keys
}

// MemberCount returns the number of members of a group.
func (r *Registry) MemberCount(key GroupKey) int {
	g, ok := r.groups.Get(key)
	if !ok {
		return 0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

// Stats returns the number of live groups and of members joined to at least
// one group.
func (r *Registry) Stats() (groups, members int) {
	return r.groups.Count(), r.joined.Count()
}
