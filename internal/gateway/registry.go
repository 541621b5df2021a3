package gateway

import (
	"sync"
)

// Registry tracks live connections and their room memberships. Rooms are
// also ref-counted per identity so the subscription budget can be charged
// once per (identity, room) pair rather than once per connection.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Conn            // connection ID -> conn
	byUser map[string]map[string]*Conn // user ID -> connection ID -> conn
	byRoom map[string]map[string]*Conn // room -> connection ID -> conn

	// identityRooms counts, per identity key, how many of that identity's
	// connections sit in each room.
	identityRooms map[string]map[string]int
}

func NewRegistry() *Registry {
	return &Registry{
		conns:         make(map[string]*Conn),
		byUser:        make(map[string]map[string]*Conn),
		byRoom:        make(map[string]map[string]*Conn),
		identityRooms: make(map[string]map[string]int),
	}
}

func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID] = c
	if userID := c.UserID(); userID != "" {
		if r.byUser[userID] == nil {
			r.byUser[userID] = make(map[string]*Conn)
		}
		r.byUser[userID][c.ID] = c
	}
}

// Remove drops the connection from every index and returns the rooms this
// identity no longer holds on any connection, so the caller can release
// their budget units.
func (r *Registry) Remove(c *Conn) (released []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.ID]; !ok {
		return nil
	}
	delete(r.conns, c.ID)
	if userID := c.UserID(); userID != "" {
		delete(r.byUser[userID], c.ID)
		if len(r.byUser[userID]) == 0 {
			delete(r.byUser, userID)
		}
	}
	key := identityKey(c)
	for _, room := range c.Rooms() {
		if r.leaveLocked(c, key, room) {
			released = append(released, room)
		}
	}
	return released
}

// Join adds the connection to room. The boolean is true when this is the
// first of the identity's connections to enter the room, i.e. the join that
// consumed a budget unit.
func (r *Registry) Join(c *Conn, room string) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byRoom[room] == nil {
		r.byRoom[room] = make(map[string]*Conn)
	}
	if _, ok := r.byRoom[room][c.ID]; ok {
		return false
	}
	r.byRoom[room][c.ID] = c
	c.addRoom(room)

	key := identityKey(c)
	if r.identityRooms[key] == nil {
		r.identityRooms[key] = make(map[string]int)
	}
	r.identityRooms[key][room]++
	return r.identityRooms[key][room] == 1
}

// Leave removes the connection from room. The boolean is true when no
// connection of the identity remains in the room, i.e. a budget unit can be
// released.
func (r *Registry) Leave(c *Conn, room string) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byRoom[room][c.ID]; !ok {
		return false
	}
	return r.leaveLocked(c, identityKey(c), room)
}

func (r *Registry) leaveLocked(c *Conn, key, room string) (last bool) {
	delete(r.byRoom[room], c.ID)
	if len(r.byRoom[room]) == 0 {
		delete(r.byRoom, room)
	}
	c.removeRoom(room)

	rooms := r.identityRooms[key]
	if rooms == nil {
		return false
	}
	rooms[room]--
	if rooms[room] > 0 {
		return false
	}
	delete(rooms, room)
	if len(rooms) == 0 {
		delete(r.identityRooms, key)
	}
	return true
}

// InRoom returns the connections currently in room.
func (r *Registry) InRoom(room string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Conn, 0, len(r.byRoom[room]))
	for _, c := range r.byRoom[room] {
		conns = append(conns, c)
	}
	return conns
}

// ForUser returns every connection authenticated as userID.
func (r *Registry) ForUser(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Conn, 0, len(r.byUser[userID]))
	for _, c := range r.byUser[userID] {
		conns = append(conns, c)
	}
	return conns
}

// All returns every live connection.
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// Counts returns total and authenticated connection counts plus the number
// of active rooms.
func (r *Registry) Counts() (total, authenticated, rooms int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total = len(r.conns)
	for _, conns := range r.byUser {
		authenticated += len(conns)
	}
	return total, authenticated, len(r.byRoom)
}

// identityKey is the aggregation key for budget accounting: the user ID for
// authenticated connections, the connection ID otherwise so anonymous
// connections never pool.
func identityKey(c *Conn) string {
	if userID := c.UserID(); userID != "" {
		return userID
	}
	return "conn:" + c.ID
}
