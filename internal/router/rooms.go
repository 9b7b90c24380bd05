package router

import "sync"

// table tracks which connections belong to which users and which room each
// connection has joined. It is the in-process index the router fans out
// against; durable group membership lives in Postgres and is consulted only
// at join time.
type table struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]struct{} // group id -> conn id set
	byConn map[string]map[string]struct{} // conn id -> group id set
	users  map[string]map[string]struct{} // user id -> conn id set
	owner  map[string]string              // conn id -> user id
}

func newTable() *table {
	return &table{
		rooms:  make(map[string]map[string]struct{}),
		byConn: make(map[string]map[string]struct{}),
		users:  make(map[string]map[string]struct{}),
		owner:  make(map[string]string),
	}
}

// bind associates a connection with its authenticated user.
func (t *table) bind(connID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.owner[connID] = userID
	set, ok := t.users[userID]
	if !ok {
		set = make(map[string]struct{})
		t.users[userID] = set
	}
	set[connID] = struct{}{}
}

// drop removes a connection from the user index and every room it joined.
// It returns the bound user id, or "" if the connection never authenticated.
func (t *table) drop(connID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	for groupID := range t.byConn[connID] {
		delete(t.rooms[groupID], connID)
		if len(t.rooms[groupID]) == 0 {
			delete(t.rooms, groupID)
		}
	}
	delete(t.byConn, connID)

	userID, ok := t.owner[connID]
	if !ok {
		return ""
	}
	delete(t.owner, connID)
	delete(t.users[userID], connID)
	if len(t.users[userID]) == 0 {
		delete(t.users, userID)
	}
	return userID
}

// join adds a connection to a room. Joining twice is a no-op.
func (t *table) join(groupID, connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.rooms[groupID]
	if !ok {
		set = make(map[string]struct{})
		t.rooms[groupID] = set
	}
	set[connID] = struct{}{}

	back, ok := t.byConn[connID]
	if !ok {
		back = make(map[string]struct{})
		t.byConn[connID] = back
	}
	back[groupID] = struct{}{}
}

// leave removes a connection from a room. Leaving a room the connection is
// not in is a no-op.
func (t *table) leave(groupID, connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.rooms[groupID], connID)
	if len(t.rooms[groupID]) == 0 {
		delete(t.rooms, groupID)
	}
	delete(t.byConn[connID], groupID)
}

// inRoom reports whether the connection has joined the room.
func (t *table) inRoom(groupID, connID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.rooms[groupID][connID]
	return ok
}

// members returns a snapshot of the connection ids in the room.
func (t *table) members(groupID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.rooms[groupID]))
	for id := range t.rooms[groupID] {
		ids = append(ids, id)
	}
	return ids
}

// connsFor returns a snapshot of the connection ids bound to the user.
func (t *table) connsFor(userID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.users[userID]))
	for id := range t.users[userID] {
		ids = append(ids, id)
	}
	return ids
}

// roomCount returns the number of rooms with at least one live connection.
func (t *table) roomCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms)
}
