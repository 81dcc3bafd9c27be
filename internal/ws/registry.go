package ws

import "sync"

// ConnState is the per-connection record the relay keeps instead of stashing
// ad hoc fields on the socket. It only ever changes through Registry methods.
type ConnState struct {
	AuthToken      string
	UserID         int
	ConversationID int
	Joined         bool
}

// Authenticated reports whether the connection has supplied a bearer token,
// either at upgrade time or through an authenticate frame.
func (s ConnState) Authenticated() bool {
	return s.AuthToken != ""
}

// Registry maps live connections to their state. A connection's record is
// created on upgrade and dropped on close; reconnects start from scratch.
type Registry struct {
	mu    sync.RWMutex
	conns map[*Client]ConnState
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[*Client]ConnState)}
}

func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	r.conns[c] = ConnState{}
	r.mu.Unlock()
}

func (r *Registry) Remove(c *Client) {
	r.mu.Lock()
	delete(r.conns, c)
	r.mu.Unlock()
}

// Authenticate stores the bearer token and the user id resolved from it.
func (r *Registry) Authenticate(c *Client, token string, userID int) {
	r.mu.Lock()
	state := r.conns[c]
	state.AuthToken = token
	state.UserID = userID
	r.conns[c] = state
	r.mu.Unlock()
}

// Join retargets the connection at a room. Any integer is accepted; there is
// no membership check against the upstream API, and joining again simply
// switches rooms.
func (r *Registry) Join(c *Client, conversationID int) {
	r.mu.Lock()
	state := r.conns[c]
	state.ConversationID = conversationID
	state.Joined = true
	r.conns[c] = state
	r.mu.Unlock()
}

func (r *Registry) Lookup(c *Client) (ConnState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.conns[c]
	return state, ok
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
