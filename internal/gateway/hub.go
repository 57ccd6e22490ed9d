package gateway

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/protocol"
)

// initialLines is how much of an agent log a new follower receives.
const initialLines = 20

type room struct {
	members map[*peer]struct{}
	history []string
}

type agentLog struct {
	peers map[*peer]struct{}
	lines []string
}

// hub holds room membership and agent logs. Entries live while at least
// one peer is attached.
type hub struct {
	limit int

	mu     sync.Mutex
	seq    uint64
	rooms  map[protocol.ConnectionKey]*room
	agents map[protocol.ConnectionKey]*agentLog
}

func newHub(limit int) *hub {
	return &hub{
		limit:  limit,
		rooms:  make(map[protocol.ConnectionKey]*room),
		agents: make(map[protocol.ConnectionKey]*agentLog),
	}
}

func (h *hub) nextID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	return fmt.Sprintf("m-%d", h.seq)
}

func (h *hub) join(key protocol.ConnectionKey, p *peer) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[key]
	if !ok {
		r = &room{members: make(map[*peer]struct{})}
		h.rooms[key] = r
	}
	r.members[p] = struct{}{}
	return r.usersLocked()
}

func (h *hub) leave(key protocol.ConnectionKey, p *peer) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[key]
	if !ok {
		return nil
	}
	delete(r.members, p)
	if len(r.members) == 0 {
		delete(h.rooms, key)
		return nil
	}
	return r.usersLocked()
}

func (r *room) usersLocked() []string {
	users := make([]string, 0, len(r.members))
	for p := range r.members {
		users = append(users, p.user)
	}
	sort.Strings(users)
	return users
}

// post records line in the history of key and returns its members.
func (h *hub) post(key protocol.ConnectionKey, line string) []*peer {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[key]
	if !ok {
		return nil
	}
	if line != "" {
		r.history = h.trim(append(r.history, line))
	}
	out := make([]*peer, 0, len(r.members))
	for p := range r.members {
		out = append(out, p)
	}
	return out
}

func (h *hub) roomHistory(key protocol.ConnectionKey, before string, limit int) protocol.LogLines {
	h.mu.Lock()
	defer h.mu.Unlock()

	var lines []string
	if r, ok := h.rooms[key]; ok {
		lines = r.history
	}
	return page(lines, before, limit)
}

// attach registers p on the log of key and returns its latest lines.
func (h *hub) attach(key protocol.ConnectionKey, p *peer) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, ok := h.agents[key]
	if !ok {
		l = &agentLog{peers: make(map[*peer]struct{})}
		h.agents[key] = l
	}
	l.peers[p] = struct{}{}
	return h.tailLocked(l)
}

func (h *hub) detach(key protocol.ConnectionKey, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if l, ok := h.agents[key]; ok {
		delete(l.peers, p)
		if len(l.peers) == 0 {
			delete(h.agents, key)
		}
	}
}

func (h *hub) tail(key protocol.ConnectionKey) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if l, ok := h.agents[key]; ok {
		return h.tailLocked(l)
	}
	return nil
}

func (h *hub) tailLocked(l *agentLog) []string {
	start := len(l.lines) - initialLines
	if start < 0 {
		start = 0
	}
	return append([]string(nil), l.lines[start:]...)
}

// log appends line to the log of key and returns its followers.
func (h *hub) log(key protocol.ConnectionKey, line string) []*peer {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, ok := h.agents[key]
	if !ok {
		l = &agentLog{peers: make(map[*peer]struct{})}
		h.agents[key] = l
	}
	l.lines = h.trim(append(l.lines, line))

	var out []*peer
	for p := range l.peers {
		if p.follow.Load() {
			out = append(out, p)
		}
	}
	return out
}

func (h *hub) logHistory(key protocol.ConnectionKey, before string, limit int) protocol.LogLines {
	h.mu.Lock()
	defer h.mu.Unlock()

	var lines []string
	if l, ok := h.agents[key]; ok {
		lines = l.lines
	}
	return page(lines, before, limit)
}

func (h *hub) trim(lines []string) []string {
	if h.limit > 0 && len(lines) > h.limit {
		return append([]string(nil), lines[len(lines)-h.limit:]...)
	}
	return lines
}

// page returns up to limit lines ending before the index in cursor, or at
// the end when cursor is empty. The returned cursor continues backwards.
func page(lines []string, before string, limit int) protocol.LogLines {
	end := len(lines)
	if n, err := strconv.Atoi(before); err == nil && n >= 0 && n < end {
		end = n
	}
	if limit <= 0 {
		limit = initialLines
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return protocol.LogLines{
		Lines:   append([]string{}, lines[start:end]...),
		HasMore: start > 0,
		Cursor:  strconv.Itoa(start),
	}
}
