// Package presence tracks which websocket sessions belong to which username
// and who is subscribed to whose status updates. This is the only purely
// in-memory shared state in the backend; everything here is guarded by one
// mutex so concurrent connect/disconnect for the same user can't lose
// updates.
package presence

import "sync"

type Registry struct {
	mutex sync.Mutex

	// username -> set of session IDs
	online map[string]map[int64]struct{}

	// both directions of the status subscription relation, kept in sync so
	// ClearSocket can purge a dead session from every target it watched
	subsByTarget map[string]map[int64]struct{}
	subsBySocket map[int64]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		online:       make(map[string]map[int64]struct{}),
		subsByTarget: make(map[string]map[int64]struct{}),
		subsBySocket: make(map[int64]map[string]struct{}),
	}
}

// AddOnline records sessionID for username and reports whether the user just
// became online. The transition only fires on the 0->1 edge, adding a second
// session returns false.
func (r *Registry) AddOnline(username string, sessionID int64) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	sessions, exists := r.online[username]
	if !exists {
		sessions = make(map[int64]struct{})
		r.online[username] = sessions
	}

	becameOnline := len(sessions) == 0
	sessions[sessionID] = struct{}{}
	return becameOnline
}

// RemoveOnline is the inverse; it reports true only when the last session of
// the username goes away.
func (r *Registry) RemoveOnline(username string, sessionID int64) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	sessions, exists := r.online[username]
	if !exists {
		return false
	}

	if _, had := sessions[sessionID]; !had {
		return false
	}
	delete(sessions, sessionID)

	if len(sessions) == 0 {
		delete(r.online, username)
		return true
	}
	return false
}

func (r *Registry) Sockets(username string) []int64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	sessions := r.online[username]
	out := make([]int64, 0, len(sessions))
	for sessionID := range sessions {
		out = append(out, sessionID)
	}
	return out
}

func (r *Registry) IsOnline(username string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return len(r.online[username]) > 0
}

func (r *Registry) OnlineUsers() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	out := make([]string, 0, len(r.online))
	for username := range r.online {
		out = append(out, username)
	}
	return out
}

func (r *Registry) AddSubscription(targetUsername string, subscriberSessionID int64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.subsByTarget[targetUsername] == nil {
		r.subsByTarget[targetUsername] = make(map[int64]struct{})
	}
	r.subsByTarget[targetUsername][subscriberSessionID] = struct{}{}

	if r.subsBySocket[subscriberSessionID] == nil {
		r.subsBySocket[subscriberSessionID] = make(map[string]struct{})
	}
	r.subsBySocket[subscriberSessionID][targetUsername] = struct{}{}
}

func (r *Registry) RemoveSubscription(targetUsername string, subscriberSessionID int64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.removeSubscriptionLocked(targetUsername, subscriberSessionID)
}

func (r *Registry) removeSubscriptionLocked(targetUsername string, subscriberSessionID int64) {
	if subs := r.subsByTarget[targetUsername]; subs != nil {
		delete(subs, subscriberSessionID)
		if len(subs) == 0 {
			delete(r.subsByTarget, targetUsername)
		}
	}
	if targets := r.subsBySocket[subscriberSessionID]; targets != nil {
		delete(targets, targetUsername)
		if len(targets) == 0 {
			delete(r.subsBySocket, subscriberSessionID)
		}
	}
}

// ClearSocket removes the session from every target it was subscribed to.
// Called on disconnect; a leaked subscription means phantom status updates
// addressed to a dead session.
func (r *Registry) ClearSocket(sessionID int64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for targetUsername := range r.subsBySocket[sessionID] {
		r.removeSubscriptionLocked(targetUsername, sessionID)
	}
	delete(r.subsBySocket, sessionID)
}

// Subscribers returns the sessions currently watching targetUsername's
// status. The hub owns delivering the actual update frames.
func (r *Registry) Subscribers(targetUsername string) []int64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	subs := r.subsByTarget[targetUsername]
	out := make([]int64, 0, len(subs))
	for sessionID := range subs {
		out = append(out, sessionID)
	}
	return out
}
