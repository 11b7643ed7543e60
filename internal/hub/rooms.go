package hub

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// LocalPubSub is the selfContained replacement for redis pub/sub: room key
// to subscribed session IDs.
type LocalPubSub struct {
	sugar *zap.SugaredLogger

	mutex   sync.RWMutex
	hashMap map[string][]int64
}

func NewLocalPubSub(sugar *zap.SugaredLogger) *LocalPubSub {
	return &LocalPubSub{sugar: sugar, hashMap: make(map[string][]int64)}
}

func (ps *LocalPubSub) Subscribe(key string, sessionID int64) {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	for _, existing := range ps.hashMap[key] {
		if existing == sessionID {
			return
		}
	}
	ps.hashMap[key] = append(ps.hashMap[key], sessionID)
}

func (ps *LocalPubSub) Unsubscribe(key string, sessionID int64) {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	sessionIDs := ps.hashMap[key]

	// this won't run in case the key doesn't exist since length will be 0
	for i := range sessionIDs {
		if sessionIDs[i] == sessionID {
			sessionIDs[i] = sessionIDs[len(sessionIDs)-1]
			ps.hashMap[key] = sessionIDs[:len(sessionIDs)-1]
			break
		}
	}

	// delete the key from the map if no session is subscribed to it
	if len(ps.hashMap[key]) == 0 {
		delete(ps.hashMap, key)
	}
}

func (ps *LocalPubSub) Subscribers(key string) []int64 {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()

	out := make([]int64, len(ps.hashMap[key]))
	copy(out, ps.hashMap[key])
	return out
}

var redisCtx = context.Background()

// Subscribe adds the client to a room. Membership authorization happened in
// the join handler; this is pure bookkeeping.
func (h *Hub) Subscribe(c *Client, room string) error {
	c.roomsMutex.Lock()
	if _, already := c.rooms[room]; already {
		c.roomsMutex.Unlock()
		return nil
	}
	c.rooms[room] = struct{}{}
	c.roomsMutex.Unlock()

	if h.selfContained {
		h.localPubSub.Subscribe(room, c.SessionID)
		h.sugar.Debugf("Session ID [%d] subscribed to room [%s]", c.SessionID, room)
		return nil
	}

	return c.pubsub.Subscribe(c.ctx, room)
}

func (h *Hub) Unsubscribe(c *Client, room string) error {
	c.roomsMutex.Lock()
	delete(c.rooms, room)
	c.roomsMutex.Unlock()

	if h.selfContained {
		h.localPubSub.Unsubscribe(room, c.SessionID)
		return nil
	}

	return c.pubsub.Unsubscribe(c.ctx, room)
}

func marshalPush(event string, data any) ([]byte, error) {
	return json.Marshal(pushFrame{Event: event, Data: data})
}

// EmitToRoom broadcasts to every session subscribed to the room, across
// nodes when redis is in play.
func (h *Hub) EmitToRoom(room string, event string, data any) error {
	bytes, err := marshalPush(event, data)
	if err != nil {
		return err
	}

	if h.selfContained {
		for _, sessionID := range h.localPubSub.Subscribers(room) {
			if client, exists := h.GetClient(sessionID); exists {
				client.enqueue(bytes)
			} else {
				h.sugar.Warnf("Session ID [%d] is supposed to be available", sessionID)
			}
		}
		return nil
	}

	return h.redisClient.Publish(redisCtx, room, string(bytes)).Err()
}

// EmitToUser reaches every session of the user, on whichever node it lives.
func (h *Hub) EmitToUser(username string, event string, data any) error {
	bytes, err := marshalPush(event, data)
	if err != nil {
		return err
	}

	if h.selfContained {
		for _, sessionID := range h.registry.Sockets(username) {
			if client, exists := h.GetClient(sessionID); exists {
				client.enqueue(bytes)
			}
		}
		return nil
	}

	return h.redisClient.Publish(redisCtx, userKey(username), string(bytes)).Err()
}

// EmitToSessions targets an explicit session set, e.g. the acting user's
// other devices.
func (h *Hub) EmitToSessions(sessionIDs []int64, event string, data any) error {
	bytes, err := marshalPush(event, data)
	if err != nil {
		return err
	}

	for _, sessionID := range sessionIDs {
		if h.selfContained {
			if client, exists := h.GetClient(sessionID); exists {
				client.enqueue(bytes)
			}
			continue
		}
		if err := h.redisClient.Publish(redisCtx, sessionKey(sessionID), string(bytes)).Err(); err != nil {
			return err
		}
	}
	return nil
}

// PublishStatusUpdate fans a user's status change out to every session
// currently subscribed to it.
func (h *Hub) PublishStatusUpdate(targetUsername string, status string) {
	subscribers := h.registry.Subscribers(targetUsername)
	if len(subscribers) == 0 {
		return
	}

	err := h.EmitToSessions(subscribers, "status_update", map[string]string{
		"username": targetUsername,
		"status":   status,
	})
	if err != nil {
		h.sugar.Error(err)
	}
}
