package chat

import (
	"context"

	"github.com/Serval-Chat/backend-sub001/internal/wserr"
)

// TypingDirect tells the peer's sessions the actor is typing.
// Fire-and-forget, nothing is persisted.
func (s *Service) TypingDirect(ctx context.Context, actor Actor, peerID int64) error {
	peer, err := s.store.GetUser(ctx, peerID)
	if err != nil {
		return err
	}
	if peer == nil {
		return wserr.NotFound("no such user")
	}

	s.emitOrLog(s.broadcast.EmitToUser(peer.UserName, EventTyping, map[string]string{
		"userID":   formatID(actor.UserID),
		"username": actor.Username,
	}))
	return nil
}

func (s *Service) TypingChannel(ctx context.Context, actor Actor, serverID int64, channelID int64) error {
	member, err := s.store.GetMember(ctx, serverID, actor.UserID)
	if err != nil {
		return err
	}
	if member == nil {
		return wserr.Forbidden("you are not a member of this server")
	}

	s.emitOrLog(s.broadcast.EmitToRoom(channelRoom(channelID), EventTypingServer, map[string]string{
		"userID":    formatID(actor.UserID),
		"username":  actor.Username,
		"channelID": formatID(channelID),
	}))
	return nil
}

// StatusSubscribe registers the acting session as a watcher of each given
// username and returns their current status map.
func (s *Service) StatusSubscribe(actor Actor, usernames []string) map[string]string {
	statuses := make(map[string]string, len(usernames))
	for _, username := range usernames {
		s.registry.AddSubscription(username, actor.SessionID)
		statuses[username] = s.statusOf(username)
	}
	return statuses
}

func (s *Service) StatusUnsubscribe(actor Actor, usernames []string) {
	for _, username := range usernames {
		s.registry.RemoveSubscription(username, actor.SessionID)
	}
}

func (s *Service) StatusRequest(usernames []string) map[string]string {
	statuses := make(map[string]string, len(usernames))
	for _, username := range usernames {
		statuses[username] = s.statusOf(username)
	}
	return statuses
}

func (s *Service) statusOf(username string) string {
	if s.registry.IsOnline(username) {
		return "online"
	}
	return "offline"
}
