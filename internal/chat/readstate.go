package chat

import (
	"context"
	"strconv"
	"time"

	"github.com/Serval-Chat/backend-sub001/internal/models"
	"github.com/Serval-Chat/backend-sub001/internal/wserr"
)

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// MarkDMRead zeroes the (actor, peer) unread counter. Idempotent.
func (s *Service) MarkDMRead(ctx context.Context, actor Actor, peerID int64) error {
	err := s.store.ResetDMUnread(ctx, actor.UserID, peerID)
	if err != nil {
		return err
	}

	// only the actor's other devices care
	s.emitOrLog(s.broadcast.EmitToSessions(s.otherSessions(actor), EventDMRead, map[string]string{
		"peerID": formatID(peerID),
	}))
	return nil
}

// MarkChannelRead moves the actor's read marker to now. Idempotent: the
// derived unread state after two calls matches one call. Notifies only the
// actor's other sessions so multi-device badges agree.
func (s *Service) MarkChannelRead(ctx context.Context, actor Actor, serverID int64, channelID int64) (*models.ChannelRead, error) {
	member, err := s.store.GetMember(ctx, serverID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, wserr.Forbidden("you are not a member of this server")
	}

	channel, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if channel == nil || channel.ServerID != serverID {
		return nil, wserr.NotFound("no such channel")
	}

	read := &models.ChannelRead{
		ServerID:   serverID,
		ChannelID:  channelID,
		UserID:     actor.UserID,
		LastReadAt: time.Now().UTC(),
	}

	err = s.store.UpsertChannelRead(ctx, serverID, channelID, actor.UserID, read.LastReadAt)
	if err != nil {
		return nil, err
	}

	s.emitOrLog(s.broadcast.EmitToSessions(s.otherSessions(actor), EventChannelRead, read))
	return read, nil
}

// ReplayPings delivers mention notifications that accumulated while the user
// was offline. Called from the hub's connect hook.
func (s *Service) ReplayPings(ctx context.Context, actor Actor) {
	pings, err := s.store.ListUndeliveredPings(ctx, actor.UserID)
	if err != nil {
		s.sugar.Errorw("Failed to load undelivered pings", "userID", actor.UserID, "error", err)
		return
	}
	if len(pings) == 0 {
		return
	}

	err = s.broadcast.EmitToSessions([]int64{actor.SessionID}, EventPing, pings)
	if err != nil {
		// leave the rows undelivered, the next connect retries
		s.sugar.Errorw("Failed to replay pings", "userID", actor.UserID, "error", err)
		return
	}

	if err := s.store.MarkPingsDelivered(ctx, actor.UserID); err != nil {
		s.sugar.Errorw("Failed to mark pings delivered", "userID", actor.UserID, "error", err)
	}
}
