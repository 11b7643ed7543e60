package chat

import (
	"context"
	"time"

	"github.com/Serval-Chat/backend-sub001/internal/models"
	"github.com/Serval-Chat/backend-sub001/internal/wserr"
)

// EditChannelMessage lets only the original sender change the text.
func (s *Service) EditChannelMessage(ctx context.Context, actor Actor, messageID int64, text string) (*models.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, wserr.NotFound("no such message")
	}
	if msg.UserID != actor.UserID {
		return nil, wserr.Forbidden("only the sender may edit a message")
	}

	now := time.Now().UTC()
	err = s.store.UpdateMessage(ctx, messageID, text, now)
	if err != nil {
		return nil, err
	}

	msg.Message = text
	msg.Edited = true
	msg.EditedAt = now

	s.emitOrLog(s.broadcast.EmitToRoom(channelRoom(msg.ChannelID), EventMessageUpdated, msg))
	return msg, nil
}

// DeleteChannelMessage allows the sender, or anyone holding manageMessages
// on the channel.
func (s *Service) DeleteChannelMessage(ctx context.Context, actor Actor, messageID int64) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return wserr.NotFound("no such message")
	}

	if msg.UserID != actor.UserID {
		channel, err := s.store.GetChannel(ctx, msg.ChannelID)
		if err != nil {
			return err
		}
		if channel == nil {
			return wserr.NotFound("no such channel")
		}

		canManage, err := s.perms.HasChannelPermission(ctx, channel.ServerID, actor.UserID, channel.ID, models.PermManageMessages)
		if err != nil {
			return err
		}
		if !canManage {
			return wserr.Forbidden("you may not delete this message")
		}
	}

	err = s.store.DeleteMessage(ctx, messageID)
	if err != nil {
		return err
	}

	// deletion notice carries the ID only
	s.emitOrLog(s.broadcast.EmitToRoom(channelRoom(msg.ChannelID), EventMessageDeleted, map[string]string{
		"id": formatID(messageID),
	}))
	return nil
}

func (s *Service) EditDirectMessage(ctx context.Context, actor Actor, messageID int64, text string) (*models.DirectMessage, error) {
	msg, err := s.store.GetDirectMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, wserr.NotFound("no such message")
	}
	if msg.SenderID != actor.UserID {
		return nil, wserr.Forbidden("only the sender may edit a message")
	}

	now := time.Now().UTC()
	err = s.store.UpdateDirectMessage(ctx, messageID, text, now)
	if err != nil {
		return nil, err
	}

	msg.Message = text
	msg.Edited = true
	msg.EditedAt = now

	s.fanOutDM(ctx, actor, msg.SenderID, msg.ReceiverID, EventDMUpdated, msg)
	return msg, nil
}

func (s *Service) DeleteDirectMessage(ctx context.Context, actor Actor, messageID int64) error {
	msg, err := s.store.GetDirectMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return wserr.NotFound("no such message")
	}
	if msg.SenderID != actor.UserID {
		return wserr.Forbidden("only the sender may delete a direct message")
	}

	err = s.store.DeleteDirectMessage(ctx, messageID)
	if err != nil {
		return err
	}

	s.fanOutDM(ctx, actor, msg.SenderID, msg.ReceiverID, EventDMDeleted, map[string]string{
		"id": formatID(messageID),
	})
	return nil
}

// fanOutDM pushes to the non-acting party's sessions and the actor's other
// sessions, the same target set a DM send uses.
func (s *Service) fanOutDM(ctx context.Context, actor Actor, senderID int64, receiverID int64, event string, data any) {
	peerID := receiverID
	if actor.UserID == receiverID {
		peerID = senderID
	}

	peer, err := s.store.GetUser(ctx, peerID)
	if err != nil || peer == nil {
		s.sugar.Warnw("Failed to resolve DM peer", "userID", peerID, "error", err)
	} else {
		s.emitOrLog(s.broadcast.EmitToUser(peer.UserName, event, data))
	}

	s.emitOrLog(s.broadcast.EmitToSessions(s.otherSessions(actor), event, data))
}
