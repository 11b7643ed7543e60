// Package chat implements the messaging domain rules on top of the hub: who
// may send/edit/delete what, mention fan-out, unread accounting. All
// persistence goes through the Store collaborator; everything that must be
// atomic goes through RunInTransaction.
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/Serval-Chat/backend-sub001/internal/models"
	"github.com/Serval-Chat/backend-sub001/internal/presence"
	"github.com/Serval-Chat/backend-sub001/internal/snowflake"
	"github.com/Serval-Chat/backend-sub001/internal/wserr"
	"go.uber.org/zap"
)

// TxStore is the slice of writes that must commit atomically with a channel
// message: the message row, the channel's lastMessageAt, the sender's own
// read marker and the mention pings.
type TxStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
	UpdateChannelLastMessage(ctx context.Context, channelID int64, at time.Time) error
	UpsertChannelRead(ctx context.Context, serverID int64, channelID int64, userID int64, at time.Time) error
	CreatePing(ctx context.Context, ping *models.Ping) error
}

// Store is the persistence collaborator contract this service consumes.
type Store interface {
	GetUser(ctx context.Context, userID int64) (*models.User, error)
	GetServer(ctx context.Context, serverID int64) (*models.Server, error)
	GetMember(ctx context.Context, serverID int64, userID int64) (*models.ServerMember, error)
	ListMembers(ctx context.Context, serverID int64) ([]models.User, error)
	ListMemberIDsWithRole(ctx context.Context, serverID int64, roleID int64) ([]int64, error)
	GetChannel(ctx context.Context, channelID int64) (*models.Channel, error)
	AreFriends(ctx context.Context, userID int64, peerID int64) (bool, error)

	GetMessage(ctx context.Context, messageID int64) (*models.Message, error)
	UpdateMessage(ctx context.Context, messageID int64, text string, editedAt time.Time) error
	DeleteMessage(ctx context.Context, messageID int64) error

	CreateDirectMessage(ctx context.Context, msg *models.DirectMessage) error
	GetDirectMessage(ctx context.Context, messageID int64) (*models.DirectMessage, error)
	UpdateDirectMessage(ctx context.Context, messageID int64, text string, editedAt time.Time) error
	DeleteDirectMessage(ctx context.Context, messageID int64) error

	IncrementDMUnread(ctx context.Context, userID int64, peerID int64) (int, error)
	ResetDMUnread(ctx context.Context, userID int64, peerID int64) error
	UpsertChannelRead(ctx context.Context, serverID int64, channelID int64, userID int64, at time.Time) error

	ListUndeliveredPings(ctx context.Context, userID int64) ([]models.Ping, error)
	MarkPingsDelivered(ctx context.Context, userID int64) error

	RunInTransaction(ctx context.Context, fn func(tx TxStore) error) error
}

// PermissionChecker is satisfied by permissions.Service.
type PermissionChecker interface {
	HasPermission(ctx context.Context, serverID int64, userID int64, permission string) (bool, error)
	HasChannelPermission(ctx context.Context, serverID int64, userID int64, channelID int64, permission string) (bool, error)
}

// Broadcaster is the hub surface the service pushes events through.
type Broadcaster interface {
	EmitToRoom(room string, event string, data any) error
	EmitToUser(username string, event string, data any) error
	EmitToSessions(sessionIDs []int64, event string, data any) error
}

// Actor identifies the session performing an operation.
type Actor struct {
	UserID    int64
	Username  string
	SessionID int64
}

type Service struct {
	store      Store
	perms      PermissionChecker
	broadcast  Broadcaster
	registry   *presence.Registry
	snowflakes *snowflake.Generator
	sugar      *zap.SugaredLogger
}

func NewService(store Store, perms PermissionChecker, broadcast Broadcaster, registry *presence.Registry, snowflakes *snowflake.Generator, sugar *zap.SugaredLogger) *Service {
	return &Service{
		store:      store,
		perms:      perms,
		broadcast:  broadcast,
		registry:   registry,
		snowflakes: snowflakes,
		sugar:      sugar,
	}
}

func serverRoom(serverID int64) string {
	return fmt.Sprintf("server:%d", serverID)
}

func channelRoom(channelID int64) string {
	return fmt.Sprintf("channel:%d", channelID)
}

// otherSessions returns the actor's sessions except the one acting, so
// multi-device state stays in sync without echoing to the originator.
func (s *Service) otherSessions(actor Actor) []int64 {
	var out []int64
	for _, sessionID := range s.registry.Sockets(actor.Username) {
		if sessionID != actor.SessionID {
			out = append(out, sessionID)
		}
	}
	return out
}

// SendDirectMessage requires an existing friendship and fans the created
// message out to the receiver's sessions and the sender's other sessions.
func (s *Service) SendDirectMessage(ctx context.Context, actor Actor, receiverID int64, text string, replyToID int64) (*models.DirectMessage, error) {
	if receiverID == actor.UserID {
		return nil, wserr.Forbidden("cannot message yourself")
	}

	receiver, err := s.store.GetUser(ctx, receiverID)
	if err != nil {
		return nil, err
	}
	if receiver == nil {
		return nil, wserr.NotFound("no such user")
	}

	friends, err := s.store.AreFriends(ctx, actor.UserID, receiverID)
	if err != nil {
		return nil, err
	}
	if !friends {
		return nil, wserr.Forbidden("you are not friends with this user")
	}

	messageID, err := s.snowflakes.Generate()
	if err != nil {
		return nil, err
	}

	msg := &models.DirectMessage{
		ID:         messageID,
		SenderID:   actor.UserID,
		ReceiverID: receiverID,
		Message:    text,
		ReplyToID:  replyToID,
		CreatedAt:  time.Now().UTC(),
	}

	err = s.store.CreateDirectMessage(ctx, msg)
	if err != nil {
		return nil, err
	}

	unread, err := s.store.IncrementDMUnread(ctx, receiverID, actor.UserID)
	if err != nil {
		// the message is committed; unread drift is recoverable, a failed
		// send is not
		s.sugar.Errorw("Failed to bump DM unread counter", "userID", receiverID, "error", err)
	}

	s.emitOrLog(s.broadcast.EmitToUser(receiver.UserName, EventDMCreated, msg))
	s.emitOrLog(s.broadcast.EmitToSessions(s.otherSessions(actor), EventDMCreated, msg))
	if err == nil {
		s.emitOrLog(s.broadcast.EmitToUser(receiver.UserName, EventDMUnread, models.DMUnread{
			UserID: receiverID,
			PeerID: actor.UserID,
			Count:  unread,
		}))
	}

	return msg, nil
}

// SendChannelMessage enforces membership, the channel-level sendMessages
// permission and the mention rules, then commits the message atomically with
// its bookkeeping before broadcasting anything.
func (s *Service) SendChannelMessage(ctx context.Context, actor Actor, serverID int64, channelID int64, text string, replyToID int64) (*models.Message, error) {
	member, err := s.store.GetMember(ctx, serverID, actor.UserID)
	if err != nil {
		return nil, err
	}

	server, err := s.store.GetServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if server == nil {
		return nil, wserr.NotFound("no such server")
	}
	if member == nil && server.OwnerID != actor.UserID {
		return nil, wserr.Forbidden("you are not a member of this server")
	}

	channel, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if channel == nil || channel.ServerID != serverID {
		return nil, wserr.NotFound("no such channel")
	}

	canSend, err := s.perms.HasChannelPermission(ctx, serverID, actor.UserID, channelID, models.PermSendMessages)
	if err != nil {
		return nil, err
	}
	if !canSend {
		return nil, wserr.Forbidden("you may not send messages in this channel")
	}

	mentions := ParseMentions(text)

	// fail-closed: a message that pings roles or @everyone without the
	// permission is rejected whole, nothing is persisted
	if mentions.PingsRolesOrEveryone() {
		canPing, err := s.perms.HasChannelPermission(ctx, serverID, actor.UserID, channelID, models.PermPingRolesAndEveryone)
		if err != nil {
			return nil, err
		}
		if !canPing {
			return nil, wserr.Forbidden("you may not ping roles or everyone here")
		}
	}

	targets, err := s.resolveMentionTargets(ctx, serverID, actor.UserID, mentions)
	if err != nil {
		return nil, err
	}

	messageID, err := s.snowflakes.Generate()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	msg := &models.Message{
		ID:        messageID,
		ChannelID: channelID,
		UserID:    actor.UserID,
		Message:   text,
		ReplyToID: replyToID,
		CreatedAt: now,
	}

	pings := make([]*models.Ping, 0, len(targets))
	for _, targetID := range targets {
		pingID, err := s.snowflakes.Generate()
		if err != nil {
			return nil, err
		}
		pings = append(pings, &models.Ping{
			ID:        pingID,
			UserID:    targetID,
			ServerID:  serverID,
			ChannelID: channelID,
			MessageID: messageID,
			SenderID:  actor.UserID,
			CreatedAt: now,
		})
	}

	err = s.store.RunInTransaction(ctx, func(tx TxStore) error {
		if err := tx.CreateMessage(ctx, msg); err != nil {
			return err
		}
		if err := tx.UpdateChannelLastMessage(ctx, channelID, now); err != nil {
			return err
		}
		// sending moves the sender's own read position forward
		if err := tx.UpsertChannelRead(ctx, serverID, channelID, actor.UserID, now); err != nil {
			return err
		}
		for _, ping := range pings {
			if err := tx.CreatePing(ctx, ping); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// broadcasts happen strictly after commit
	s.emitOrLog(s.broadcast.EmitToRoom(channelRoom(channelID), EventMessageCreated, msg))
	s.deliverPings(ctx, pings)

	return msg, nil
}

// deliverPings pushes live notifications to online targets. Delivery is
// best-effort: the ping row is durable, a failed push is logged and
// swallowed.
func (s *Service) deliverPings(ctx context.Context, pings []*models.Ping) {
	for _, ping := range pings {
		target, err := s.store.GetUser(ctx, ping.UserID)
		if err != nil || target == nil {
			s.sugar.Warnw("Failed to resolve ping target", "userID", ping.UserID, "error", err)
			continue
		}
		if !s.registry.IsOnline(target.UserName) {
			continue
		}
		if err := s.broadcast.EmitToUser(target.UserName, EventPing, ping); err != nil {
			s.sugar.Errorw("Failed to push live ping", "userID", ping.UserID, "error", err)
		}
	}
}

// resolveMentionTargets computes the deduplicated union of explicit user
// mentions, role holders and (for @everyone) the whole member list, always
// excluding the sender. Only actual members count.
func (s *Service) resolveMentionTargets(ctx context.Context, serverID int64, senderID int64, mentions Mentions) ([]int64, error) {
	targets := make(map[int64]struct{})

	if mentions.Everyone {
		members, err := s.store.ListMembers(ctx, serverID)
		if err != nil {
			return nil, err
		}
		for _, member := range members {
			targets[member.ID] = struct{}{}
		}
	} else {
		for _, roleID := range mentions.RoleIDs {
			holders, err := s.store.ListMemberIDsWithRole(ctx, serverID, roleID)
			if err != nil {
				return nil, err
			}
			for _, userID := range holders {
				targets[userID] = struct{}{}
			}
		}
	}

	for _, userID := range mentions.UserIDs {
		member, err := s.store.GetMember(ctx, serverID, userID)
		if err != nil {
			return nil, err
		}
		if member != nil {
			targets[userID] = struct{}{}
		}
	}

	delete(targets, senderID)

	out := make([]int64, 0, len(targets))
	for userID := range targets {
		out = append(out, userID)
	}
	return out, nil
}

func (s *Service) emitOrLog(err error) {
	if err != nil {
		s.sugar.Error(err)
	}
}
