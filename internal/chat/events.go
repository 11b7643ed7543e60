package chat

import (
	"context"
	"time"

	"github.com/Serval-Chat/backend-sub001/internal/hub"
	"github.com/Serval-Chat/backend-sub001/internal/wserr"
)

// pushed event names
const (
	EventDMCreated      = "dm_created"
	EventDMUpdated      = "dm_updated"
	EventDMDeleted      = "dm_deleted"
	EventDMUnread       = "dm_unread"
	EventDMRead         = "dm_read"
	EventMessageCreated = "message_created"
	EventMessageUpdated = "message_updated"
	EventMessageDeleted = "message_deleted"
	EventChannelRead    = "channel_read"
	EventPing           = "ping"
	EventTyping         = "typing"
	EventTypingServer   = "typing_server"
)

type joinServerPayload struct {
	ServerID int64 `json:"serverID,string" validate:"required"`
}

type joinChannelPayload struct {
	ServerID  int64 `json:"serverID,string" validate:"required"`
	ChannelID int64 `json:"channelID,string" validate:"required"`
}

type sendMessagePayload struct {
	Receiver  int64  `json:"receiver,string" validate:"required"`
	Text      string `json:"text" validate:"required,max=4000"`
	ReplyToID int64  `json:"replyToID,string,omitempty"`
}

type sendMessageServerPayload struct {
	ServerID  int64  `json:"serverID,string" validate:"required"`
	ChannelID int64  `json:"channelID,string" validate:"required"`
	Text      string `json:"text" validate:"required,max=4000"`
	ReplyToID int64  `json:"replyToID,string,omitempty"`
}

type editMessagePayload struct {
	MessageID int64  `json:"messageID,string" validate:"required"`
	Text      string `json:"text" validate:"required,max=4000"`
}

type deleteMessagePayload struct {
	MessageID int64 `json:"messageID,string" validate:"required"`
}

type markReadPayload struct {
	PeerID int64 `json:"peerID,string" validate:"required"`
}

type markChannelReadPayload struct {
	ServerID  int64 `json:"serverID,string" validate:"required"`
	ChannelID int64 `json:"channelID,string" validate:"required"`
}

type typingPayload struct {
	To int64 `json:"to,string" validate:"required"`
}

type typingServerPayload struct {
	ServerID  int64 `json:"serverID,string" validate:"required"`
	ChannelID int64 `json:"channelID,string" validate:"required"`
}

type statusPayload struct {
	Usernames []string `json:"usernames" validate:"required,max=200,dive,required"`
}

func actorOf(c *hub.Client) Actor {
	return Actor{
		UserID:    c.Identity.UserID,
		Username:  c.Identity.Username,
		SessionID: c.SessionID,
	}
}

// RegisterHandlers builds the full event table. Pipeline configuration
// (auth, schema, rate limit, dedup) lives here, next to the handlers it
// governs, instead of being scattered over annotations.
func (s *Service) RegisterHandlers(h *hub.Hub) {
	sendLimit := &hub.RateLimit{Limit: 10, Window: 10 * time.Second}
	typingLimit := &hub.RateLimit{Limit: 15, Window: 5 * time.Second}

	h.Register(hub.Handler{
		Name:     "join_server",
		NeedAuth: true,
		Payload:  func() any { return &joinServerPayload{} },
		Fn: func(ctx context.Context, c *hub.Client, payload any) (any, error) {
			p := payload.(*joinServerPayload)
			if err := s.authorizeServerJoin(ctx, p.ServerID, c.Identity.UserID); err != nil {
				return nil, err
			}
			return okResult(), h.Subscribe(c, hub.ServerRoom(p.ServerID))
		},
	})

	h.Register(hub.Handler{
		Name:     "leave_server",
		NeedAuth: true,
		Payload:  func() any { return &joinServerPayload{} },
		Fn: func(ctx context.Context, c *hub.Client, payload any) (any, error) {
			p := payload.(*joinServerPayload)
			return okResult(), h.Unsubscribe(c, hub.ServerRoom(p.ServerID))
		},
	})

	h.Register(hub.Handler{
		Name:     "join_channel",
		NeedAuth: true,
		Payload:  func() any { return &joinChannelPayload{} },
		Fn: func(ctx context.Context, c *hub.Client, payload any) (any, error) {
			p := payload.(*joinChannelPayload)
			if err := s.authorizeChannelJoin(ctx, p.ServerID, p.ChannelID, c.Identity.UserID); err != nil {
				return nil, err
			}
			return okResult(), h.Subscribe(c, hub.ChannelRoom(p.ChannelID))
		},
	})

	h.Register(hub.Handler{
		Name:     "leave_channel",
		NeedAuth: true,
		Payload:  func() any { return &joinChannelPayload{} },
		Fn: func(ctx context.Context, c *hub.Client, payload any) (any, error) {
			p := payload.(*joinChannelPayload)
			return okResult(), h.Unsubscribe(c, hub.ChannelRoom(p.ChannelID))
		},
	})

	h.Register(hub.Handler{
		Name:      "send_message",
		NeedAuth:  true,
		Payload:   func() any { return &sendMessagePayload{} },
		RateLimit: sendLimit,
		Dedup:     true,
		Fn: func(ctx context.Context, c *hub.Client, payload any) (any, error) {
			p := payload.(*sendMessagePayload)
			return s.SendDirectMessage(ctx, actorOf(c), p.Receiver, p.Text, p.ReplyToID)
		},
	})

	h.Register(hub.Handler{
		Name:      "send_message_server",
		NeedAuth:  true,
		Payload:   func() any { return &sendMessageServerPayload{} },
		RateLimit: sendLimit,
		Dedup:     true,
		Fn: func(ctx context.Context, c *hub.Client, payload any) (any, error) {
			p := payload.(*sendMessageServerPayload)
			return s.SendChannelMessage(ctx, actorOf(c), p.ServerID, p.ChannelID, p.Text, p.ReplyToID)
		},
	})

	h.Register(hub.Handler{
		Name:      "edit_message",
		NeedAuth:  true,
		Payload:   func() any { return &editMessagePayload{} },
		RateLimit: sendLimit,
		Fn: func(ctx context.Context, c *hub.Client, payload any) (any, error) {
			p := payload.(*editMessagePayload)
			return s.EditDirectMessage(ctx, actorOf(c), p.MessageID, p.Text)
		},
	})

	h.Register(hub.Handler{
		Name:      "edit_message_server",
		NeedAuth:  true,
		Payload:   func() any { return &editMessagePayload{} },
		RateLimit: sendLimit,
		Fn: func(ctx context.Context, c *hub.Client, payload any) (any, error) {
			p := payload.(*editMessagePayload)
			return s.EditChannelMessage(ctx, actorOf(c), p.MessageID, p.Text)
		},
	})

	h.Register(hub.Handler{
		Name:     "delete_message",
		NeedAuth: true,
		Payload:  func() any { return &deleteMessagePayload{} },
		Fn: func(ctx context.Context, c *hub.Client, payload any) (any, error) {
			p := payload.(*deleteMessagePayload)
			return okResult(), s.DeleteDirectMessage(ctx, actorOf(c), p.MessageID)
		},
	})

	h.Register(hub.Handler{
		Name:     "delete_message_server",
		NeedAuth: true,
		Payload:  func() any { return &deleteMessagePayload{} },
		Fn: func(ctx context.Context, c *hub.Client, payload any) (any, error) {
			p := payload.(*deleteMessagePayload)
			return okResult(), s.DeleteChannelMessage(ctx, actorOf(c), p.MessageID)
		},
	})

	h.Register(hub.Handler{
		Name:     "mark_read",
		NeedAuth: true,
		Payload:  func() any { return &markReadPayload{} },
		Fn: func(ctx context.Context, c *hub.Client, payload any) (any, error) {
			p := payload.(*markReadPayload)
			return okResult(), s.MarkDMRead(ctx, actorOf(c), p.PeerID)
		},
	})

	h.Register(hub.Handler{
		Name:     "mark_channel_read",
		NeedAuth: true,
		Payload:  func() any { return &markChannelReadPayload{} },
		Fn: func(ctx context.Context, c *hub.Client, payload any) (any, error) {
			p := payload.(*markChannelReadPayload)
			return s.MarkChannelRead(ctx, actorOf(c), p.ServerID, p.ChannelID)
		},
	})

	h.Register(hub.Handler{
		Name:      "typing",
		NeedAuth:  true,
		Payload:   func() any { return &typingPayload{} },
		RateLimit: typingLimit,
		Fn: func(ctx context.Context, c *hub.Client, payload any) (any, error) {
			p := payload.(*typingPayload)
			return nil, s.TypingDirect(ctx, actorOf(c), p.To)
		},
	})

	h.Register(hub.Handler{
		Name:      "typing_server",
		NeedAuth:  true,
		Payload:   func() any { return &typingServerPayload{} },
		RateLimit: typingLimit,
		Fn: func(ctx context.Context, c *hub.Client, payload any) (any, error) {
			p := payload.(*typingServerPayload)
			return nil, s.TypingChannel(ctx, actorOf(c), p.ServerID, p.ChannelID)
		},
	})

	h.Register(hub.Handler{
		Name:     "status_subscribe",
		NeedAuth: true,
		Payload:  func() any { return &statusPayload{} },
		Fn: func(ctx context.Context, c *hub.Client, payload any) (any, error) {
			p := payload.(*statusPayload)
			return s.StatusSubscribe(actorOf(c), p.Usernames), nil
		},
	})

	h.Register(hub.Handler{
		Name:     "status_unsubscribe",
		NeedAuth: true,
		Payload:  func() any { return &statusPayload{} },
		Fn: func(ctx context.Context, c *hub.Client, payload any) (any, error) {
			p := payload.(*statusPayload)
			s.StatusUnsubscribe(actorOf(c), p.Usernames)
			return okResult(), nil
		},
	})

	h.Register(hub.Handler{
		Name:     "status_request",
		NeedAuth: true,
		Payload:  func() any { return &statusPayload{} },
		Fn: func(ctx context.Context, c *hub.Client, payload any) (any, error) {
			p := payload.(*statusPayload)
			return s.StatusRequest(p.Usernames), nil
		},
	})

	h.OnConnect(func(ctx context.Context, c *hub.Client) {
		s.ReplayPings(ctx, actorOf(c))
	})
}

func okResult() map[string]bool {
	return map[string]bool{"ok": true}
}

// authorizeServerJoin checks membership at join time, never from a cached
// earlier check.
func (s *Service) authorizeServerJoin(ctx context.Context, serverID int64, userID int64) error {
	allowed, err := s.mayAccessServer(ctx, serverID, userID)
	if err != nil {
		return err
	}
	if !allowed {
		return wserr.Forbidden("you are not a member of this server")
	}
	return nil
}

func (s *Service) authorizeChannelJoin(ctx context.Context, serverID int64, channelID int64, userID int64) error {
	if err := s.authorizeServerJoin(ctx, serverID, userID); err != nil {
		return err
	}

	channel, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if channel == nil || channel.ServerID != serverID {
		return wserr.NotFound("no such channel")
	}
	return nil
}

func (s *Service) mayAccessServer(ctx context.Context, serverID int64, userID int64) (bool, error) {
	server, err := s.store.GetServer(ctx, serverID)
	if err != nil {
		return false, err
	}
	if server == nil {
		return false, nil
	}
	if server.OwnerID == userID {
		return true, nil
	}

	member, err := s.store.GetMember(ctx, serverID, userID)
	if err != nil {
		return false, err
	}
	return member != nil, nil
}
