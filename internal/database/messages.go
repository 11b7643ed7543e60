package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Serval-Chat/backend-sub001/internal/models"
)

func (s *Store) GetMessage(ctx context.Context, messageID int64) (*models.Message, error) {
	var msg models.Message
	var editedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT id, channel_id, user_id, message, reply_to_id, edited, edited_at, created_at FROM messages WHERE id = ?",
		messageID).
		Scan(&msg.ID, &msg.ChannelID, &msg.UserID, &msg.Message, &msg.ReplyToID, &msg.Edited, &editedAt, &msg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	if editedAt.Valid {
		msg.EditedAt = editedAt.Time
	}
	return &msg, nil
}

func (s *Store) UpdateMessage(ctx context.Context, messageID int64, text string, editedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE messages SET message = ?, edited = TRUE, edited_at = ? WHERE id = ?",
		text, editedAt, messageID)
	return err
}

func (s *Store) DeleteMessage(ctx context.Context, messageID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", messageID)
	return err
}

func (s *Store) CreateDirectMessage(ctx context.Context, msg *models.DirectMessage) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO direct_messages (id, sender_id, receiver_id, message, reply_to_id, edited, created_at) VALUES (?, ?, ?, ?, ?, FALSE, ?)",
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Message, msg.ReplyToID, msg.CreatedAt)
	return err
}

func (s *Store) GetDirectMessage(ctx context.Context, messageID int64) (*models.DirectMessage, error) {
	var msg models.DirectMessage
	var editedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT id, sender_id, receiver_id, message, reply_to_id, edited, edited_at, created_at FROM direct_messages WHERE id = ?",
		messageID).
		Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Message, &msg.ReplyToID, &msg.Edited, &editedAt, &msg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	if editedAt.Valid {
		msg.EditedAt = editedAt.Time
	}
	return &msg, nil
}

func (s *Store) UpdateDirectMessage(ctx context.Context, messageID int64, text string, editedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE direct_messages SET message = ?, edited = TRUE, edited_at = ? WHERE id = ?",
		text, editedAt, messageID)
	return err
}

func (s *Store) DeleteDirectMessage(ctx context.Context, messageID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM direct_messages WHERE id = ?", messageID)
	return err
}

// IncrementDMUnread bumps the (user, peer) counter and returns the new count.
func (s *Store) IncrementDMUnread(ctx context.Context, userID int64, peerID int64) (int, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE dm_unreads SET count = count + 1 WHERE user_id = ? AND peer_id = ?", userID, peerID)
	if err != nil {
		return 0, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		_, err = s.db.ExecContext(ctx,
			"INSERT INTO dm_unreads (user_id, peer_id, count) VALUES (?, ?, 1)", userID, peerID)
		if err != nil && !isDuplicateKey(err) {
			return 0, err
		}
	}

	var count int
	err = s.db.QueryRowContext(ctx,
		"SELECT count FROM dm_unreads WHERE user_id = ? AND peer_id = ?", userID, peerID).
		Scan(&count)
	return count, err
}

func (s *Store) ResetDMUnread(ctx context.Context, userID int64, peerID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE dm_unreads SET count = 0 WHERE user_id = ? AND peer_id = ?", userID, peerID)
	return err
}

func (s *Store) GetChannelRead(ctx context.Context, channelID int64, userID int64) (*models.ChannelRead, error) {
	var read models.ChannelRead
	err := s.db.QueryRowContext(ctx,
		"SELECT server_id, channel_id, user_id, last_read_at FROM channel_reads WHERE channel_id = ? AND user_id = ?",
		channelID, userID).
		Scan(&read.ServerID, &read.ChannelID, &read.UserID, &read.LastReadAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &read, nil
}

func (s *Store) UpsertChannelRead(ctx context.Context, serverID int64, channelID int64, userID int64, at time.Time) error {
	return upsertChannelRead(ctx, s.db, serverID, channelID, userID, at)
}

func (s *Store) ListUndeliveredPings(ctx context.Context, userID int64) ([]models.Ping, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, server_id, channel_id, message_id, sender_id, created_at FROM pings WHERE user_id = ? AND delivered = FALSE",
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pings []models.Ping
	for rows.Next() {
		var ping models.Ping
		err := rows.Scan(&ping.ID, &ping.UserID, &ping.ServerID, &ping.ChannelID, &ping.MessageID, &ping.SenderID, &ping.CreatedAt)
		if err != nil {
			return nil, err
		}
		pings = append(pings, ping)
	}
	return pings, rows.Err()
}

func (s *Store) MarkPingsDelivered(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE pings SET delivered = TRUE WHERE user_id = ? AND delivered = FALSE", userID)
	return err
}
