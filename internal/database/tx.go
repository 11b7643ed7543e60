package database

import (
	"context"
	"strings"
	"time"

	"github.com/Serval-Chat/backend-sub001/internal/models"
)

// Tx exposes the writes that must land atomically: a channel message is
// never visible without its lastMessageAt bump, read marker and pings.
type Tx struct {
	q queryer
}

func (t *Tx) CreateMessage(ctx context.Context, msg *models.Message) error {
	_, err := t.q.ExecContext(ctx,
		"INSERT INTO messages (id, channel_id, user_id, message, reply_to_id, edited, created_at) VALUES (?, ?, ?, ?, ?, FALSE, ?)",
		msg.ID, msg.ChannelID, msg.UserID, msg.Message, msg.ReplyToID, msg.CreatedAt)
	return err
}

func (t *Tx) UpdateChannelLastMessage(ctx context.Context, channelID int64, at time.Time) error {
	_, err := t.q.ExecContext(ctx,
		"UPDATE channels SET last_message_at = ? WHERE id = ?", at, channelID)
	return err
}

func (t *Tx) UpsertChannelRead(ctx context.Context, serverID int64, channelID int64, userID int64, at time.Time) error {
	return upsertChannelRead(ctx, t.q, serverID, channelID, userID, at)
}

func (t *Tx) CreatePing(ctx context.Context, ping *models.Ping) error {
	_, err := t.q.ExecContext(ctx,
		"INSERT INTO pings (id, user_id, server_id, channel_id, message_id, sender_id, delivered, created_at) VALUES (?, ?, ?, ?, ?, ?, FALSE, ?)",
		ping.ID, ping.UserID, ping.ServerID, ping.ChannelID, ping.MessageID, ping.SenderID, ping.CreatedAt)
	return err
}

const txMaxAttempts = 3

// RunInTransaction runs fn inside a database transaction. Partial writes
// stay invisible until commit; on lock conflicts the whole fn is retried a
// bounded number of times.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx *Tx) error) error {
	var lastErr error

	for attempt := range txMaxAttempts {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
		}

		sqlTx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		err = fn(&Tx{q: sqlTx})
		if err != nil {
			if rollbackErr := sqlTx.Rollback(); rollbackErr != nil {
				s.sugar.Error(rollbackErr)
			}
			if isLockConflict(err) {
				lastErr = err
				continue
			}
			return err
		}

		err = sqlTx.Commit()
		if err != nil {
			if isLockConflict(err) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}

	return lastErr
}

func isLockConflict(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "database is locked") || // sqlite busy
		strings.Contains(message, "SQLITE_BUSY") ||
		strings.Contains(message, "Error 1213") // mysql deadlock
}
