package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/Serval-Chat/backend-sub001/internal/models"
	"go.uber.org/zap"
)

// queryer is satisfied by both *sql.DB and *sql.Tx so the same statement
// helpers serve plain calls and transactional ones.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db    *sql.DB
	sugar *zap.SugaredLogger
}

func NewStore(db *sql.DB, sugar *zap.SugaredLogger) *Store {
	return &Store{db: db, sugar: sugar}
}

func (s *Store) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, username, display_name, password, token_version FROM users WHERE id = ?", userID).
		Scan(&user.ID, &user.Email, &user.UserName, &user.DisplayName, &user.Password, &user.TokenVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, username, display_name, password, token_version FROM users WHERE username = ?", username).
		Scan(&user.ID, &user.Email, &user.UserName, &user.DisplayName, &user.Password, &user.TokenVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, username, display_name, password, token_version) VALUES (?, ?, ?, ?, ?, ?)",
		user.ID, user.Email, user.UserName, user.DisplayName, user.Password, user.TokenVersion)
	return err
}

// BumpTokenVersion invalidates every outstanding token of the user and
// returns the new version.
func (s *Store) BumpTokenVersion(ctx context.Context, userID int64) (int64, error) {
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET token_version = token_version + 1 WHERE id = ?", userID)
	if err != nil {
		return 0, err
	}

	var version int64
	err = s.db.QueryRowContext(ctx,
		"SELECT token_version FROM users WHERE id = ?", userID).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (s *Store) GetServer(ctx context.Context, serverID int64) (*models.Server, error) {
	var server models.Server
	err := s.db.QueryRowContext(ctx,
		"SELECT id, owner_id, name FROM servers WHERE id = ?", serverID).
		Scan(&server.ID, &server.OwnerID, &server.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &server, nil
}

func (s *Store) GetMember(ctx context.Context, serverID int64, userID int64) (*models.ServerMember, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM server_members WHERE server_id = ? AND user_id = ?)", serverID, userID).
		Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	member := models.ServerMember{ServerID: serverID, UserID: userID}

	rows, err := s.db.QueryContext(ctx,
		"SELECT role_id FROM member_roles WHERE server_id = ? AND user_id = ?", serverID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var roleID int64
		if err := rows.Scan(&roleID); err != nil {
			return nil, err
		}
		member.RoleIDs = append(member.RoleIDs, roleID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &member, nil
}

// ListMembers returns id and username of every member, enough for fan-out
// and mention resolution.
func (s *Store) ListMembers(ctx context.Context, serverID int64) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			users.id,
			users.username
		FROM
			server_members
		JOIN
			users ON server_members.user_id = users.id
		WHERE
			server_members.server_id = ?
		`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.UserName); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) ListMemberIDsWithRole(ctx context.Context, serverID int64, roleID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM member_roles WHERE server_id = ? AND role_id = ?", serverID, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var userIDs []int64
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		userIDs = append(userIDs, userID)
	}
	return userIDs, rows.Err()
}

func (s *Store) GetRole(ctx context.Context, roleID int64) (*models.Role, error) {
	return scanRole(s.db.QueryRowContext(ctx,
		"SELECT id, server_id, name, position, permissions FROM roles WHERE id = ?", roleID))
}

func (s *Store) GetEveryoneRole(ctx context.Context, serverID int64) (*models.Role, error) {
	return scanRole(s.db.QueryRowContext(ctx,
		"SELECT id, server_id, name, position, permissions FROM roles WHERE server_id = ? AND name = ?",
		serverID, models.EveryoneRoleName))
}

func scanRole(row *sql.Row) (*models.Role, error) {
	var role models.Role
	var permissionsJson string
	err := row.Scan(&role.ID, &role.ServerID, &role.Name, &role.Position, &permissionsJson)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(permissionsJson), &role.Permissions); err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *Store) GetChannel(ctx context.Context, channelID int64) (*models.Channel, error) {
	var channel models.Channel
	var overridesJson string
	var lastMessageAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT id, server_id, category_id, name, last_message_at, overrides FROM channels WHERE id = ?", channelID).
		Scan(&channel.ID, &channel.ServerID, &channel.CategoryID, &channel.Name, &lastMessageAt, &overridesJson)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	if lastMessageAt.Valid {
		channel.LastMessageAt = lastMessageAt.Time
	}
	if err := json.Unmarshal([]byte(overridesJson), &channel.Overrides); err != nil {
		return nil, err
	}
	return &channel, nil
}

func (s *Store) GetCategory(ctx context.Context, categoryID int64) (*models.Category, error) {
	var category models.Category
	var overridesJson string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, server_id, name, overrides FROM categories WHERE id = ?", categoryID).
		Scan(&category.ID, &category.ServerID, &category.Name, &overridesJson)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(overridesJson), &category.Overrides); err != nil {
		return nil, err
	}
	return &category, nil
}

// AreFriends treats the friendship relation as symmetric regardless of which
// side created it.
func (s *Store) AreFriends(ctx context.Context, userID int64, peerID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM friendships
			WHERE (user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)
		)`, userID, peerID, peerID, userID).
		Scan(&exists)
	return exists, err
}

// upsert without dialect-specific syntax: update first, insert when nothing
// matched. Runs on both sqlite and mysql.
func upsertChannelRead(ctx context.Context, q queryer, serverID int64, channelID int64, userID int64, at time.Time) error {
	result, err := q.ExecContext(ctx,
		"UPDATE channel_reads SET last_read_at = ? WHERE channel_id = ? AND user_id = ?",
		at, channelID, userID)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	_, err = q.ExecContext(ctx,
		"INSERT INTO channel_reads (server_id, channel_id, user_id, last_read_at) VALUES (?, ?, ?, ?)",
		serverID, channelID, userID, at)
	if err != nil && isDuplicateKey(err) {
		// lost the insert race to another session of the same user, the
		// other writer's marker is at least as fresh
		return nil
	}
	return err
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "UNIQUE constraint") || // sqlite
		strings.Contains(message, "Error 1062") // mysql duplicate entry
}
