package models

import "time"

// permission names understood by the resolver; roles may carry keys outside
// this list, unknown keys simply never match a check
const (
	PermAdministrator        = "administrator"
	PermManageServer         = "manageServer"
	PermManageRoles          = "manageRoles"
	PermManageChannels       = "manageChannels"
	PermManageMessages       = "manageMessages"
	PermSendMessages         = "sendMessages"
	PermPingRolesAndEveryone = "pingRolesAndEveryone"
)

// name of the implicit base role every member holds
const EveryoneRoleName = "@everyone"

type User struct {
	ID           int64  `json:"id,string,omitempty"`
	Email        string `json:"email,omitempty"`
	UserName     string `json:"userName,omitempty"`
	DisplayName  string `json:"displayName"`
	Password     []byte `json:"-"`
	TokenVersion int64  `json:"-"`
}

type Server struct {
	ID      int64  `json:"id,string"`
	OwnerID int64  `json:"ownerID,string"`
	Name    string `json:"name"`
}

type ServerMember struct {
	ServerID int64   `json:"serverID,string"`
	UserID   int64   `json:"userID,string"`
	RoleIDs  []int64 `json:"roleIDs"`
}

type Role struct {
	ID       int64  `json:"id,string"`
	ServerID int64  `json:"serverID,string"`
	Name     string `json:"name"`
	// higher position = more authoritative
	Position    int             `json:"position"`
	Permissions map[string]bool `json:"permissions"`
}

// Overrides maps role ID (decimal string, JSON object keys must be strings)
// to the sparse set of permissions that deviate from the role-level value.
type Overrides map[string]map[string]bool

type Category struct {
	ID        int64     `json:"id,string"`
	ServerID  int64     `json:"serverID,string"`
	Name      string    `json:"name"`
	Overrides Overrides `json:"overrides,omitempty"`
}

type Channel struct {
	ID            int64     `json:"id,string"`
	ServerID      int64     `json:"serverID,string"`
	CategoryID    int64     `json:"categoryID,string,omitempty"`
	Name          string    `json:"name"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	Overrides     Overrides `json:"overrides,omitempty"`
}

type Message struct {
	ID        int64     `json:"id,string"`
	ChannelID int64     `json:"channelID,string"`
	UserID    int64     `json:"userID,string"`
	Message   string    `json:"message"`
	ReplyToID int64     `json:"replyToID,string,omitempty"`
	Edited    bool      `json:"edited"`
	EditedAt  time.Time `json:"editedAt,omitzero"`
	CreatedAt time.Time `json:"createdAt"`
}

type DirectMessage struct {
	ID         int64     `json:"id,string"`
	SenderID   int64     `json:"senderID,string"`
	ReceiverID int64     `json:"receiverID,string"`
	Message    string    `json:"message"`
	ReplyToID  int64     `json:"replyToID,string,omitempty"`
	Edited     bool      `json:"edited"`
	EditedAt   time.Time `json:"editedAt,omitzero"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Friendship struct {
	UserID   int64     `json:"userID,string"`
	FriendID int64     `json:"friendID,string"`
	Since    time.Time `json:"since"`
}

// one row per ordered (user, peer) pair
type DMUnread struct {
	UserID int64 `json:"userID,string"`
	PeerID int64 `json:"peerID,string"`
	Count  int   `json:"count"`
}

type ChannelRead struct {
	ServerID   int64     `json:"serverID,string"`
	ChannelID  int64     `json:"channelID,string"`
	UserID     int64     `json:"userID,string"`
	LastReadAt time.Time `json:"lastReadAt"`
}

// durable mention notification, replayed on next connect if the target was
// offline at send time
type Ping struct {
	ID        int64     `json:"id,string"`
	UserID    int64     `json:"userID,string"`
	ServerID  int64     `json:"serverID,string"`
	ChannelID int64     `json:"channelID,string"`
	MessageID int64     `json:"messageID,string"`
	SenderID  int64     `json:"senderID,string"`
	Delivered bool      `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

type ConfigFile struct {
	Address           string
	Port              string
	BehindNginx       bool
	TlsCert           string
	TlsKey            string
	PrintHttpRequests bool
	LogToFile         bool
	LogLevel          string
	JwtSecret         string
	SnowflakeWorkerID int64
	SelfContained     bool
	DbUser            string
	DbPassword        string
	DbAddress         string
	DbPort            string
	DbDatabase        string
	RedisAddress      string
	RedisPassword     string
}
