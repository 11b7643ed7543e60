// Package hub is the realtime core: it owns the connection table, the room
// pub/sub (in-process or redis, same dual mode as the rest of the backend)
// and the per-event dispatch pipeline. Handlers are registered at startup;
// nothing here knows about chat semantics.
package hub

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Serval-Chat/backend-sub001/internal/presence"
	"github.com/Serval-Chat/backend-sub001/internal/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Identity is the authenticated principal of a connection, fixed for the
// connection's lifetime at handshake.
type Identity struct {
	UserID       int64
	Username     string
	TokenVersion int64
}

type Client struct {
	SessionID int64
	Identity  Identity

	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	ctx        context.Context
	cancel     context.CancelFunc
	pubsub     *redis.PubSub
	closeOnce  sync.Once
	roomsMutex sync.Mutex
	rooms      map[string]struct{}
}

type Hub struct {
	sugar         *zap.SugaredLogger
	redisClient   *redis.Client
	selfContained bool
	registry      *presence.Registry
	snowflakes    *snowflake.Generator
	validate      *validator.Validate

	clientsMutex sync.Mutex
	clients      map[int64]*Client

	handlersMutex sync.RWMutex
	handlers      map[string]*Handler
	onConnect     []func(ctx context.Context, c *Client)

	localPubSub *LocalPubSub
	limiter     *rateLimiter
	dedup       *dedupCache
}

func NewHub(sugar *zap.SugaredLogger, redisClient *redis.Client, selfContained bool, registry *presence.Registry, snowflakes *snowflake.Generator) *Hub {
	return &Hub{
		sugar:         sugar,
		redisClient:   redisClient,
		selfContained: selfContained,
		registry:      registry,
		snowflakes:    snowflakes,
		validate:      validator.New(),
		clients:       make(map[int64]*Client),
		handlers:      make(map[string]*Handler),
		localPubSub:   NewLocalPubSub(sugar),
		limiter:       newRateLimiter(),
		dedup:         newDedupCache(dedupWindow),
	}
}

func (h *Hub) Registry() *presence.Registry {
	return h.registry
}

// OnConnect registers a hook run after a connection is fully established,
// used for ping replay. Must be called before serving.
func (h *Hub) OnConnect(fn func(ctx context.Context, c *Client)) {
	h.onConnect = append(h.onConnect, fn)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// HandleClient upgrades the request and runs the connection until it closes.
// The identity was verified by the HTTP middleware before we get here.
func (h *Hub) HandleClient(w http.ResponseWriter, r *http.Request, identity Identity) {
	sessionID, err := h.snowflakes.Generate()
	if err != nil {
		h.sugar.Error(err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.sugar.Error(err)
		return
	}
	defer conn.Close()

	clientCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &Client{
		SessionID: sessionID,
		Identity:  identity,
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, 64),
		ctx:       clientCtx,
		cancel:    cancel,
		rooms:     make(map[string]struct{}),
	}

	if !h.selfContained {
		client.pubsub = h.redisClient.Subscribe(clientCtx)
		defer client.pubsub.Close()

		// every connection listens on its session channel and its user
		// channel so cross-node direct sends reach it
		err = client.pubsub.Subscribe(clientCtx, sessionKey(sessionID), userKey(identity.Username))
		if err != nil {
			h.sugar.Error(err)
			return
		}

		go client.pumpRedis()
	}

	h.addClient(client)
	defer h.removeClient(client)

	go client.writeLoop()

	if h.registry.AddOnline(identity.Username, sessionID) {
		h.PublishStatusUpdate(identity.Username, "online")
	}

	for _, fn := range h.onConnect {
		fn(clientCtx, client)
	}

	h.sugar.Debugf("User ID [%d] connected as session ID [%d]", identity.UserID, sessionID)

	// inbound events are handled sequentially on purpose: a client's own
	// edit-then-delete must apply in the order it was sent
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			h.sugar.Debug(err)
			break
		}
		h.dispatch(clientCtx, client, data)
	}
}

func (h *Hub) addClient(client *Client) {
	h.clientsMutex.Lock()
	defer h.clientsMutex.Unlock()

	h.clients[client.SessionID] = client
}

// removeClient purges every trace of the session in the same pass: client
// table, rooms, presence, status subscriptions. Runs before HandleClient
// returns so no phantom updates can target the dead session.
func (h *Hub) removeClient(client *Client) {
	h.clientsMutex.Lock()
	delete(h.clients, client.SessionID)
	h.clientsMutex.Unlock()

	client.roomsMutex.Lock()
	for room := range client.rooms {
		h.localPubSub.Unsubscribe(room, client.SessionID)
	}
	client.rooms = make(map[string]struct{})
	client.roomsMutex.Unlock()

	if h.registry.RemoveOnline(client.Identity.Username, client.SessionID) {
		h.PublishStatusUpdate(client.Identity.Username, "offline")
	}
	h.registry.ClearSocket(client.SessionID)

	client.cancel()
	h.sugar.Debugf("Removed session ID [%d] from clients", client.SessionID)
}

func (h *Hub) GetClient(sessionID int64) (*Client, bool) {
	h.clientsMutex.Lock()
	defer h.clientsMutex.Unlock()

	client, exists := h.clients[sessionID]
	return client, exists
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case message, ok := <-c.send:
			if !ok {
				return
			}
			err := c.conn.WriteMessage(websocket.TextMessage, message)
			if err != nil {
				c.hub.sugar.Debug(err)
				c.cancel()
				return
			}
		}
	}
}

// pumpRedis forwards redis pub/sub payloads to the websocket.
func (c *Client) pumpRedis() {
	ch := c.pubsub.Channel()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			c.enqueue([]byte(msg.Payload))
		}
	}
}

// enqueue hands bytes to the writer goroutine; a client that can't keep up
// loses frames rather than stalling the sender.
func (c *Client) enqueue(message []byte) {
	select {
	case c.send <- message:
	default:
		c.hub.sugar.Warnf("Dropping frame for slow session ID [%d]", c.SessionID)
	}
}

func sessionKey(sessionID int64) string {
	return fmt.Sprintf("session:%d", sessionID)
}

func userKey(username string) string {
	return fmt.Sprintf("user:%s", username)
}

func ServerRoom(serverID int64) string {
	return fmt.Sprintf("server:%d", serverID)
}

func ChannelRoom(channelID int64) string {
	return fmt.Sprintf("channel:%d", channelID)
}

const dedupWindow = 2 * time.Second
