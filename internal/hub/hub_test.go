package hub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Serval-Chat/backend-sub001/internal/presence"
	"github.com/Serval-Chat/backend-sub001/internal/snowflake"
	"github.com/Serval-Chat/backend-sub001/internal/wserr"
	"go.uber.org/zap"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	snowflakes, err := snowflake.NewGenerator(0)
	if err != nil {
		t.Fatal(err)
	}
	return NewHub(zap.NewNop().Sugar(), nil, true, presence.NewRegistry(), snowflakes)
}

func newTestClient(h *Hub, sessionID int64, identity Identity) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		SessionID: sessionID,
		Identity:  identity,
		hub:       h,
		send:      make(chan []byte, 64),
		ctx:       ctx,
		cancel:    cancel,
		rooms:     make(map[string]struct{}),
	}
}

func readAck(t *testing.T, c *Client) ackFrame {
	t.Helper()
	select {
	case data := <-c.send:
		var frame ackFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatal(err)
		}
		return frame
	default:
		t.Fatal("expected an ack frame, send queue is empty")
		return ackFrame{}
	}
}

func wantNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("expected silence, got frame %s", data)
	default:
	}
}

type echoPayload struct {
	Text string `json:"text" validate:"required,max=10"`
}

func TestDispatchInvokesHandlerAndAcks(t *testing.T) {
	h := newTestHub(t)
	h.Register(Handler{
		Name:     "echo",
		NeedAuth: true,
		Payload:  func() any { return &echoPayload{} },
		Fn: func(_ context.Context, _ *Client, payload any) (any, error) {
			return payload.(*echoPayload).Text, nil
		},
	})

	c := newTestClient(h, 1, Identity{UserID: 10, Username: "alice"})
	h.dispatch(context.Background(), c, []byte(`{"event":"echo","nonce":"n1","data":{"text":"hi"}}`))

	ack := readAck(t, c)
	if !ack.Ok || ack.Nonce != "n1" || ack.Data != "hi" {
		t.Fatalf("unexpected ack %+v", ack)
	}
}

func TestDispatchFireAndForgetSuccessIsSilent(t *testing.T) {
	h := newTestHub(t)
	h.Register(Handler{
		Name: "fire",
		Fn: func(_ context.Context, _ *Client, _ any) (any, error) {
			return nil, nil
		},
	})

	c := newTestClient(h, 1, Identity{UserID: 10})
	h.dispatch(context.Background(), c, []byte(`{"event":"fire","data":{}}`))
	wantNoFrame(t, c)
}

func TestDispatchUnknownEvent(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h, 1, Identity{UserID: 10})

	// without a nonce nobody is waiting, stay silent
	h.dispatch(context.Background(), c, []byte(`{"event":"nope","data":{}}`))
	wantNoFrame(t, c)

	h.dispatch(context.Background(), c, []byte(`{"event":"nope","nonce":"n1","data":{}}`))
	ack := readAck(t, c)
	if ack.Ok || ack.Error == nil || ack.Error.Code != wserr.CodeNotFound {
		t.Fatalf("unexpected ack %+v", ack)
	}
}

func TestDispatchAuthGate(t *testing.T) {
	h := newTestHub(t)
	called := false
	h.Register(Handler{
		Name:     "private",
		NeedAuth: true,
		Fn: func(_ context.Context, _ *Client, _ any) (any, error) {
			called = true
			return nil, nil
		},
	})

	c := newTestClient(h, 1, Identity{})
	h.dispatch(context.Background(), c, []byte(`{"event":"private","nonce":"n1","data":{}}`))

	ack := readAck(t, c)
	if ack.Ok || ack.Error.Code != wserr.CodeUnauthorized {
		t.Fatalf("unexpected ack %+v", ack)
	}
	if called {
		t.Fatal("handler must not run for unauthenticated clients")
	}
}

func TestDispatchValidationFailure(t *testing.T) {
	h := newTestHub(t)
	h.Register(Handler{
		Name:    "echo",
		Payload: func() any { return &echoPayload{} },
		Fn: func(_ context.Context, _ *Client, _ any) (any, error) {
			t.Fatal("handler must not run on invalid payload")
			return nil, nil
		},
	})

	c := newTestClient(h, 1, Identity{UserID: 10})
	h.dispatch(context.Background(), c, []byte(`{"event":"echo","nonce":"n1","data":{"text":""}}`))

	ack := readAck(t, c)
	if ack.Ok || ack.Error.Code != wserr.CodeValidationFailed {
		t.Fatalf("unexpected ack %+v", ack)
	}
	if ack.Error.Fields["Text"] != "required" {
		t.Fatalf("expected field breakdown, got %v", ack.Error.Fields)
	}
}

func TestDispatchMalformedData(t *testing.T) {
	h := newTestHub(t)
	h.Register(Handler{
		Name:    "echo",
		Payload: func() any { return &echoPayload{} },
		Fn: func(_ context.Context, _ *Client, _ any) (any, error) {
			return nil, nil
		},
	})

	c := newTestClient(h, 1, Identity{UserID: 10})
	h.dispatch(context.Background(), c, []byte(`{"event":"echo","nonce":"n1","data":"not an object"}`))

	ack := readAck(t, c)
	if ack.Ok || ack.Error.Code != wserr.CodeValidationFailed {
		t.Fatalf("unexpected ack %+v", ack)
	}
}

func TestDispatchRateLimit(t *testing.T) {
	h := newTestHub(t)
	h.Register(Handler{
		Name:      "burst",
		RateLimit: &RateLimit{Limit: 2, Window: time.Minute},
		Fn: func(_ context.Context, _ *Client, _ any) (any, error) {
			return "ok", nil
		},
	})

	c := newTestClient(h, 1, Identity{UserID: 10})
	for i := 0; i < 2; i++ {
		h.dispatch(context.Background(), c, []byte(`{"event":"burst","nonce":"n","data":{}}`))
		if ack := readAck(t, c); !ack.Ok {
			t.Fatalf("request %d should pass, got %+v", i+1, ack)
		}
	}

	h.dispatch(context.Background(), c, []byte(`{"event":"burst","nonce":"n","data":{}}`))
	ack := readAck(t, c)
	if ack.Ok || ack.Error.Code != wserr.CodeRateLimited {
		t.Fatalf("unexpected ack %+v", ack)
	}
}

func TestDispatchDedupSuppressesIdenticalPayload(t *testing.T) {
	h := newTestHub(t)
	invocations := 0
	h.Register(Handler{
		Name:  "send",
		Dedup: true,
		Fn: func(_ context.Context, _ *Client, _ any) (any, error) {
			invocations++
			return "ok", nil
		},
	})

	c := newTestClient(h, 1, Identity{UserID: 10})
	frame := []byte(`{"event":"send","nonce":"n","data":{"text":"hi"}}`)

	h.dispatch(context.Background(), c, frame)
	if ack := readAck(t, c); !ack.Ok {
		t.Fatalf("first send should pass, got %+v", ack)
	}

	h.dispatch(context.Background(), c, frame)
	ack := readAck(t, c)
	if ack.Ok || ack.Error.Code != wserr.CodeConflict {
		t.Fatalf("unexpected ack %+v", ack)
	}

	// a different payload goes through
	h.dispatch(context.Background(), c, []byte(`{"event":"send","nonce":"n","data":{"text":"bye"}}`))
	if ack := readAck(t, c); !ack.Ok {
		t.Fatalf("distinct payload should pass, got %+v", ack)
	}

	if invocations != 2 {
		t.Fatalf("expected 2 invocations, got %d", invocations)
	}
}

func TestDispatchUntypedErrorBecomesInternal(t *testing.T) {
	h := newTestHub(t)
	h.Register(Handler{
		Name: "boom",
		Fn: func(_ context.Context, _ *Client, _ any) (any, error) {
			return nil, errors.New("sql: connection reset")
		},
	})

	c := newTestClient(h, 1, Identity{UserID: 10})
	h.dispatch(context.Background(), c, []byte(`{"event":"boom","nonce":"n1","data":{}}`))

	ack := readAck(t, c)
	if ack.Ok || ack.Error.Code != wserr.CodeInternal {
		t.Fatalf("unexpected ack %+v", ack)
	}
	if ack.Error.Message != "internal error" {
		t.Fatalf("internal cause must not leak, got %q", ack.Error.Message)
	}
}

func TestDispatchTypedErrorPassesThrough(t *testing.T) {
	h := newTestHub(t)
	h.Register(Handler{
		Name: "gate",
		Fn: func(_ context.Context, _ *Client, _ any) (any, error) {
			return nil, wserr.Forbidden("no entry")
		},
	})

	c := newTestClient(h, 1, Identity{UserID: 10})
	h.dispatch(context.Background(), c, []byte(`{"event":"gate","nonce":"n1","data":{}}`))

	ack := readAck(t, c)
	if ack.Error.Code != wserr.CodeForbidden || ack.Error.Message != "no entry" {
		t.Fatalf("unexpected ack %+v", ack)
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	rl := newRateLimiter()
	limit := &RateLimit{Limit: 1, Window: 10 * time.Millisecond}

	if !rl.allow(1, "e", limit) {
		t.Fatal("first call should pass")
	}
	if rl.allow(1, "e", limit) {
		t.Fatal("second call inside window should fail")
	}
	// separate user, separate budget
	if !rl.allow(2, "e", limit) {
		t.Fatal("other user should pass")
	}

	time.Sleep(15 * time.Millisecond)
	if !rl.allow(1, "e", limit) {
		t.Fatal("call after window reset should pass")
	}
}

func TestDedupCacheExpiry(t *testing.T) {
	d := newDedupCache(10 * time.Millisecond)
	payload := []byte(`{"text":"hi"}`)

	if d.seen(1, "send", payload) {
		t.Fatal("first sighting is not a duplicate")
	}
	if !d.seen(1, "send", payload) {
		t.Fatal("immediate repeat is a duplicate")
	}
	if d.seen(2, "send", payload) {
		t.Fatal("another user's identical payload is not a duplicate")
	}

	time.Sleep(15 * time.Millisecond)
	if d.seen(1, "send", payload) {
		t.Fatal("repeat after the window is not a duplicate")
	}
}

func TestLocalPubSub(t *testing.T) {
	ps := NewLocalPubSub(zap.NewNop().Sugar())

	ps.Subscribe("server:1", 100)
	ps.Subscribe("server:1", 101)
	ps.Subscribe("server:2", 102)

	subs := ps.Subscribers("server:1")
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscribers, got %v", subs)
	}

	ps.Unsubscribe("server:1", 100)
	subs = ps.Subscribers("server:1")
	if len(subs) != 1 || subs[0] != 101 {
		t.Fatalf("expected only 101 left, got %v", subs)
	}

	// unsubscribing an absent session is a no-op
	ps.Unsubscribe("server:1", 999)
	if len(ps.Subscribers("server:1")) != 1 {
		t.Fatal("unrelated unsubscribe must not change the set")
	}

	if len(ps.Subscribers("server:3")) != 0 {
		t.Fatal("unknown room has no subscribers")
	}
}

func TestEmitToRoomSelfContained(t *testing.T) {
	h := newTestHub(t)

	member := newTestClient(h, 1, Identity{UserID: 10, Username: "alice"})
	outsider := newTestClient(h, 2, Identity{UserID: 20, Username: "bob"})
	h.addClient(member)
	h.addClient(outsider)

	if err := h.Subscribe(member, ChannelRoom(5)); err != nil {
		t.Fatal(err)
	}

	if err := h.EmitToRoom(ChannelRoom(5), "message_created", map[string]string{"id": "1"}); err != nil {
		t.Fatal(err)
	}

	select {
	case data := <-member.send:
		var frame pushFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatal(err)
		}
		if frame.Event != "message_created" {
			t.Fatalf("unexpected push %+v", frame)
		}
	default:
		t.Fatal("room member received nothing")
	}
	wantNoFrame(t, outsider)
}

func TestEmitToUserSelfContained(t *testing.T) {
	h := newTestHub(t)

	first := newTestClient(h, 1, Identity{UserID: 10, Username: "alice"})
	second := newTestClient(h, 2, Identity{UserID: 10, Username: "alice"})
	h.addClient(first)
	h.addClient(second)
	h.registry.AddOnline("alice", 1)
	h.registry.AddOnline("alice", 2)

	if err := h.EmitToUser("alice", "dm_created", map[string]string{"id": "1"}); err != nil {
		t.Fatal(err)
	}

	for _, c := range []*Client{first, second} {
		select {
		case <-c.send:
		default:
			t.Fatalf("session %d received nothing", c.SessionID)
		}
	}
}

func TestEmitToSessionsSelfContained(t *testing.T) {
	h := newTestHub(t)

	target := newTestClient(h, 1, Identity{UserID: 10, Username: "alice"})
	other := newTestClient(h, 2, Identity{UserID: 20, Username: "bob"})
	h.addClient(target)
	h.addClient(other)

	if err := h.EmitToSessions([]int64{1}, "ping", nil); err != nil {
		t.Fatal(err)
	}

	select {
	case <-target.send:
	default:
		t.Fatal("target session received nothing")
	}
	wantNoFrame(t, other)
}

func TestRemoveClientPurgesRooms(t *testing.T) {
	h := newTestHub(t)

	c := newTestClient(h, 1, Identity{UserID: 10, Username: "alice"})
	h.addClient(c)
	h.registry.AddOnline("alice", 1)
	if err := h.Subscribe(c, ServerRoom(1)); err != nil {
		t.Fatal(err)
	}

	h.removeClient(c)

	if len(h.localPubSub.Subscribers(ServerRoom(1))) != 0 {
		t.Fatal("dead session must leave its rooms")
	}
	if _, exists := h.GetClient(1); exists {
		t.Fatal("dead session must leave the client table")
	}
	if h.registry.IsOnline("alice") {
		t.Fatal("dead session must go offline")
	}
}

func TestStatusUpdateReachesSubscribers(t *testing.T) {
	h := newTestHub(t)

	watcher := newTestClient(h, 1, Identity{UserID: 10, Username: "alice"})
	h.addClient(watcher)
	h.registry.AddSubscription("bob", 1)

	h.PublishStatusUpdate("bob", "online")

	select {
	case data := <-watcher.send:
		var frame pushFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatal(err)
		}
		if frame.Event != "status_update" {
			t.Fatalf("unexpected push %+v", frame)
		}
	default:
		t.Fatal("watcher received nothing")
	}
}
