package presence_test

import (
	"slices"
	"sync"
	"testing"

	"github.com/Serval-Chat/backend-sub001/internal/presence"
)

func TestOnlineEdgeTransitions(t *testing.T) {
	r := presence.NewRegistry()

	if !r.AddOnline("alice", 1) {
		t.Error("First session should fire the online edge")
	}
	if r.AddOnline("alice", 2) {
		t.Error("Second session must not fire the online edge again")
	}

	if r.RemoveOnline("alice", 1) {
		t.Error("Removing one of two sessions must not fire the offline edge")
	}
	if !r.RemoveOnline("alice", 2) {
		t.Error("Removing the last session should fire the offline edge")
	}

	if r.IsOnline("alice") {
		t.Error("alice should be offline")
	}
}

func TestRemoveOnlineUnknownSession(t *testing.T) {
	r := presence.NewRegistry()

	if r.RemoveOnline("ghost", 99) {
		t.Error("Removing a session that was never added must not fire the offline edge")
	}

	r.AddOnline("alice", 1)
	if r.RemoveOnline("alice", 2) {
		t.Error("Removing a foreign session must not fire the offline edge")
	}
	if !r.IsOnline("alice") {
		t.Error("alice should still be online")
	}
}

func TestSockets(t *testing.T) {
	r := presence.NewRegistry()
	r.AddOnline("alice", 1)
	r.AddOnline("alice", 2)
	r.AddOnline("bob", 3)

	sockets := r.Sockets("alice")
	slices.Sort(sockets)
	if !slices.Equal(sockets, []int64{1, 2}) {
		t.Errorf("Sockets(alice) = %v, want [1 2]", sockets)
	}

	if len(r.Sockets("nobody")) != 0 {
		t.Error("Sockets of an offline user should be empty")
	}

	users := r.OnlineUsers()
	slices.Sort(users)
	if !slices.Equal(users, []string{"alice", "bob"}) {
		t.Errorf("OnlineUsers() = %v, want [alice bob]", users)
	}
}

func TestSubscriptions(t *testing.T) {
	r := presence.NewRegistry()

	r.AddSubscription("alice", 10)
	r.AddSubscription("alice", 11)
	r.AddSubscription("bob", 10)

	subs := r.Subscribers("alice")
	slices.Sort(subs)
	if !slices.Equal(subs, []int64{10, 11}) {
		t.Errorf("Subscribers(alice) = %v, want [10 11]", subs)
	}

	r.RemoveSubscription("alice", 11)
	if !slices.Equal(r.Subscribers("alice"), []int64{10}) {
		t.Errorf("Subscribers(alice) after remove = %v, want [10]", r.Subscribers("alice"))
	}
}

func TestClearSocketPurgesEveryTarget(t *testing.T) {
	r := presence.NewRegistry()

	r.AddSubscription("alice", 10)
	r.AddSubscription("bob", 10)
	r.AddSubscription("bob", 11)

	r.ClearSocket(10)

	if len(r.Subscribers("alice")) != 0 {
		t.Error("Session 10 should be gone from alice's subscribers")
	}
	if !slices.Equal(r.Subscribers("bob"), []int64{11}) {
		t.Errorf("Subscribers(bob) = %v, want [11]", r.Subscribers("bob"))
	}
}

func TestConcurrentConnectDisconnect(t *testing.T) {
	r := presence.NewRegistry()

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func(sessionID int64) {
			defer wg.Done()
			r.AddOnline("alice", sessionID)
			r.AddSubscription("bob", sessionID)
			r.RemoveOnline("alice", sessionID)
			r.ClearSocket(sessionID)
		}(int64(i))
	}
	wg.Wait()

	if r.IsOnline("alice") {
		t.Error("alice should be offline after all sessions disconnected")
	}
	if len(r.Subscribers("bob")) != 0 {
		t.Error("bob should have no subscribers left")
	}
}
