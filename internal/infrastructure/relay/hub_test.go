package relay

import (
	"fmt"
	"sync"
	"testing"

	"campuscall/internal/core/domain"
	"campuscall/internal/infrastructure/monitoring"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func newTestHub(t *testing.T) *Hub {
	return NewHub(monitoring.NewMetrics(prometheus.NewRegistry()), zaptest.NewLogger(t).Sugar())
}

func newTestClient(t *testing.T, hub *Hub, callID domain.CallID, userID string) *client {
	return &client{
		hub:      hub,
		identity: domain.Identity{ID: domain.UserID(userID), Role: domain.RoleStudent},
		callID:   callID,
		send:     make(chan []byte, 1),
		done:     make(chan struct{}),
		logger:   zaptest.NewLogger(t).Sugar(),
	}
}

func TestHub_BroadcastDuringDisconnectDoesNotPanic(t *testing.T) {
	hub := newTestHub(t)

	const members = 200
	clients := make([]*client, 0, members)
	for i := 0; i < members; i++ {
		c := newTestClient(t, hub, "call-1", fmt.Sprintf("user-%d", i))
		hub.join(c)
		clients = append(clients, c)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			hub.broadcast("call-1", []byte(`{"text":"hi"}`))
		}
	}()
	go func() {
		defer wg.Done()
		for _, c := range clients {
			hub.leave(c)
		}
	}()
	wg.Wait()

	assert.Equal(t, 0, hub.RoomSize("call-1"))
}

func TestHub_LeaveIsIdempotent(t *testing.T) {
	hub := newTestHub(t)

	c := newTestClient(t, hub, "call-1", "alice")
	hub.join(c)

	hub.leave(c)
	hub.leave(c)

	assert.Equal(t, 0, hub.RoomSize("call-1"))
	select {
	case <-c.done:
	default:
		t.Fatal("expected done to be closed after leave")
	}
}

func TestHub_DepartedClientNotTreatedAsStalled(t *testing.T) {
	hub := newTestHub(t)

	stayer := newTestClient(t, hub, "call-1", "alice")
	leaver := newTestClient(t, hub, "call-1", "bob")
	hub.join(stayer)
	hub.join(leaver)
	hub.leave(leaver)

	hub.broadcast("call-1", []byte(`{"text":"hi"}`))

	assert.Equal(t, 1, hub.RoomSize("call-1"))
	select {
	case payload := <-stayer.send:
		assert.JSONEq(t, `{"text":"hi"}`, string(payload))
	default:
		t.Fatal("expected the remaining client to receive the frame")
	}
}
