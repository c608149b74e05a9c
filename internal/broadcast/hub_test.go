package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nrsilver/venue/internal/models"
	"github.com/nrsilver/venue/internal/store"
)

type stubPrices struct {
	price   float64
	history []models.PricePoint
}

func (s *stubPrices) CurrentPrice() float64        { return s.price }
func (s *stubPrices) History() []models.PricePoint { return s.history }

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readUpdate(t *testing.T, conn *websocket.Conn) *models.Snapshot {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type string           `json:"type"`
		Data *models.Snapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, "stateUpdate", msg.Type)
	require.NotNil(t, msg.Data)
	return msg.Data
}

func TestHub_InitialSnapshotOnConnect(t *testing.T) {
	ledger := store.NewMemory()
	seedUser(t, ledger, "alice", 10)
	prices := &stubPrices{price: 40, history: []models.PricePoint{{T: 1, P: 40}}}
	hub := NewHub(ledger, prices, 8, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	snap := readUpdate(t, conn)
	assert.Equal(t, 40.0, snap.Price)
	assert.Equal(t, 10.0, snap.TotalUnits)
	assert.Equal(t, 400.0, snap.MarketCap)
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	ledger := store.NewMemory()
	prices := &stubPrices{price: 40}
	hub := NewHub(ledger, prices, 8, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	first := dial(t, srv)
	defer first.Close()
	second := dial(t, srv)
	defer second.Close()
	readUpdate(t, first)
	readUpdate(t, second)

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	prices.price = 41.52
	hub.Broadcast()

	assert.Equal(t, 41.52, readUpdate(t, first).Price)
	assert.Equal(t, 41.52, readUpdate(t, second).Price)
}

func TestHub_DisconnectedClientIsRemoved(t *testing.T) {
	ledger := store.NewMemory()
	hub := NewHub(ledger, &stubPrices{price: 40}, 8, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dial(t, srv)
	readUpdate(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)

	// broadcasting with no clients must not panic or block
	hub.Broadcast()
}

func TestClient_EnqueueDropsOldestOnOverflow(t *testing.T) {
	c := &client{send: make(chan []byte, 2)}

	c.enqueue([]byte("a"))
	c.enqueue([]byte("b"))
	c.enqueue([]byte("c")) // overflow: "a" is dropped

	assert.Equal(t, "b", string(<-c.send))
	assert.Equal(t, "c", string(<-c.send))
	select {
	case extra := <-c.send:
		t.Fatalf("unexpected extra frame %q", extra)
	default:
	}
}

func TestWritePump_LogsAndExitsOnDeadlineError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	defer srv.Close()

	peer := dial(t, srv)
	defer peer.Close()
	serverConn := <-conns

	// closing the underlying connection makes SetWriteDeadline fail
	require.NoError(t, serverConn.Close())

	core, logs := observer.New(zapcore.DebugLevel)
	c := &client{conn: serverConn, send: make(chan []byte, 1), log: zap.New(core)}
	c.enqueue([]byte("x"))

	done := make(chan struct{})
	go func() {
		c.writePump()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writePump did not exit after deadline error")
	}
	assert.Equal(t, 1, logs.FilterMessage("failed to set write deadline").Len())
}

func TestMarshalSnapshotShape(t *testing.T) {
	ledger := store.NewMemory()
	seedUser(t, ledger, "alice", 5)
	prices := &stubPrices{price: 2, history: []models.PricePoint{{T: 123, P: 2}}}
	hub := NewHub(ledger, prices, 8, zap.NewNop())

	data, err := hub.marshalSnapshot(context.Background())
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Contains(t, raw, "type")
	require.Contains(t, raw, "data")

	var payload map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw["data"], &payload))
	for _, field := range []string{"price", "totalUnits", "marketCap", "users", "priceHistory"} {
		assert.Contains(t, payload, field)
	}
}
