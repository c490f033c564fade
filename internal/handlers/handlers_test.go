package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"livetalk-economy/internal/apperrors"
	"livetalk-economy/internal/auth"
	"livetalk-economy/internal/config"
	"livetalk-economy/internal/events"
	"livetalk-economy/internal/handlers"
	"livetalk-economy/internal/models"
	"livetalk-economy/internal/services"
	"livetalk-economy/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	econ   *services.Economy
	store  *store.MemoryStore
	jwt    *auth.JWTService
	hub    *handlers.WebSocketHub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	s := store.NewMemoryStore()
	econ := services.NewEconomy(s, config.DefaultEconomy(), []models.Gift{
		{ID: "rose", Name: "Rose", UnitCost: 100, Category: models.GiftCategoryNormal},
	}, services.Options{
		Publisher:   &events.Recorder{},
		Seed:        7,
		StoreItems:  []models.StoreItem{{ID: "frame_gold", Name: "Gold Frame", Type: "frame", Price: 500}},
		VIPPackages: []models.VIPPackage{{Level: 1, Name: "VIP 1", Cost: 300, FrameURL: "frames/vip1.png"}},
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := handlers.NewWebSocketHub(zerolog.Nop())
	go hub.Run(ctx)
	econ.SetBroadcaster(hub)

	jwt := auth.NewJWTService("handler-test-secret", time.Hour)
	router := handlers.NewRouter(handlers.RouterDeps{
		Economy:   econ,
		JWT:       jwt,
		Hub:       hub,
		RateLimit: config.RateLimit{Gifts: 100, Combo: 100, Claims: 100},
		Logger:    zerolog.Nop(),
	})
	return &testServer{router: router, econ: econ, store: s, jwt: jwt, hub: hub}
}

func (ts *testServer) seed(t *testing.T, u models.UserBalance) {
	t.Helper()
	if err := ts.store.PutUser(context.Background(), &u); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func (ts *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := ts.jwt.GenerateToken(userID, userID)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, userID))
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) int {
	t.Helper()
	var body struct {
		Code int `json:"code"`
	}
	decode(t, w, &body)
	return body.Code
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/api/me/balance", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestSendGiftEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, models.UserBalance{UserID: "alice", Coins: 150})

	w := ts.do(t, http.MethodPost, "/api/rooms/room1/gifts", "alice", models.SendGiftRequest{
		GiftID: "rose", Quantity: 1, RecipientIDs: []string{"bob"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res models.SendResult
	decode(t, w, &res)
	if res.Count != 1 || res.Coins != 50 {
		t.Errorf("Unexpected result: %+v", res)
	}

	w = ts.do(t, http.MethodPost, "/api/rooms/room1/gifts", "alice", models.SendGiftRequest{
		GiftID: "rose", Quantity: 1, RecipientIDs: []string{"bob"},
	})
	if w.Code != http.StatusBadRequest || errorCode(t, w) != apperrors.ErrInsufficientFunds {
		t.Errorf("Expected insufficient funds, got %d: %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodPost, "/api/rooms/room1/gifts", "alice", gin.H{"gift_id": "rose"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a malformed body, got %d", w.Code)
	}

	w = ts.do(t, http.MethodPost, "/api/rooms/room1/combo", "carol", nil)
	if w.Code != http.StatusNotFound || errorCode(t, w) != apperrors.ErrNoActiveCombo {
		t.Errorf("Expected no active combo, got %d: %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodPost, "/api/rooms/room1/leave", "alice", nil)
	var left struct {
		Flushed int `json:"flushed"`
	}
	decode(t, w, &left)
	if left.Flushed != 1 {
		t.Errorf("Expected 1 flushed settlement, got %d", left.Flushed)
	}
}

func TestLuckyBagEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, models.UserBalance{UserID: "alice", Coins: 5000})

	w := ts.do(t, http.MethodPost, "/api/rooms/room1/bags", "alice", models.CreateBagRequest{Amount: 1000, Capacity: 1})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		Bag   models.LuckyBag `json:"bag"`
		Share int64           `json:"share"`
	}
	decode(t, w, &created)
	if created.Share != 1000 {
		t.Errorf("Expected share 1000, got %d", created.Share)
	}

	w = ts.do(t, http.MethodGet, "/api/rooms/room1/bags", "bob", nil)
	var active struct {
		Bags []models.ActiveBagView `json:"bags"`
	}
	decode(t, w, &active)
	if len(active.Bags) != 1 {
		t.Fatalf("Expected one active bag, got %d", len(active.Bags))
	}

	w = ts.do(t, http.MethodPost, "/api/bags/"+created.Bag.ID+"/claim", "bob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodPost, "/api/bags/"+created.Bag.ID+"/claim", "carol", nil)
	if w.Code != http.StatusConflict || errorCode(t, w) != apperrors.ErrBagFull {
		t.Errorf("Expected bag full, got %d: %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodGet, "/api/me/balance", "bob", nil)
	var bal models.BalanceResponse
	decode(t, w, &bal)
	if bal.Coins != 1000 {
		t.Errorf("Expected bob coins 1000, got %d", bal.Coins)
	}
}

func TestLevelEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, models.UserBalance{UserID: "alice", RechargePoints: 200000})

	w := ts.do(t, http.MethodGet, "/api/me/level?kind=recharge", "alice", nil)
	var body struct {
		Level int `json:"level"`
	}
	decode(t, w, &body)
	if body.Level != 2 {
		t.Errorf("Expected recharge level 2, got %d", body.Level)
	}

	w = ts.do(t, http.MethodGet, "/api/me/level?kind=charm", "alice", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for an unknown kind, got %d", w.Code)
	}
}

func TestSeatEndpoints(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/rooms/room1/seats", "alice", models.TakeSeatRequest{SeatIndex: 2})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = ts.do(t, http.MethodPost, "/api/rooms/room1/seats", "bob", models.TakeSeatRequest{SeatIndex: 2})
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for a taken seat, got %d", w.Code)
	}

	w = ts.do(t, http.MethodPost, "/api/rooms/room1/emoji", "bob", models.EmojiRequest{Emoji: "👏"})
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for an unseated emoji, got %d", w.Code)
	}

	w = ts.do(t, http.MethodPost, "/api/rooms/room1/layout", "alice", nil)
	var seats models.RoomSeats
	decode(t, w, &seats)
	if seats.MicCount != 10 {
		t.Errorf("Expected 10 mics, got %d", seats.MicCount)
	}

	w = ts.do(t, http.MethodDelete, "/api/rooms/room1/seats", "alice", nil)
	decode(t, w, &seats)
	if len(seats.Speakers) != 0 {
		t.Errorf("Expected empty seats, got %+v", seats.Speakers)
	}
}

func TestWalletEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, models.UserBalance{UserID: "host", Diamonds: 1000})

	w := ts.do(t, http.MethodPost, "/api/wallet/exchange", "host", models.ExchangeRequest{Amount: 1000})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var bal models.BalanceResponse
	decode(t, w, &bal)
	if bal.Coins != 500 || bal.Diamonds != 0 {
		t.Errorf("Unexpected balance after exchange: %+v", bal)
	}

	w = ts.do(t, http.MethodPost, "/api/wallet/agency-exchange", "host", models.AgencyExchangeRequest{AgentID: "agent", Amount: 100})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 below the minimum, got %d", w.Code)
	}
}

func TestStoreEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, models.UserBalance{UserID: "fan", Coins: 1000})

	w := ts.do(t, http.MethodGet, "/api/store/items", "fan", nil)
	var catalogue struct {
		Items []models.StoreItem `json:"items"`
	}
	decode(t, w, &catalogue)
	if len(catalogue.Items) != 1 || catalogue.Items[0].ID != "frame_gold" {
		t.Fatalf("Unexpected catalogue: %s", w.Body.String())
	}

	w = ts.do(t, http.MethodPost, "/api/store/purchase", "fan", models.PurchaseRequest{ItemID: "frame_gold"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var bought struct {
		Balance models.BalanceResponse `json:"balance"`
		Items   []string               `json:"items"`
	}
	decode(t, w, &bought)
	if bought.Balance.Coins != 500 || bought.Balance.Wealth != 500 || len(bought.Items) != 1 {
		t.Errorf("Unexpected purchase response: %+v", bought)
	}

	w = ts.do(t, http.MethodPost, "/api/store/purchase", "fan", models.PurchaseRequest{ItemID: "frame_gold"})
	if w.Code != http.StatusConflict || errorCode(t, w) != apperrors.ErrItemOwned {
		t.Errorf("Expected 409 for an owned item, got %d: %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodPost, "/api/store/vip", "fan", models.VIPPurchaseRequest{Level: 1})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var bal models.BalanceResponse
	decode(t, w, &bal)
	if bal.Coins != 200 || bal.VIPLevel != 1 || bal.Frame != "frames/vip1.png" {
		t.Errorf("Unexpected balance after VIP purchase: %+v", bal)
	}

	w = ts.do(t, http.MethodPost, "/api/store/vip", "fan", models.VIPPurchaseRequest{Level: 0})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for level 0, got %d", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/api/me/items", "fan", nil)
	var owned struct {
		Items []string `json:"items"`
	}
	decode(t, w, &owned)
	if len(owned.Items) != 1 || owned.Items[0] != "frame_gold" {
		t.Errorf("Unexpected owned items: %s", w.Body.String())
	}
}

func TestWebSocketStreamsBalanceAndRoomEvents(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, models.UserBalance{UserID: "alice", Coins: 1000})

	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?token=" + ts.token(t, "alice")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg struct {
		Type   string          `json:"type"`
		RoomID string          `json:"room_id"`
		Data   json.RawMessage `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != handlers.MessageBalanceUpdate {
		t.Fatalf("Expected initial balance update, got %+v (%v)", msg, err)
	}
	var bal models.BalanceResponse
	json.Unmarshal(msg.Data, &bal)
	if bal.Coins != 1000 {
		t.Errorf("Expected coins 1000, got %d", bal.Coins)
	}

	conn.WriteJSON(map[string]string{"type": "JOIN_ROOM", "room_id": "room1"})
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != handlers.MessageJoined {
		t.Fatalf("Expected join ack, got %+v (%v)", msg, err)
	}

	w := ts.do(t, http.MethodPost, "/api/rooms/room1/gifts", "alice", models.SendGiftRequest{
		GiftID: "rose", Quantity: 1, RecipientIDs: []string{"bob"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("SendGift failed: %d", w.Code)
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		seen[msg.Type] = true
		if msg.Type == handlers.MessageBalanceUpdate {
			json.Unmarshal(msg.Data, &bal)
			if bal.Coins != 900 {
				t.Errorf("Expected pushed coins 900, got %d", bal.Coins)
			}
		}
	}
	if !seen[handlers.MessageBalanceUpdate] || !seen[services.RoomEventGiftSent] {
		t.Errorf("Expected balance update and gift event, got %v", seen)
	}
}
