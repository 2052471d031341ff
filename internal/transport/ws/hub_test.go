package ws_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ubi-africa/dispatch-core/internal/dispatch"
	"github.com/ubi-africa/dispatch-core/internal/transport/ws"
)

const testSecret = "test-secret"

func signToken(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	claims := jwt.MapClaims{
		"userId": userID.String(),
		"role":   "driver",
		"exp":    time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func TestHub_DriverAuthAndOfferDelivery(t *testing.T) {
	hub := ws.NewHub(testSecret, nil, nil)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeDriverWS))
	defer server.Close()

	driverID := uuid.New()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"token": signToken(t, driverID)}); err != nil {
		t.Fatalf("failed to send auth frame: %v", err)
	}

	var authResp map[string]any
	if err := conn.ReadJSON(&authResp); err != nil {
		t.Fatalf("failed to read auth response: %v", err)
	}
	if authResp["type"] != "auth_success" {
		t.Fatalf("expected auth_success, got %v", authResp)
	}

	deadline := time.Now().Add(2 * time.Second)
	var sendErr error
	for time.Now().Before(deadline) {
		sendErr = hub.SendOffer(context.Background(), driverID, dispatch.OfferMessage{OrderID: uuid.New(), BatchNumber: 1})
		if sendErr == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if sendErr != nil {
		t.Fatalf("SendOffer failed: %v", sendErr)
	}

	var offerMsg map[string]any
	if err := conn.ReadJSON(&offerMsg); err != nil {
		t.Fatalf("failed to read offer: %v", err)
	}
	if offerMsg["type"] != "order:offer" {
		t.Fatalf("expected order:offer, got %v", offerMsg)
	}
}

func TestHub_RejectsInvalidToken(t *testing.T) {
	hub := ws.NewHub(testSecret, nil, nil)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeDriverWS))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"token": "not-a-real-token"}); err != nil {
		t.Fatalf("failed to send auth frame: %v", err)
	}

	var resp map[string]any
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("failed to read auth response: %v", err)
	}
	if resp["type"] != "auth_error" {
		t.Fatalf("expected auth_error, got %v", resp)
	}
}
