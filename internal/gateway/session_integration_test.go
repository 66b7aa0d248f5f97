package gateway_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/opencli/daemon/internal/bus"
	"github.com/opencli/daemon/internal/domain"
	"github.com/opencli/daemon/internal/gateway"
)

// sha256HexToken mirrors the primary-hash branch of internal/auth.Verify so
// tests can mint a valid client token without exporting that internal helper.
func sha256HexToken(deviceID string, timestampMs int64, secret string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", deviceID, timestampMs, secret)))
	return hex.EncodeToString(sum[:])
}

const testSharedSecret = "integration-secret"

func startTestSessions(t *testing.T) (addr string, close func()) {
	t.Helper()
	reg := domain.NewRegistry(nil)
	if err := reg.Register(context.Background(), domain.NewCalculatorDomain()); err != nil {
		t.Fatalf("register calculator domain: %v", err)
	}
	sessions := gateway.NewSessions(testSharedSecret, reg, bus.New(), nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", sessions.ServeHTTP)
	httpSrv := &http.Server{Handler: mux}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = httpSrv.Serve(ln) }()
	return ln.Addr().String(), func() {
		_ = httpSrv.Shutdown(context.Background())
		_ = ln.Close()
	}
}

func dialAndAuth(t *testing.T, addr, deviceID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://%s/ws", addr), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	now := time.Now().UnixMilli()
	token := sha256HexToken(deviceID, now, testSharedSecret)
	if err := wsjson.Write(ctx, conn, map[string]any{
		"type":      "auth",
		"device_id": deviceID,
		"timestamp": now,
		"token":     token,
	}); err != nil {
		t.Fatalf("write auth: %v", err)
	}
	var resp map[string]any
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatalf("read auth response: %v", err)
	}
	if resp["type"] != "auth_success" {
		t.Fatalf("expected auth_success, got %#v", resp)
	}
	return conn
}

func TestSessionAuthThenHeartbeat(t *testing.T) {
	addr, stop := startTestSessions(t)
	defer stop()

	conn := dialAndAuth(t, addr, "device-heartbeat")
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ctx := context.Background()
	if err := wsjson.Write(ctx, conn, map[string]any{"type": "heartbeat"}); err != nil {
		t.Fatalf("write heartbeat: %v", err)
	}
	var resp map[string]any
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatalf("read heartbeat ack: %v", err)
	}
	if resp["type"] != "heartbeat_ack" {
		t.Fatalf("expected heartbeat_ack, got %#v", resp)
	}
}

func TestSessionAuthFailedThenRetrySucceeds(t *testing.T) {
	addr, stop := startTestSessions(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://%s/ws", addr), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	if err := wsjson.Write(ctx, conn, map[string]any{
		"type":      "auth",
		"device_id": "device-bad",
		"timestamp": time.Now().UnixMilli(),
		"token":     "not-a-real-token",
	}); err != nil {
		t.Fatalf("write bad auth: %v", err)
	}
	var resp map[string]any
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatalf("read auth_failed: %v", err)
	}
	if resp["type"] != "auth_failed" {
		t.Fatalf("expected auth_failed, got %#v", resp)
	}

	// Session stays open: a subsequent valid auth attempt must succeed.
	now := time.Now().UnixMilli()
	token := sha256HexToken("device-bad", now, testSharedSecret)
	if err := wsjson.Write(ctx, conn, map[string]any{
		"type":      "auth",
		"device_id": "device-bad",
		"timestamp": now,
		"token":     token,
	}); err != nil {
		t.Fatalf("write retry auth: %v", err)
	}
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatalf("read auth_success: %v", err)
	}
	if resp["type"] != "auth_success" {
		t.Fatalf("expected auth_success on retry, got %#v", resp)
	}
}

func TestSessionPreAuthNonAuthMessageRejected(t *testing.T) {
	addr, stop := startTestSessions(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://%s/ws", addr), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	if err := wsjson.Write(ctx, conn, map[string]any{"type": "heartbeat"}); err != nil {
		t.Fatalf("write heartbeat: %v", err)
	}
	var resp map[string]any
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatalf("read error response: %v", err)
	}
	if resp["type"] != "error" || resp["message"] != "Not authenticated" {
		t.Fatalf("expected Not authenticated error, got %#v", resp)
	}

	// Distinct from an actual auth attempt missing required fields.
	if err := wsjson.Write(ctx, conn, map[string]any{"type": "auth", "device_id": "device-partial"}); err != nil {
		t.Fatalf("write partial auth: %v", err)
	}
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatalf("read missing-fields response: %v", err)
	}
	if resp["type"] != "error" || resp["message"] != "Missing authentication fields" {
		t.Fatalf("expected Missing authentication fields error, got %#v", resp)
	}

	// The session stays open: a valid auth attempt afterwards still succeeds.
	now := time.Now().UnixMilli()
	token := sha256HexToken("device-partial", now, testSharedSecret)
	if err := wsjson.Write(ctx, conn, map[string]any{
		"type":      "auth",
		"device_id": "device-partial",
		"timestamp": now,
		"token":     token,
	}); err != nil {
		t.Fatalf("write auth: %v", err)
	}
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatalf("read auth_success: %v", err)
	}
	if resp["type"] != "auth_success" {
		t.Fatalf("expected auth_success, got %#v", resp)
	}
}

func TestSessionSubmitTaskRunsToCompletion(t *testing.T) {
	addr, stop := startTestSessions(t)
	defer stop()

	conn := dialAndAuth(t, addr, "device-submit")
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ctx := context.Background()
	if err := wsjson.Write(ctx, conn, map[string]any{
		"type":      "submit_task",
		"task_id":   "task_fixed",
		"task_type": "calculator_eval",
		"task_data": map[string]any{"expression": "2+2"},
	}); err != nil {
		t.Fatalf("write submit_task: %v", err)
	}

	var running map[string]any
	if err := wsjson.Read(ctx, conn, &running); err != nil {
		t.Fatalf("read running update: %v", err)
	}
	if running["status"] != "running" {
		t.Fatalf("expected running status first, got %#v", running)
	}

	var terminal map[string]any
	for i := 0; i < 5; i++ {
		if err := wsjson.Read(ctx, conn, &terminal); err != nil {
			t.Fatalf("read subsequent frame: %v", err)
		}
		if terminal["status"] == "completed" || terminal["status"] == "failed" {
			break
		}
	}
	if terminal["task_id"] != "task_fixed" {
		t.Fatalf("expected task_id echoed, got %#v", terminal)
	}
	if terminal["status"] != "completed" {
		t.Fatalf("expected completed, got %#v", terminal)
	}
}

func TestSessionCancelTaskIsIdempotent(t *testing.T) {
	addr, stop := startTestSessions(t)
	defer stop()

	conn := dialAndAuth(t, addr, "device-cancel")
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ctx := context.Background()
	if err := wsjson.Write(ctx, conn, map[string]any{"type": "cancel_task", "task_id": "ghost"}); err != nil {
		t.Fatalf("write cancel_task: %v", err)
	}
	var resp map[string]any
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatalf("read task_cancelled: %v", err)
	}
	if resp["type"] != "task_cancelled" || resp["task_id"] != "ghost" {
		t.Fatalf("expected task_cancelled for unknown task_id, got %#v", resp)
	}
}

func TestSessionUnknownMessageTypeErrors(t *testing.T) {
	addr, stop := startTestSessions(t)
	defer stop()

	conn := dialAndAuth(t, addr, "device-unknown")
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ctx := context.Background()
	if err := wsjson.Write(ctx, conn, map[string]any{"type": "not_a_real_type"}); err != nil {
		t.Fatalf("write unknown type: %v", err)
	}
	var resp map[string]any
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatalf("read error: %v", err)
	}
	if resp["type"] != "error" {
		t.Fatalf("expected error frame, got %#v", resp)
	}
}

func TestBroadcastReachesAllSessions(t *testing.T) {
	addr, stop := startTestSessions(t)
	defer stop()

	connA := dialAndAuth(t, addr, "device-a")
	defer connA.Close(websocket.StatusNormalClosure, "done")
	connB := dialAndAuth(t, addr, "device-b")
	defer connB.Close(websocket.StatusNormalClosure, "done")

	ctx := context.Background()
	if err := wsjson.Write(ctx, connA, map[string]any{
		"type":      "submit_task",
		"task_type": "calculator_eval",
		"task_data": map[string]any{"expression": "1+1"},
	}); err != nil {
		t.Fatalf("write submit_task: %v", err)
	}

	// device-b never submitted anything, but must still observe the
	// task_submitted broadcast triggered by device-a's submission.
	var sawBroadcast bool
	for i := 0; i < 5 && !sawBroadcast; i++ {
		var resp map[string]any
		if err := wsjson.Read(ctx, connB, &resp); err != nil {
			t.Fatalf("read on device-b: %v", err)
		}
		if resp["type"] == "task_submitted" {
			sawBroadcast = true
		}
	}
	if !sawBroadcast {
		t.Fatalf("device-b never observed the task_submitted broadcast")
	}
}
