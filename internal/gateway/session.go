package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/opencli/daemon/internal/auth"
	"github.com/opencli/daemon/internal/bus"
	"github.com/opencli/daemon/internal/domain"
)

// frame is the envelope every inbound/outbound WebSocket message shares. The
// protocol is untyped JSON on the wire; frame just gives us a stable place
// to peek at "type" before dispatching.
type frame map[string]any

func (f frame) str(key string) string {
	v, _ := f[key].(string)
	return v
}

// session is one authenticated device connection. Sends are serialized
// through writeMu so progress callbacks (which may fire from a pipeline
// engine goroutine) never interleave with the handler's own replies.
type session struct {
	deviceID string
	conn     *websocket.Conn

	writeMu sync.Mutex
}

func (s *session) write(ctx context.Context, payload any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wsjson.Write(ctx, s.conn, payload)
}

// Sessions is the WebSocket Session Manager: it owns the device→session
// map and the process-wide task cancellation set, authenticates incoming
// connections, and dispatches submit_task/cancel_task/chat/heartbeat
// frames. The same Sessions instance backs both the primary /ws listener
// and the plain-WS listener — a client is a client regardless of which
// port it dialed.
type Sessions struct {
	sharedSecret string
	registry     *domain.Registry
	bus          *bus.Bus
	logger       *slog.Logger

	mu       sync.RWMutex
	byDevice map[string]*session

	cancelMu  sync.Mutex
	cancelled map[string]struct{}
}

func NewSessions(sharedSecret string, registry *domain.Registry, eventBus *bus.Bus, logger *slog.Logger) *Sessions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{
		sharedSecret: sharedSecret,
		registry:     registry,
		bus:          eventBus,
		logger:       logger,
		byDevice:     make(map[string]*session),
		cancelled:    make(map[string]struct{}),
	}
}

// ServeHTTP upgrades the request to a WebSocket and runs the per-connection
// protocol loop until the client disconnects or sends invalid JSON
// repeatedly enough to kill the underlying read.
func (m *Sessions) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	ctx := r.Context()
	sess, err := m.awaitAuth(ctx, conn)
	if err != nil {
		return
	}
	m.addSession(sess)
	defer m.removeSession(sess)

	m.loop(ctx, sess)
}

// readFrame reads one WebSocket message and decodes it as JSON. A malformed
// frame is not a connection failure (§4.C.4): it replies inline with an
// "Invalid JSON" error and the caller should keep reading. Only a genuine
// transport error (disconnect, context cancellation) is returned as err.
func readFrame(ctx context.Context, conn *websocket.Conn) (f frame, ok bool, err error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, false, err
	}
	if jsonErr := json.Unmarshal(data, &f); jsonErr != nil {
		_ = wsjson.Write(ctx, conn, frame{"type": "error", "message": "Invalid JSON"})
		return nil, false, nil
	}
	return f, true, nil
}

// awaitAuth blocks reading frames until an "auth" message succeeds, replying
// to malformed or invalid attempts in place without establishing a session.
func (m *Sessions) awaitAuth(ctx context.Context, conn *websocket.Conn) (*session, error) {
	for {
		f, ok, err := readFrame(ctx, conn)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if f.str("type") != "auth" {
			_ = wsjson.Write(ctx, conn, frame{"type": "error", "message": "Not authenticated"})
			continue
		}

		deviceID := f.str("device_id")
		token := f.str("token")
		tsRaw, hasTS := f["timestamp"]
		if deviceID == "" || token == "" || !hasTS {
			_ = wsjson.Write(ctx, conn, frame{"type": "error", "message": "Missing authentication fields"})
			continue
		}
		timestampMs, ok := asInt64(tsRaw)
		if !ok {
			_ = wsjson.Write(ctx, conn, frame{"type": "error", "message": "Missing authentication fields"})
			continue
		}

		nowMs := time.Now().UnixMilli()
		if !auth.Verify(deviceID, timestampMs, token, m.sharedSecret, nowMs) {
			_ = wsjson.Write(ctx, conn, frame{"type": "auth_failed", "message": "Invalid authentication token"})
			continue
		}

		if err := wsjson.Write(ctx, conn, frame{
			"type":       "auth_success",
			"device_id":  deviceID,
			"server_time": nowMs,
		}); err != nil {
			return nil, err
		}
		return &session{deviceID: deviceID, conn: conn}, nil
	}
}

func (m *Sessions) loop(ctx context.Context, sess *session) {
	for {
		f, ok, err := readFrame(ctx, sess.conn)
		if err != nil {
			return
		}
		if !ok {
			continue
		}
		m.dispatch(ctx, sess, f)
	}
}

func (m *Sessions) dispatch(ctx context.Context, sess *session, f frame) {
	switch f.str("type") {
	case "heartbeat":
		_ = sess.write(ctx, frame{"type": "heartbeat_ack"})
	case "submit_task":
		m.handleSubmitTask(ctx, sess, f)
	case "cancel_task":
		taskID := f.str("task_id")
		m.cancelMu.Lock()
		m.cancelled[taskID] = struct{}{}
		m.cancelMu.Unlock()
		_ = sess.write(ctx, frame{"type": "task_cancelled", "task_id": taskID})
	case "chat":
		content, _ := f["content"].(string)
		_ = sess.write(ctx, frame{"type": "chunk", "content": content})
		_ = sess.write(ctx, frame{"type": "done"})
	default:
		_ = sess.write(ctx, frame{"type": "error", "message": fmt.Sprintf("Unknown type: %s", f.str("type"))})
	}
}

func (m *Sessions) handleSubmitTask(ctx context.Context, sess *session, f frame) {
	taskType := f.str("task_type")
	taskID := f.str("task_id")
	if taskID == "" {
		taskID = fmt.Sprintf("task_%d", time.Now().UnixMilli())
	}
	taskData, _ := f["task_data"].(map[string]any)
	if taskData == nil {
		taskData = map[string]any{}
	}

	_ = sess.write(ctx, frame{
		"type":      "task_update",
		"task_id":   taskID,
		"task_type": taskType,
		"status":    "running",
	})

	m.broadcast(frame{
		"type":      "task_submitted",
		"task_data": taskData,
		"device_id": sess.deviceID,
		"task_id":   taskID,
	})

	go m.runTask(ctx, sess, taskID, taskType, taskData)
}

func (m *Sessions) runTask(ctx context.Context, sess *session, taskID, taskType string, taskData map[string]any) {
	onProgress := func(progressData map[string]any) {
		payload := frame{
			"type":      "task_update",
			"task_id":   taskID,
			"task_type": taskType,
			"status":    "running",
		}
		for k, v := range progressData {
			payload[k] = v
		}
		_ = sess.write(ctx, payload)
	}

	result := m.registry.ExecuteTaskWithProgress(ctx, taskType, taskData, onProgress)

	status := "completed"
	if !result.Success {
		status = "failed"
	}
	_ = sess.write(ctx, frame{
		"type":      "task_update",
		"task_id":   taskID,
		"task_type": taskType,
		"status":    status,
		"result":    result,
	})
}

// IsCancelled reports whether a task_id has been marked cancelled. Domains
// and the pipeline engine poll this at suspension points; the set is never
// cleared automatically (§3: "the set is cleared explicitly").
func (m *Sessions) IsCancelled(taskID string) bool {
	m.cancelMu.Lock()
	defer m.cancelMu.Unlock()
	_, ok := m.cancelled[taskID]
	return ok
}

func (m *Sessions) ClearCancelled(taskID string) {
	m.cancelMu.Lock()
	defer m.cancelMu.Unlock()
	delete(m.cancelled, taskID)
}

func (m *Sessions) addSession(sess *session) {
	m.mu.Lock()
	if prior, ok := m.byDevice[sess.deviceID]; ok {
		_ = prior.conn.Close(websocket.StatusNormalClosure, "replaced by new session")
	}
	m.byDevice[sess.deviceID] = sess
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(bus.TopicSessionConnected, bus.SessionEvent{DeviceID: sess.deviceID})
	}
}

func (m *Sessions) removeSession(sess *session) {
	m.mu.Lock()
	if current, ok := m.byDevice[sess.deviceID]; ok && current == sess {
		delete(m.byDevice, sess.deviceID)
	}
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(bus.TopicSessionDisconnected, bus.SessionEvent{DeviceID: sess.deviceID})
	}
}

// broadcast delivers payload to every connected session, evicting any
// session whose send fails. It snapshots the session set first so a
// concurrent connect/disconnect never aborts the fan-out.
func (m *Sessions) broadcast(payload any) {
	m.mu.RLock()
	snapshot := make([]*session, 0, len(m.byDevice))
	for _, sess := range m.byDevice {
		snapshot = append(snapshot, sess)
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, sess := range snapshot {
		if err := sess.write(ctx, payload); err != nil {
			m.logger.Warn("evicting session after failed broadcast send", "device_id", sess.deviceID, "error", err)
			m.removeSession(sess)
		}
	}
}

// ConnectedDeviceIDs returns a snapshot of currently connected device ids,
// used by the status endpoint (port 9875).
func (m *Sessions) ConnectedDeviceIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.byDevice))
	for id := range m.byDevice {
		ids = append(ids, id)
	}
	return ids
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
