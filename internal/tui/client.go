package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// statusPayload mirrors the JSON shape cmd/opencli-daemon's status listener
// serves on its own port (daemon uptime/memory/request count, connected
// mobile client IDs).
type statusPayload struct {
	Daemon struct {
		Version       string  `json:"version"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		MemoryMB      float64 `json:"memory_mb"`
		TotalRequests int64   `json:"total_requests"`
	} `json:"daemon"`
	Mobile struct {
		ConnectedClients int      `json:"connected_clients"`
		ClientIDs        []string `json:"client_ids"`
	} `json:"mobile"`
}

// HTTPProvider polls addr (the daemon's status listener, e.g.
// "http://127.0.0.1:9531") once per call and adapts the response into a
// Snapshot. Network failures surface as Snapshot.Err rather than a Go
// error so the dashboard can keep rendering through a transient outage.
func HTTPProvider(addr string) StatusProvider {
	client := &http.Client{Timeout: 2 * time.Second}
	return func() Snapshot {
		reqCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, addr, nil)
		if err != nil {
			return Snapshot{Err: err.Error()}
		}
		resp, err := client.Do(req)
		if err != nil {
			return Snapshot{Err: err.Error()}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return Snapshot{Err: fmt.Sprintf("status %d", resp.StatusCode)}
		}

		var payload statusPayload
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return Snapshot{Err: err.Error()}
		}
		return Snapshot{
			Version:          payload.Daemon.Version,
			UptimeSeconds:    payload.Daemon.UptimeSeconds,
			MemoryMB:         payload.Daemon.MemoryMB,
			TotalRequests:    payload.Daemon.TotalRequests,
			ConnectedClients: payload.Mobile.ConnectedClients,
			ClientIDs:        payload.Mobile.ClientIDs,
		}
	}
}
