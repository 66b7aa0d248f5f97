package bus

// Session lifecycle topics, published by the WebSocket Session Manager
// (§4.C) as devices connect and disconnect.
const (
	TopicSessionConnected    = "session.connected"
	TopicSessionDisconnected = "session.disconnected"
)

// Catalog topics, published when the domain catalog changes — e.g. a
// hot-reloaded manifest directory adds or removes a task_type.
const (
	TopicCatalogUpdated = "catalog.updated"
)

// SessionEvent carries the device_id for a connect/disconnect event.
type SessionEvent struct {
	DeviceID string
}

// CatalogUpdatedEvent reports the task_types claimed after a catalog
// reload.
type CatalogUpdatedEvent struct {
	TaskTypes []string
}
