// Package transport owns the wire envelope and the delivery client that
// sends batches over HTTP, strictly FIFO and one at a time.
package transport

import (
	"time"

	"github.com/google/uuid"

	"github.com/felipemaragno/beacon/internal/domain"
)

// AppInfo is host application metadata attached to every request.
type AppInfo struct {
	Version    string `json:"version"`
	OS         string `json:"os"`
	SDKVersion string `json:"sdk_version"`
}

// Request is the wire-level envelope for one sealed bundle. All of a
// request's events share one (visitor, scene, page-view) grouping key; that
// is enforced by the bundler's boundary rules, not here.
type Request struct {
	ID           string           `json:"request_id"`
	AppKey       string           `json:"app_key"`
	AppInfo      AppInfo          `json:"app_info"`
	VisitorID    string           `json:"visitor_id"`
	SceneID      string           `json:"scene_id"`
	PvID         string           `json:"pv_id"`
	OriginalPvID string           `json:"original_pv_id"`
	Events       []map[string]any `json:"events"`
	IsRetry      bool             `json:"-"`
}

// Response is the decoded server reply. The Payload carries server-issued
// directives (messages, variables, ...) dispatched to response consumers.
type Response struct {
	Success bool           `json:"success"`
	Status  int            `json:"status"`
	Payload map[string]any `json:"response"`
	Error   string         `json:"error"`
}

// NewRequest builds the envelope for a frozen bundle. Returns nil for an
// empty bundle.
func NewRequest(b *domain.Bundle, appKey string, appInfo AppInfo) *Request {
	first := b.First()
	if first == nil {
		return nil
	}

	events := make([]map[string]any, 0, b.Size())
	isRetry := false
	for _, c := range b.Commands() {
		values := make(map[string]any, len(c.Event.Values)+2)
		for k, v := range c.Event.Values {
			values[k] = v
		}
		values["_local_event_date"] = c.CreatedAt.Format(time.RFC3339Nano)
		if c.IsRetry {
			values["_retry"] = true
			isRetry = true
		}
		events = append(events, map[string]any{
			"event_name": c.Event.Name,
			"values":     values,
		})
	}

	return &Request{
		ID:           uuid.NewString(),
		AppKey:       appKey,
		AppInfo:      appInfo,
		VisitorID:    first.VisitorID,
		SceneID:      first.Scene.SceneID,
		PvID:         first.Scene.PvID,
		OriginalPvID: first.Scene.OriginalPvID,
		Events:       events,
		IsRetry:      isRetry,
	}
}
