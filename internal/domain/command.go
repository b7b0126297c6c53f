package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/felipemaragno/beacon/internal/retry"
)

// Event is the application-supplied part of a command: a name plus an
// arbitrary key/value payload.
type Event struct {
	Name   string         `json:"event_name"`
	Values map[string]any `json:"values"`
}

// Scene identifies where in the host application an event originated.
// PvID changes on every page view; OriginalPvID is the page view that
// started the current scene.
type Scene struct {
	SceneID      string `json:"scene_id"`
	PvID         string `json:"pv_id"`
	OriginalPvID string `json:"original_pv_id"`
}

// Properties control how a command moves through the pipeline.
//
// ReadyOnBackground lets the command bypass the background hold queue.
// Retryable commands are written to the durable store until delivered;
// non-retryable commands bypass durability entirely.
type Properties struct {
	ReadyOnBackground bool `json:"ready_on_background"`
	Retryable         bool `json:"retryable"`
}

// Command is one durable, trackable unit of work wrapping a single
// application event. The ID is the dedupe/idempotency key and is stable
// across serialize/deserialize round-trips.
type Command struct {
	ID         string         `json:"id"`
	Event      Event          `json:"event"`
	Scene      Scene          `json:"scene"`
	Properties Properties     `json:"properties"`
	VisitorID  string         `json:"visitor_id"`
	CreatedAt  time.Time      `json:"created_at"`
	IsRetry    bool           `json:"is_retry"`
	Backoff    *retry.Backoff `json:"backoff,omitempty"`
}

// NewCommand creates a command with a generated identifier and the current
// creation timestamp. Retryable commands carry their own backoff state so the
// retry cadence survives persistence.
func NewCommand(event Event, scene Scene, props Properties, visitorID string, now time.Time) *Command {
	c := &Command{
		ID:         uuid.NewString(),
		Event:      event,
		Scene:      scene,
		Properties: props,
		VisitorID:  visitorID,
		CreatedAt:  now,
	}
	if props.Retryable {
		c.Backoff = retry.NewBackoff()
	}
	return c
}

// MarkRetry flags a command resurrected from the durable store. This is the
// only mutation a command undergoes after creation.
func (c *Command) MarkRetry() {
	c.IsRetry = true
}

// commandVersion tags the serialized payload so decode can reject records
// written by an incompatible future schema.
const commandVersion = 1

type commandEnvelope struct {
	Version int      `json:"version"`
	Command *Command `json:"command"`
}

// EncodeCommand serializes a command for durable storage.
func EncodeCommand(c *Command) ([]byte, error) {
	data, err := json.Marshal(commandEnvelope{Version: commandVersion, Command: c})
	if err != nil {
		return nil, fmt.Errorf("encode command %s: %w", c.ID, err)
	}
	return data, nil
}

// DecodeCommand reconstructs a command from its durable payload. Decode
// failure is non-fatal by contract: callers log and drop the record.
func DecodeCommand(data []byte) (*Command, error) {
	var env commandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	if env.Version != commandVersion {
		return nil, fmt.Errorf("decode command: %w (version %d)", ErrUnsupportedVersion, env.Version)
	}
	if env.Command == nil || env.Command.ID == "" {
		return nil, fmt.Errorf("decode command: %w", ErrInvalidInput)
	}
	return env.Command, nil
}
