// Package plugin runs external caption hooks. A hook is an executable with a
// plugin.json manifest; it receives one JSON request per event on stdin and
// answers with a JSON response on stdout.
package plugin

import "encoding/json"

// EventCaption is sent when a caption is appended to the history.
const EventCaption = "caption"

// Manifest describes a plugin's metadata and the events it handles.
type Manifest struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description"`
	Executable  string          `json:"executable"`
	Events      []string        `json:"events"`
	Config      json.RawMessage `json:"config,omitempty"`
}

// Request represents a request sent to a plugin for execution.
type Request struct {
	Event      string          `json:"event"`
	SessionID  string          `json:"session_id"`
	Caption    string          `json:"caption"`
	Confidence float64         `json:"confidence"`
	History    []string        `json:"history,omitempty"`
	Timestamp  int64           `json:"timestamp"`
	Config     json.RawMessage `json:"config,omitempty"`
}

// Response represents the response from a plugin execution.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Plugin represents a discovered plugin with its manifest and location.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// Handles reports whether the plugin subscribed to event.
func (p *Plugin) Handles(event string) bool {
	for _, e := range p.Manifest.Events {
		if e == event {
			return true
		}
	}
	return false
}
