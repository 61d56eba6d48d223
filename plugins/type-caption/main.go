// Package main provides a caption plugin that types each new caption into the
// focused window, for example a call's chat box. It uses AppleScript on macOS
// and xdotool elsewhere.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Request represents the input from the plugin executor.
type Request struct {
	Event   string          `json:"event"`
	Caption string          `json:"caption"`
	Config  json.RawMessage `json:"config"`
}

// Response represents the output to the plugin executor.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Config is read from the manifest.
type Config struct {
	// Suffix is typed after the caption. Defaults to a space.
	Suffix *string `json:"suffix"`
	// Submit presses return after typing.
	Submit bool `json:"submit"`
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeResponse(fmt.Errorf("failed to decode request: %w", err))
		return
	}
	if req.Event != "caption" {
		writeResponse(fmt.Errorf("unknown event: %s", req.Event))
		return
	}

	var cfg Config
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			writeResponse(fmt.Errorf("failed to parse config: %w", err))
			return
		}
	}

	writeResponse(typeText(captionText(req.Caption, cfg), cfg.Submit))
}

// captionText returns the text to type for label.
func captionText(label string, cfg Config) string {
	suffix := " "
	if cfg.Suffix != nil {
		suffix = *cfg.Suffix
	}
	return strings.ToLower(strings.ReplaceAll(label, "_", " ")) + suffix
}

func typeText(text string, submit bool) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("empty caption")
	}

	if runtime.GOOS == "darwin" {
		script := buildKeystrokeScript(text, submit)
		return run("osascript", "-e", script)
	}

	if err := run("xdotool", "type", "--", text); err != nil {
		return err
	}
	if submit {
		return run("xdotool", "key", "Return")
	}
	return nil
}

// buildKeystrokeScript generates an AppleScript that types text.
func buildKeystrokeScript(text string, submit bool) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(text)
	script := fmt.Sprintf(`tell application "System Events" to keystroke "%s"`, escaped)
	if submit {
		script += "\n" + `tell application "System Events" to key code 36`
	}
	return script
}

func run(name string, args ...string) error {
	output, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}

func writeResponse(err error) {
	resp := Response{Success: err == nil}
	if err != nil {
		resp.Error = err.Error()
	}
	json.NewEncoder(os.Stdout).Encode(resp)
}
