// Package main provides a caption plugin that speaks each new caption aloud,
// with say on macOS and espeak elsewhere.
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
	Voice string `json:"voice"`
	Rate  int    `json:"rate"`
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

	writeResponse(speak(spokenText(req.Caption), cfg))
}

// spokenText turns a class label such as THANK_YOU into words.
func spokenText(label string) string {
	return strings.ToLower(strings.ReplaceAll(label, "_", " "))
}

func speak(text string, cfg Config) error {
	if text == "" {
		return fmt.Errorf("empty caption")
	}

	var cmd *exec.Cmd
	if runtime.GOOS == "darwin" {
		args := []string{}
		if cfg.Voice != "" {
			args = append(args, "-v", cfg.Voice)
		}
		if cfg.Rate > 0 {
			args = append(args, "-r", fmt.Sprint(cfg.Rate))
		}
		cmd = exec.Command("say", append(args, text)...)
	} else {
		args := []string{}
		if cfg.Voice != "" {
			args = append(args, "-v", cfg.Voice)
		}
		if cfg.Rate > 0 {
			args = append(args, "-s", fmt.Sprint(cfg.Rate))
		}
		cmd = exec.Command("espeak", append(args, text)...)
	}

	output, err := cmd.CombinedOutput()
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
