package main

import (
	"testing"
)

func TestParseOverrides(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]string
		wantErr bool
	}{
		{"empty", nil, map[string]string{}, false},
		{"pairs", []string{"fps=15", " threshold = 0.8 "}, map[string]string{"fps": "15", "threshold": "0.8"}, false},
		{"empty value", []string{"endpoint="}, map[string]string{"endpoint": ""}, false},
		{"missing equals", []string{"fps"}, nil, true},
		{"missing key", []string{"=15"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseOverrides(tt.pairs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseOverrides() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseOverrides() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dataDir = t.TempDir()
	overrides = []string{"fps=12"}
	noStore = false
	t.Cleanup(func() {
		dataDir = ""
		overrides = nil
	})

	cfg, st, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if err := st.Settings().Set("threshold", "0.9"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	st.Close()
	if cfg.FPS != 12 {
		t.Errorf("FPS = %d, want 12", cfg.FPS)
	}

	cfg, st, err = loadConfig()
	if err != nil {
		t.Fatalf("second loadConfig() error = %v", err)
	}
	defer st.Close()
	if cfg.Threshold != 0.9 {
		t.Errorf("Threshold = %v, want stored 0.9", cfg.Threshold)
	}

	overrides = []string{"bogus=1"}
	if _, _, err := loadConfig(); err == nil {
		t.Error("loadConfig() should reject unknown --set keys")
	}
}

func TestPreviewURL(t *testing.T) {
	tests := map[string]string{
		":8080":          "http://localhost:8080/",
		"127.0.0.1:9000": "http://127.0.0.1:9000/",
	}
	for addr, want := range tests {
		if got := previewURL(addr); got != want {
			t.Errorf("previewURL(%q) = %q, want %q", addr, got, want)
		}
	}
}
