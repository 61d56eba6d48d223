package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ayusman/beabled/internal/config"
	"github.com/ayusman/beabled/internal/store"
)

var (
	verbose bool
	quiet   bool

	dataDir   string
	pluginDir string
	overrides []string
	noStore   bool
)

var rootCmd = &cobra.Command{
	Use:   "beabled",
	Short: "Live captions from hand gestures",
	Long: `BeAbled watches a camera feed, finds the signing hand in each frame,
classifies the gesture and turns the stream of detections into a stable
caption with a short history.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if quiet {
		level = slog.LevelError
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory for the transcript database (default: ~/.beabled)")
	rootCmd.PersistentFlags().StringVar(&pluginDir, "plugins", "", "directory of caption plugins (default: <data-dir>/plugins)")
	rootCmd.PersistentFlags().StringArrayVarP(&overrides, "set", "s", nil, "override a setting, as key=value (repeatable)")
	rootCmd.PersistentFlags().BoolVar(&noStore, "no-store", false, "do not persist settings or transcripts")
}

// loadConfig builds the effective configuration: defaults, then settings
// stored from earlier runs, then --set flags. The returned store is nil with
// --no-store.
func loadConfig() (*config.Config, *store.Store, error) {
	cfg := config.Default()

	dir, err := resolveDataDir()
	if err != nil {
		return nil, nil, err
	}
	cfg.DataDir = dir

	var st *store.Store
	if !noStore {
		st, err = store.New(cfg.DBPath())
		if err != nil {
			return nil, nil, errors.Wrap(err, "open store")
		}

		stored, err := st.Settings().All()
		if err != nil {
			st.Close()
			return nil, nil, errors.Wrap(err, "read stored settings")
		}
		if len(stored) > 0 {
			if err := cfg.Apply(stored); err != nil {
				slog.Warn("ignoring stored settings", "err", err)
			}
		}
	}

	values, err := parseOverrides(overrides)
	if err != nil {
		if st != nil {
			st.Close()
		}
		return nil, nil, err
	}
	if len(values) > 0 {
		if err := cfg.Apply(values); err != nil {
			if st != nil {
				st.Close()
			}
			return nil, nil, errors.Wrap(err, "apply --set")
		}
	}

	return cfg, st, nil
}

func resolveDataDir() (string, error) {
	if dataDir != "" {
		return dataDir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "get home directory")
	}
	return filepath.Join(homeDir, ".beabled"), nil
}

func parseOverrides(pairs []string) (map[string]string, error) {
	values := make(map[string]string, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.Errorf("invalid --set %q, want key=value", p)
		}
		values[key] = strings.TrimSpace(value)
	}
	return values, nil
}
