package main

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/beabled/internal/app"
	"github.com/ayusman/beabled/internal/detector"
	"github.com/ayusman/beabled/internal/server"
	"github.com/ayusman/beabled/internal/tray"
)

var (
	listenAddr string
	webDir     string
	withTray   bool
	autoStart  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the caption service with its HTTP API",
	Long: `Serve the caption API, the websocket caption feed and the MJPEG preview.
Sessions are started and stopped over HTTP, from the tray, or at launch with
--start.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "listen address (default :8080)")
	serveCmd.Flags().StringVar(&webDir, "web", "", "directory of static files to serve")
	serveCmd.Flags().BoolVar(&withTray, "tray", false, "show a system tray menu")
	serveCmd.Flags().BoolVar(&autoStart, "start", false, "start a session immediately")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, st, err := loadConfig()
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := server.NewCaptionHub(slog.Default())
	stream := server.NewStreamHandler(slog.Default())
	renderers := app.Renderers{hub, stream}

	var t *tray.Tray
	if withTray {
		t = tray.New()
		renderers = append(renderers, t)
	}

	a := app.New(app.Options{
		Config:    cfg,
		Store:     st,
		Detector:  newDetector(),
		Renderer:  renderers,
		OnCaption: captionHooks(ctx, cfg.DataDir),
		Logger:    slog.Default(),
	})
	defer a.Close()

	if webDir == "" {
		webDir = findWebDir(cfg.DataDir)
	}
	if webDir != "" {
		slog.Info("serving static files", "dir", webDir)
	}

	srv := server.New(server.Config{
		StaticDir:   webDir,
		App:         a,
		Store:       st,
		Hub:         hub,
		Stream:      stream,
		BaseContext: ctx,
		Logger:      slog.Default(),
	})

	if autoStart {
		if _, err := a.Start(ctx); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.ListenAddr)
	})

	if t == nil {
		return g.Wait()
	}

	wireTray(gctx, g, t, a, cfg.ListenAddr)
	t.OnQuit(stop)
	g.Go(func() error {
		<-gctx.Done()
		t.Quit()
		return nil
	})

	// The tray owns the main goroutine until it quits.
	t.Run()
	stop()
	return g.Wait()
}

// wireTray connects tray actions to the app and keeps the join/leave item in
// step with sessions started or ended elsewhere.
func wireTray(ctx context.Context, g *errgroup.Group, t *tray.Tray, a *app.App, addr string) {
	t.SetEnabled(a.IsEnabled())
	t.OnToggle(a.SetEnabled)
	t.OnSession(func(join bool) {
		if join {
			if _, err := a.Start(ctx); err != nil {
				slog.Error("failed to start session", "err", err)
				return
			}
			t.SetInCall(true)
			return
		}
		if _, err := a.Stop(); err != nil {
			slog.Warn("failed to stop session", "err", err)
		}
		t.SetInCall(false)
	})
	t.OnOpen(func() {
		openBrowser(previewURL(addr))
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		inCall := false
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			if active := a.Active() != nil; active != inCall {
				inCall = active
				t.SetInCall(active)
			}
		}
	})
}

func newDetector() detector.Detector {
	d, err := detector.NewMediaPipeDetector(detector.DefaultConfig())
	if err != nil {
		slog.Warn("hand detector unavailable, continuing without hand detection", "err", err)
		return detector.NewMockDetector()
	}
	return d
}

func previewURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/"
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		slog.Warn("failed to open browser", "url", url, "err", err)
	}
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and <data dir>/web.
// Returns the first existing directory or empty string if none found.
func findWebDir(dataDir string) string {
	candidates := []string{"web", "../web", "../../web", filepath.Join(dataDir, "web")}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}
