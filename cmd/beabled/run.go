package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gocv.io/x/gocv"

	"github.com/ayusman/beabled/internal/app"
	"github.com/ayusman/beabled/internal/capture"
)

var (
	videoPath string
	cameraID  int
	maxFrames int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Caption a camera or video file without the HTTP service",
	Long: `Run a single captioning session in the foreground and print each caption
as it is appended. The session ends on Ctrl-C, when a video file runs out
of frames, or after --frames frames.`,
	Args: cobra.NoArgs,
	RunE: runHeadless,
}

func init() {
	runCmd.Flags().StringVar(&videoPath, "video", "", "read frames from a video file instead of the camera")
	runCmd.Flags().IntVar(&cameraID, "camera", -1, "camera device id (default from settings)")
	runCmd.Flags().IntVar(&maxFrames, "frames", 0, "stop after this many frames (0 = no limit)")

	rootCmd.AddCommand(runCmd)
}

func runHeadless(cmd *cobra.Command, args []string) error {
	cfg, st, err := loadConfig()
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}
	if cameraID >= 0 {
		cfg.CameraID = cameraID
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	camera := capture.New(capture.Options{
		DeviceID: cfg.CameraID,
		Path:     videoPath,
		Mirror:   cfg.Mirror && videoPath == "",
		FPS:      cfg.FPS,
	})

	out := cmd.OutOrStdout()
	printer := app.RenderFunc(func(_ *gocv.Mat, o app.Output) {
		if o.Transition.Appended {
			fmt.Fprintf(out, "%s  %-12s %.2f  [%s]\n",
				o.Timestamp.Format("15:04:05.000"), o.Caption, o.Confidence, strings.Join(o.History, " "))
		}
		if maxFrames > 0 && o.Frame >= uint64(maxFrames) {
			stop()
		}
	})

	a := app.New(app.Options{
		Config:    cfg,
		Store:     st,
		Camera:    camera,
		Detector:  newDetector(),
		Renderer:  printer,
		OnCaption: captionHooks(ctx, cfg.DataDir),
		Logger:    slog.Default(),
	})
	defer a.Close()

	session, err := a.Start(ctx)
	if err != nil {
		return err
	}
	if err := a.Wait(); err != nil {
		return err
	}

	stats := a.LastStats()
	slog.Info("session finished",
		"session", session.ID(),
		"frames", stats.Frames,
		"hands", stats.Hands,
		"captions", stats.Captions,
		"classifier_failures", stats.ClassifierFailures,
		"avg_latency", stats.AvgLatency(),
		"max_latency", stats.MaxLatency)

	if stats.ClassifierDisabled {
		fmt.Fprintln(os.Stderr, "warning: the classifier was disabled after repeated failures")
	}
	return nil
}
