package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"proof-capture-app/internal/agent"
	"proof-capture-app/internal/config"
	"proof-capture-app/internal/models"
	"proof-capture-app/internal/pairing"
	"proof-capture-app/internal/proofapi"
)

var captureOpts struct {
	lat string
	lng string
}

var captureCmd = &cobra.Command{
	Use:   "capture <session-id|pairing-url> <image>...",
	Short: "Upload images into a session as a capture device would",
	Long: `Capture acts as the capture device: each image is uploaded in turn with
the capture time and, when --lat and --lng are given, the location.
Without coordinates the device behaves as if location access was denied.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().StringVar(&captureOpts.lat, "lat", "", "latitude to report")
	captureCmd.Flags().StringVar(&captureOpts.lng, "lng", "", "longitude to report")
	rootCmd.AddCommand(captureCmd)
}

func locationFlags() (agent.LocationProvider, error) {
	if captureOpts.lat == "" && captureOpts.lng == "" {
		return agent.DeniedLocation{}, nil
	}
	lat, err := strconv.ParseFloat(captureOpts.lat, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid --lat: %w", err)
	}
	lng, err := strconv.ParseFloat(captureOpts.lng, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid --lng: %w", err)
	}
	return agent.FixedLocation{Sample: models.LocationSample{Lat: lat, Lng: lng}}, nil
}

func runCapture(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	sessionID, err := pairing.ResolveSessionID(args[0])
	if err != nil {
		return err
	}
	location, err := locationFlags()
	if err != nil {
		return err
	}

	logger := cfg.NewLogger()
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	capturer := agent.NewFileCapturer(args[1:]...)
	a := agent.New(agent.Config{
		SessionID:              sessionID,
		Location:               location,
		Capturer:               capturer,
		Uploader:               proofapi.NewClient(proofapi.ClientConfig{Endpoints: cfg.Server, Logger: logger}),
		MountLocationTimeout:   cfg.Agent.MountLocationTimeout,
		CaptureLocationTimeout: cfg.Agent.CaptureLocationTimeout,
		ConfirmationWindow:     cfg.Agent.ConfirmationWindow,
		UploadTimeout:          cfg.Agent.UploadTimeout,
		Logger:                 logger,
	})
	defer a.Close()
	<-a.Mount(ctx)

	failed := 0
	for _, file := range args[1:] {
		resp, err := a.Capture(ctx)
		if err != nil {
			failed++
			reason := a.LastError()
			if a.State() != agent.StateFailed {
				reason = err.Error()
			}
			fmt.Fprintf(out, "%s: failed: %s\n", file, reason)
			// Move on to the next file instead of retrying this one.
			capturer.Reset()
			a.Dismiss()
			continue
		}
		printUpload(out, file, resp)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(args)-1)
	}
	return nil
}

func printUpload(w io.Writer, file string, resp *models.UploadResponse) {
	note := ""
	if resp.IsDuplicate {
		note = " (duplicate)"
	}
	fmt.Fprintf(w, "%s: %s, score %d%s\n", file, resp.Status, resp.Score, note)
}

func printCapture(w io.Writer, i int, n models.CaptureNotification) {
	where := "no location"
	if n.HasLocation() {
		where = n.Lat + ", " + n.Lng
	}
	fmt.Fprintf(w, "#%d %s  %s  %s\n", i+1, n.Image, where, n.Timestamp)
}
