package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"proof-capture-app/internal/config"
	"proof-capture-app/internal/initiator"
	"proof-capture-app/internal/models"
	"proof-capture-app/internal/proofapi"
	"proof-capture-app/internal/qr"
)

var initiateOpts struct {
	qrPNG         string
	saveDir       string
	chronological bool
	reconnect     bool
}

var initiateCmd = &cobra.Command{
	Use:   "initiate",
	Short: "Start a capture session and stream incoming proof images",
	Long: `Initiate requests a session from the broker, prints the pairing code
to scan with the capture device, and lists each capture as it arrives.
Press Ctrl-C to stop; the session summary is printed on exit.`,
	Args: cobra.NoArgs,
	RunE: runInitiate,
}

func init() {
	f := initiateCmd.Flags()
	f.StringVar(&initiateOpts.qrPNG, "qr-png", "", "also write the pairing code as a PNG file")
	f.StringVar(&initiateOpts.saveDir, "save-dir", "", "download each capture into this directory")
	f.BoolVar(&initiateOpts.chronological, "chronological", false, "print the summary in capture-time order")
	f.BoolVar(&initiateOpts.reconnect, "reconnect", false, "reconnect the push channel after a drop")
	rootCmd.AddCommand(initiateCmd)
}

// saveCapture writes capture i into dir under its stored base name. Nothing
// is written when the image cannot be retrieved.
func saveCapture(ctx context.Context, g *initiator.Gallery, i int, n models.CaptureNotification, dir string) (string, error) {
	data, _, err := g.Download(ctx, i)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(dir, path.Base(n.Image))
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", dst, err)
	}
	return dst, nil
}

func runInitiate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := cfg.NewLogger()
	out := cmd.OutOrStdout()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if initiateOpts.saveDir != "" {
		if err := os.MkdirAll(initiateOpts.saveDir, 0o755); err != nil {
			return fmt.Errorf("create save dir: %w", err)
		}
	}

	var policy initiator.ReconnectPolicy
	if rc := cfg.Initiator.Reconnect; rc.Enabled || initiateOpts.reconnect {
		policy = initiator.ReconnectPolicy{
			InitialBackoff: rc.InitialBackoff,
			MaxBackoff:     rc.MaxBackoff,
			MaxAttempts:    rc.MaxAttempts,
		}
	}

	var in *initiator.Initiator
	in = initiator.New(initiator.Config{
		Sessions:  proofapi.NewClient(proofapi.ClientConfig{Endpoints: cfg.Server, Logger: logger}),
		Endpoints: cfg.Server,
		Reconnect: policy,
		Logger:    logger,
		OnCapture: func(i int, n models.CaptureNotification) {
			printCapture(out, i, n)
			if initiateOpts.saveDir != "" {
				if _, err := saveCapture(ctx, in.Gallery(), i, n, initiateOpts.saveDir); err != nil {
					logger.Warn("capture not saved", "image", n.Image, "err", err)
				}
			}
		},
		OnChannelState: func(s initiator.ChannelState) {
			fmt.Fprintf(out, "channel: %s\n", s)
		},
	})
	defer in.Close()

	if err := in.Start(ctx); err != nil {
		return err
	}

	pairingURL, err := in.PairingURL()
	if err != nil {
		return err
	}
	code, err := qr.Terminal(pairingURL)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, code)
	fmt.Fprintf(out, "session %s\nscan or open %s\n", in.SessionID(), pairingURL)

	if initiateOpts.qrPNG != "" {
		png, err := qr.PNG(pairingURL, qr.DefaultSize)
		if err != nil {
			return err
		}
		if err := os.WriteFile(initiateOpts.qrPNG, png, 0o644); err != nil {
			return fmt.Errorf("write pairing code: %w", err)
		}
	}

	<-ctx.Done()

	captures := in.Captures()
	if initiateOpts.chronological {
		captures = in.Gallery().Chronological()
	}
	fmt.Fprintf(out, "\n%d capture(s)\n", len(captures))
	for i, n := range captures {
		printCapture(out, i, n)
	}
	return nil
}
