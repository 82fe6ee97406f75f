package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ajaxzhan/boxdrive/internal/dosview"
	"github.com/ajaxzhan/boxdrive/internal/drive"
	"github.com/ajaxzhan/boxdrive/internal/logging"
	"github.com/ajaxzhan/boxdrive/internal/volume"
)

var (
	serveMountPath  string
	serveGameboxes  []string
	serveAllowOther bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Mount the recorded drives and expose them as a FUSE filesystem",
	Long: `Mount every recorded drive, plus the drives bundled in any gameboxes
given, and expose them under the mount path with one directory per letter.
Drives on host volumes that go away are unmounted automatically.

Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveMountPath, "mount-path", "", "where to mount the DOS view (overrides config)")
	serveCmd.Flags().StringSliceVar(&serveGameboxes, "gamebox", nil, "gamebox whose bundled drives are mounted too")
	serveCmd.Flags().BoolVar(&serveAllowOther, "allow-other", false, "let other users access the DOS view")
}

func runServe(ctx context.Context) error {
	if serveMountPath != "" {
		cfg.DOSView.MountPath = serveMountPath
	}
	if serveAllowOther {
		cfg.DOSView.AllowOther = true
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	set, err := mountedSet(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := set.Close(); err != nil {
			logging.Warn("Failed to release drives", logging.Err(err))
		}
	}()

	for _, p := range serveGameboxes {
		if err := mountGamebox(set, p); err != nil {
			return err
		}
	}

	unsubscribe := set.Subscribe(func(ev drive.Event) {
		logging.Info("Drive set changed",
			logging.String("event", ev.Type.String()),
			logging.String("drive", ev.Drive.String()))
	})
	defer unsubscribe()

	watcher, err := volume.NewWatcher(cfg.Mounting.VolumeDirs)
	if err != nil {
		return err
	}
	defer watcher.Close()
	defer watcher.Subscribe(set.HandleVolumeEvent)()
	go func() {
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Error("Volume watcher stopped", logging.Err(err))
		}
	}()
	logging.Info("Watching for volume changes", logging.Strings("dirs", watcher.Dirs()))

	view, err := dosview.NewView(set, &dosview.Config{
		MountPoint:   cfg.DOSView.MountPath,
		Rules:        dosview.HiddenRules(cfg.DOSView.HiddenPatterns),
		AllowOther:   cfg.DOSView.AllowOther,
		EntryTimeout: cfg.DOSView.GetEntryTimeout(),
		AttrTimeout:  cfg.DOSView.GetAttrTimeout(),
	})
	if err != nil {
		return err
	}

	logging.Info("Starting DOS view",
		logging.String("mount_path", cfg.DOSView.MountPath),
		logging.Int("drives", len(set.MountedDrives())))
	if err := view.Mount(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info("Shutting down...")
	return nil
}
