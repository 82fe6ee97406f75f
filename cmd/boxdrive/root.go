package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ajaxzhan/boxdrive/internal/config"
	"github.com/ajaxzhan/boxdrive/internal/drive"
	"github.com/ajaxzhan/boxdrive/internal/logging"
	"github.com/ajaxzhan/boxdrive/internal/mounter"
	"github.com/ajaxzhan/boxdrive/internal/store"
	"github.com/ajaxzhan/boxdrive/internal/volume"
)

// cfg is loaded once per invocation by the root command.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "boxdrive",
	Short: "Manage DOS drives for an emulated PC",
	Long: `boxdrive maps host folders, disc images and gameboxes onto DOS drive
letters, translates between DOS paths and host locations, and can expose the
mounted drives as a FUSE filesystem.

Settings come from a YAML file (--config), overridden by BOXDRIVE_* environment
variables and then by command-line flags.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to configuration file (YAML)")
	rootCmd.PersistentFlags().String("state-path", "", "directory holding drive records (overrides config)")
	rootCmd.PersistentFlags().String("mount-backend", "", "image mounter: auto, hdiutil, loop, none (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().String("log-format", "", "log format: text, json (overrides config)")

	viper.SetEnvPrefix("BOXDRIVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	for _, name := range []string{"config", "state-path", "mount-backend", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}

	rootCmd.AddCommand(drivesCmd, classifyCmd, resolveCmd, locateCmd, lsCmd, gameboxCmd, serveCmd)
}

func loadConfig() error {
	loaded, err := config.LoadOrDefault(viper.GetString("config"))
	if err != nil {
		return err
	}

	if v := viper.GetString("state-path"); v != "" {
		loaded.Storage.StatePath = v
	}
	if v := viper.GetString("mount-backend"); v != "" {
		loaded.Mounting.Backend = v
	}
	if v := viper.GetString("log-level"); v != "" {
		loaded.Logging.Level = v
	}
	if v := viper.GetString("log-format"); v != "" {
		loaded.Logging.Format = v
	}

	if err := logging.Init(&logging.Config{
		Level:  loaded.Logging.Level,
		Format: loaded.Logging.Format,
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	cfg = loaded
	return nil
}

// driveOptions builds the options every drive created by the CLI shares.
func driveOptions() ([]drive.Option, error) {
	m, err := mounter.New(cfg.Mounting.Backend, &mounter.Config{
		MountRoot:   cfg.Mounting.MountRoot,
		ReadOnly:    cfg.Mounting.ReadOnly,
		HdiutilPath: cfg.Mounting.HdiutilPath,
		Timeout:     cfg.Mounting.GetTimeout(),
	})
	if err != nil {
		return nil, err
	}
	return []drive.Option{
		drive.WithMounter(m),
		drive.WithInspector(volume.HostInspector{}),
	}, nil
}

// openCatalog opens the drive records under the configured state path.
func openCatalog() (*store.Catalog, error) {
	st, err := store.NewFileStore(cfg.Storage.StatePath)
	if err != nil {
		return nil, err
	}
	opts, err := driveOptions()
	if err != nil {
		return nil, err
	}
	return store.NewCatalog(st, opts...)
}

// mountedSet rebuilds the recorded drives and mounts them into a new set.
func mountedSet(ctx context.Context) (*drive.Set, error) {
	catalog, err := openCatalog()
	if err != nil {
		return nil, err
	}
	set := drive.NewSet()
	if _, err := catalog.MountAll(ctx, set, cfg.Drives.MountOptions()); err != nil {
		set.Close()
		return nil, err
	}
	return set, nil
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	_ = logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
