package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ajaxzhan/boxdrive/internal/drive"
	"github.com/ajaxzhan/boxdrive/internal/gamebox"
	"github.com/ajaxzhan/boxdrive/internal/logging"
)

var (
	launcherTitle   string
	launcherArgs    string
	launcherDefault bool
)

var gameboxCmd = &cobra.Command{
	Use:   "gamebox",
	Short: "Inspect and edit gameboxes",
}

var gameboxInfoCmd = &cobra.Command{
	Use:   "info <gamebox>",
	Short: "Show a gamebox's identifier, launchers and bundled drives",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := openGamebox(args[0])
		if err != nil {
			return err
		}
		id, err := g.GameIdentifier()
		if err != nil {
			return err
		}
		info, err := g.GameInfo()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Name:       %s\n", g.GameName())
		fmt.Fprintf(out, "Identifier: %s (%s)\n", id, info.IdentifierType)
		fmt.Fprintf(out, "Writable:   %t\n", g.IsWritable())

		fmt.Fprintln(out, "Launchers:")
		for i, l := range info.Launchers {
			mark := " "
			if l.Default {
				mark = "*"
			}
			fmt.Fprintf(out, "  %s %d. %s  %s %s\n", mark, i, l.Title, l.RelativePath, l.Arguments)
		}

		drives, err := g.BundledDrives()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "Drives:")
		for _, d := range drives {
			letter := d.Letter()
			if letter == "" {
				letter = "-"
			}
			fmt.Fprintf(out, "  %s  %-9s  %s\n", letter, d.Type(), filepath.Base(d.SourceURL()))
			d.Close()
		}
		return nil
	},
}

var gameboxAddLauncherCmd = &cobra.Command{
	Use:   "add-launcher <gamebox> <program>",
	Short: "Add a program inside the gamebox as a launcher",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := openGamebox(args[0])
		if err != nil {
			return err
		}
		program, err := filepath.Abs(args[1])
		if err != nil {
			return err
		}
		if err := g.AddLauncher(program, launcherArgs, launcherTitle); err != nil {
			return err
		}
		if !launcherDefault {
			return nil
		}
		launchers, err := g.Launchers()
		if err != nil {
			return err
		}
		return g.SetDefaultLauncherIndex(len(launchers) - 1)
	},
}

var gameboxRmLauncherCmd = &cobra.Command{
	Use:   "rm-launcher <gamebox> <index>",
	Short: "Remove a launcher by its position",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := openGamebox(args[0])
		if err != nil {
			return err
		}
		var index int
		if _, err := fmt.Sscanf(args[1], "%d", &index); err != nil {
			return fmt.Errorf("invalid launcher index %q", args[1])
		}
		return g.RemoveLauncherAt(index)
	},
}

func init() {
	gameboxCmd.AddCommand(gameboxInfoCmd, gameboxAddLauncherCmd, gameboxRmLauncherCmd)

	gameboxAddLauncherCmd.Flags().StringVar(&launcherTitle, "title", "", "launcher title (default: program name)")
	gameboxAddLauncherCmd.Flags().StringVar(&launcherArgs, "args", "", "arguments passed to the program")
	gameboxAddLauncherCmd.Flags().BoolVar(&launcherDefault, "default", false, "make this the default launcher")
}

func openGamebox(p string) (*gamebox.Gamebox, error) {
	p, err := filepath.Abs(p)
	if err != nil {
		return nil, err
	}
	opts, err := driveOptions()
	if err != nil {
		return nil, err
	}
	return gamebox.Open(p,
		gamebox.WithWritableCache(gamebox.NewWritableCache(cfg.Gamebox.GetWritableTTL())),
		gamebox.WithDriveOptions(opts...))
}

// mountGamebox queues and mounts the drives bundled in the gamebox at p.
func mountGamebox(set *drive.Set, p string) error {
	g, err := openGamebox(p)
	if err != nil {
		return err
	}
	drives, err := g.BundledDrives()
	if err != nil {
		return err
	}
	for _, d := range drives {
		if err := set.Enqueue(d); err != nil {
			return err
		}
		if _, err := set.Mount(d, cfg.Drives.MountOptions()); err != nil {
			logging.Warn("Bundled drive left unmounted",
				logging.String("gamebox", g.GameName()),
				logging.String("drive", d.String()),
				logging.Err(err))
		}
	}
	logging.Info("Gamebox drives added",
		logging.String("gamebox", g.GameName()),
		logging.Int("drives", len(drives)))
	return nil
}
