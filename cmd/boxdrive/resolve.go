package main

import (
	"fmt"
	"path"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ajaxzhan/boxdrive/internal/drive"
	boxfs "github.com/ajaxzhan/boxdrive/internal/fs"
	"github.com/ajaxzhan/boxdrive/internal/volume"
	"github.com/ajaxzhan/boxdrive/pkg/types"
)

var (
	lsRecursive  bool
	lsShowHidden bool

	changesMerge  bool
	changesRevert bool
)

var classifyCmd = &cobra.Command{
	Use:   "classify <path>...",
	Short: "Show the drive type, letter and labels boxdrive would pick for a location",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		detector := drive.NewDetector(afero.NewOsFs(), volume.HostInspector{})
		out := cmd.OutOrStdout()
		for _, arg := range args {
			p, err := filepath.Abs(arg)
			if err != nil {
				return err
			}
			letter := detector.PreferredLetter(p)
			if letter == "" {
				letter = "-"
			}
			fmt.Fprintf(out, "%s\n", p)
			fmt.Fprintf(out, "  type:         %s\n", detector.PreferredType(p))
			fmt.Fprintf(out, "  letter:       %s\n", letter)
			fmt.Fprintf(out, "  title:        %s\n", detector.PreferredTitle(p))
			fmt.Fprintf(out, "  volume label: %s\n", detector.PreferredVolumeLabel(p))
			fmt.Fprintf(out, "  mount point:  %s\n", detector.MountPointFor(p))
		}
		return nil
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <host-path>",
	Short: "Print the DOS path a host location is reachable at",
	Long: `Print the DOS path at which a host location is visible through the
recorded drives. When several drives expose it, the most specific one wins.

Examples:
  boxdrive resolve ~/DOS/Doom/DOOM.EXE
  boxdrive resolve /Volumes/DOOM/SETUP.EXE`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		set, err := mountedSet(cmd.Context())
		if err != nil {
			return err
		}
		defer set.Close()

		dosPath, err := set.DOSPathForLogicalURL(p)
		return writeLine(cmd, dosPath, err)
	},
}

var locateCmd = &cobra.Command{
	Use:   "locate <dos-path>",
	Short: "Print the host location of a DOS path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := mountedSet(cmd.Context())
		if err != nil {
			return err
		}
		defer set.Close()

		fileURL, err := set.FileURLForDOSPath(args[0])
		return writeLine(cmd, fileURL, err)
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls <dos-path>",
	Short: "List a directory on a mounted drive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := mountedSet(cmd.Context())
		if err != nil {
			return err
		}
		defer set.Close()

		d, logical, err := driveAndPath(set, args[0])
		if err != nil {
			return err
		}

		opts := boxfs.EnumerationOptions{
			SkipHidden:         !lsShowHidden,
			SkipSubdirectories: !lsRecursive,
		}
		skip := func(p string, err error) bool {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", p, err)
			return true
		}
		e, err := d.Filesystem().Enumerator(logical, opts, skip)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for e.Next() {
			info := e.Info()
			size := fmt.Sprintf("%10d", info.Size())
			if info.IsDir() {
				size = fmt.Sprintf("%10s", "<DIR>")
			}
			fmt.Fprintf(out, "%s  %s  %s\n", info.ModTime().Format("2006-01-02 15:04"), size, d.DOSPathForLogicalPath(e.LogicalPath()))
		}
		return e.Err()
	},
}

var changesCmd = &cobra.Command{
	Use:   "changes <id>",
	Short: "List, merge or revert the shadowed writes of a recorded drive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := openCatalog()
		if err != nil {
			return err
		}
		d, err := catalog.Drive(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer d.Close()

		switch {
		case changesMerge:
			return d.MergeShadowedChanges()
		case changesRevert:
			return d.RevertShadowedChanges()
		}

		changes, err := d.ShadowedChanges()
		if err != nil {
			return err
		}
		for _, p := range changes {
			fmt.Fprintln(cmd.OutOrStdout(), d.DOSPathForLogicalPath(p))
		}
		return nil
	},
}

func init() {
	lsCmd.Flags().BoolVarP(&lsRecursive, "recursive", "r", false, "list subdirectories too")
	lsCmd.Flags().BoolVarP(&lsShowHidden, "all", "a", false, "include hidden files")

	changesCmd.Flags().BoolVar(&changesMerge, "merge", false, "apply the writes to the drive's source")
	changesCmd.Flags().BoolVar(&changesRevert, "revert", false, "discard the writes")
	changesCmd.MarkFlagsMutuallyExclusive("merge", "revert")
	drivesCmd.AddCommand(changesCmd)
}

// driveAndPath finds the mounted drive a DOS path is on and its logical path there.
func driveAndPath(set *drive.Set, dosPath string) (*drive.Drive, string, error) {
	letter, _ := drive.SplitDOSPath(dosPath)
	d, ok := set.DriveAtLetter(letter)
	if !ok {
		return nil, "", &types.ResolutionError{Target: dosPath, Err: types.ErrNoDriveAtLetter}
	}
	fileURL, err := d.FileURLForDOSPath(dosPath)
	if err != nil {
		return nil, "", err
	}
	logical, ok := d.Filesystem().PathForFileURL(fileURL)
	if !ok {
		return nil, "", &types.ResolutionError{Target: dosPath, Err: types.ErrNotFound}
	}
	return d, path.Clean(logical), nil
}
