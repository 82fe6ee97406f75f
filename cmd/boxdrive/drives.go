package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ajaxzhan/boxdrive/internal/drive"
	"github.com/ajaxzhan/boxdrive/pkg/types"
)

var (
	addLetter      string
	addType        string
	addTitle       string
	addReadOnly    bool
	addHidden      bool
	addLocked      bool
	addEquivalents []string
	addShadow      string

	listLetter string
	listFormat string
)

var drivesCmd = &cobra.Command{
	Use:   "drives",
	Short: "Manage recorded drives",
}

var drivesAddCmd = &cobra.Command{
	Use:   "add <source>",
	Short: "Record a folder, disc image or volume as a drive",
	Long: `Record a drive for a host folder, disc image or mounted volume.

Examples:
  # Let boxdrive pick the type and letter
  boxdrive drives add ~/DOS/Doom

  # A CD image at D:, also reachable through its mounted volume
  boxdrive drives add ~/DOS/Doom/CD.iso --letter D --equivalent /Volumes/DOOM`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDrivesAdd(cmd, args[0])
	},
}

var drivesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded drives",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDrivesList(cmd)
	},
}

var drivesRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Forget a recorded drive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := openCatalog()
		if err != nil {
			return err
		}
		return catalog.Remove(cmd.Context(), args[0])
	},
}

func init() {
	drivesCmd.AddCommand(drivesAddCmd, drivesListCmd, drivesRmCmd)

	drivesAddCmd.Flags().StringVarP(&addLetter, "letter", "l", "", "drive letter (default: from the source name, else assigned at mount)")
	drivesAddCmd.Flags().StringVarP(&addType, "type", "t", "auto", "drive type: auto, hdd, floppy, cdrom")
	drivesAddCmd.Flags().StringVar(&addTitle, "title", "", "display title")
	drivesAddCmd.Flags().BoolVar(&addReadOnly, "read-only", false, "make the drive read-only")
	drivesAddCmd.Flags().BoolVar(&addHidden, "hidden", false, "hide the drive from listings")
	drivesAddCmd.Flags().BoolVar(&addLocked, "locked", false, "prevent the drive from being unmounted")
	drivesAddCmd.Flags().StringSliceVar(&addEquivalents, "equivalent", nil, "other locations with the same contents")
	drivesAddCmd.Flags().StringVar(&addShadow, "shadow", "", "where writes are redirected (default: under the shadow path when shadowing is on)")

	drivesListCmd.Flags().StringVarP(&listLetter, "letter", "l", "", "only drives at this letter")
	drivesListCmd.Flags().StringVarP(&listFormat, "output", "o", "table", "output format (table, json, yaml)")
}

func runDrivesAdd(cmd *cobra.Command, source string) error {
	driveType, err := types.ParseDriveType(addType)
	if err != nil {
		return err
	}
	source, err = filepath.Abs(source)
	if err != nil {
		return err
	}

	opts, err := driveOptions()
	if err != nil {
		return err
	}
	shadow := addShadow
	if shadow == "" && cfg.Drives.UseShadowing {
		shadow = filepath.Join(cfg.Storage.ShadowPath, filepath.Base(source)+".shadow")
	}
	if shadow != "" {
		opts = append(opts, drive.WithShadowURL(shadow))
	}

	d, err := drive.New(source, addLetter, driveType, opts...)
	if err != nil {
		return err
	}
	defer d.Close()

	if addTitle != "" {
		d.SetTitle(addTitle)
	}
	if addReadOnly {
		if err := d.SetReadOnly(true); err != nil {
			return err
		}
	}
	d.SetHidden(addHidden)
	d.SetLocked(addLocked)
	for _, eq := range addEquivalents {
		d.AddEquivalentURL(eq)
	}

	catalog, err := openCatalog()
	if err != nil {
		return err
	}
	rec, err := catalog.Add(cmd.Context(), d)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", rec.ID, d)
	return nil
}

func runDrivesList(cmd *cobra.Command) error {
	catalog, err := openCatalog()
	if err != nil {
		return err
	}
	recs, err := catalog.Store().List(cmd.Context(), listLetter, 0, 0)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch strings.ToLower(listFormat) {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	case "yaml":
		return yaml.NewEncoder(out).Encode(recs)
	case "table", "":
	default:
		return fmt.Errorf("unknown output format %q", listFormat)
	}

	if len(recs) == 0 {
		fmt.Fprintln(out, "No drives recorded.")
		return nil
	}
	fmt.Fprintf(out, "%-36s  %-6s  %-9s  %-20s  %s\n", "ID", "LETTER", "TYPE", "TITLE", "SOURCE")
	for _, rec := range recs {
		letter := rec.Letter
		if letter == "" {
			letter = "-"
		}
		fmt.Fprintf(out, "%-36s  %-6s  %-9s  %-20s  %s\n", rec.ID, letter, rec.Type, rec.Title, rec.SourceURL)
	}
	return nil
}

// writeLine prints s on its own line unless err is set.
func writeLine(cmd *cobra.Command, s string, err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), s)
	return nil
}
