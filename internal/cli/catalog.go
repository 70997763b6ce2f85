package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/rudransh-shrivastava/nearby/internal/config"
	"github.com/rudransh-shrivastava/nearby/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var shareID string

var shareCmd = &cobra.Command{
	Use:   "share path/to/file",
	Short: "add a file to the catalog",
	Long:  `adds a file to the catalog so that peers can request it by its id. The id is printed on success.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, closer, err := setup(nil)
		if err != nil {
			return err
		}
		defer closer.Close()

		files, closeDB, err := openCatalog(cfg)
		if err != nil {
			return err
		}
		defer closeDB()

		file, err := store.Describe(args[0], shareID)
		if err != nil {
			return err
		}
		file, created, err := files.CreateFile(cmd.Context(), file)
		if err != nil {
			return err
		}
		if !created {
			fmt.Fprintln(cmd.OutOrStdout(), notice("Already shared"), file.Name)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), success("Shared"), file.Name)
		}
		fmt.Fprintln(cmd.OutOrStdout(), file.FileID)
		return nil
	},
}

var unshareCmd = &cobra.Command{
	Use:   "unshare file-id",
	Short: "remove a file from the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, closer, err := setup(nil)
		if err != nil {
			return err
		}
		defer closer.Close()

		files, closeDB, err := openCatalog(cfg)
		if err != nil {
			return err
		}
		defer closeDB()

		if err := files.DeleteFile(cmd.Context(), args[0]); err != nil {
			if errors.Is(err, store.ErrFileNotFound) {
				return fmt.Errorf("%s is not shared", args[0])
			}
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), success("Unshared"), args[0])
		return nil
	},
}

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "list the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, closer, err := setup(nil)
		if err != nil {
			return err
		}
		defer closer.Close()

		files, closeDB, err := openCatalog(cfg)
		if err != nil {
			return err
		}
		defer closeDB()

		return listFiles(cmd.Context(), files, cmd.OutOrStdout())
	},
}

func init() {
	shareCmd.Flags().StringVar(&shareID, "id", "", "id to share the file under (default: a new uuid)")
}

// openCatalog opens the sqlite catalog. SQL logging goes through logrus at
// the configured level.
func openCatalog(cfg config.Config) (*store.FileStore, func(), error) {
	sqlLog := logrus.New()
	sqlLog.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	sqlLog.SetLevel(level)

	db, err := store.Open(cfg.DBPath, sqlLog)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return store.NewFileStore(db), closeDB, nil
}

func listFiles(ctx context.Context, files store.FileRepository, out io.Writer) error {
	shared, err := files.GetFiles(ctx)
	if err != nil {
		return err
	}
	if len(shared) == 0 {
		fmt.Fprintln(out, "No shared files")
		return nil
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"ID", "Name", "Size", "Checksum", "Path"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, f := range shared {
		checksum := f.Checksum
		if len(checksum) > 12 {
			checksum = checksum[:12]
		}
		table.Append([]string{f.FileID, f.Name, strconv.FormatInt(f.Size, 10), checksum, f.Path})
	}
	table.Render()
	return nil
}
