package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/h5fs/pkg/config"
	"github.com/marmos91/h5fs/pkg/store"
	"github.com/marmos91/h5fs/pkg/vfs"
	"github.com/spf13/cobra"
)

// openFilesystem opens the configured store read-only and builds the
// virtual filesystem over it. The returned function closes the store.
func openFilesystem(cmd *cobra.Command, quietStdout bool) (*vfs.FS, func() error, error) {
	cfg, err := loadConfig(cmd, quietStdout)
	if err != nil {
		return nil, nil, err
	}

	st, err := config.CreateStore(cmd.Context(), cfg, config.OpenReadOnly, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open data store: %w", err)
	}

	fs, err := config.CreateFilesystem(st, cfg, nil)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return fs, st.Close, nil
}

// ============================================================================
// ls
// ============================================================================

// LsCommand lists a group of the virtual filesystem.
func LsCommand() *cobra.Command {
	var long, all bool

	var cmdLs = &cobra.Command{
		Use:   "ls [path]",
		Short: "List a group as it appears in the mounted filesystem",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			p := "/"
			if len(args) == 1 {
				p = args[0]
			}

			fs, closeStore, err := openFilesystem(cmd, true)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := closeStore(); err == nil {
					err = cerr
				}
			}()

			group, err := fs.Resolve(cmd.Context(), p)
			if err != nil {
				return err
			}

			if long {
				return listLong(cmd, fs, group, all)
			}

			var synthetic []string
			if all {
				synthetic = vfs.DefaultSyntheticNames
			}
			for name, err := range fs.List(cmd.Context(), group, synthetic) {
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}

	addStoreFlags(cmdLs.Flags())
	cmdLs.Flags().BoolVarP(&long, "long", "l", false, "Show mode and size")
	cmdLs.Flags().BoolVarP(&all, "all", "a", false, "Include . and ..")
	return cmdLs
}

func listLong(cmd *cobra.Command, fs *vfs.FS, group *store.Entry, all bool) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', tabwriter.AlignRight)

	if all {
		attr, err := fs.Stat(group)
		if err != nil {
			return err
		}
		for _, name := range vfs.DefaultSyntheticNames {
			writeLongEntry(w, attr, name)
		}
	}

	for child, err := range fs.ReadDir(cmd.Context(), group) {
		if err != nil {
			return err
		}
		attr, err := fs.Stat(child.Entry)
		if err != nil {
			return err
		}
		writeLongEntry(w, attr, child.Name)
	}
	return w.Flush()
}

func writeLongEntry(w io.Writer, attr *vfs.Attr, name string) {
	fmt.Fprintf(w, "%s\t%d\t%d\t%s\t %s\n", attr.Mode, attr.UID, attr.GID, humanize.IBytes(attr.Size), name)
}

// ============================================================================
// stat
// ============================================================================

// StatCommand prints the attributes of one entry and, for datasets, the
// figures derived from its metadata.
func StatCommand() *cobra.Command {
	var cmdStat = &cobra.Command{
		Use:   "stat <path>",
		Short: "Show attributes of a file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			fs, closeStore, err := openFilesystem(cmd, true)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := closeStore(); err == nil {
					err = cerr
				}
			}()

			e, attr, err := fs.StatPath(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 1, ' ', 0)
			fmt.Fprintf(w, "Path:\t%s\n", fs.VirtualPath(e))
			fmt.Fprintf(w, "Native:\t%s\n", e.Path)
			fmt.Fprintf(w, "Type:\t%s\n", e.Kind)
			fmt.Fprintf(w, "Mode:\t%s\n", attr.Mode)
			fmt.Fprintf(w, "Owner:\t%d:%d\n", attr.UID, attr.GID)
			fmt.Fprintf(w, "Size:\t%d (%s)\n", attr.Size, humanize.IBytes(attr.Size))

			if e.IsDataset() {
				d, err := fs.Describe(e)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "Dtype:\t%s\n", d.Descr)
				fmt.Fprintf(w, "Shape:\t%s\n", d.Shape)
				fmt.Fprintf(w, "Item size:\t%d\n", d.ItemSize)
				fmt.Fprintf(w, "Elements:\t%s\n", humanize.Comma(int64(d.Count)))
				fmt.Fprintf(w, "Header:\t%d\n", d.HeaderSize)
				fmt.Fprintf(w, "Payload:\t%d\n", d.PayloadSize)
			}
			return w.Flush()
		},
	}

	addStoreFlags(cmdStat.Flags())
	return cmdStat
}

// ============================================================================
// cat
// ============================================================================

// CatCommand writes the bytes of a virtual file to stdout.
func CatCommand() *cobra.Command {
	var offset, length int64

	var cmdCat = &cobra.Command{
		Use:   "cat <path>",
		Short: "Write a dataset file, exactly as mounted, to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if offset < 0 {
				return fmt.Errorf("--offset must not be negative")
			}
			if length < -1 {
				return fmt.Errorf("--length must be -1 (to the end) or a byte count")
			}

			fs, closeStore, err := openFilesystem(cmd, true)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := closeStore(); err == nil {
					err = cerr
				}
			}()

			e, err := fs.Open(cmd.Context(), args[0], os.O_RDONLY)
			if err != nil {
				return err
			}

			r, err := fs.NewReader(cmd.Context(), e)
			if err != nil {
				return err
			}

			n := r.Size() - offset
			if length >= 0 && length < n {
				n = length
			}
			if n <= 0 {
				return nil
			}

			_, err = io.Copy(cmd.OutOrStdout(), io.NewSectionReader(r, offset, n))
			return err
		},
	}

	addStoreFlags(cmdCat.Flags())
	cmdCat.Flags().Int64Var(&offset, "offset", 0, "Byte offset to start at")
	cmdCat.Flags().Int64Var(&length, "length", -1, "Number of bytes to write (-1 = to the end)")
	return cmdCat
}
