package main

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-blobstore/pkg/blobstore"
	"golang.org/x/sync/errgroup"
)

func defaultCreatedBy() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "blobstore-cli"
}

// NewPutCommand creates the put command
func NewPutCommand() *cobra.Command {
	var createdBy string
	var temporary bool
	var parallel int

	cmd := &cobra.Command{
		Use:   "put <file>...",
		Short: "Upload files as new blobs",
		Long:  `Upload one or more files. Each file becomes a blob; its ID is printed next to the file name.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if parallel < 1 {
				return fmt.Errorf("--parallel must be at least 1, got %d", parallel)
			}

			sess, err := openStore(cmd, true)
			if err != nil {
				return err
			}
			defer sess.close(cmd.Context())

			ids := make([]blobstore.BlobID, len(args))
			var mu sync.Mutex

			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(parallel)
			for i, path := range args {
				g.Go(func() error {
					f, err := os.Open(path)
					if err != nil {
						return err
					}
					defer f.Close()

					headers := map[string]string{
						blobstore.BlobNameHeader:  filepath.Base(path),
						blobstore.CreatedByHeader: createdBy,
					}
					if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
						headers[blobstore.ContentTypeHeader] = ct
					}
					if temporary {
						headers[blobstore.TemporaryBlobHeader] = "true"
					}

					blob, err := sess.inst.Store.Create(ctx, f, headers)
					if err != nil {
						return fmt.Errorf("upload of %s failed: %w", path, err)
					}
					sess.logger.Debug("Uploaded file", "path", path, "blob_id", blob.ID, "size", blob.Metrics.ContentSize)

					mu.Lock()
					ids[i] = blob.ID
					mu.Unlock()
					return nil
				})
			}
			err = g.Wait()

			for i, id := range ids {
				if id != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, args[i])
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&createdBy, "created-by", defaultCreatedBy(), "Value of the created-by header")
	cmd.Flags().BoolVar(&temporary, "temporary", false, "Store blobs in the temporary space")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 4, "Number of concurrent uploads")

	return cmd
}

// NewGetCommand creates the get command
func NewGetCommand() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "get <blob-id>",
		Short: "Download blob content",
		Long:  `Download blob content to a file, or to standard output when no file is given.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openStore(cmd, true)
			if err != nil {
				return err
			}
			defer sess.close(cmd.Context())

			ctx := cmd.Context()
			id := blobstore.BlobID(args[0])
			blob, found, err := sess.inst.Store.Get(ctx, id)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("blob %s: %w", id, blobstore.ErrBlobNotFound)
			}

			rc, err := blob.Open(ctx)
			if err != nil {
				return err
			}
			defer rc.Close()

			out := cmd.OutOrStdout()
			if outputPath != "" {
				f, err := os.Create(outputPath)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", outputPath, err)
				}
				defer f.Close()
				out = f
			}

			if _, err := io.Copy(out, rc); err != nil {
				return fmt.Errorf("download failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (default: stdout)")

	return cmd
}

// NewCopyCommand creates the cp command
func NewCopyCommand() *cobra.Command {
	var name string
	var createdBy string

	cmd := &cobra.Command{
		Use:   "cp <blob-id>",
		Short: "Copy a blob",
		Long:  `Create a new blob with the content of an existing one. The copy keeps the source name unless --name is given.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openStore(cmd, true)
			if err != nil {
				return err
			}
			defer sess.close(cmd.Context())

			ctx := cmd.Context()
			sourceID := blobstore.BlobID(args[0])
			if name == "" {
				source, found, err := sess.inst.Store.Get(ctx, sourceID)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("blob %s: %w", sourceID, blobstore.ErrBlobNotFound)
				}
				name = source.Headers[blobstore.BlobNameHeader]
			}

			blob, err := sess.inst.Store.Copy(ctx, sourceID, map[string]string{
				blobstore.BlobNameHeader:  name,
				blobstore.CreatedByHeader: createdBy,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), blob.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Blob name of the copy")
	cmd.Flags().StringVar(&createdBy, "created-by", defaultCreatedBy(), "Value of the created-by header")

	return cmd
}

// NewDeleteCommand creates the rm command
func NewDeleteCommand() *cobra.Command {
	var hard bool
	var reason string

	cmd := &cobra.Command{
		Use:   "rm <blob-id>",
		Short: "Delete a blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openStore(cmd, true)
			if err != nil {
				return err
			}
			defer sess.close(cmd.Context())

			ctx := cmd.Context()
			id := blobstore.BlobID(args[0])
			var deleted bool
			if hard {
				deleted, err = sess.inst.Store.DeleteHard(ctx, id)
			} else {
				deleted, err = sess.inst.Store.Delete(ctx, id, reason)
			}
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("blob %s was not deleted", id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
			return nil
		},
	}

	cmd.Flags().BoolVar(&hard, "hard", false, "Remove the blob objects immediately")
	cmd.Flags().StringVar(&reason, "reason", "deleted from command line", "Reason recorded with the deletion")

	return cmd
}

// NewListCommand creates the ls command
func NewListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List permanent blob IDs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openStore(cmd, false)
			if err != nil {
				return err
			}
			defer sess.close(cmd.Context())

			for id, err := range sess.inst.Store.BlobIDs(cmd.Context()) {
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}

	return cmd
}

// NewStatCommand creates the stat command
func NewStatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stat <blob-id>",
		Short: "Show the persisted attributes of a blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openStore(cmd, false)
			if err != nil {
				return err
			}
			defer sess.close(cmd.Context())

			id := blobstore.BlobID(args[0])
			attrs, found, err := sess.inst.Store.BlobAttributes(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("blob %s: %w", id, blobstore.ErrBlobNotFound)
			}
			return printJSON(cmd.OutOrStdout(), attrs)
		},
	}

	return cmd
}

// NewMetricsCommand creates the metrics command
func NewMetricsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show blob count and total size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openStore(cmd, true)
			if err != nil {
				return err
			}
			defer sess.close(cmd.Context())

			metrics, err := sess.inst.Store.Metrics()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), metrics)
		},
	}

	return cmd
}

// NewRemoveCommand creates the remove command
func NewRemoveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove an empty blob store and its bucket",
		Long:  `Remove the store metadata, persisted metrics and the bucket. Nothing is removed while blob content remains.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openStore(cmd, false)
			if err != nil {
				return err
			}
			defer sess.close(cmd.Context())

			removed, err := sess.inst.Store.Remove(cmd.Context())
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("blob store still holds content, nothing removed")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Blob store removed")
			return nil
		},
	}

	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
