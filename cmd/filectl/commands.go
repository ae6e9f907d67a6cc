package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/filealloc/internal/app"
	"github.com/dharsanguruparan/filealloc/internal/config"
	"github.com/dharsanguruparan/filealloc/internal/files"
)

// cli carries the state shared by every subcommand. open is replaced in tests.
type cli struct {
	out    io.Writer
	bucket string
	open   func(ctx context.Context) (*app.App, error)
}

func openFromEnv(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.Build(ctx, cfg, app.NewLogger(cfg, os.Stderr))
}

func newRootCommand(out io.Writer) *cobra.Command {
	return newCLI(&cli{out: out, open: openFromEnv})
}

func newCLI(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filectl",
		Short: "filealloc admin CLI",
		Long: `filectl runs the reconciliation passes and admin operations of filealloc once,
against the buckets configured through FILEALLOC_* environment variables.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&c.bucket, "bucket", "b", "", "Bucket to operate on (default: every configured bucket)")
	cmd.AddCommand(
		c.newCleanStoreCmd(),
		c.newCleanDBCmd(),
		c.newCleanOldCmd(),
		c.newProcessMissedCmd(),
		c.newProcessCmd(),
		c.newDeleteCmd(),
		c.newTouchCmd(),
	)
	return cmd
}

// eachManager runs fn for the selected bucket, or for every bucket when none
// was selected.
func (c *cli) eachManager(ctx context.Context, fn func(m *files.Manager) (any, error)) error {
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	buckets := a.Managers.Buckets()
	if c.bucket != "" {
		buckets = []string{c.bucket}
	}
	for _, bucket := range buckets {
		m, err := a.Managers.Lookup(bucket)
		if err != nil {
			return err
		}
		result, err := fn(m)
		if err != nil {
			return fmt.Errorf("bucket %s: %w", bucket, err)
		}
		if err := c.print(bucket, result); err != nil {
			return err
		}
	}
	return nil
}

// oneManager runs fn for a single bucket. The bucket flag may be omitted when
// only one bucket is configured.
func (c *cli) oneManager(ctx context.Context, fn func(m *files.Manager) (any, error)) error {
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	bucket := c.bucket
	if bucket == "" {
		buckets := a.Managers.Buckets()
		if len(buckets) != 1 {
			return errors.New("--bucket is required when several buckets are configured")
		}
		bucket = buckets[0]
	}
	m, err := a.Managers.Lookup(bucket)
	if err != nil {
		return err
	}
	result, err := fn(m)
	if err != nil {
		return err
	}
	return c.print(bucket, result)
}

func (c *cli) print(bucket string, result any) error {
	return json.NewEncoder(c.out).Encode(map[string]any{"bucket": bucket, "result": result})
}

func (c *cli) newCleanStoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean-store",
		Short: "Delete stored objects that have no entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return c.eachManager(ctx, func(m *files.Manager) (any, error) {
				n, err := m.CleanFileStore(ctx)
				return map[string]int{"removed": n}, err
			})
		},
	}
}

func (c *cli) newCleanDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean-db",
		Short: "Delete entries whose object is missing from the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return c.eachManager(ctx, func(m *files.Manager) (any, error) {
				n, err := m.CleanDatabase(ctx)
				return map[string]int64{"removed": n}, err
			})
		},
	}
}

func (c *cli) newCleanOldCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "clean-old",
		Short: "Delete entries never uploaded within --days days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return c.eachManager(ctx, func(m *files.Manager) (any, error) {
				n, err := m.CleanOldFiles(ctx, days)
				return map[string]int64{"removed": n}, err
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", files.DefaultNumDays, "Minimum age in days")
	return cmd
}

func (c *cli) newProcessMissedCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "process-missed",
		Short: "Process entries left unprocessed for --days days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return c.eachManager(ctx, func(m *files.Manager) (any, error) {
				return m.ProcessMissedNewFiles(ctx, days)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", files.DefaultNumDays, "Minimum age in days")
	return cmd
}

func (c *cli) newProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process <bucketname>",
		Short: "Run the processing pipeline for one file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.oneManager(ctx, func(m *files.Manager) (any, error) {
				return m.ProcessFile(ctx, args[0])
			})
		},
	}
}

func (c *cli) newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <bucketname>...",
		Short: "Delete files from the store and their entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.oneManager(ctx, func(m *files.Manager) (any, error) {
				n, err := m.DeleteFiles(ctx, args...)
				return map[string]int64{"deleted": n}, err
			})
		},
	}
}

func (c *cli) newTouchCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "touch <bucketname>",
		Short: "Reset the creation time of an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var when time.Time
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				when = parsed
			}
			ctx := cmd.Context()
			return c.oneManager(ctx, func(m *files.Manager) (any, error) {
				if err := m.UpdateCreationTime(ctx, args[0], when); err != nil {
					return nil, err
				}
				return m.GetEntry(ctx, args[0])
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Creation time in RFC3339 (default: now)")
	return cmd
}
