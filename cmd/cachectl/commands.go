package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"media-vault/internal/cache"
	"media-vault/internal/eviction"
)

type options struct {
	format string
	status string
	limit  int
	yes    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "cachectl",
		Short: "Inspect and maintain the media-vault transcode cache",
		Long: `cachectl operates directly on the transcode cache index and the cache
directory of a media-vault installation. It reads the same environment
variables (and CONFIG_FILE) as the server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.format, "output", "o", formatAuto, "Output format: auto, table, json")

	root.AddCommand(newStatsCmd(opts))
	root.AddCommand(newListCmd(opts))
	root.AddCommand(newCleanupCmd(opts))
	root.AddCommand(newClearCmd(opts))
	root.AddCommand(newVacuumCmd())
	return root
}

// withSession opens storage for the duration of fn.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) (err error) {
	ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
	defer cancel()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, s)
}

type statsView struct {
	cache.Summary
	MaxSizeBytes uint64         `json:"maxSizeBytes"`
	Backend      string         `json:"backend"`
	CacheDir     string         `json:"cacheDir"`
	LastCleanup  *time.Time     `json:"lastCleanup,omitempty"`
	Media        map[string]int `json:"media"`
}

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache occupancy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				summary, err := cache.Summarize(ctx, s.index)
				if err != nil {
					return err
				}
				media, err := s.db.CountByKind(ctx)
				if err != nil {
					return err
				}
				view := statsView{
					Summary:      summary,
					MaxSizeBytes: s.cfg.CacheMaxSize,
					Backend:      s.cfg.IndexBackend,
					CacheDir:     s.cfg.TranscodeDir,
					Media:        media,
				}
				if last, err := s.db.GetLastCleanup(ctx); err == nil && !last.IsZero() {
					view.LastCleanup = &last
				}
				return printStats(cmd.OutOrStdout(), opts.format, view)
			})
		},
	}
}

func printStats(out io.Writer, format string, v statsView) error {
	format, err := resolveFormat(format, out)
	if err != nil {
		return err
	}
	if format == formatJSON {
		return writeJSON(out, v)
	}

	usage := "unbounded"
	if v.MaxSizeBytes > 0 {
		usage = fmt.Sprintf("%s of %s (%.1f%%)", humanize.Bytes(v.ReadyBytes), humanize.Bytes(v.MaxSizeBytes),
			100*float64(v.ReadyBytes)/float64(v.MaxSizeBytes))
	}
	last := "never"
	if v.LastCleanup != nil {
		last = humanize.Time(*v.LastCleanup)
	}
	return table(out, "FIELD\tVALUE", []string{
		"Backend\t" + v.Backend,
		"Cache dir\t" + v.CacheDir,
		"Size\t" + usage,
		fmt.Sprintf("Entries\t%d (ready %d, pending %d, failed %d)", v.Entries, v.Ready, v.Pending, v.Failed),
		fmt.Sprintf("Media\t%d video, %d audio, %d image, %d document",
			v.Media["video"], v.Media["audio"], v.Media["image"], v.Media["document"]),
		"Last cleanup\t" + last,
	})
}

type entryView struct {
	Key            string     `json:"key"`
	Status         string     `json:"status"`
	SizeBytes      uint64     `json:"sizeBytes"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastAccessedAt time.Time  `json:"lastAccessedAt"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	Error          string     `json:"error,omitempty"`
	Path           string     `json:"path"`
}

func newListCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cache entries, most recently used first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter *cache.Status
			if opts.status != "" {
				st, err := cache.ParseStatus(opts.status)
				if err != nil {
					return err
				}
				filter = &st
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				all, err := s.index.ListAll(ctx)
				if err != nil {
					return err
				}
				views := selectEntries(all, filter, opts.limit)
				return printEntries(cmd.OutOrStdout(), opts.format, views)
			})
		},
	}
	cmd.Flags().StringVar(&opts.status, "status", "", "Only show entries with this status (pending, ready, failed)")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "Maximum number of entries (0 for all)")
	return cmd
}

func selectEntries(all []*cache.Entry, filter *cache.Status, limit int) []entryView {
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].LastAccessedAt.After(all[j].LastAccessedAt)
	})
	views := make([]entryView, 0, len(all))
	for _, e := range all {
		if filter != nil && e.Status != *filter {
			continue
		}
		v := entryView{
			Key:            e.Key.String(),
			Status:         e.Status.String(),
			SizeBytes:      e.SizeBytes,
			CreatedAt:      e.CreatedAt,
			LastAccessedAt: e.LastAccessedAt,
			Error:          e.ErrorMessage,
			Path:           e.FilePath,
		}
		if !e.ExpiresAt.IsZero() {
			t := e.ExpiresAt
			v.ExpiresAt = &t
		}
		views = append(views, v)
		if limit > 0 && len(views) == limit {
			break
		}
	}
	return views
}

func printEntries(out io.Writer, format string, views []entryView) error {
	format, err := resolveFormat(format, out)
	if err != nil {
		return err
	}
	if format == formatJSON {
		return writeJSON(out, views)
	}

	rows := make([]string, 0, len(views))
	for _, v := range views {
		expires := "-"
		if v.ExpiresAt != nil {
			expires = humanize.Time(*v.ExpiresAt)
		}
		rows = append(rows, strings.Join([]string{
			v.Key, v.Status, humanize.Bytes(v.SizeBytes), humanize.Time(v.LastAccessedAt), expires,
		}, "\t"))
	}
	return table(out, "KEY\tSTATUS\tSIZE\tLAST USED\tEXPIRES", rows)
}

type cleanupView struct {
	eviction.Result
	Errors []string `json:"errors"`
}

func newCleanupCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Run one eviction pass (expired, orphaned, then over quota)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				res := s.evictor().RunCleanup(ctx)
				if err := s.db.SetLastCleanup(ctx, time.Now()); err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), opts.format, res)
			})
		},
	}
}

func newClearCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached rendition that is not being transcoded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !opts.yes {
				if !isTerminal(cmd.InOrStdin()) {
					return errors.New("refusing to clear the cache without --yes")
				}
				if !confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), "Remove all cached renditions?") {
					fmt.Fprintln(cmd.ErrOrStderr(), "Aborted.")
					return nil
				}
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				return printResult(cmd.OutOrStdout(), opts.format, s.evictor().Clear(ctx))
			})
		},
	}
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func printResult(out io.Writer, format string, res eviction.Result) error {
	format, err := resolveFormat(format, out)
	if err != nil {
		return err
	}
	if format == formatJSON {
		if err := writeJSON(out, cleanupView{Result: res, Errors: res.ErrorStrings()}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "Deleted %d files, freed %s in %v. Cache size now %s.\n",
			res.FilesDeleted, humanize.Bytes(res.BytesFreed), res.Duration.Round(time.Millisecond),
			humanize.Bytes(res.SizeAfter))
		for _, e := range res.ErrorStrings() {
			fmt.Fprintf(out, "  error: %s\n", e)
		}
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("%d entries could not be removed", len(res.Errors))
	}
	return nil
}

func newVacuumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Compact the SQLite database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.db.Vacuum(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Database vacuumed.")
				return nil
			})
		},
	}
}
