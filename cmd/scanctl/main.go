// Command scanctl drives a scanq server from the terminal: it submits scans,
// inspects and cancels jobs, and follows the job event stream.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahrav/scanq/internal/config"
	"github.com/ahrav/scanq/internal/domain/scanning"
)

var (
	flagServer  string
	flagOutput  string
	flagTimeout time.Duration

	api *client
	out printer
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "scanctl:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scanctl",
		Short:         "Control a scanq secret scanning server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			format, err := parseOutputFormat(flagOutput)
			if err != nil {
				return err
			}
			out = printer{w: cmd.OutOrStdout(), format: format}

			c, err := newClient(flagServer, flagTimeout)
			if err != nil {
				return err
			}
			api = c
			return nil
		},
	}

	server := os.Getenv("SCANQ_SERVER")
	if server == "" {
		server = "http://localhost:8080"
	}
	root.PersistentFlags().StringVarP(&flagServer, "server", "s", server, "scanq server URL (env SCANQ_SERVER)")
	root.PersistentFlags().StringVarP(&flagOutput, "output", "o", string(outputText), "output format: text, json or yaml")
	root.PersistentFlags().DurationVar(&flagTimeout, "timeout", 30*time.Second, "HTTP request timeout")

	root.AddCommand(
		newSubmitCmd(),
		newStatusCmd(),
		newListCmd(),
		newQueueCmd(),
		newCancelCmd(),
		newWatchCmd(),
		newConfigCmd(),
	)
	return root
}

func newSubmitCmd() *cobra.Command {
	var (
		archive bool
		wait    bool
		flags   submitFlags
	)

	cmd := &cobra.Command{
		Use:   "submit <target>",
		Short: "Queue a scan of a directory, file or archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			body := submitBody{Target: target, Options: flags}
			if archive {
				body.TargetType = string(scanning.TargetTypeArchive)
			}

			ctx := cmd.Context()
			res, err := api.submit(ctx, body)
			if err != nil {
				return err
			}
			if !wait {
				return out.print(res, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%s %s\n", res.ID, res.Status)
					return err
				})
			}

			if err := follow(ctx, res.ID, out.format == outputText); err != nil {
				return err
			}
			j, err := api.job(ctx, res.ID, false)
			if err != nil {
				return err
			}
			return out.print(j, func(w io.Writer) error { return writeJob(w, j) })
		},
	}

	cmd.Flags().BoolVar(&archive, "archive", false, "treat the target as an archive (zip, tar, tar.gz, warc)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "follow the job until it finishes")
	cmd.Flags().StringSliceVarP(&flags.Exclude, "exclude", "e", nil, "glob pattern to skip (repeatable)")
	cmd.Flags().Int64Var(&flags.MaxFileSize, "max-file-size", 0, "skip files larger than this many bytes")
	cmd.Flags().StringToStringVarP(&flags.Labels, "label", "l", nil, "label to attach to the job (key=value)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var history bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := api.job(cmd.Context(), args[0], history)
			if err != nil {
				return err
			}
			return out.print(j, func(w io.Writer) error { return writeJob(w, j) })
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "read from the archived job history")
	return cmd
}

func newListCmd() *cobra.Command {
	var (
		status        string
		limit, offset int
		history       bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := api.list(cmd.Context(), status, limit, offset, history)
			if err != nil {
				return err
			}
			return out.print(l, func(w io.Writer) error { return writeJobList(w, l) })
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only list jobs in this status")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size (server default when zero)")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of jobs to skip")
	cmd.Flags().BoolVar(&history, "history", false, "list the archived job history")
	return cmd
}

func newQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show queue occupancy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := api.queue(cmd.Context())
			if err != nil {
				return err
			}
			statuses := make([]string, 0, len(scanning.AllJobStatuses))
			for _, s := range scanning.AllJobStatuses {
				statuses = append(statuses, s.String())
			}
			return out.print(q, func(w io.Writer) error { return writeQueue(w, q, statuses) })
		},
	}
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued job or ask a running one to stop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := api.cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return out.print(res, func(w io.Writer) error {
				msg := "cancelled"
				if res.Status != scanning.JobStatusCancelled.String() {
					msg = "cancellation requested"
				}
				_, err := fmt.Fprintf(w, "%s %s\n", res.ID, msg)
				return err
			})
		},
	}
}

func newWatchCmd() *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream job events",
		Long:  "Stream job events from the push channel. With --job the stream ends once that job finishes.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if jobID != "" {
				return follow(cmd.Context(), jobID, true)
			}
			return api.watch(cmd.Context(), "", nil, func(e jobEvent) bool {
				return printEvent(e) == nil
			})
		},
	}
	cmd.Flags().StringVarP(&jobID, "job", "j", "", "only stream events for this job")
	return cmd
}

// follow streams events for one job until its terminal event. A job that
// already finished produces no more events, so its status is checked once the
// stream is open.
func follow(ctx context.Context, jobID string, show bool) error {
	finished := func() (bool, error) {
		j, err := api.job(ctx, jobID, false)
		if err != nil {
			return false, err
		}
		return scanning.ParseJobStatus(j.Status).IsTerminal(), nil
	}

	return api.watch(ctx, jobID, finished, func(e jobEvent) bool {
		if show && printEvent(e) != nil {
			return false
		}
		return e.Type == scanning.EventKind(scanning.EventTypeJobProgressed) ||
			!scanning.ParseJobStatus(e.Status).IsTerminal()
	})
}

func printEvent(e jobEvent) error {
	return out.print(e, func(w io.Writer) error { return writeEvent(w, e) })
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect server configuration",
	}

	var path string
	printCmd := &cobra.Command{
		Use:   "print",
		Short: "Print the effective server configuration after defaults and environment overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			p := out
			if p.format == outputText {
				p.format = outputYAML
			}
			return p.print(cfg, nil)
		},
	}
	printCmd.Flags().StringVarP(&path, "config", "c", "", "config file (defaults to $"+config.EnvConfigFile+")")
	cmd.AddCommand(printCmd)
	return cmd
}
