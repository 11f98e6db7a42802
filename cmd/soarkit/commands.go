package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rendis/soarkit/internal/expressions"
	"github.com/rendis/soarkit/internal/state"
	"github.com/rendis/soarkit/internal/store"
	"github.com/rendis/soarkit/pkg/schema"
)

// withApp opens the app for the duration of one command. Logs go to stderr
// so stdout stays machine readable.
func withApp(cmd *cobra.Command, cfg func() Config, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, cfg(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newMigrateCmd(cfg func() Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, cfg, func(_ context.Context, a *app) error {
				fmt.Fprintf(cmd.OutOrStdout(), "database ready: %s\n", a.cfg.DBPath)
				return nil
			})
		},
	}
}

func newRenderCmd(cfg func() Config) *cobra.Command {
	var contextFile string
	var legacy bool

	cmd := &cobra.Command{
		Use:   "render TEMPLATE",
		Short: "Render a parameter template against a context document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
				root, err := optionalDocument(contextFile, cmd.InOrStdin())
				if err != nil {
					return err
				}
				var engine expressions.Engine = a.engine
				if legacy {
					engine = expressions.NewLegacyRenderer(a.functions())
				}
				out, err := engine.Render(ctx, args[0], root)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVarP(&contextFile, "context", "c", "", "context document (YAML or JSON, '-' for stdin)")
	cmd.Flags().BoolVar(&legacy, "legacy", false, "use the legacy renderer")
	return cmd
}

func newResolveCmd(cfg func() Config) *cobra.Command {
	var contextFile string

	cmd := &cobra.Command{
		Use:   "resolve PARAMETERS_FILE",
		Short: "Resolve a parameter map against a context document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
				params, err := readDocument(args[0], cmd.InOrStdin())
				if err != nil {
					return err
				}
				root, err := optionalDocument(contextFile, cmd.InOrStdin())
				if err != nil {
					return err
				}
				out, err := a.resolver.ResolveAll(ctx, params, root)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVarP(&contextFile, "context", "c", "", "context document (YAML or JSON, '-' for stdin)")
	return cmd
}

func newInvokeCmd(cfg func() Config) *cobra.Command {
	var withContext bool

	cmd := &cobra.Command{
		Use:   "invoke PAYLOAD_FILE",
		Short: "Run a state invocation payload with a state that echoes its resolved parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
				payload, err := readDocument(args[0], cmd.InOrStdin())
				if err != nil {
					return err
				}
				if err := a.validator.ValidateInvocation(payload); err != nil {
					return err
				}
				var opts []state.Option
				if withContext {
					opts = append(opts, state.WithContext())
				}
				out, err := state.Bootstrap(ctx, a.stateDeps(), payload, echoState, opts...)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().BoolVar(&withContext, "with-context", false, "also echo the full execution context")
	return cmd
}

func echoState(_ context.Context, call state.Call) (any, error) {
	out := map[string]any{"parameters": call.Params}
	if call.Context != nil {
		out["context"] = call.Context
	}
	return out, nil
}

func newEventsCmd(cfg func() Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Create events and manage investigations",
	}

	create := &cobra.Command{
		Use:   "create BATCH_FILE",
		Short: "Create one event per detail of a batch and start its playbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
				batch, err := a.readBatch(args[0], cmd.InOrStdin())
				if err != nil {
					return err
				}
				res, err := a.events.CreateBatch(ctx, batch)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}

	check := &cobra.Command{
		Use:   "check BATCH_FILE",
		Short: "Validate a batch without creating events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(_ context.Context, a *app) error {
				doc, err := readDocument(args[0], cmd.InOrStdin())
				if err != nil {
					return err
				}
				res := a.validator.CheckBatch(doc, a.filter)
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if !res.Valid() {
					return schema.NewError(schema.ErrCodeValidation, "batch is invalid")
				}
				return nil
			})
		},
	}

	var filter store.EventFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
				evs, err := a.store.ListEvents(ctx, filter)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), evs)
			})
		},
	}
	list.Flags().StringVar(&filter.InvestigationID, "investigation", "", "investigation id")
	list.Flags().StringVar(&filter.EventType, "type", "", "event type")
	list.Flags().StringVar(&filter.Status, "status", "", "open or closed")
	list.Flags().IntVar(&filter.Limit, "limit", 50, "maximum number of events")

	cmd.AddCommand(create, check, list,
		investigationStatusCmd(cfg, "close", schema.StatusClosed),
		investigationStatusCmd(cfg, "open", schema.StatusOpen),
	)
	return cmd
}

func investigationStatusCmd(cfg func() Config, use, status string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " INVESTIGATION_ID",
		Short: fmt.Sprintf("Mark every event of an investigation %s", status),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
				if err := a.events.SetInvestigationStatus(ctx, args[0], status); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "investigation %s %s\n", args[0], status)
				return nil
			})
		},
	}
}

func newRespondCmd(cfg func() Config) *cobra.Command {
	return &cobra.Command{
		Use:   "respond MESSAGE_ID RESPONSE_FILE",
		Short: "Deliver a human response and resume the waiting playbook",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
				resp, err := readDocument(args[1], cmd.InOrStdin())
				if err != nil {
					return err
				}
				if err := a.interaction.End(ctx, args[0], resp); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "response %s delivered\n", args[0])
				return nil
			})
		},
	}
}

func newSecretsCmd(cfg func() Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage vault secrets used by vault('...') template lookups",
	}

	var fromFile string
	set := &cobra.Command{
		Use:   "set KEY [VALUE]",
		Short: "Store a secret (value from the argument, --file, or stdin)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
				v, err := a.requireVault()
				if err != nil {
					return err
				}
				value, err := secretValue(args, fromFile, cmd.InOrStdin())
				if err != nil {
					return err
				}
				return v.Store(ctx, args[0], value)
			})
		},
	}
	set.Flags().StringVarP(&fromFile, "file", "f", "", "read the value from a file")

	get := &cobra.Command{
		Use:   "get KEY",
		Short: "Print a decrypted secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
				v, err := a.requireVault()
				if err != nil {
					return err
				}
				value, err := v.Resolve(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(value))
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List secret keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
				v, err := a.requireVault()
				if err != nil {
					return err
				}
				keys, err := v.List(ctx)
				if err != nil {
					return err
				}
				for _, k := range keys {
					fmt.Fprintln(cmd.OutOrStdout(), k)
				}
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete KEY",
		Short: "Delete a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
				v, err := a.requireVault()
				if err != nil {
					return err
				}
				return v.Delete(ctx, args[0])
			})
		},
	}

	cmd.AddCommand(set, get, list, del)
	return cmd
}

func secretValue(args []string, fromFile string, stdin io.Reader) ([]byte, error) {
	switch {
	case len(args) == 2:
		return []byte(args[1]), nil
	case fromFile != "":
		return os.ReadFile(fromFile)
	default:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, err
		}
		return []byte(strings.TrimRight(string(data), "\r\n")), nil
	}
}

func newBlobsCmd(cfg func() Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blobs",
		Short: "Store and fetch large text referenced from templates",
	}

	var prefix string
	put := &cobra.Command{
		Use:   "put FILE",
		Short: "Store a file's content and print its vault reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
				var data []byte
				var err error
				if args[0] == "-" {
					data, err = io.ReadAll(cmd.InOrStdin())
				} else {
					data, err = os.ReadFile(args[0])
				}
				if err != nil {
					return err
				}
				res, err := a.blobs.Save(ctx, string(data), prefix)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	put.Flags().StringVar(&prefix, "prefix", "", "key prefix")

	get := &cobra.Command{
		Use:   "get KEY",
		Short: "Print a stored blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
				content, err := a.blobs.FetchContent(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), content)
				return nil
			})
		},
	}

	rm := &cobra.Command{
		Use:   "rm KEY",
		Short: "Remove a stored blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
				return a.blobs.Remove(ctx, args[0])
			})
		},
	}

	cmd.AddCommand(put, get, rm)
	return cmd
}

func newScheduleCmd(cfg func() Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run event batches on a cron schedule (executed by 'soarkit serve')",
	}

	add := &cobra.Command{
		Use:   "add NAME CRON BATCH_FILE",
		Short: "Schedule a batch, e.g. soarkit schedule add hourly-scan '0 * * * *' batch.yaml",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
				batch, err := a.readBatch(args[2], cmd.InOrStdin())
				if err != nil {
					return err
				}
				job, err := a.scheduler.Schedule(ctx, args[0], args[1], batch)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), job)
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List scheduled batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
				jobs, err := a.store.ListScheduledBatches(ctx, store.ScheduledBatchFilter{})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), jobs)
			})
		},
	}

	rm := &cobra.Command{
		Use:   "rm ID",
		Short: "Delete a scheduled batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
				return a.store.DeleteScheduledBatch(ctx, args[0])
			})
		},
	}

	cmd.AddCommand(add, list, rm)
	return cmd
}

// optionalDocument reads path when set and returns an empty document otherwise.
func optionalDocument(path string, stdin io.Reader) (map[string]any, error) {
	if path == "" {
		return map[string]any{}, nil
	}
	return readDocument(path, stdin)
}
