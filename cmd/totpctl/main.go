// Command totpctl provisions a mytotp device over its controller link.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ericfisherdev/mytotp/internal/controller"
	"github.com/ericfisherdev/mytotp/internal/domain/model"
)

var version = "dev" // set by the linker

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		// Cobra already printed the error.
		os.Exit(1)
	}
}

// cli carries the resolved settings shared by every subcommand.
type cli struct {
	v      *viper.Viper
	logger *slog.Logger
}

// newRootCmd builds a fresh command tree. Each call gets its own viper
// instance so tests do not share state.
func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "totpctl",
		Short: "Provision credentials on a mytotp device",
		Long: `totpctl talks to a mytotp device over its controller link.
Credentials are pushed with their secrets once and never read back:
listing returns ids and names only.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := slog.LevelWarn
			if c.v.GetBool("verbose") {
				level = slog.LevelDebug
			}
			c.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			return nil
		},
	}
	cmd.Version = version

	cmd.PersistentFlags().String("url", "ws://127.0.0.1:8080/link", "device link URL")
	cmd.PersistentFlags().String("token", "", "pairing token")
	cmd.PersistentFlags().Duration("timeout", 30*time.Second, "overall timeout per command")
	cmd.PersistentFlags().Duration("quiet", 500*time.Millisecond, "how long to wait for further list items")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "log every message sent")

	for _, name := range []string{"url", "token", "timeout", "quiet", "verbose"} {
		_ = c.v.BindPFlag(name, cmd.PersistentFlags().Lookup(name))
	}
	c.v.SetEnvPrefix("TOTPCTL")
	c.v.AutomaticEnv()

	cmd.AddCommand(
		c.listCmd(),
		c.addCmd(),
		c.renameCmd(),
		c.rmCmd(),
		c.clearCmd(),
		c.orderCmd(),
		c.offsetCmd(),
		c.applyCmd(),
	)
	return cmd
}

// session dials the device and runs fn with a client bounded by --timeout.
func (c *cli) session(cmd *cobra.Command, fn func(ctx context.Context, client *controller.Client) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), c.v.GetDuration("timeout"))
	defer cancel()

	token := c.v.GetString("token")
	if token == "" {
		return fmt.Errorf("no pairing token: pass --token or set TOTPCTL_TOKEN")
	}

	client, err := controller.Dial(ctx, c.v.GetString("url"), token, c.logger)
	if err != nil {
		return err
	}
	defer client.Close()

	return fn(ctx, client)
}

func (c *cli) list(ctx context.Context, client *controller.Client) ([]model.PublicCredential, error) {
	return client.List(ctx, c.v.GetDuration("quiet"))
}

func (c *cli) flush(ctx context.Context, client *controller.Client, msgs []model.Message) error {
	return controller.NewQueue(client, c.logger).Flush(ctx, msgs)
}

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List credentials in display order",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.session(cmd, func(ctx context.Context, client *controller.Client) error {
				creds, err := c.list(ctx, client)
				if err != nil {
					return err
				}
				printCredentials(cmd.OutOrStdout(), creds)
				return nil
			})
		},
	}
}

func (c *cli) addCmd() *cobra.Command {
	var id int
	cmd := &cobra.Command{
		Use:   "add NAME SECRET",
		Short: "Add a credential from a base32 secret",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if id >= controller.MaxID {
				return fmt.Errorf("--id must be below %d", controller.MaxID)
			}
			secret, err := controller.DecodeSecret(args[1])
			if err != nil {
				return err
			}

			return c.session(cmd, func(ctx context.Context, client *controller.Client) error {
				creds, err := c.list(ctx, client)
				if err != nil {
					return err
				}
				used := make([]model.CredentialID, 0, len(creds))
				for _, cr := range creds {
					used = append(used, cr.ID)
				}

				newID := model.CredentialID(id)
				if id < 0 {
					if newID, err = controller.NextID(used); err != nil {
						return err
					}
				}

				err = client.Send(ctx, model.Message{
					Kind:   model.KindCreateCredential,
					ID:     newID,
					Name:   args[0],
					Secret: secret,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %q as id %d\n", model.TruncateName(args[0]), newID)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&id, "id", -1, "credential id (default: lowest free id)")
	return cmd
}

func (c *cli) renameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename ID NAME",
		Short: "Rename a credential",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args[:1])
			if err != nil {
				return err
			}
			return c.session(cmd, func(ctx context.Context, client *controller.Client) error {
				return client.Send(ctx, model.Message{Kind: model.KindUpdateCredential, ID: ids[0], Name: args[1]})
			})
		},
	}
}

func (c *cli) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm ID...",
		Short: "Delete credentials",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			msgs := make([]model.Message, 0, len(ids))
			for _, id := range ids {
				msgs = append(msgs, model.Message{Kind: model.KindDeleteCredential, ID: id})
			}
			return c.session(cmd, func(ctx context.Context, client *controller.Client) error {
				return c.flush(ctx, client, msgs)
			})
		},
	}
}

func (c *cli) clearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear the device without --yes")
			}
			return c.session(cmd, func(ctx context.Context, client *controller.Client) error {
				return client.Send(ctx, model.Message{Kind: model.KindClearCredentials})
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deleting every credential")
	return cmd
}

func (c *cli) orderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "order ID...",
		Short: "Set the display order; every credential id must appear once",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return c.session(cmd, func(ctx context.Context, client *controller.Client) error {
				return client.Send(ctx, model.Message{Kind: model.KindSetOrder, Order: ids})
			})
		},
	}
}

func (c *cli) offsetCmd() *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "offset [SECONDS]",
		Short: "Set the device clock's offset from UTC",
		Long: `Set how far the device clock is ahead of UTC, in seconds.
With --local the offset of this machine's time zone is sent instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			offset, err := resolveOffset(args, local, time.Now())
			if err != nil {
				return err
			}
			return c.session(cmd, func(ctx context.Context, client *controller.Client) error {
				if err := client.Send(ctx, model.Message{Kind: model.KindSetUTCOffset, Offset: offset}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "utc offset set to %d seconds\n", offset)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "use this machine's time zone offset")
	return cmd
}

func (c *cli) applyCmd() *cobra.Command {
	var (
		file   string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "apply -f MANIFEST",
		Short: "Make the device match a YAML manifest",
		Long: `Reconcile the device against a manifest: credentials missing from
the manifest are deleted, new ones created, renamed ones updated, and the
display order set to manifest order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := readManifestFile(file)
			if err != nil {
				return err
			}

			return c.session(cmd, func(ctx context.Context, client *controller.Client) error {
				existing, err := c.list(ctx, client)
				if err != nil {
					return err
				}

				msgs := controller.Plan(existing, entries)
				printPlan(cmd.OutOrStdout(), msgs)
				if dryRun || len(msgs) == 0 {
					return nil
				}
				return c.flush(ctx, client, msgs)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "manifest file (- for stdin)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the plan without sending it")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readManifestFile(path string) ([]controller.Entry, error) {
	if path == "-" {
		return controller.ReadManifest(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	return controller.ReadManifest(f)
}

func parseIDs(args []string) ([]model.CredentialID, error) {
	ids := make([]model.CredentialID, 0, len(args))
	for _, arg := range args {
		n, err := strconv.ParseInt(arg, 10, 16)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid credential id %q", arg)
		}
		ids = append(ids, model.CredentialID(n))
	}
	return ids, nil
}

// resolveOffset returns the offset to send: the zone offset of now with
// local, otherwise the single argument.
func resolveOffset(args []string, local bool, now time.Time) (int32, error) {
	if local {
		if len(args) > 0 {
			return 0, fmt.Errorf("--local takes no SECONDS argument")
		}
		_, offset := now.Zone()
		return int32(offset), nil
	}
	if len(args) == 0 {
		return 0, fmt.Errorf("pass SECONDS or --local")
	}
	n, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q: %w", args[0], err)
	}
	return int32(n), nil
}

func printCredentials(w io.Writer, creds []model.PublicCredential) {
	if len(creds) == 0 {
		fmt.Fprintln(w, "no credentials")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "POS\tID\tNAME")
	for i, cr := range creds {
		fmt.Fprintf(tw, "%d\t%d\t%s\n", i, cr.ID, cr.Name)
	}
	_ = tw.Flush()
}

// printPlan describes msgs without ever printing a secret.
func printPlan(w io.Writer, msgs []model.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "device already matches")
		return
	}
	for _, m := range msgs {
		switch m.Kind {
		case model.KindDeleteCredential:
			fmt.Fprintf(w, "delete %d\n", m.ID)
		case model.KindCreateCredential:
			fmt.Fprintf(w, "create %d %q\n", m.ID, m.Name)
		case model.KindUpdateCredential:
			fmt.Fprintf(w, "rename %d %q\n", m.ID, m.Name)
		case model.KindSetOrder:
			parts := make([]string, 0, len(m.Order))
			for _, id := range m.Order {
				parts = append(parts, strconv.Itoa(int(id)))
			}
			fmt.Fprintf(w, "order %s\n", strings.Join(parts, " "))
		case model.KindClearCredentials:
			fmt.Fprintln(w, "clear")
		default:
			fmt.Fprintf(w, "%s\n", m.Kind)
		}
	}
}
