package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"order-tracker/api"
	"order-tracker/bot"
	"order-tracker/db"
	"order-tracker/logger"
	"order-tracker/models"
	"order-tracker/services"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded SQL migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, appOptions{database: true}, func(ctx context.Context, a *app) error {
				if err := db.Migrate(ctx, a.pool, a.log); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied.")
				return nil
			})
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print this client's tracking id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, appOptions{}, func(_ context.Context, a *app) error {
				id := a.identity.Identity()
				fmt.Fprintf(cmd.OutOrStdout(), "%s (expires %s)\n", id.ClientID, id.ExpiresAt.Format(time.RFC3339))
				return nil
			})
		},
	}
}

func newTrackCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "track <order-number> <email>",
		Short: "Find an order by number and email and follow it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, appOptions{tracking: true}, func(ctx context.Context, a *app) error {
				o, err := a.tracker.Search(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				printOrder(cmd.OutOrStdout(), o, a.cfg.App.Lang)
				if follow {
					followOrder(ctx, a)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep following until the order is delivered or cancelled")
	return cmd
}

func newResumeCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Show the order this client was last tracking",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, appOptions{tracking: true}, func(ctx context.Context, a *app) error {
				o, err := a.tracker.Resume(ctx)
				if err != nil {
					return err
				}
				if o == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "No order is being tracked.")
					return nil
				}
				printOrder(cmd.OutOrStdout(), o, a.cfg.App.Lang)
				if follow {
					followOrder(ctx, a)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep following until the order is delivered or cancelled")
	return cmd
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget the tracked order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, appOptions{tracking: true}, func(ctx context.Context, a *app) error {
				if err := a.tracker.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Tracked order cleared.")
				return nil
			})
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the tracking API and the Telegram bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, appOptions{tracking: true}, func(ctx context.Context, a *app) error {
				if _, err := a.tracker.Resume(ctx); err != nil {
					a.log.Warn("resume on startup", logger.Error(err))
				}

				engine := api.NewEngine(a.log)
				api.RegisterRoutes(engine, api.NewTrackingHandler(a.tracker, a.identity, a.pool, a.throttle, a.cfg.App.Lang, a.log))

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					return api.NewServer(a.cfg.Server, engine, a.log).Run(gctx)
				})
				if a.bot != nil {
					g.Go(func() error {
						a.bot.Start(gctx)
						return nil
					})
				}
				return g.Wait()
			})
		},
	}
}

func newSetStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <order-id> <status>",
		Short: "Move an order to a new status",
		Long: "Move an order to a new status. Statuses: " +
			strings.Join(statusNames(), ", ") + ", cancelled.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to := models.Status(strings.ToLower(strings.TrimSpace(args[1])))
			if !to.Known() {
				return fmt.Errorf("unknown status %q", args[1])
			}
			return withApp(cmd, appOptions{database: true}, func(ctx context.Context, a *app) error {
				o, err := services.NewStatusUpdater(a.repo, a.cfg.App.Lang, a.log).Advance(ctx, args[0], to)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", o.OrderNumber, services.StatusLabel(o.Status, a.cfg.App.Lang))
				return nil
			})
		},
	}
}

func newSeedCmd() *cobra.Command {
	var number, email, name string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert a sample order for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if number == "" {
				number = "ORD-" + strings.ToUpper(uuid.NewString()[:6])
			}
			return withApp(cmd, appOptions{database: true}, func(ctx context.Context, a *app) error {
				o, err := a.repo.InsertOrder(ctx, sampleOrder(number, email, name))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", o.OrderNumber, o.ID, o.CustomerEmail)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&number, "number", "", "order number (random when empty)")
	cmd.Flags().StringVar(&email, "email", "cliente@example.it", "customer email")
	cmd.Flags().StringVar(&name, "name", "Cliente Demo", "customer name")
	return cmd
}

func sampleOrder(number, email, name string) *models.Order {
	items := []models.OrderItem{
		{ProductName: "Margherita", Quantity: 2, Price: decimal.RequireFromString("8.50")},
		{ProductName: "Tiramisù", Quantity: 1, Price: decimal.RequireFromString("5.00")},
	}
	total := decimal.Zero
	for i := range items {
		items[i].Subtotal = items[i].Price.Mul(decimal.NewFromInt(int64(items[i].Quantity)))
		total = total.Add(items[i].Subtotal)
	}
	return &models.Order{
		OrderNumber:   number,
		CustomerName:  name,
		CustomerEmail: email,
		TotalAmount:   total,
		Status:        models.StatusConfirmed,
		Items:         items,
	}
}

func statusNames() []string {
	names := make([]string, len(models.StatusFlow))
	for i, s := range models.StatusFlow {
		names[i] = string(s)
	}
	return names
}

func printOrder(w io.Writer, o *models.Order, langCode string) {
	fmt.Fprintln(w, bot.OrderCard(o, langCode))
}

// followOrder blocks while the tracker keeps the order live. Status changes
// are reported by the notifiers.
func followOrder(ctx context.Context, a *app) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for a.tracker.Live() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
	if o := a.tracker.Current(); o != nil {
		a.log.Info("order reached a final status",
			logger.String("order_number", o.OrderNumber),
			logger.String("status", string(o.Status)),
		)
	}
}
