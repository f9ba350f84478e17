package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"rental-service/config"
	"rental-service/internal/app"
	"rental-service/internal/service"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type cli struct {
	databaseURL string
	noRedis     bool
	app         *app.App
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "rentalctl",
		Short:         "Operator tool for the rental inventory service",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if c.databaseURL != "" {
				cfg.Database.URL = c.databaseURL
			}
			a, err := app.New(cfg, app.Options{SkipKafka: true, SkipRedis: c.noRedis})
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.app != nil {
				c.app.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&c.databaseURL, "db", "", "Database URL (defaults to DATABASE_URL; memory:// for a throwaway store)")
	root.PersistentFlags().BoolVar(&c.noRedis, "no-redis", false, "Do not connect to Redis")

	root.AddCommand(
		c.migrateCmd(),
		c.seedCmd(),
		c.reconcileCmd(),
		c.productsCmd(),
		c.unitsCmd(),
	)
	return root
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

func (c *cli) seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert products from a YAML catalog file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = c.app.Config.Catalog.SeedFile
			}
			if file == "" {
				return fmt.Errorf("no catalog file: pass --file or set CATALOG_SEED_FILE")
			}
			result, err := c.app.SeedCatalog(cmd.Context(), file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "catalog applied: %d created, %d updated\n", result.Created, result.Updated)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Catalog YAML file")
	return cmd
}

func (c *cli) reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Repair the unit pool of every product",
		RunE: func(cmd *cobra.Command, args []string) error {
			repaired, err := c.app.Pool.ReconcileAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d unit pools repaired\n", repaired)
			return nil
		},
	}
}

func (c *cli) productsCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "products",
		Short: "List products with their current occupancy",
		RunE: func(cmd *cobra.Command, args []string) error {
			products, err := c.app.Inventory.ListProducts(cmd.Context(), !all)
			if err != nil {
				return err
			}
			renderProducts(cmd.OutOrStdout(), products)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include inactive products")
	return cmd
}

func (c *cli) unitsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "units <productID>",
		Short: "Show every unit of a product and when it becomes free",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			productID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid product id %q", args[0])
			}
			statuses, err := c.app.Availability.UnitStatuses(cmd.Context(), productID)
			if err != nil {
				return err
			}
			renderUnits(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
}

func renderProducts(w io.Writer, products []service.ProductView) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Name", "Active", "Units", "Busy", "Free now", "Next free", "Daily price"})
	for _, p := range products {
		t.AppendRow(table.Row{
			p.ID, p.Name, p.Active, p.TotalUnits, p.BusyNow, p.AvailableNow,
			formatInstant(p.NextFreeAt), p.DailyPrice.StringFixed(2),
		})
	}
	t.Render()
}

func renderUnits(w io.Writer, statuses []service.UnitStatus) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Unit", "ID", "Active", "Busy until"})
	for _, s := range statuses {
		t.AppendRow(table.Row{s.UnitNo, s.UnitID, s.Active, formatInstant(s.BusyUntil)})
	}
	t.Render()
}

func formatInstant(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}
