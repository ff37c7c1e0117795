package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/reconcile"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/shopify"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/logger"
)

type cli struct {
	configPath string
	open       opener
	cfg        *config.Config
	be         *backend
}

func newRootCmd(open opener) *cobra.Command {
	c := &cli{open: open}
	root := &cobra.Command{
		Use:          "syncctl",
		Short:        "Operate the store knowledge sync pipeline",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
			be, err := c.open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			c.cfg, c.be = cfg, be
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.be != nil && c.be.Close != nil {
				c.be.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to config file")

	root.AddCommand(
		c.migrateCmd(),
		c.storeCmd(),
		c.ingestCmd(),
		c.sweepCmd(),
		c.datasetsCmd(),
	)
	return root
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the state store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.be.Migrate == nil {
				return errors.New("backend has no schema to apply")
			}
			if err := c.be.Migrate(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("Schema applied.")
			return nil
		},
	}
}

func (c *cli) storeCmd() *cobra.Command {
	storeCmd := &cobra.Command{
		Use:   "store",
		Short: "Manage registered stores",
	}

	var token string
	add := &cobra.Command{
		Use:   "add <shop-domain>",
		Short: "Register a store and its Admin API access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			domain := shopify.NormalizeDomain(args[0])
			if err := validator.ValidateStoreID(domain); err != nil {
				return err
			}
			if token == "" {
				token = os.Getenv("SHOPIFY_ACCESS_TOKEN")
			}
			if token == "" {
				return errors.New("--token or SHOPIFY_ACCESS_TOKEN is required")
			}
			if err := c.be.Store.UpsertShop(cmd.Context(), store.Shop{ID: domain, AccessToken: token}); err != nil {
				return err
			}
			cmd.Printf("Store %s registered.\n", domain)
			return nil
		},
	}
	add.Flags().StringVar(&token, "token", "", "Admin API access token")
	storeCmd.AddCommand(add)
	return storeCmd
}

func (c *cli) ingestCmd() *cobra.Command {
	var (
		excludeEmails []string
		textFile      string
		pageSize      int
	)
	cmd := &cobra.Command{
		Use:   "ingest <store> <content-type>",
		Short: "Run one ingestion in the foreground",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &ingestion.TriggerRequest{
				ContentType:   args[1],
				ExcludeEmails: excludeEmails,
				PageSize:      pageSize,
			}
			if textFile != "" {
				data, err := os.ReadFile(textFile)
				if err != nil {
					return fmt.Errorf("reading text file: %w", err)
				}
				req.Text = string(data)
			}
			ct, err := validator.ValidateTrigger(args[0], req)
			if err != nil {
				return err
			}

			svc := ingestion.NewService(ingestion.Deps{
				Store:   c.be.Store,
				Indexer: c.be.Indexer,
				Sources: c.be.Sources,
				Locker:  c.be.Locker,
				Metrics: c.be.Metrics,
			}, c.cfg)
			cmd.Printf("Ingesting %s for %s...\n", ct, args[0])
			result, err := svc.Run(cmd.Context(), ingestion.Request{
				StoreID:       args[0],
				ContentType:   ct,
				ExcludeEmails: req.ExcludeEmails,
				Text:          req.Text,
				PageSize:      req.PageSize,
			})
			if result != nil {
				cmd.Printf("Run %s: %d records, %d/%d chunks indexed, dataset %s is %s\n",
					result.RunID, result.Records, result.ChunksIndexed, result.Chunks,
					result.DatasetID, result.DatasetStatus)
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&excludeEmails, "exclude-email", nil, "order customer email to skip (repeatable)")
	cmd.Flags().StringVar(&textFile, "text-file", "", "file holding the text for free-text content types")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "records per page, 0 uses the configured size")
	return cmd
}

func (c *cli) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep [store]",
		Short: "Retire finished indexing batches",
		Long: `Checks every outstanding batch with the indexing service and completes
datasets whose batches have all finished. Without a store, every store with
indexing datasets is swept.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sweeper, err := reconcile.NewSweeper(c.be.Store, c.be.Indexer, c.be.Metrics, c.cfg.Reconcile)
			if err != nil {
				return err
			}
			defer sweeper.Close()

			if len(args) == 0 {
				summaries, err := sweeper.SweepAll(cmd.Context())
				printSummaries(cmd, summaries)
				return err
			}
			sum, err := sweeper.SweepStore(cmd.Context(), args[0])
			printSummaries(cmd, []reconcile.Summary{sum})
			return err
		},
	}
}

func printSummaries(cmd *cobra.Command, summaries []reconcile.Summary) {
	if len(summaries) == 0 {
		cmd.Println("Nothing to sweep.")
		return
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STORE\tCHECKED\tCOMPLETED\tNOT FOUND\tPENDING\tERRORS\tDATASETS DONE")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			s.StoreID, s.Checked, s.Completed, s.NotFound, s.Pending, s.Errors, s.DatasetsCompleted)
	}
	tw.Flush()
}

func (c *cli) datasetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "datasets <store>",
		Short: "List the datasets tracked for a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			datasets, err := c.be.Store.ListDatasets(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(datasets) == 0 {
				cmd.Printf("No datasets for %s.\n", args[0])
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CONTENT TYPE\tDATASET\tSTATUS\tBATCHES")
			for _, d := range datasets {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ContentType, d.ID, d.Status, strings.Join(d.BatchIDs, ","))
			}
			return tw.Flush()
		},
	}
}
