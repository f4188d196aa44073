// crawlctl is the operator CLI: seed the backlog, inspect it, reset
// permanently failed domains.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"domain-crawl/internal/config"
	"domain-crawl/internal/repository"
)

var (
	configPath string
	source     string
)

func main() {
	root := &cobra.Command{
		Use:          "crawlctl",
		Short:        "Operate the domain crawl backlog",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&source, "source", "", "producer tag")

	root.AddCommand(seedCmd(), statusCmd(), resetFailedCmd(), releaseStaleCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func withStore(fn func(ctx context.Context, store *repository.PostgresDomainStore) error) error {
	ctx := context.Background()
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	store := repository.NewPostgresDomainStore(pool)
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	return fn(ctx, store)
}

func seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert pending domains from a newline-delimited file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store *repository.PostgresDomainStore) error {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()

				inserted := 0
				scanner := bufio.NewScanner(f)
				for scanner.Scan() {
					name := strings.TrimSpace(scanner.Text())
					if name == "" || strings.HasPrefix(name, "#") {
						continue
					}
					if _, err := store.InsertDomain(ctx, name, source); err != nil {
						return fmt.Errorf("failed to insert %q: %w", name, err)
					}
					inserted++
				}
				if err := scanner.Err(); err != nil {
					return err
				}
				fmt.Printf("seeded %d domains\n", inserted)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to the domain list")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show backlog counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store *repository.PostgresDomainStore) error {
				counts, err := store.StatusCounts(ctx, source)
				if err != nil {
					return err
				}
				fmt.Printf("pending:    %d\n", counts.Pending)
				fmt.Printf("claimed:    %d\n", counts.Claimed)
				fmt.Printf("completed:  %d\n", counts.Completed)
				fmt.Printf("failed:     %d\n", counts.Failed)
				fmt.Printf("responses:  %d\n", counts.Responses)
				return nil
			})
		},
	}
}

func releaseStaleCmd() *cobra.Command {
	var staleness time.Duration
	cmd := &cobra.Command{
		Use:   "release-stale",
		Short: "Return claimed domains with expired claims to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store *repository.PostgresDomainStore) error {
				n, err := store.ReleaseStale(ctx, source, staleness)
				if err != nil {
					return err
				}
				fmt.Printf("released %d stale claims\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&staleness, "staleness", time.Hour, "claim age beyond which a claim counts as abandoned")
	return cmd
}

func resetFailedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-failed",
		Short: "Return failed domains to pending with a fresh retry budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store *repository.PostgresDomainStore) error {
				n, err := store.ResetFailed(ctx, source)
				if err != nil {
					return err
				}
				fmt.Printf("reset %d domains\n", n)
				return nil
			})
		},
	}
}
