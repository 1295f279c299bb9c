package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docground/docground/internal/config"
	kbpostgres "github.com/docground/docground/internal/knowledge/postgres"
	"github.com/docground/docground/pkg/types"
)

func newIndexCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "index <excerpts-file>",
		Short: "Index knowledge excerpts into the configured Postgres store",
		Long: `Index reads a JSON array of knowledge excerpts, embeds each one with the
configured embeddings provider and stores them in the Postgres knowledge
base for later retrieval during processing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}
			if cfg.Knowledge.PostgresDSN == "" {
				return errors.New("no knowledge base configured (knowledge.postgres_dsn)")
			}

			excerpts, err := loadExcerpts(args[0])
			if err != nil {
				return err
			}
			if len(excerpts) == 0 {
				return fmt.Errorf("no excerpts in %s", args[0])
			}

			reg := config.NewRegistry()
			registerBuiltinProviders(reg)

			ps, err := buildProviders(cfg, reg)
			if err != nil {
				return err
			}
			if ps.Embeddings == nil {
				return errors.New("indexing requires an embeddings provider (providers.embeddings)")
			}

			ctx := cmd.Context()

			store, err := kbpostgres.NewStore(ctx, cfg.Knowledge.PostgresDSN, ps.Embeddings)
			if err != nil {
				return fmt.Errorf("connect knowledge base: %w", err)
			}
			defer store.Close()

			for _, excerpt := range excerpts {
				if err := store.Index(ctx, excerpt); err != nil {
					return fmt.Errorf("index excerpt %q: %w", excerpt.ID, err)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d excerpts\n", len(excerpts))
			return nil
		},
	}
}

// loadExcerpts reads a JSON array of [types.KnowledgeExcerpt] from path.
// Excerpts without an ID or text are rejected.
func loadExcerpts(path string) ([]types.KnowledgeExcerpt, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("excerpts file does not exist: %s", path)
		}
		return nil, fmt.Errorf("read excerpts: %w", err)
	}

	var excerpts []types.KnowledgeExcerpt
	if err := json.Unmarshal(raw, &excerpts); err != nil {
		return nil, fmt.Errorf("parse excerpts %s: %w", path, err)
	}
	for i, e := range excerpts {
		if e.ID == "" {
			return nil, fmt.Errorf("excerpt %d: missing id", i)
		}
		if e.Text == "" {
			return nil, fmt.Errorf("excerpt %q: missing text", e.ID)
		}
	}
	return excerpts, nil
}
