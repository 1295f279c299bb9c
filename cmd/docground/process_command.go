package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/docground/docground/internal/config"
	"github.com/docground/docground/internal/grounding"
	"github.com/docground/docground/internal/knowledge"
	kbpostgres "github.com/docground/docground/internal/knowledge/postgres"
	"github.com/docground/docground/internal/observe"
	"github.com/docground/docground/internal/pipeline"
	"github.com/docground/docground/internal/stepgen"
)

func newProcessCommand(configFlag *string) *cobra.Command {
	var outputPath string
	var knowledgePath string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "process <transcript-file>",
		Short: "Run the step generation pipeline on a transcript file",
		Long: `Process normalizes the transcript, segments it by topic, generates one
step draft per segment and grounds every draft in the transcript and any
configured knowledge base. The resulting steps are written as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}

			raw, err := os.ReadFile(args[0])
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("transcript file does not exist: %s", args[0])
				}
				return fmt.Errorf("read transcript: %w", err)
			}

			ctx := cmd.Context()

			shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(flushCtx); err != nil {
					slog.Warn("telemetry shutdown error", "err", err)
				}
			}()

			reg := config.NewRegistry()
			registerBuiltinProviders(reg)

			ps, err := buildProviders(cfg, reg)
			if err != nil {
				return err
			}
			if ps.LLM == nil {
				return errors.New("no usable llm provider configured (providers.llm)")
			}

			var genOpts []stepgen.Option
			if ps.LLMFallback != nil {
				genOpts = append(genOpts, stepgen.WithFallback(cfg.Providers.LLMFallback.Name, ps.LLMFallback))
			}
			gen := stepgen.New(cfg.Providers.LLM.Name, ps.LLM, genOpts...)

			var pipeOpts []pipeline.Option
			if ps.Embeddings != nil {
				pipeOpts = append(pipeOpts, pipeline.WithEmbedder(ps.Embeddings))
			}

			switch {
			case knowledgePath != "":
				excerpts, err := loadExcerpts(knowledgePath)
				if err != nil {
					return err
				}
				pipeOpts = append(pipeOpts, pipeline.WithKnowledge(knowledge.NewStatic(excerpts)))
				slog.Info("knowledge loaded from file", "path", knowledgePath, "excerpts", len(excerpts))
			case cfg.Knowledge.PostgresDSN != "":
				if ps.Embeddings == nil {
					slog.Warn("postgres knowledge base requires an embeddings provider, retrieval disabled")
					break
				}
				store, err := kbpostgres.NewStore(ctx, cfg.Knowledge.PostgresDSN, ps.Embeddings)
				if err != nil {
					return fmt.Errorf("connect knowledge base: %w", err)
				}
				defer store.Close()
				pipeOpts = append(pipeOpts, pipeline.WithKnowledge(store))
			}

			if !quiet {
				errOut := cmd.ErrOrStderr()
				pipeOpts = append(pipeOpts, pipeline.WithProgress(func(stage string, percent float64, detail string) {
					fmt.Fprintf(errOut, "%3.0f%% %-9s %s\n", percent*100, stage, detail)
				}))
			}

			p := pipeline.New(pipelineConfig(cfg), gen, pipeOpts...)

			result, err := p.Run(ctx, raw)
			if err != nil {
				return err
			}

			encoded, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			encoded = append(encoded, '\n')

			if outputPath != "" {
				if err := os.WriteFile(outputPath, encoded, 0o644); err != nil {
					return fmt.Errorf("write output: %w", err)
				}
				slog.Info("result written", "path", outputPath, "steps", len(result.Steps), "accepted", result.Accepted)
				return nil
			}
			_, err = cmd.OutOrStdout().Write(encoded)
			return err
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the JSON result to this file instead of stdout")
	cmd.Flags().StringVar(&knowledgePath, "knowledge", "", "JSON file of knowledge excerpts to ground against instead of the configured store")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "suppress progress output")

	return cmd
}

// pipelineConfig maps the YAML configuration onto the pipeline's own config.
func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		MinSegments:         cfg.Pipeline.MinSegments,
		MaxSegments:         cfg.Pipeline.MaxSegments,
		MinSegmentSentences: cfg.Pipeline.MinSegmentSentences,
		Concurrency:         cfg.Pipeline.Concurrency,
		ProviderTimeout:     cfg.Pipeline.ProviderTimeout(),
		RetrievalLimit:      cfg.Knowledge.RetrievalLimit,
		AcceptThreshold:     cfg.Pipeline.AcceptThreshold,
		RelaxedThreshold:    cfg.Pipeline.RelaxedThreshold,
		Grounding: grounding.Config{
			Alpha:                cfg.Pipeline.MatchAlpha,
			MinMatchScore:        cfg.Pipeline.MinMatchScore,
			MaxTranscriptSources: cfg.Pipeline.MaxTranscriptSources,
			MaxKnowledgeSources:  cfg.Pipeline.MaxKnowledgeSources,
		},
	}
}
