package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/toser-api/internal/assessment"
	"github.com/noah-isme/toser-api/internal/config"
	"github.com/noah-isme/toser-api/internal/database"
	"github.com/noah-isme/toser-api/internal/dto"
	"github.com/noah-isme/toser-api/internal/repository"
	"github.com/noah-isme/toser-api/internal/service"
	"github.com/noah-isme/toser-api/pkg/ai"
	"github.com/noah-isme/toser-api/pkg/document"
)

type schemaFlags struct {
	name string
	file string
}

func (f *schemaFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "schema", "current", "built-in descriptor: current or legacy")
	cmd.Flags().StringVar(&f.file, "schema-file", "", "YAML descriptor overriding --schema")
}

func newRootCmd(logger zerolog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "toser",
		Short:         "Assess Terms of Service documents with a language model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRecoverCmd(logger), newAnalyzeCmd(logger))
	return root
}

type recoverOutput struct {
	Tier       string                 `json:"tier,omitempty"`
	Assessment *assessment.Assessment `json:"assessment,omitempty"`
	Failure    *assessment.Failure    `json:"failure,omitempty"`
}

func newRecoverCmd(logger zerolog.Logger) *cobra.Command {
	var flags schemaFlags
	cmd := &cobra.Command{
		Use:   "recover [file]",
		Short: "Recover an assessment from saved model output",
		Long:  "Reads raw model output from file, or stdin when no file is given, and prints the normalized assessment as JSON.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := assessment.ResolveSchema(flags.name, flags.file)
			if err != nil {
				return err
			}
			raw, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			pipeline, err := assessment.NewPipeline(schema, assessment.WithObserver(func(event assessment.TierEvent) {
				logger.Debug().Str("tier", event.Tier).Bool("ok", event.OK).Msg("recovery tier")
			}))
			if err != nil {
				return err
			}

			result, err := pipeline.Run(raw)
			if err != nil {
				failure, ok := assessment.AsFailure(err)
				if !ok {
					return err
				}
				if encodeErr := writeJSON(cmd.OutOrStdout(), recoverOutput{Failure: failure}); encodeErr != nil {
					return encodeErr
				}
				logger.Error().Str("kind", string(failure.Kind)).Msg(failure.Message)
				return failure
			}

			return writeJSON(cmd.OutOrStdout(), recoverOutput{Tier: result.Tier, Assessment: &result.Assessment})
		},
	}
	flags.bind(cmd)
	return cmd
}

func newAnalyzeCmd(logger zerolog.Logger) *cobra.Command {
	var (
		flags   schemaFlags
		refresh bool
	)
	cmd := &cobra.Command{
		Use:   "analyze <url>",
		Short: "Fetch a Terms of Service page, assess it and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("schema") {
				flags.name = cfg.AnalysisSchema
			}
			if flags.file == "" {
				flags.file = cfg.AnalysisSchemaFile
			}
			schema, err := assessment.ResolveSchema(flags.name, flags.file)
			if err != nil {
				return err
			}

			db, err := database.Connect(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			invoker, err := ai.NewInvoker(ctx, cfg.Invoker(logger))
			if err != nil {
				return err
			}

			svc, err := service.NewAnalysisService(
				repository.NewAnalysisRepository(db),
				document.NewFetcher(document.Config{Timeout: cfg.FetchTimeout, MaxBytes: cfg.FetchMaxBytes}),
				invoker,
				schema,
				nil,
				nil,
				validator.New(validator.WithRequiredStructEnabled()),
				service.AnalysisConfig{CacheTTL: cfg.AnalysisCacheTTL, Timeout: cfg.AnalysisTimeout},
				logger,
			)
			if err != nil {
				return err
			}

			response, err := svc.Analyze(ctx, dto.AnalysisRequest{URL: args[0], Refresh: refresh})
			if err != nil && !errors.Is(err, service.ErrAnalysisFailed) {
				return err
			}
			if encodeErr := writeJSON(cmd.OutOrStdout(), response); encodeErr != nil {
				return encodeErr
			}
			return err
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVar(&refresh, "refresh", false, "ignore cached results")
	return cmd
}

func readInput(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(raw), nil
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read %s: %w", args[0], err)
	}
	return string(raw), nil
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
