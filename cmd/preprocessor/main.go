package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"rgehrsitz/simflow/internal/config"
	"rgehrsitz/simflow/internal/detection"
	"rgehrsitz/simflow/internal/logging"
	"rgehrsitz/simflow/internal/preprocessor"
)

var (
	envFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:           "preprocessor",
	Short:         "Check and inspect simulation documents",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(envFile)
		if err != nil {
			return err
		}
		logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr)
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate [file...]",
	Short: "Validate and normalize simulation documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runValidate,
}

var detectCmd = &cobra.Command{
	Use:   "detect <file>",
	Short: "Report the authoring format of a simulation",
	Args:  cobra.ExactArgs(1),
	RunE:  runDetect,
}

var normalizedOut string

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file to load before reading SIMFLOW_ settings")
	validateCmd.Flags().StringVarP(&normalizedOut, "output", "o", "", "write the normalized document (single input only)")
	rootCmd.AddCommand(validateCmd, detectCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	if normalizedOut != "" && len(args) != 1 {
		return fmt.Errorf("--output needs exactly one input file, got %d", len(args))
	}

	failed := 0
	for _, path := range args {
		sim, err := preprocessor.LoadFile(path)
		if err != nil {
			color.Red("ERROR %s: %v", path, err)
			failed++
			continue
		}
		normalized, rep := preprocessor.Normalize(sim)
		color.Green("OK %s: %d nodes (%d duplicate conditions, %d duplicate rules removed)",
			path, len(normalized.NodeList), rep.DuplicateConditions, rep.DuplicateRules)

		if normalizedOut != "" {
			data, err := json.MarshalIndent(normalized, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal normalized simulation: %w", err)
			}
			if err := os.WriteFile(normalizedOut, data, 0o644); err != nil {
				return fmt.Errorf("failed to write normalized simulation: %w", err)
			}
			log.Info().Str("path", normalizedOut).Msg("Wrote normalized simulation")
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d documents invalid", failed, len(args))
	}
	return nil
}

func runDetect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read simulation file: %w", err)
	}
	sim, err := preprocessor.ParseSimulation(data, preprocessor.FormatFor(args[0]))
	if err != nil {
		return err
	}

	rep := detection.New().Analyze(sim)
	color.Cyan("%s: %s", args[0], rep.Type)
	fmt.Printf("  %s\n", rep.Type.Description())
	fmt.Printf("  nodes=%d predicates=%d (complex=%d custom=%d literal=%d) structured=%d\n",
		rep.TotalNodes, rep.NodesWithPredicates, rep.ComplexPredicates, rep.CustomPredicates, rep.LiteralPredicates, rep.StructuredNodes)
	fmt.Printf("  legacy_types=%d other_types=%d legacy_ordering=%d\n",
		rep.LegacyMessageTypes, rep.OtherMessageTypes, rep.LegacyOrdering)
	fmt.Printf("  indicators legacy=%d modern=%d confidence=%.2f\n",
		rep.LegacyIndicators, rep.ModernIndicators, rep.Confidence)
	for _, issue := range preprocessor.CheckCompatibility(sim, rep.Type) {
		color.Yellow("  warning: %s", issue)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("preprocessor failed")
		os.Exit(1)
	}
}
