package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"rgehrsitz/simflow/internal/config"
	"rgehrsitz/simflow/internal/logging"
)

var (
	envFile          string
	sessions         int
	assumePredicates bool
)

var rootCmd = &cobra.Command{
	Use:           "runtime",
	Short:         "Drive simulations through the flow engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var replayCmd = &cobra.Command{
	Use:   "replay <simulation> <script>",
	Short: "Replay a scripted session and print the resulting state",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(envFile)
		if err != nil {
			return err
		}
		logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr)

		if sessions < 1 {
			return fmt.Errorf("--sessions must be at least 1, got %d", sessions)
		}
		r, err := newReplayer(cfg, args[0], args[1])
		if err != nil {
			return err
		}
		r.assumePredicates = assumePredicates

		results, err := r.Run(cmd.Context(), sessions)
		if err != nil {
			return err
		}
		r.Print(os.Stdout, results)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file to load before reading SIMFLOW_ settings")
	replayCmd.Flags().IntVar(&sessions, "sessions", 1, "number of sessions to replay concurrently")
	replayCmd.Flags().BoolVar(&assumePredicates, "assume-predicates", false, "treat non-literal show predicates as true")
	rootCmd.AddCommand(replayCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("runtime failed")
		os.Exit(1)
	}
}
