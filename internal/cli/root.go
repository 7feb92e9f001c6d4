package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	flagDate      string
	flagForce     bool
	flagValidate  bool
	flagQuiet     bool
	flagFromStep  string
	flagUntilStep string
	flagInput     string
	flagOutput    string
)

var rootCmd = &cobra.Command{
	Use:   "predictions",
	Short: "Run the NBA finished-game prediction pipeline",
	Long: `predictions runs the finished-game prediction pipeline for one date:
it collects final games from the NBA stats API, derives a feature
vector for each game, scores the features with the configured model
artifact, and upserts the results into PostgreSQL.

Runs can be split at step boundaries. --until-step stops after the
named step and writes a checkpoint file; --from-step resumes from a
checkpoint written by the preceding step.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          runRoot,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "predictions v%s\n", version)
	},
}

func init() {
	rootCmd.Flags().StringVar(&flagDate, "date", "", "target date in YYYY-MM-DD form (default: the previous day)")
	rootCmd.Flags().BoolVar(&flagForce, "force", false, "overwrite predictions that already exist")
	rootCmd.Flags().BoolVar(&flagValidate, "validate", false, "verify configuration, model artifact and database, then exit")
	rootCmd.Flags().BoolVar(&flagQuiet, "quiet", false, "suppress the run summary")
	rootCmd.Flags().StringVar(&flagFromStep, "from-step", "", "resume from this step (features, prediction or storage); requires --input")
	rootCmd.Flags().StringVar(&flagUntilStep, "until-step", "", "stop after this step; requires --output")
	rootCmd.Flags().StringVar(&flagInput, "input", "", "checkpoint file to resume from")
	rootCmd.Flags().StringVar(&flagOutput, "output", "", "checkpoint file to write")

	rootCmd.AddCommand(versionCmd)
}
