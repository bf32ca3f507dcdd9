package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/KareemHossam19/Stepwright/internal/workflow"
)

var validateStrict bool

var validateCmd = &cobra.Command{
	Use:   "validate WORKFLOW",
	Short: "Check a workflow for errors without running it",
	Long: `Parse and validate a workflow file. Errors and warnings are printed with
their source locations. With --strict, warnings also fail validation.

Exit codes:
  0  workflow is valid
  2  workflow has errors (or warnings with --strict)`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		doc, err := loadDocument(cfg, args[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return &exitCodeError{code: 2, msg: "workflow failed to parse"}
		}

		result := workflow.Validate(doc, validateStrict)
		if out := result.String(); out != "" {
			fmt.Fprint(os.Stdout, out)
		}
		if !result.Valid() {
			return &exitCodeError{code: 2, msg: fmt.Sprintf("%d problem(s) found", len(result.Errors()))}
		}
		fmt.Println("workflow is valid")
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "Treat warnings as errors")
	rootCmd.AddCommand(validateCmd)
}
