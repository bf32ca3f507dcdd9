package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/KareemHossam19/Stepwright/internal/compiler"
	"github.com/KareemHossam19/Stepwright/internal/workflow"
)

var graphOutput string

var graphCmd = &cobra.Command{
	Use:   "graph WORKFLOW",
	Short: "Print the compiled execution graph in Graphviz dot format",
	Long: `Compile a workflow and print its execution graph as Graphviz dot. The
output shows every node the compiler produced, including guard nodes and
loop expansions, with transition conditions as edge labels.

Render it with: stepwright graph deploy.yaml | dot -Tsvg -o deploy.svg`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		doc, err := loadDocument(cfg, args[0])
		if err != nil {
			return err
		}
		if result := workflow.Validate(doc, false); !result.Valid() {
			fmt.Fprint(os.Stderr, result.String())
			return &exitCodeError{code: 2, msg: "workflow is invalid"}
		}

		g, err := compiler.New(nil, buildEvaluator(cfg)).Compile(doc)
		if err != nil {
			return err
		}

		out := os.Stdout
		if graphOutput != "" {
			f, err := os.Create(graphOutput)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		_, err = fmt.Fprint(out, g.Dot())
		return err
	},
}

func init() {
	graphCmd.Flags().StringVarP(&graphOutput, "output", "o", "", "Write dot output to a file instead of stdout")
	rootCmd.AddCommand(graphCmd)
}
