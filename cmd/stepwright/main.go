// Command stepwright is the CLI entry point for the workflow engine.
package main

import (
	"os"

	"github.com/KareemHossam19/Stepwright/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
