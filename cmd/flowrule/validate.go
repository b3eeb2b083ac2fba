package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/workflow"
	"github.com/urfave/cli/v3"
)

var errInvalidWorkflow = errors.New("workflow is not valid")

func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Check a workflow definition file without running it",
		ArgsUsage: "<workflow.json>",
		Action: func(_ context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				return errors.New("a workflow file is required")
			}

			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open workflow file: %w", err)
			}
			defer file.Close()

			return validateWorkflow(file, command.Root().Writer)
		},
	}
}

func validateWorkflow(r io.Reader, w io.Writer) error {
	var wf models.Workflow

	err := json.NewDecoder(r).Decode(&wf)
	if err != nil {
		return fmt.Errorf("failed to decode workflow: %w", err)
	}

	problems := workflow.Validate(&wf)
	if len(problems) == 0 {
		fmt.Fprintf(w, "workflow %q is valid\n", wf.Name)

		return nil
	}

	for _, problem := range problems {
		fmt.Fprintf(w, "- %s\n", problem)
	}

	return fmt.Errorf("%w: %d problems", errInvalidWorkflow, len(problems))
}
