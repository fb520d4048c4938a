package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rendis/autoflow/internal/diagram"
	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/validation"
	"github.com/rendis/autoflow/pkg/schema"
	cli "github.com/urfave/cli/v3"
)

func diagramCommand() *cli.Command {
	return &cli.Command{
		Name:  "diagram",
		Usage: "Draw a workflow from a definition file or the store",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Usage: "Workflow definition JSON file"},
			&cli.StringFlag{Name: "workflow-id", Usage: "Stored workflow to draw"},
			&cli.StringFlag{Name: "execution-id", Usage: "Stored execution whose progress is overlaid"},
			&cli.StringFlag{Name: "format", Value: "ascii", Usage: "ascii, mermaid or image"},
			&cli.StringFlag{Name: "out", Usage: "PNG output path (format image)"},
		},
		Action: runDiagram,
	}
}

func runDiagram(ctx context.Context, cmd *cli.Command) error {
	format := cmd.String("format")
	switch format {
	case "ascii", "mermaid":
	case "image":
		if cmd.String("out") == "" {
			return fmt.Errorf("--out is required for format image")
		}
	default:
		return fmt.Errorf("format must be ascii, mermaid, or image")
	}

	var (
		model *diagram.Model
		err   error
	)
	if path := cmd.String("file"); path != "" {
		model, err = diagramFromFile(path)
	} else {
		model, err = diagramFromStore(ctx, cmd)
	}
	if err != nil {
		return err
	}

	w := cmd.Root().Writer
	switch format {
	case "ascii":
		_, err = fmt.Fprint(w, diagram.RenderASCII(model))
	case "mermaid":
		_, err = fmt.Fprint(w, diagram.RenderMermaid(model))
	default:
		var png []byte
		if png, err = diagram.RenderImage(ctx, model); err != nil {
			return err
		}
		err = os.WriteFile(cmd.String("out"), png, 0o644)
	}
	return err
}

// diagramFromFile validates a definition file before drawing it. Tool names
// are not checked since plugins may provide them.
func diagramFromFile(path string) (*diagram.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var def schema.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	guards, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	v, err := validation.NewWorkflowValidator(nil, guards)
	if err != nil {
		return nil, err
	}
	if err := v.ValidateDefinition(&def); err != nil {
		return nil, err
	}
	return diagram.Build(&def, nil, nil)
}

func diagramFromStore(ctx context.Context, cmd *cli.Command) (*diagram.Model, error) {
	workflowID := cmd.String("workflow-id")
	executionID := cmd.String("execution-id")
	if workflowID == "" && executionID == "" {
		return nil, fmt.Errorf("one of --file, --workflow-id or --execution-id is required")
	}

	cfg, err := configFromCommand(cmd)
	if err != nil {
		return nil, err
	}
	s, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	var (
		exec   *store.Execution
		events []*store.Event
	)
	if executionID != "" {
		if exec, err = s.GetExecution(ctx, executionID); err != nil {
			return nil, err
		}
		if events, err = s.ListEvents(ctx, executionID, 0); err != nil {
			return nil, err
		}
		workflowID = exec.WorkflowID
	}

	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	def := wf.Definition()
	return diagram.Build(&def, exec, events)
}
