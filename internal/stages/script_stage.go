package stages

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/scivid/scivid/internal/document"
	"github.com/scivid/scivid/internal/logging"
	"github.com/scivid/scivid/internal/progress"
	"github.com/scivid/scivid/internal/script"
)

// ScriptStage turns a PDF into a validated script.
type ScriptStage struct {
	scripter Scripter
	logger   *slog.Logger
}

func NewScriptStage(scripter Scripter, logger *slog.Logger) *ScriptStage {
	return &ScriptStage{
		scripter: scripter,
		logger:   logging.WithStage(logging.OrDiscard(logger), StepScript),
	}
}

// Run inspects the document, asks the model for a script in the given
// style and validates the answer. displayName defaults to the file name.
func (s *ScriptStage) Run(ctx context.Context, pdfPath, displayName string, style script.Style, report progress.Func) (*script.Script, error) {
	info, err := document.Inspect(pdfPath)
	if err != nil {
		return nil, err
	}
	if displayName == "" {
		displayName = info.Name
	}
	s.logger.Info("generating script", "document", displayName, "pages", info.Pages, "style", style)
	report.Emit(progress.Event{Step: StepScript, Message: "Uploading and analyzing document", Progress: 0, Detail: displayName})

	schema, err := script.ResponseSchema()
	if err != nil {
		return nil, err
	}

	text, err := s.scripter.GenerateScript(ctx, pdfPath, displayName, script.SystemInstruction(style), schema)
	if err != nil {
		return nil, fmt.Errorf("script generation failed: %w", err)
	}

	sc, err := script.Parse(text, style)
	if err != nil {
		return nil, err
	}

	s.logger.Info("script generated", "title", sc.Title, "scenes", len(sc.Scenes))
	report.Emit(progress.Event{
		Step:     StepScript,
		Message:  "Script generated",
		Progress: 100,
		Detail:   fmt.Sprintf("%s (%d scenes)", sc.Title, len(sc.Scenes)),
	})
	return sc, nil
}
