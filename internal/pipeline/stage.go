package pipeline

import (
	"context"

	"github.com/vietddude/artline/internal/contract"
)

// Each stage returns the raw envelope it produced. Nothing a stage returns is
// trusted until the router has validated it for the next edge.

type BriefStage interface {
	Brief(ctx context.Context, input string) ([]byte, error)
}

// ArtDirectionStage turns a brief into a prompt package. feedback is set when
// QA sent the run back to art direction.
type ArtDirectionStage interface {
	Direct(ctx context.Context, brief *contract.BriefContent, feedback *contract.ValidationDetail) ([]byte, error)
}

// ImageStage renders a prompt package. feedback is set on regeneration.
type ImageStage interface {
	Generate(ctx context.Context, pkg *contract.PromptPackage, feedback *contract.ValidationDetail) ([]byte, error)
}

type QualityStage interface {
	Inspect(ctx context.Context, image *contract.ImageResult, expectedAspectRatio string) ([]byte, error)
}

type ExportStage interface {
	Export(ctx context.Context, req ExportRequest) ([]byte, error)
}

// ExportRequest is what the export stage needs to package an approved image.
type ExportRequest struct {
	Brief   *contract.BriefContent     `json:"brief"`
	Prompt  *contract.PromptPackage    `json:"prompt_package"`
	Image   *contract.ImageResult      `json:"image_result"`
	Verdict *contract.ValidationDetail `json:"validation"`
}

// Stages bundles the collaborators a Runner drives.
type Stages struct {
	Brief        BriefStage
	ArtDirection ArtDirectionStage
	Image        ImageStage
	Quality      QualityStage
	Export       ExportStage
}

func (s Stages) validate() error {
	switch {
	case s.Brief == nil:
		return errMissingStage("brief")
	case s.ArtDirection == nil:
		return errMissingStage("art direction")
	case s.Image == nil:
		return errMissingStage("image")
	case s.Quality == nil:
		return errMissingStage("quality")
	case s.Export == nil:
		return errMissingStage("export")
	}
	return nil
}
