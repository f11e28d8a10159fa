// Package prbody assembles the pull request description from the
// unpromoted sections of all changelogs of a repository.
package prbody

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/simplesurance/promotepr/internal/changelog"
	"github.com/simplesurance/promotepr/internal/logfields"
	"github.com/simplesurance/promotepr/internal/metrics"
)

const loggerName = "prbody"

// separator is put between the changelog parts, a blank line.
const separator = "\n\n"

type Differ interface {
	Diff(ctx context.Context, path, source string) (string, error)
}

// Documents is a sequence of changelogs.
// Next returns nil when no more documents exist.
type Documents interface {
	Next() (*changelog.Document, error)
}

// Part is the contribution of a single changelog to the body.
type Part struct {
	Path    string
	Package string
	Text    string
}

// Body is an assembled pull request description.
type Body struct {
	Parts []*Part
}

// String returns the markdown description, the parts separated by a blank line.
// It is empty when no changelog contains unpromoted entries.
func (b *Body) String() string {
	texts := make([]string, 0, len(b.Parts))
	for _, p := range b.Parts {
		texts = append(texts, p.Text)
	}

	return strings.Join(texts, separator)
}

type Assembler struct {
	differ Differ
	logger *zap.Logger
}

func NewAssembler(differ Differ) *Assembler {
	return &Assembler{
		differ: differ,
		logger: zap.L().Named(loggerName),
	}
}

// Assemble computes the diff of every document in the order they are
// returned by docs and returns the non-empty ones.
// Processing stops at the first error.
func (a *Assembler) Assemble(ctx context.Context, docs Documents) (*Body, error) {
	var result Body

	for {
		doc, err := docs.Next()
		if err != nil {
			return nil, err
		}

		if doc == nil {
			break
		}

		logger := a.logger.With(logfields.Path(doc.Path), logfields.Package(doc.Package))

		diff, err := a.differ.Diff(ctx, doc.Path, doc.Source)
		if err != nil {
			return nil, err
		}

		if diff == "" {
			metrics.DocumentProcessed(false)
			logger.Debug("changelog has no unpromoted entries, skipping it",
				logfields.Event("changelog_skipped"))
			continue
		}

		metrics.DocumentProcessed(true)
		logger.Debug("changelog has unpromoted entries",
			logfields.Event("changelog_included"))

		result.Parts = append(result.Parts, &Part{
			Path:    doc.Path,
			Package: doc.Package,
			Text:    diff,
		})
	}

	return &result, nil
}
