package prbody

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/promotepr/internal/changelog"
)

// mapDiffer returns the diff stored for a path, or fails for paths in errs.
type mapDiffer struct {
	diffs map[string]string
	errs  map[string]error
	calls []string
}

func (d *mapDiffer) Diff(_ context.Context, path, _ string) (string, error) {
	d.calls = append(d.calls, path)

	if err := d.errs[path]; err != nil {
		return "", err
	}

	return d.diffs[path], nil
}

type sliceDocs struct {
	docs []*changelog.Document
}

func (s *sliceDocs) Next() (*changelog.Document, error) {
	if len(s.docs) == 0 {
		return nil, nil
	}

	d := s.docs[0]
	s.docs = s.docs[1:]

	return d, nil
}

func TestAssembleOrderAndFiltering(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	differ := mapDiffer{diffs: map[string]string{
		"CHANGELOG.md":              "## 3.1.0\n- fix X",
		"packages/api/CHANGELOG.md": "",
		"packages/web/CHANGELOG.md": "## 1.2.0\n- feature Y",
	}}

	fsys := fstest.MapFS{
		"CHANGELOG.md":              {Data: []byte("root")},
		"packages/api/CHANGELOG.md": {Data: []byte("api")},
		"packages/web/CHANGELOG.md": {Data: []byte("web")},
	}

	body, err := NewAssembler(&differ).Assemble(context.Background(), changelog.Discover(fsys, changelog.DefaultLayout()))
	require.NoError(t, err)

	require.Len(t, body.Parts, 2)
	assert.Equal(t, "## 3.1.0\n- fix X\n\n## 1.2.0\n- feature Y", body.String())
	assert.Equal(t, "", body.Parts[0].Package)
	assert.Equal(t, "web", body.Parts[1].Package)
	assert.Equal(t,
		[]string{"CHANGELOG.md", "packages/api/CHANGELOG.md", "packages/web/CHANGELOG.md"},
		differ.calls,
	)
}

func TestAssembleNoDocuments(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	body, err := NewAssembler(&mapDiffer{}).Assemble(context.Background(), &sliceDocs{})
	require.NoError(t, err)
	assert.Empty(t, body.Parts)
	assert.Equal(t, "", body.String())
}

func TestAssembleAllDiffsEmpty(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	docs := sliceDocs{docs: []*changelog.Document{
		{Path: "CHANGELOG.md"},
		{Path: "packages/a/CHANGELOG.md", Package: "a"},
	}}

	body, err := NewAssembler(&mapDiffer{}).Assemble(context.Background(), &docs)
	require.NoError(t, err)
	assert.Equal(t, "", body.String())
}

func TestAssembleStopsAtFirstError(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	diffErr := errors.New("api unavailable")
	differ := mapDiffer{
		diffs: map[string]string{"CHANGELOG.md": "## 1.0"},
		errs:  map[string]error{"packages/a/CHANGELOG.md": diffErr},
	}

	docs := sliceDocs{docs: []*changelog.Document{
		{Path: "CHANGELOG.md"},
		{Path: "packages/a/CHANGELOG.md", Package: "a"},
		{Path: "packages/b/CHANGELOG.md", Package: "b"},
	}}

	body, err := NewAssembler(&differ).Assemble(context.Background(), &docs)
	require.ErrorIs(t, err, diffErr)
	assert.Nil(t, body)
	assert.Equal(t, []string{"CHANGELOG.md", "packages/a/CHANGELOG.md"}, differ.calls)
}
