// Package changelog computes which sections of a changelog have not been
// promoted to a target branch yet.
//
// Changelogs are expected to list their release sections newest first, every
// section starts with a version heading line ("## 1.2.0"). The unpromoted
// part of a source changelog is everything before the line that matches the
// latest version heading of the target branch copy.
package changelog

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/simplesurance/promotepr/internal/logfields"
	"github.com/simplesurance/promotepr/internal/promoteerr"
)

const DefaultHeadingMarker = "##"

const loggerName = "changelog"

// Lookup is the result of fetching a changelog from the target branch.
// When Found is false the file does not exist on the target branch.
type Lookup struct {
	Found    bool
	Content  string
	Encoding string
}

// TargetFetcher retrieves the target branch version of a changelog.
// A file that does not exist must be reported as a Lookup with Found set
// to false, not as an error.
type TargetFetcher interface {
	FetchTarget(ctx context.Context, path string) (*Lookup, error)
}

// FetcherFunc is an adapter to use an ordinary function as TargetFetcher.
type FetcherFunc func(ctx context.Context, path string) (*Lookup, error)

func (f FetcherFunc) FetchTarget(ctx context.Context, path string) (*Lookup, error) {
	return f(ctx, path)
}

// Differ computes the unpromoted sections of changelogs.
type Differ struct {
	fetcher TargetFetcher
	marker  string
	logger  *zap.Logger
}

type DifferOpt func(*Differ)

// WithHeadingMarker sets the prefix that identifies version heading lines.
func WithHeadingMarker(marker string) DifferOpt {
	return func(d *Differ) {
		d.marker = marker
	}
}

func NewDiffer(fetcher TargetFetcher, opts ...DifferOpt) *Differ {
	d := Differ{
		fetcher: fetcher,
		marker:  DefaultHeadingMarker,
		logger:  zap.L().Named(loggerName),
	}

	for _, o := range opts {
		o(&d)
	}

	return &d
}

// Diff returns the sections of source that are newer than the latest
// version on the target branch, with surrounding whitespace removed.
// An empty string is returned when the target branch is uptodate.
//
// If the changelog does not exist on the target branch, the whole source is
// returned. If the latest target version can not be found in source a
// *promoteerr.ConsistencyError is returned.
func (d *Differ) Diff(ctx context.Context, path, source string) (string, error) {
	logger := d.logger.With(logfields.Path(path))

	lookup, err := d.fetcher.FetchTarget(ctx, path)
	if err != nil {
		return "", fmt.Errorf("fetching target version of %s failed: %w", path, err)
	}

	if !lookup.Found {
		logger.Debug(
			"changelog does not exist on target branch, all entries are new",
			logfields.Event("changelog_target_not_found"),
		)
		return strings.TrimSpace(source), nil
	}

	target, err := decode(lookup.Content, lookup.Encoding)
	if err != nil {
		return "", promoteerr.NewHostingServiceError("get_contents", fmt.Errorf("%s: %w", path, err))
	}

	if strings.TrimSpace(source) == "" {
		logger.Debug(
			"source changelog is empty",
			logfields.Event("changelog_source_empty"),
		)
		return "", nil
	}

	heading, found := d.firstHeading(target)
	if !found {
		logger.Debug(
			"target changelog has no version heading, all entries are new",
			logfields.Event("changelog_target_without_version"),
		)
		return strings.TrimSpace(source), nil
	}

	idx := indexOfLine(source, heading)
	if idx == -1 {
		return "", &promoteerr.ConsistencyError{Path: path, Heading: heading}
	}

	result := strings.TrimSpace(source[:idx])
	targetPreamble := strings.TrimSpace(target[:indexOfLine(target, heading)])
	if result == "" || result == targetPreamble {
		// only the title that the target also carries precedes the
		// heading, nothing was released since the last promotion
		logger.Debug(
			"changelog is uptodate on target branch",
			logfields.Event("changelog_uptodate"),
			zap.String("latest_version", heading),
		)
		return "", nil
	}

	logger.Debug(
		"found unpromoted changelog entries",
		logfields.Event("changelog_diff_computed"),
		zap.String("latest_version", heading),
		zap.Int("diff_len", len(result)),
	)

	return result, nil
}

// isHeading returns true if line starts with the marker.
// Lines that continue the marker with the same character ("###" for "##")
// are subsection headings and do not mark a version.
func (d *Differ) isHeading(line string) bool {
	if d.marker == "" || !strings.HasPrefix(line, d.marker) {
		return false
	}

	rest := line[len(d.marker):]
	return rest == "" || rest[0] != d.marker[len(d.marker)-1]
}

func (d *Differ) firstHeading(content string) (string, bool) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		if d.isHeading(line) {
			return line, true
		}
	}

	return "", false
}

// indexOfLine returns the byte offset of the first line in s that equals
// line, ignoring a trailing carriage return. -1 is returned if no such line
// exists.
func indexOfLine(s, line string) int {
	var offset int

	for offset <= len(s) {
		end := strings.IndexByte(s[offset:], '\n')

		var cur string
		if end == -1 {
			cur = s[offset:]
		} else {
			cur = s[offset : offset+end]
		}

		if strings.TrimRight(cur, "\r") == line {
			return offset
		}

		if end == -1 {
			return -1
		}

		offset += end + 1
	}

	return -1
}

func decode(content, encoding string) (string, error) {
	switch encoding {
	case "base64":
		// github splits base64 content into lines, the decoder ignores
		// newline characters
		b, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return "", fmt.Errorf("decoding base64 content failed: %w", err)
		}

		return string(b), nil

	case "", "utf-8", "utf8":
		return content, nil

	default:
		return "", fmt.Errorf("unsupported content encoding: %q", encoding)
	}
}
