package promote

import (
	"errors"

	"github.com/simplesurance/promotepr/internal/changelog"
	"github.com/simplesurance/promotepr/internal/promoteerr"
)

// Settings describes the pull request that is kept uptodate.
// Defaults are applied by the cfg package, a zero Settings does not
// validate.
type Settings struct {
	// Owner is the login of the owner of the github repository.
	Owner string
	// Repository is the name of the github repository.
	Repository string

	// Head is the branch that is promoted.
	Head string
	// Base is the branch that the Head branch is promoted to.
	Base string
	// Title is set when the pull request is created, it is never
	// changed afterwards.
	Title string

	// HeadingMarker is the prefix of version heading lines in changelogs.
	HeadingMarker string
	Layout        changelog.Layout
}

// Validate returns a *promoteerr.ConfigError if a required setting is
// unset.
func (s *Settings) Validate() error {
	var missing []string

	for _, v := range []struct {
		name string
		val  string
	}{
		{"repository owner", s.Owner},
		{"repository name", s.Repository},
		{"head branch", s.Head},
		{"base branch", s.Base},
		{"pull request title", s.Title},
		{"version heading marker", s.HeadingMarker},
		{"changelog file name", s.Layout.ChangelogFile},
		{"packages directory", s.Layout.PackagesDir},
	} {
		if v.val == "" {
			missing = append(missing, v.name)
		}
	}

	if len(missing) > 0 {
		return promoteerr.NewMissingConfigError(missing...)
	}

	if s.Head == s.Base {
		return &promoteerr.ConfigError{Err: errors.New("head and base branch are the same")}
	}

	return nil
}
