// Package release computes and publishes semver release tags on GitHub.
package release

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/blang/semver/v4"
	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"atomdeploy/internal/security"
)

// Bump selects which semver component to increment.
type Bump string

const (
	BumpPatch Bump = "patch"
	BumpMinor Bump = "minor"
	BumpMajor Bump = "major"
)

// ParseBump validates a bump name.
func ParseBump(s string) (Bump, error) {
	switch b := Bump(strings.ToLower(s)); b {
	case BumpPatch, BumpMinor, BumpMajor:
		return b, nil
	default:
		return "", fmt.Errorf("invalid bump %q (must be patch, minor or major)", s)
	}
}

// Latest returns the highest release version among tags. Tags that are not
// semver, and pre-releases, are ignored. ok is false when none qualify.
func Latest(tags []string) (latest semver.Version, ok bool) {
	for _, tag := range tags {
		v, err := semver.ParseTolerant(tag)
		if err != nil || len(v.Pre) > 0 {
			continue
		}
		v.Build = nil
		if !ok || v.GT(latest) {
			latest, ok = v, true
		}
	}
	return latest, ok
}

// NextVersion bumps the latest release found in tags. With no prior release
// the bump is applied to 0.0.0.
func NextVersion(tags []string, bump Bump) semver.Version {
	latest, _ := Latest(tags)

	switch bump {
	case BumpMajor:
		return semver.Version{Major: latest.Major + 1}
	case BumpMinor:
		return semver.Version{Major: latest.Major, Minor: latest.Minor + 1}
	default:
		return semver.Version{Major: latest.Major, Minor: latest.Minor, Patch: latest.Patch + 1}
	}
}

// TagName formats a version as a git tag.
func TagName(v semver.Version) string {
	return "v" + v.String()
}

// NewClient creates a GitHub client. An empty token gives an unauthenticated
// client; a non-empty baseURL points it at a GitHub Enterprise API.
func NewClient(ctx context.Context, token, baseURL string) (*github.Client, error) {
	var client *github.Client
	if token == "" {
		client = github.NewClient(nil)
	} else {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		client = github.NewClient(oauth2.NewClient(ctx, ts))
	}

	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL: %w", err)
		}
		client.BaseURL = u
	}

	return client, nil
}

// Plan is a release that has been computed but not published.
type Plan struct {
	Owner    string
	Repo     string
	Branch   string
	Commit   string
	Previous string // empty when there is no prior release
	Tag      string
}

// Tagger creates release tags for one repository.
type Tagger struct {
	client *github.Client
	owner  string
	repo   string
	logger *slog.Logger
}

// NewTagger creates a tagger for an owner/repo slug.
func NewTagger(client *github.Client, slug string, logger *slog.Logger) (*Tagger, error) {
	owner, repo, err := security.ValidateRepoSlug(slug)
	if err != nil {
		return nil, err
	}
	return &Tagger{
		client: client,
		owner:  owner,
		repo:   repo,
		logger: logger.With("component", "release", "repo", slug),
	}, nil
}

// Tags lists every tag name in the repository.
func (t *Tagger) Tags(ctx context.Context) ([]string, error) {
	opts := &github.ListOptions{PerPage: 100}
	var names []string

	for {
		tags, resp, err := t.client.Repositories.ListTags(ctx, t.owner, t.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing tags: %w", err)
		}
		for _, tag := range tags {
			names = append(names, tag.GetName())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return names, nil
}

// Plan computes the next tag for branch without changing anything.
func (t *Tagger) Plan(ctx context.Context, branch string, bump Bump) (*Plan, error) {
	if err := security.ValidateVersionRef(branch); err != nil {
		return nil, fmt.Errorf("invalid branch: %w", err)
	}

	tags, err := t.Tags(ctx)
	if err != nil {
		return nil, err
	}

	ref, _, err := t.client.Git.GetRef(ctx, t.owner, t.repo, "heads/"+branch)
	if err != nil {
		return nil, fmt.Errorf("resolving branch %s: %w", branch, err)
	}
	commit := ref.GetObject().GetSHA()
	if commit == "" {
		return nil, fmt.Errorf("branch %s has no commit", branch)
	}

	plan := &Plan{
		Owner:  t.owner,
		Repo:   t.repo,
		Branch: branch,
		Commit: commit,
		Tag:    TagName(NextVersion(tags, bump)),
	}
	if latest, ok := Latest(tags); ok {
		plan.Previous = TagName(latest)
	}

	t.logger.Info("Release planned", "tag", plan.Tag, "previous", plan.Previous, "commit", commit)
	return plan, nil
}

// Publish creates the tag ref at the planned commit and a release with
// generated notes. It returns the release page URL.
func (t *Tagger) Publish(ctx context.Context, plan *Plan) (string, error) {
	_, _, err := t.client.Git.CreateRef(ctx, t.owner, t.repo, &github.Reference{
		Ref:    github.String("refs/tags/" + plan.Tag),
		Object: &github.GitObject{SHA: github.String(plan.Commit)},
	})
	if err != nil {
		return "", fmt.Errorf("creating tag %s: %w", plan.Tag, err)
	}
	t.logger.Info("Tag created", "tag", plan.Tag, "commit", plan.Commit)

	rel, _, err := t.client.Repositories.CreateRelease(ctx, t.owner, t.repo, &github.RepositoryRelease{
		TagName:              github.String(plan.Tag),
		TargetCommitish:      github.String(plan.Commit),
		Name:                 github.String(plan.Tag),
		GenerateReleaseNotes: github.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("creating release %s: %w", plan.Tag, err)
	}

	t.logger.Info("Release published", "tag", plan.Tag, "url", rel.GetHTMLURL())
	return rel.GetHTMLURL(), nil
}
