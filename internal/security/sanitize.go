package security

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// Safe patterns for validation
	refPattern      = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)
	targetPattern   = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	repoSlugPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+/[a-zA-Z0-9_.-]+$`)
)

// ValidateVersionRef ensures a branch, tag or commit name is safe for git operations.
// Prevents option and command injection through refs supplied by webhooks or flags.
func ValidateVersionRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("version ref cannot be empty")
	}
	if strings.HasPrefix(ref, "-") {
		return fmt.Errorf("version ref cannot start with '-'")
	}
	if strings.Contains(ref, "..") {
		return fmt.Errorf("version ref cannot contain '..'")
	}
	if strings.HasSuffix(ref, "/") || strings.HasSuffix(ref, ".lock") {
		return fmt.Errorf("version ref has an invalid suffix")
	}
	if !refPattern.MatchString(ref) {
		return fmt.Errorf("version ref contains invalid characters")
	}
	return nil
}

// ValidateTargetName ensures a target name is safe for use in paths and URLs.
func ValidateTargetName(name string) error {
	if name == "" {
		return fmt.Errorf("target name cannot be empty")
	}
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, ".") {
		return fmt.Errorf("target name cannot start with '-' or '.'")
	}
	if !targetPattern.MatchString(name) {
		return fmt.Errorf("target name contains invalid characters (only a-z, A-Z, 0-9, _, - allowed)")
	}
	return nil
}

// ValidateRepoSlug checks an "owner/repo" GitHub repository reference.
func ValidateRepoSlug(slug string) (owner, repo string, err error) {
	if !repoSlugPattern.MatchString(slug) {
		return "", "", fmt.Errorf("invalid owner/repo format: %q", slug)
	}
	parts := strings.SplitN(slug, "/", 2)
	return parts[0], parts[1], nil
}

// SanitizePath ensures a path is absolute and doesn't contain traversal attempts.
func SanitizePath(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("path must be absolute: %s", path)
	}

	// Check for .. before cleaning (filepath.Clean removes them)
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path contains traversal elements: %s", path)
	}

	return filepath.Clean(path), nil
}

// SanitizePathWithin resolves target relative to base and rejects results outside base.
// Unlike SanitizePath it works on paths that may live on a remote host, so nothing is stat'ed.
func SanitizePathWithin(base, target string) (string, error) {
	if !filepath.IsAbs(base) {
		return "", fmt.Errorf("base path must be absolute: %s", base)
	}
	joined := target
	if !filepath.IsAbs(target) {
		joined = filepath.Join(base, target)
	}
	cleaned := filepath.Clean(joined)

	rel, err := filepath.Rel(filepath.Clean(base), cleaned)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path traversal detected: '%s' is outside '%s'", cleaned, base)
	}
	return cleaned, nil
}
