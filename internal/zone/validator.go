// File: internal/zone/validator.go
package zone

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/graft-cli/internal/config"
)

// Verdict is the closed classification of a mutation target path.
type Verdict string

const (
	// VerdictAllowed means the canonical path sits under a safe zone and
	// touches no deny rule.
	VerdictAllowed Verdict = "allowed"
	// VerdictDenied means a deny rule matched, or the path escapes the
	// workspace entirely. Deny always wins over allow.
	VerdictDenied Verdict = "denied"
	// VerdictUnknown means no rule matched either way. The engine treats
	// Unknown exactly like Denied: no write, no subprocess.
	VerdictUnknown Verdict = "unknown"
)

// Decision carries the verdict together with the canonical path it was made
// for and a human-readable reason suitable for ledger notes.
type Decision struct {
	Verdict Verdict
	// CanonicalPath is the absolute path after `..` and symlink resolution.
	// Empty when canonicalization itself failed.
	CanonicalPath string
	// Rel is CanonicalPath relative to the workspace root, slash-separated.
	Rel    string
	Reason string
}

// Allowed is a convenience predicate for the only verdict that permits a
// mutation to proceed.
func (d Decision) Allowed() bool { return d.Verdict == VerdictAllowed }

// Validator classifies candidate paths against the configured safe and
// no-go zones. It is side-effect-free and safe to call for paths that do
// not exist yet, so callers can preview a not-yet-materialized candidate.
type Validator struct {
	logger *zap.Logger
	root   string
	safe   []config.SafeZone
	nogo   config.NoGoZones
}

// NewValidator resolves the workspace root and builds a validator over the
// configured zones. The root must exist; everything below it may not.
func NewValidator(logger *zap.Logger, workspaceRoot string, zones config.ZonesConfig) (*Validator, error) {
	abs, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root %q: %w", workspaceRoot, err)
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root %q is not resolvable: %w", workspaceRoot, err)
	}

	return &Validator{
		logger: logger.Named("zone"),
		root:   root,
		safe:   zones.Safe,
		nogo:   zones.NoGo,
	}, nil
}

// Root returns the canonical workspace root the validator anchors on.
func (v *Validator) Root() string { return v.root }

// Validate classifies a candidate path. The path may be relative to the
// workspace root or absolute; either way it is canonicalized (dotdot
// segments and symlinks resolved) before any rule is consulted, so a path
// whose literal string starts with a safe prefix cannot smuggle a write
// outside of it.
func (v *Validator) Validate(path string) Decision {
	canonical, err := v.Canonicalize(path)
	if err != nil {
		return Decision{
			Verdict: VerdictDenied,
			Reason:  fmt.Sprintf("zone violation: path %q is not resolvable: %v", path, err),
		}
	}

	rel, err := filepath.Rel(v.root, canonical)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return Decision{
			Verdict:       VerdictDenied,
			CanonicalPath: canonical,
			Reason:        fmt.Sprintf("zone violation: path %q escapes the workspace root", path),
		}
	}
	rel = filepath.ToSlash(rel)
	base := filepath.Base(canonical)

	// Deny rules are consulted first and are final.
	for _, dir := range v.nogo.Directories {
		if underDir(rel, filepath.ToSlash(dir)) {
			return v.denied(canonical, rel, fmt.Sprintf("zone violation: %q is inside no-go directory %q", rel, dir))
		}
	}
	for _, f := range v.nogo.Files {
		if base == f {
			return v.denied(canonical, rel, fmt.Sprintf("zone violation: %q is a protected file", base))
		}
	}
	for _, pat := range v.nogo.FilePatterns {
		if matchesPattern(base, pat) {
			return v.denied(canonical, rel, fmt.Sprintf("zone violation: %q matches protected pattern %q", base, pat))
		}
	}

	for _, sz := range v.safe {
		if !underDir(rel, filepath.ToSlash(sz.Directory)) {
			continue
		}
		if len(sz.FilePatterns) == 0 {
			return Decision{
				Verdict:       VerdictAllowed,
				CanonicalPath: canonical,
				Rel:           rel,
				Reason:        fmt.Sprintf("allowed: %q is inside safe zone %q", rel, sz.Directory),
			}
		}
		for _, pat := range sz.FilePatterns {
			if matchesPattern(base, pat) {
				return Decision{
					Verdict:       VerdictAllowed,
					CanonicalPath: canonical,
					Rel:           rel,
					Reason:        fmt.Sprintf("allowed: %q is inside safe zone %q (pattern %q)", rel, sz.Directory, pat),
				}
			}
		}
	}

	return Decision{
		Verdict:       VerdictUnknown,
		CanonicalPath: canonical,
		Rel:           rel,
		Reason:        fmt.Sprintf("zone violation: %q matches no safe zone", rel),
	}
}

func (v *Validator) denied(canonical, rel, reason string) Decision {
	v.logger.Debug("Path denied by zone rule.", zap.String("path", rel), zap.String("reason", reason))
	return Decision{Verdict: VerdictDenied, CanonicalPath: canonical, Rel: rel, Reason: reason}
}

// Canonicalize resolves path to an absolute, symlink-free form. Relative
// paths are anchored at the workspace root. Non-existent trailing segments
// are tolerated: the longest existing ancestor is resolved through the
// filesystem and the remainder is re-joined lexically, so a candidate that
// will be created by the mutation can still be classified.
func (v *Validator) Canonicalize(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(v.root, p)
	}
	p = filepath.Clean(p)

	resolved, err := resolveExisting(p)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// resolveExisting walks up from p until EvalSymlinks succeeds, then
// re-attaches the non-existent suffix. A symlink anywhere in the existing
// prefix is therefore always resolved before zone rules apply.
func resolveExisting(p string) (string, error) {
	suffix := ""
	cur := p
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			if suffix == "" {
				return resolved, nil
			}
			return filepath.Clean(filepath.Join(resolved, suffix)), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			// Hit the filesystem root without finding an existing ancestor.
			return "", fmt.Errorf("no existing ancestor for %q", p)
		}
		suffix = filepath.Join(filepath.Base(cur), suffix)
		cur = parent
	}
}

// underDir reports whether rel (slash-separated, workspace-relative) is the
// directory itself or a descendant of it. Comparison is segment-aware so
// "src" does not claim "src-old/file".
func underDir(rel, dir string) bool {
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" || dir == "." {
		return true
	}
	return rel == dir || strings.HasPrefix(rel, dir+"/")
}

// matchesPattern implements the zone pattern dialect: "*.ext" matches by
// suffix, "prefix*" by prefix, anything else exactly.
func matchesPattern(name, pattern string) bool {
	switch {
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(name, pattern[1:])
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	default:
		return name == pattern
	}
}
