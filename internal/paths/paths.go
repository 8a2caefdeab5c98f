// Package paths maps absolute filesystem paths to portable logical paths and back.
//
// A logical path may start with one of a small closed set of template tokens:
//
//	{InstallDir}   the application's install directory (per device)
//	{EmulatorDir}  the emulator's install directory (per device)
//	{UserProfile}  the current user's home directory
//
// and may contain environment variable tokens written as %NAME%, $NAME or ${NAME}.
package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	InstallDirToken  = "{InstallDir}"
	EmulatorDirToken = "{EmulatorDir}"
	UserProfileToken = "{UserProfile}"
)

// ErrUnresolvedVariable is returned when a logical path references a token
// that has no value in the current context.
var ErrUnresolvedVariable = errors.New("unresolved path variable")

var (
	percentVar = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_()]*)%`)
	braceToken = regexp.MustCompile(`\{[A-Za-z]+\}`)
)

// Resolver converts between absolute and logical paths for one device context.
// The zero value has no install or emulator directory and resolves the user
// profile from the environment.
type Resolver struct {
	InstallDir  string
	EmulatorDir string
	// UserProfile overrides the detected home directory. Mainly for tests.
	UserProfile string
	// LookupEnv overrides os.LookupEnv. Mainly for tests.
	LookupEnv func(string) (string, bool)
}

// NewResolver creates a Resolver for the given install and emulator directories.
func NewResolver(installDir, emulatorDir string) Resolver {
	return Resolver{InstallDir: installDir, EmulatorDir: emulatorDir}
}

func (r Resolver) lookup(name string) (string, bool) {
	if r.LookupEnv != nil {
		return r.LookupEnv(name)
	}
	return os.LookupEnv(name)
}

func (r Resolver) profileDir() string {
	if r.UserProfile != "" {
		return r.UserProfile
	}
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return ""
}

// ToLogical expresses absPath relative to the most specific known directory.
// The install directory is only considered when preferInstallRelative is set.
// Paths outside every known directory are returned unchanged.
func (r Resolver) ToLogical(absPath string, preferInstallRelative bool) string {
	clean := filepath.Clean(absPath)

	if preferInstallRelative {
		if rel, ok := relativeTo(r.InstallDir, clean); ok {
			return joinToken(InstallDirToken, rel)
		}
	}
	if rel, ok := relativeTo(r.EmulatorDir, clean); ok {
		return joinToken(EmulatorDirToken, rel)
	}
	if rel, ok := relativeTo(r.profileDir(), clean); ok {
		return joinToken(UserProfileToken, rel)
	}
	return absPath
}

// ToAbsolute substitutes template tokens, expands environment variables and
// cleans the result. Any token without a value yields ErrUnresolvedVariable.
func (r Resolver) ToAbsolute(logical string) (string, error) {
	p := logical

	replacements := []struct {
		token string
		value string
	}{
		{InstallDirToken, r.InstallDir},
		{EmulatorDirToken, r.EmulatorDir},
		{UserProfileToken, r.profileDir()},
	}
	for _, rep := range replacements {
		if !strings.Contains(p, rep.token) {
			continue
		}
		if rep.value == "" {
			return "", fmt.Errorf("%w: %s in %q", ErrUnresolvedVariable, rep.token, logical)
		}
		p = strings.ReplaceAll(p, rep.token, rep.value)
	}

	if leftover := braceToken.FindString(p); leftover != "" {
		return "", fmt.Errorf("%w: unknown token %s in %q", ErrUnresolvedVariable, leftover, logical)
	}

	var missing string
	p = percentVar.ReplaceAllStringFunc(p, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := r.lookup(name)
		if !ok || v == "" {
			if missing == "" {
				missing = name
			}
			return m
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("%w: %%%s%% in %q", ErrUnresolvedVariable, missing, logical)
	}

	p = os.Expand(p, func(name string) string {
		v, ok := r.lookup(name)
		if !ok || v == "" {
			if missing == "" {
				missing = name
			}
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("%w: $%s in %q", ErrUnresolvedVariable, missing, logical)
	}

	if !filepath.IsAbs(p) {
		return "", fmt.Errorf("%w: %q does not resolve to an absolute path", ErrUnresolvedVariable, logical)
	}
	return filepath.Clean(p), nil
}

// IsWithin reports whether child is parent itself or lies underneath it.
func IsWithin(parent, child string) bool {
	_, ok := relativeTo(parent, child)
	return ok
}

// SameVolume reports whether a and b live on the same drive or volume.
func SameVolume(a, b string) bool {
	return strings.EqualFold(filepath.VolumeName(a), filepath.VolumeName(b))
}

// relativeTo returns target relative to base when target is base or inside it.
// Cross-volume pairs never match.
func relativeTo(base, target string) (string, bool) {
	if base == "" || target == "" {
		return "", false
	}
	base = filepath.Clean(base)
	target = filepath.Clean(target)
	if !SameVolume(base, target) {
		return "", false
	}
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

func joinToken(token, rel string) string {
	if rel == "." {
		return token
	}
	return token + string(filepath.Separator) + rel
}
