package registry

import (
	"golang.org/x/mod/semver"

	"github.com/forgerun/forge/pkg/domain"
)

// canonical coerces a bare "1.2.3" version into the "v1.2.3" form
// golang.org/x/mod/semver requires, without otherwise touching it.
func canonical(v string) string {
	if len(v) == 0 || v[0] != 'v' {
		return "v" + v
	}
	return v
}

// satisfiesConstraint applies spec.md §4.2's version resolution policy:
// excluded dominates allowed dominates range. Prerelease/build suffixes
// are rejected unless explicitly permitted.
func satisfiesConstraint(version string, c domain.VersionConstraint) bool {
	cv := canonical(version)
	if !semver.IsValid(cv) {
		return false
	}

	if !c.AllowPrerelease && semver.Prerelease(cv) != "" {
		return false
	}
	if !c.AllowBuild && semver.Build(cv) != "" {
		return false
	}

	for _, excluded := range c.ExcludedVersions {
		if semver.Compare(cv, canonical(excluded)) == 0 {
			return false
		}
	}

	if len(c.AllowedVersions) > 0 {
		for _, allowed := range c.AllowedVersions {
			if semver.Compare(cv, canonical(allowed)) == 0 {
				return true
			}
		}
		return false
	}

	if c.RequireExactMatch {
		return c.MinVersion != "" && semver.Compare(cv, canonical(c.MinVersion)) == 0
	}

	if c.MinVersion != "" && semver.Compare(cv, canonical(c.MinVersion)) < 0 {
		return false
	}
	if c.MaxVersion != "" && semver.Compare(cv, canonical(c.MaxVersion)) > 0 {
		return false
	}
	return true
}

// fnv1a is a small non-cryptographic hash used only to derive a stable
// content-hash fallback for Register when the caller supplies none; the
// plugin's actual content integrity is the synthesizer/registrar's
// concern, not the registry's.
func fnv1a(s string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	var h uint64 = offset64
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
