// Copyright 2017 Microsoft. All rights reserved.
// MIT License

package cniutil

import (
	goversion "github.com/hashicorp/go-version"
)

// SupportedVersions are the CNI spec versions this suite implements.
var SupportedVersions = []string{"0.4.0", "1.0.0"}

// The compatible range is 0.4.0 exactly, or any 1.x. go-version
// constraints are AND-only (comma-separated), so the disjunction is two
// Constraints values checked in turn.
var (
	compatExact = mustConstraint("= 0.4.0")
	compatRange = mustConstraint(">= 1.0.0, < 2.0.0")
)

func mustConstraint(s string) goversion.Constraints {
	c, err := goversion.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// IsCompatible reports whether v satisfies the compatible range.
// An unparsable version is never compatible.
func IsCompatible(v string) bool {
	parsed, err := goversion.NewVersion(v)
	if err != nil {
		return false
	}
	return compatExact.Check(parsed) || compatRange.Check(parsed)
}

// HighestSupported is used to stamp error replies raised before the input
// NetworkConfig has been parsed.
func HighestSupported() string {
	return SupportedVersions[len(SupportedVersions)-1]
}
