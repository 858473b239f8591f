// Copyright 2017 Microsoft. All rights reserved.
// MIT License

package cniutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCompatible(t *testing.T) {
	cases := map[string]bool{
		"0.4.0": true,
		"1.0.0": true,
		"1.0.1": true,
		"1.5.0": true,
		"0.3.0": false,
		"0.3.1": false,
		"2.0.0": false,
		"garbage": false,
		"":        false,
	}
	for v, want := range cases {
		assert.Equal(t, want, IsCompatible(v), "version %q", v)
	}
}

func TestHighestSupportedIsInSupportedVersions(t *testing.T) {
	assert.Contains(t, SupportedVersions, HighestSupported())
}
