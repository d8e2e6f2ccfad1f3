// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestInfoDirty(t *testing.T) {
	saved := GitDirty
	defer func() { GitDirty = saved }()

	GitDirty = "true"
	if !strings.Contains(Info(), "-dirty") {
		t.Errorf("Info() = %q, want -dirty marker", Info())
	}
	GitDirty = "false"
	if strings.Contains(Info(), "-dirty") {
		t.Errorf("Info() = %q, unexpected -dirty marker", Info())
	}
}

func TestFullIncludesPlatform(t *testing.T) {
	if !strings.Contains(Full(), "Platform: ") {
		t.Errorf("Full() = %q", Full())
	}
}
