package bitmask

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildInfo(t *testing.T) {
	require.Equal(t, "0.7.0-beta", Version())

	info := Build()
	require.Equal(t, Version(), info.Version)
	require.Equal(t, "rgbst161", info.StorageTag)
	require.True(t, strings.HasPrefix(
		info.String(), "0.7.0-beta storage=rgbst161",
	), info.String())

	info = BuildInfo{
		Version: "1.0.0", Commit: "abc", StorageTag: "rgbst161",
	}
	require.Equal(t, "1.0.0 storage=rgbst161 commit=abc", info.String())
}
