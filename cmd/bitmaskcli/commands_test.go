package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/diba-io/bitmask"
	"github.com/diba-io/bitmask/marketplace"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
)

func TestParseMedia(t *testing.T) {
	media, err := parseMedia([]string{
		"image/png=https://example.com/a.png?x=1",
	})
	require.NoError(t, err)
	require.Equal(t, []bitmask.Media{{
		Type: "image/png", Source: "https://example.com/a.png?x=1",
	}}, media)

	for _, bad := range []string{"image/png", "=src", "mime="} {
		_, err := parseMedia([]string{bad})
		require.Error(t, err, bad)
	}
}

func TestReadRequest(t *testing.T) {
	var req bitmask.PsbtRequest
	require.NoError(t, readRequest(`{"Fee": 1000, "Outputs": ["a:1"]}`,
		&req))
	require.Equal(t, uint64(1000), req.Fee)
	require.Equal(t, []string{"a:1"}, req.Outputs)

	path := filepath.Join(t.TempDir(), "offer.json")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"Iface": "RGB20", "AssetAmount": 5, "BitcoinPrice": 1000}`,
	), 0600))

	var offer marketplace.Offer
	require.NoError(t, readRequest("@"+path, &offer))
	require.Equal(t, "RGB20", offer.Iface)
	require.Equal(t, uint64(5), offer.AssetAmount)

	require.Error(t, readRequest("@"+path+".missing", &offer))
	require.Error(t, readRequest("{", &offer))
}

// TestCommandNames checks that no two commands of a level share a name.
func TestCommandNames(t *testing.T) {
	var check func(cmds []cli.Command)
	check = func(cmds []cli.Command) {
		seen := make(map[string]struct{})
		for _, cmd := range cmds {
			for _, name := range cmd.Names() {
				_, dup := seen[name]
				require.False(t, dup, name)
				seen[name] = struct{}{}
			}
			require.True(t, cmd.Action != nil ||
				len(cmd.Subcommands) > 0, cmd.Name)
			check(cmd.Subcommands)
		}
	}

	check(newApp().Commands)
}
