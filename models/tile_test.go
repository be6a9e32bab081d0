package models

import (
	"image"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTileIDBounds(t *testing.T) {
	tests := []struct {
		scenario string
		id       TileID
		expected Bounds
	}{
		{
			scenario: "level 0 origin",
			id:       TileID{X: 0, Y: 0, Level: 0},
			expected: Bounds{Left: 0, Right: 1, Top: 1, Bottom: 0},
		},
		{
			scenario: "level 4",
			id:       TileID{X: 2, Y: 3, Level: 4},
			expected: Bounds{Left: 32, Right: 48, Top: 64, Bottom: 48},
		},
		{
			scenario: "negative level",
			id:       TileID{X: -3, Y: 1, Level: -2},
			expected: Bounds{Left: -0.75, Right: -0.5, Top: 0.5, Bottom: 0.25},
		},
	}

	for _, test := range tests {
		t.Run(test.scenario, func(t *testing.T) {
			require.Equal(t, test.expected, test.id.Bounds())
		})
	}
}

func TestTileIDHash(t *testing.T) {
	require.Equal(t, "l=4 x=2 y=3", TileID{X: 2, Y: 3, Level: 4}.Hash())
	require.Equal(t, "l=-1 x=-2 y=0", TileID{X: -2, Y: 0, Level: -1}.Hash())
	require.NotEqual(t,
		TileID{X: 1, Y: 12, Level: 0}.Hash(),
		TileID{X: 11, Y: 2, Level: 0}.Hash(),
	)
}

func TestTileIDParentID(t *testing.T) {
	tests := []struct {
		scenario string
		id       TileID
		expected TileID
	}{
		{
			scenario: "positive coordinates",
			id:       TileID{X: 5, Y: 2, Level: 0},
			expected: TileID{X: 2, Y: 1, Level: 1},
		},
		{
			scenario: "negative coordinates floor",
			id:       TileID{X: -1, Y: -3, Level: -2},
			expected: TileID{X: -1, Y: -2, Level: -1},
		},
	}

	for _, test := range tests {
		t.Run(test.scenario, func(t *testing.T) {
			parent := test.id.ParentID()
			require.Equal(t, test.expected, parent)

			b := test.id.Bounds()
			pb := parent.Bounds()
			require.LessOrEqual(t, pb.Left, b.Left)
			require.GreaterOrEqual(t, pb.Right, b.Right)
			require.LessOrEqual(t, pb.Bottom, b.Bottom)
			require.GreaterOrEqual(t, pb.Top, b.Top)
		})
	}
}

func TestTileIDWithPoint(t *testing.T) {
	id := TileIDWithPoint(1, Complex{Re: -0.5, Im: 3.5})
	require.Equal(t, TileID{X: -1, Y: 1, Level: 1}, id)

	id = TileIDWithPoint(-1, Complex{Re: 0.25, Im: -0.25})
	require.Equal(t, TileID{X: 0, Y: -1, Level: -1}, id)
}

func TestTileCanBeDrawn(t *testing.T) {
	tile := Tile{}
	require.False(t, tile.CanBeDrawn())

	tile.Status = TileLoading
	require.False(t, tile.CanBeDrawn())

	tile.Status = TileReady
	require.True(t, tile.CanBeDrawn())

	tile.Status = TileUpdating
	require.True(t, tile.CanBeDrawn())
}

func TestTileRelease(t *testing.T) {
	tile := Tile{
		Status:            TileReady,
		RenderedForConfig: "abc",
		Raster:            image.NewRGBA(image.Rect(0, 0, 1, 1)),
	}

	tile.Release()
	require.Equal(t, TileEmpty, tile.Status)
	require.Nil(t, tile.Raster)
	require.Empty(t, tile.RenderedForConfig)
}
