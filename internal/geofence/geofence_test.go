package geofence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var square = []Point{{0, 0}, {0, 1}, {1, 1}, {1, 0}}

func TestContainsSquare(t *testing.T) {
	tests := []struct {
		name   string
		point  Point
		inside bool
	}{
		{"centroid", Point{0.5, 0.5}, true},
		{"far outside", Point{10, 10}, false},
		{"negative quadrant", Point{-0.5, -0.5}, false},
		{"near inside corner", Point{0.01, 0.01}, true},
		{"just outside", Point{1.01, 0.5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Contains(tt.point, square)
			require.NoError(t, err)
			assert.Equal(t, tt.inside, got)
		})
	}
}

func TestContainsAcceptsOpenAndClosedRings(t *testing.T) {
	closed := append(append([]Point{}, square...), square[0])
	for _, p := range []Point{{0.5, 0.5}, {10, 10}, {0.25, 0.9}} {
		fromOpen, err := Contains(p, square)
		require.NoError(t, err)
		fromClosed, err := Contains(p, closed)
		require.NoError(t, err)
		assert.Equal(t, fromOpen, fromClosed, "point %v", p)
	}
}

func TestContainsConcavePolygon(t *testing.T) {
	// U-shape: the notch between the arms is outside.
	u := []Point{{0, 0}, {3, 0}, {3, 1}, {2, 1}, {2, 3}, {3, 3}, {3, 4}, {0, 4}}
	inside, err := Contains(Point{1, 2}, u)
	require.NoError(t, err)
	assert.True(t, inside)

	notch, err := Contains(Point{2.5, 2}, u)
	require.NoError(t, err)
	assert.False(t, notch)
}

func TestContainsDegenerateBoundary(t *testing.T) {
	_, err := Contains(Point{0, 0}, nil)
	assert.ErrorIs(t, err, ErrDegenerateGeometry)

	_, err = Contains(Point{0, 0}, []Point{{0, 0}, {1, 1}})
	assert.ErrorIs(t, err, ErrDegenerateGeometry)

	// A "closed" two-vertex ring is still degenerate once normalized.
	_, err = Contains(Point{0, 0}, []Point{{0, 0}, {1, 1}, {0, 0}})
	assert.ErrorIs(t, err, ErrDegenerateGeometry)
}

func TestContainsIsDeterministic(t *testing.T) {
	// Edge-on-boundary points are implementation-defined but must always
	// resolve the same way.
	edgePoints := []Point{{0, 0.5}, {0.5, 0}, {1, 0.5}, {0.5, 1}, {0, 0}}
	for _, p := range edgePoints {
		first, err := Contains(p, square)
		require.NoError(t, err)
		for i := 0; i < 200; i++ {
			again, err := Contains(p, square)
			require.NoError(t, err)
			require.Equal(t, first, again, "point %v flipped on call %d", p, i)
		}
	}
}
