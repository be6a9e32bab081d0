package fractal

import (
	"testing"

	"github.com/aukilabs/deepzoom/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestConfigString(t *testing.T) {
	t.Run("without constant", func(t *testing.T) {
		c := DefaultConfig(Mandelbrot)
		require.Equal(t,
			"Mandelbrot@128iters?color=from=#ff0000to=#0000ff@Linear&aa=true&lum=1",
			c.String(),
		)
	})

	t.Run("with constant", func(t *testing.T) {
		c := DefaultConfig(JuliaSet)
		c.Coloring.Method = Exponential
		c.Coloring.Exponent = 2.5
		require.Equal(t,
			"JuliaSet@128iters?color=from=#ff0000to=#0000ff@Exponential&aa=true&lum=1&expo=2.5&const=(0.313+-0.5i)",
			c.String(),
		)
	})

	t.Run("constant is ignored by variants without constant", func(t *testing.T) {
		a := DefaultConfig(Mandelbrot)
		b := DefaultConfig(Mandelbrot)
		b.Constant = &models.Complex{Re: 1}
		require.Equal(t, a.String(), b.String())
	})
}

func TestConfigFingerprint(t *testing.T) {
	a := DefaultConfig(Mandelbrot)
	b := DefaultConfig(Mandelbrot)
	require.Equal(t, a.Fingerprint(), b.Fingerprint())
	require.Len(t, a.Fingerprint(), 66)

	b.MaxIterations = 256
	require.NotEqual(t, a.Fingerprint(), b.Fingerprint())

	c := DefaultConfig(Mandelbrot)
	c.Coloring.HexEnd = "#00ff00"
	require.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		scenario string
		config   func() Config
		isValid  bool
	}{
		{
			scenario: "default configs are valid",
			config: func() Config {
				return DefaultConfig(Newton)
			},
			isValid: true,
		},
		{
			scenario: "unknown variant",
			config: func() Config {
				return DefaultConfig("Sierpinski")
			},
		},
		{
			scenario: "zero iterations",
			config: func() Config {
				c := DefaultConfig(Mandelbrot)
				c.MaxIterations = 0
				return c
			},
		},
		{
			scenario: "julia set without constant",
			config: func() Config {
				c := DefaultConfig(JuliaSet)
				c.Constant = nil
				return c
			},
		},
		{
			scenario: "bad color",
			config: func() Config {
				c := DefaultConfig(BurningShip)
				c.Coloring.HexStart = "red"
				return c
			},
		},
		{
			scenario: "bad method",
			config: func() Config {
				c := DefaultConfig(BurningShip)
				c.Coloring.Method = "Rainbow"
				return c
			},
		},
	}

	for _, test := range tests {
		t.Run(test.scenario, func(t *testing.T) {
			err := test.config().Validate()
			if test.isValid {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.True(t, errors.IsType(err, ErrTypeInvalidConfig))
		})
	}
}

func TestParseVariant(t *testing.T) {
	v, err := ParseVariant("juliaset")
	require.NoError(t, err)
	require.Equal(t, JuliaSet, v)
	require.NotNil(t, v.InitConstant())

	_, err = ParseVariant("unknown")
	require.Error(t, err)
}

func TestVariantInitConstantIsACopy(t *testing.T) {
	c := JuliaSet.InitConstant()
	c.Re = 42
	require.Equal(t, 0.313, JuliaSet.InitConstant().Re)
	require.Nil(t, Mandelbrot.InitConstant())
}
