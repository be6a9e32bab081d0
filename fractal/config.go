// Package fractal describes the fractals a viewer can display and how they
// are computed and colored.
package fractal

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aukilabs/deepzoom/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	ErrTypeInvalidConfig = "invalid-config"

	maxIterationsLimit = 100000
)

// Variant is a fractal equation.
type Variant string

const (
	Mandelbrot  Variant = "Mandelbrot"
	JuliaSet    Variant = "JuliaSet"
	BurningShip Variant = "BurningShip"
	Newton      Variant = "Newton"
)

// Variants lists the supported variants.
var Variants = []Variant{
	Mandelbrot,
	JuliaSet,
	BurningShip,
	Newton,
}

type variantInfo struct {
	name          string
	equation      string
	allowedRange  float64
	initConstant  *models.Complex
	initPosition  models.Position
	needsConstant bool
}

var variants = map[Variant]variantInfo{
	Mandelbrot: {
		name:         "Mandelbrot's Set",
		equation:     "Zn+1 = Zn^2 + C",
		allowedRange: 6,
		initPosition: models.Position{Center: models.Complex{Re: -0.5}, Level: 1},
	},
	JuliaSet: {
		name:          "Julia Set",
		equation:      "Zn+1 = Zn^2 + C",
		allowedRange:  4,
		initConstant:  &models.Complex{Re: 0.313, Im: -0.5},
		initPosition:  models.Position{Level: 1},
		needsConstant: true,
	},
	BurningShip: {
		name:         "Burning Ship",
		equation:     "Zn+1 = (|Zr| + i|Zi|)^2 + C",
		allowedRange: 3,
		initPosition: models.Position{Center: models.Complex{Re: -0.5, Im: -0.5}, Level: 1},
	},
	Newton: {
		name:         "Newton's fractal",
		equation:     "Zn+1 = (2 * Zn^3 + 1) / 3Zn^2",
		allowedRange: 3,
		initPosition: models.Position{Level: 1},
	},
}

// ParseVariant returns the variant named s.
func ParseVariant(s string) (Variant, error) {
	for _, v := range Variants {
		if strings.EqualFold(string(v), s) {
			return v, nil
		}
	}
	return "", errors.New("unknown fractal variant").
		WithType(ErrTypeInvalidConfig).
		WithTag("variant", s)
}

// Name returns the human readable name of the variant.
func (v Variant) Name() string {
	return variants[v].name
}

func (v Variant) Equation() string {
	return variants[v].equation
}

// AllowedRange returns the extent of the plane area worth exploring.
func (v Variant) AllowedRange() float64 {
	return variants[v].allowedRange
}

// InitPosition returns the camera position showing the whole fractal.
func (v Variant) InitPosition() models.Position {
	return variants[v].initPosition
}

// InitConstant returns the default constant of the variant, or nil when the
// variant has none.
func (v Variant) InitConstant() *models.Complex {
	c := variants[v].initConstant
	if c == nil {
		return nil
	}
	constant := *c
	return &constant
}

// Config is what a tile raster depends on besides its bounds.
type Config struct {
	Variant       Variant         `json:"variant"`
	MaxIterations int             `json:"max_iterations"`
	Constant      *models.Complex `json:"constant,omitempty"`
	Coloring      Coloring        `json:"coloring"`
}

// DefaultConfig returns the config of the given variant with default
// settings.
func DefaultConfig(v Variant) Config {
	return Config{
		Variant:       v,
		MaxIterations: 128,
		Constant:      v.InitConstant(),
		Coloring:      DefaultColoring(),
	}
}

// Validate reports whether the config can be rendered.
func (c Config) Validate() error {
	info, ok := variants[c.Variant]
	if !ok {
		return errors.New("unknown fractal variant").
			WithType(ErrTypeInvalidConfig).
			WithTag("variant", c.Variant)
	}

	if c.MaxIterations <= 0 || c.MaxIterations > maxIterationsLimit {
		return errors.New("max iterations out of range").
			WithType(ErrTypeInvalidConfig).
			WithTag("max_iterations", c.MaxIterations)
	}

	if info.needsConstant && c.Constant == nil {
		return errors.New("missing constant").
			WithType(ErrTypeInvalidConfig).
			WithTag("variant", c.Variant)
	}

	return c.Coloring.Validate()
}

// String returns the canonical form of the config. Two configs producing
// the same rasters have the same canonical form.
func (c Config) String() string {
	var b strings.Builder
	b.WriteString(string(c.Variant))
	b.WriteString("@")
	b.WriteString(strconv.Itoa(c.MaxIterations))
	b.WriteString("iters?color=")
	b.WriteString(c.Coloring.String())

	if c.Constant != nil && variants[c.Variant].needsConstant {
		fmt.Fprintf(&b, "&const=(%s+%si)",
			formatFloat(c.Constant.Re),
			formatFloat(c.Constant.Im),
		)
	}
	return b.String()
}

// Fingerprint returns a digest of the canonical form of the config.
func (c Config) Fingerprint() string {
	return crypto.Keccak256Hash([]byte(c.String())).Hex()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
