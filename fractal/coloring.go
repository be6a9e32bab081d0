package fractal

import (
	"encoding/hex"
	"image/color"
	"math"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

// ColorMethod maps an escape time to a gradient position.
type ColorMethod string

const (
	Raw         ColorMethod = "Raw"
	Linear      ColorMethod = "Linear"
	Exponential ColorMethod = "Exponential"
	Stripes     ColorMethod = "Stripes"
)

// Coloring configures how escape times are turned into colors.
type Coloring struct {
	// Gradient start color, as #rrggbb.
	HexStart string `json:"hex_start"`

	// Gradient end color, as #rrggbb.
	HexEnd string `json:"hex_end"`

	Method       ColorMethod `json:"method"`
	Antialiasing bool        `json:"antialiasing"`
	Brightness   float64     `json:"brightness"`

	// Used by the exponential method only.
	Exponent float64 `json:"exponent"`
}

func DefaultColoring() Coloring {
	return Coloring{
		HexStart:     "#ff0000",
		HexEnd:       "#0000ff",
		Method:       Linear,
		Antialiasing: true,
		Brightness:   1,
		Exponent:     1,
	}
}

func (c Coloring) Validate() error {
	if _, err := ParseHexColor(c.HexStart); err != nil {
		return err
	}
	if _, err := ParseHexColor(c.HexEnd); err != nil {
		return err
	}

	switch c.Method {
	case Raw, Linear, Exponential, Stripes:
	default:
		return errors.New("unknown color method").
			WithType(ErrTypeInvalidConfig).
			WithTag("method", c.Method)
	}

	if c.Brightness < 0 || math.IsNaN(c.Brightness) {
		return errors.New("invalid brightness").
			WithType(ErrTypeInvalidConfig).
			WithTag("brightness", c.Brightness)
	}
	return nil
}

func (c Coloring) String() string {
	var b strings.Builder
	b.WriteString("from=")
	b.WriteString(strings.ToLower(c.HexStart))
	b.WriteString("to=")
	b.WriteString(strings.ToLower(c.HexEnd))
	b.WriteString("@")
	b.WriteString(string(c.Method))
	b.WriteString("&aa=")
	if c.Antialiasing {
		b.WriteString("true")
	} else {
		b.WriteString("false")
	}
	b.WriteString("&lum=")
	b.WriteString(formatFloat(c.Brightness))

	if c.Method == Exponential {
		b.WriteString("&expo=")
		b.WriteString(formatFloat(c.Exponent))
	}
	return b.String()
}

// ParseHexColor parses a #rrggbb color.
func ParseHexColor(s string) (color.RGBA, error) {
	if len(s) != 7 || s[0] != '#' {
		return color.RGBA{}, errors.New("invalid hex color").
			WithType(ErrTypeInvalidConfig).
			WithTag("color", s)
	}

	b, err := hex.DecodeString(s[1:])
	if err != nil {
		return color.RGBA{}, errors.New("invalid hex color").
			WithType(ErrTypeInvalidConfig).
			WithTag("color", s).
			Wrap(err)
	}
	return color.RGBA{R: b[0], G: b[1], B: b[2], A: 0xff}, nil
}

// Palette turns escape results into colors.
type Palette struct {
	coloring Coloring
	from     hsl
	to       hsl
}

// NewPalette returns the palette of a coloring.
func NewPalette(c Coloring) (Palette, error) {
	start, err := ParseHexColor(c.HexStart)
	if err != nil {
		return Palette{}, err
	}
	end, err := ParseHexColor(c.HexEnd)
	if err != nil {
		return Palette{}, err
	}

	return Palette{
		coloring: c,
		from:     rgbToHSL(start, 0),
		to:       rgbToHSL(end, 1),
	}, nil
}

// Color returns the color of an escape result.
func (p Palette) Color(e Escape) color.RGBA {
	var base float64

	switch p.coloring.Method {
	case Raw:
		index := e.Iterations
		if p.coloring.Antialiasing {
			index -= e.smoothing()
		}
		base = index / 256

	case Exponential:
		base = math.Pow(e.normalized(p.coloring.Antialiasing), p.coloring.Exponent)

	case Stripes:
		if !e.Inside() && e.Iterations != 0 {
			base = math.Pow(-e.smoothing(), 3)
		}

	default:
		base = e.normalized(p.coloring.Antialiasing)
	}

	return p.gradient(base * p.coloring.Brightness)
}

func (p Palette) gradient(step float64) color.RGBA {
	if math.IsNaN(step) || math.IsInf(step, 0) {
		step = 0
	}

	hue := p.from.h
	change := p.to.h - p.from.h
	if change > 0.5 {
		change -= 1
	} else if change < -0.5 {
		change += 1
	}
	hue += change * step
	hue -= math.Floor(hue)

	c := hsl{
		h: hue,
		s: p.from.s + (p.to.s-p.from.s)*step,
		l: p.from.l + (p.to.l-p.from.l)*step,
	}
	return c.rgba()
}

type hsl struct {
	h, s, l float64
}

func rgbToHSL(c color.RGBA, lightness float64) hsl {
	r := float64(c.R) / 255
	g := float64(c.G) / 255
	b := float64(c.B) / 255

	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	delta := max - min
	if delta == 0 {
		return hsl{l: lightness}
	}

	var h float64
	switch max {
	case r:
		h = math.Mod((g-b)/delta, 6)
	case g:
		h = (b-r)/delta + 2
	default:
		h = (r-g)/delta + 4
	}
	h /= 6
	if h < 0 {
		h++
	}
	return hsl{h: h, s: 1, l: lightness}
}

func (c hsl) rgba() color.RGBA {
	l := clamp(c.l, 0, 1)
	s := clamp(c.s, 0, 1)

	if s == 0 {
		v := clip(l * 255)
		return color.RGBA{R: v, G: v, B: v, A: 0xff}
	}

	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q

	return color.RGBA{
		R: clip(hueToRGB(p, q, c.h+1.0/3) * 255),
		G: clip(hueToRGB(p, q, c.h) * 255),
		B: clip(hueToRGB(p, q, c.h-1.0/3) * 255),
		A: 0xff,
	}
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	} else if t > 1 {
		t--
	}

	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 0.5:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	default:
		return p
	}
}

func clamp(v, min, max float64) float64 {
	return math.Max(min, math.Min(max, v))
}

func clip(v float64) uint8 {
	return uint8(clamp(math.Round(v), 0, 255))
}
