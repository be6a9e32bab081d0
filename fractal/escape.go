package fractal

import (
	"math"
	"math/cmplx"

	"github.com/aukilabs/deepzoom/models"
)

const (
	escapeRadius = 8.0

	// Orbits are compared every cyclePeriod iterations to detect points
	// trapped in a cycle.
	cyclePeriod = 20
)

// Escape is the result of iterating a point.
type Escape struct {
	// The number of iterations before the orbit escaped, or MaxIterations
	// when it did not.
	Iterations    float64
	MaxIterations float64

	// The last value of the orbit.
	Last complex128
}

// Inside reports whether the point did not escape.
func (e Escape) Inside() bool {
	return e.Iterations >= e.MaxIterations
}

func (e Escape) smoothing() float64 {
	return math.Log2(math.Log2(cmplx.Abs(e.Last)) / math.Log2(e.MaxIterations))
}

func (e Escape) normalized(antialiasing bool) float64 {
	if e.Inside() {
		return 0
	}

	n := e.Iterations / e.MaxIterations
	if antialiasing {
		n -= e.smoothing() / e.MaxIterations
	}
	return n
}

// Iterator computes escape results of plane points for a config.
type Iterator struct {
	variant       Variant
	maxIterations int
	constant      complex128
}

func NewIterator(c Config) Iterator {
	it := Iterator{
		variant:       c.Variant,
		maxIterations: c.MaxIterations,
	}
	if c.Constant != nil {
		it.constant = complex(c.Constant.Re, c.Constant.Im)
	}
	return it
}

// Eval iterates the point p.
func (it Iterator) Eval(p models.Complex) Escape {
	point := complex(p.Re, p.Im)
	current := point
	old := point
	period := 0
	i := 0

	for inBounds(current) && i < it.maxIterations {
		current = it.next(current, point)
		i++
		period++

		if current == old {
			i = it.maxIterations
			break
		}

		if period >= cyclePeriod {
			old = current
			period = 0
		}
	}

	return Escape{
		Iterations:    float64(i),
		MaxIterations: float64(it.maxIterations),
		Last:          current,
	}
}

func (it Iterator) next(z, point complex128) complex128 {
	switch it.variant {
	case JuliaSet:
		return z*z + it.constant

	case BurningShip:
		a := complex(math.Abs(real(z)), math.Abs(imag(z)))
		return a*a + point

	case Newton:
		if z == 0 {
			return cmplx.Inf()
		}
		return (2*z*z*z + 1) / (3 * z * z)

	default:
		return z*z + point
	}
}

func inBounds(z complex128) bool {
	return real(z)*real(z)+imag(z)*imag(z) < escapeRadius
}
