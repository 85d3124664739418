// Package vector provides the similarity indexes used for nearest
// neighbour search over embedding vectors.
package vector

import (
	"fmt"

	"github.com/viant/vec/search"
)

// Metric selects how vector similarity is computed.
type Metric uint8

const (
	// MetricCosine ranks by cosine similarity. Vectors need not be
	// normalized; magnitudes are precomputed per stored vector.
	MetricCosine Metric = iota
	// MetricDot ranks by inner product.
	MetricDot
	// MetricL2 ranks by Euclidean distance (closer is better).
	MetricL2
)

// ParseMetric maps a configuration string to a Metric.
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "cosine", "":
		return MetricCosine, nil
	case "dot":
		return MetricDot, nil
	case "l2":
		return MetricL2, nil
	default:
		return 0, fmt.Errorf("unknown distance metric %q (supported: cosine, dot, l2)", s)
	}
}

func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "cosine"
	case MetricDot:
		return "dot"
	case MetricL2:
		return "l2"
	default:
		return "unknown"
	}
}

// Magnitude returns the L2 norm of v.
func Magnitude(v []float32) float32 {
	return search.Float32s(v).Magnitude()
}

// Distance returns a metric-specific distance where smaller means more
// similar. ma and mb are the precomputed magnitudes of a and b; they are
// only consulted for cosine.
func (m Metric) Distance(a, b []float32, ma, mb float32) float32 {
	switch m {
	case MetricCosine:
		// A zero vector has no direction; treat it as maximally far
		// from everything without dividing by zero.
		if ma == 0 || mb == 0 {
			return 1
		}
		return 1 - dot(a, b)/(ma*mb)
	case MetricDot:
		return -dot(a, b)
	default:
		return search.Float32s(a).EuclideanDistance(b)
	}
}

// Score converts a distance into the score reported to callers, where
// larger always means more similar. Cosine scores land in [-1, 1], dot
// scores are raw inner products, and L2 scores are negated distances.
func (m Metric) Score(d float32) float64 {
	switch m {
	case MetricCosine:
		return float64(1 - d)
	default:
		return float64(-d)
	}
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
