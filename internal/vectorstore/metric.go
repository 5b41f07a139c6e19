package vectorstore

import (
	"fmt"
	"math"
	"strings"

	"docqa/internal/domain"
)

// Metric identifies the similarity function an index was built with. It is
// recorded in every persisted artifact.
type Metric uint8

const (
	MetricCosine Metric = iota + 1
	MetricDot
	// MetricEuclidean scores by negated L2 distance so that higher is closer.
	MetricEuclidean
)

// ParseMetric maps a configuration value to a Metric.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cosine", "cos", "":
		return MetricCosine, nil
	case "dot", "dot_product", "ip":
		return MetricDot, nil
	case "euclidean", "l2":
		return MetricEuclidean, nil
	default:
		return 0, domain.Configf("unknown similarity metric %q", s)
	}
}

func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "cosine"
	case MetricDot:
		return "dot"
	case MetricEuclidean:
		return "euclidean"
	default:
		return fmt.Sprintf("metric(%d)", uint8(m))
	}
}

func (m Metric) valid() bool { return m >= MetricCosine && m <= MetricEuclidean }

// score compares a query with a stored vector. qMag and vMag are the
// precomputed L2 magnitudes, used by cosine only. A zero-magnitude vector
// scores 0 under cosine.
func (m Metric) score(q, v []float32, qMag, vMag float64) float64 {
	switch m {
	case MetricDot:
		return dot(q, v)
	case MetricEuclidean:
		return -l2(q, v)
	default:
		if qMag == 0 || vMag == 0 {
			return 0
		}
		return dot(q, v) / (qMag * vMag)
	}
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func l2(a, b []float32) float64 {
	var s float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		s += d * d
	}
	return math.Sqrt(s)
}

func magnitude(v []float32) float64 { return math.Sqrt(dot(v, v)) }

func firstNonFinite(v []float32) int {
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return i
		}
	}
	return -1
}
