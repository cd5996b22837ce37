package analysis

import (
	"context"

	"github.com/phrazzld/imagelab-api/internal/pixel"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Vegetation health labels.
const (
	HealthHealthy  = "healthy"
	HealthModerate = "moderate"
	HealthPoor     = "poor"
)

const (
	ndviEpsilon       = 1e-10
	healthyThreshold  = 0.3
	moderateThreshold = 0.1
	coverageThreshold = 0.1
)

// VegetationAnalyzer estimates vegetation cover from visible light.
//
// The index is (G-R)/(G+R), a visible-band stand-in for NDVI. It is not a
// calibrated NDVI, which needs a near-infrared band.
type VegetationAnalyzer struct{}

var _ Analyzer = VegetationAnalyzer{}

// Predict implements Analyzer.
func (VegetationAnalyzer) Predict(ctx context.Context, buf *pixel.Buffer, _ Params) (Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := buf.Validate(); err != nil {
		return nil, err
	}
	bgr := buf.ToBGR()

	n := bgr.Pixels()
	ndvi := make([]float64, n)
	exg := make([]float64, n)
	for i := 0; i < n; i++ {
		p := bgr.Pix[i*3 : i*3+3]
		b := float64(p[pixel.Blue])
		g := float64(p[pixel.Green])
		r := float64(p[pixel.Red])

		ndvi[i] = (g - r) / (g + r + ndviEpsilon)
		exg[i] = 2*g - r - b
	}

	mean, std := stat.PopMeanStdDev(ndvi, nil)
	covered := floats.Count(func(v float64) bool { return v > coverageThreshold }, ndvi)

	return Result{
		"ndvi_average":        mean,
		"ndvi_std":            std,
		"vegetation_health":   vegetationHealth(mean),
		"coverage_percentage": float64(covered) / float64(n) * 100,
		"exg_average":         stat.Mean(exg, nil),
	}, nil
}

func vegetationHealth(meanNDVI float64) string {
	switch {
	case meanNDVI > healthyThreshold:
		return HealthHealthy
	case meanNDVI > moderateThreshold:
		return HealthModerate
	default:
		return HealthPoor
	}
}
