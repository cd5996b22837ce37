package analysis

import (
	"context"

	"github.com/phrazzld/imagelab-api/internal/pixel"
)

// Dominant colour labels.
const (
	ColorRed   = "red"
	ColorGreen = "green"
	ColorBlue  = "blue"
)

// ColorAnalyzer computes per-channel means and histograms and picks a
// dominant colour. It has no state.
type ColorAnalyzer struct{}

var _ Analyzer = ColorAnalyzer{}

// Predict implements Analyzer.
func (ColorAnalyzer) Predict(ctx context.Context, buf *pixel.Buffer, _ Params) (Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := buf.Validate(); err != nil {
		return nil, err
	}
	bgr := buf.ToBGR()

	var hist [3][256]int
	for i := 0; i < len(bgr.Pix); i += 3 {
		hist[pixel.Blue][bgr.Pix[i+pixel.Blue]]++
		hist[pixel.Green][bgr.Pix[i+pixel.Green]]++
		hist[pixel.Red][bgr.Pix[i+pixel.Red]]++
	}

	n := float64(bgr.Pixels())
	var mean [3]float64
	for ch := range hist {
		var sum float64
		for v, count := range hist[ch] {
			sum += float64(v * count)
		}
		mean[ch] = sum / n
	}

	b, g, r := mean[pixel.Blue], mean[pixel.Green], mean[pixel.Red]

	return Result{
		"average_color": map[string]float64{
			"b": b,
			"g": g,
			"r": r,
		},
		"dominant_color": dominantColor(b, g, r),
		"histograms": map[string][]int{
			"b": hist[pixel.Blue][:],
			"g": hist[pixel.Green][:],
			"r": hist[pixel.Red][:],
		},
	}, nil
}

// dominantColor prefers green, then blue, and falls back to red, so ties that
// do not favour green or blue resolve to red.
func dominantColor(b, g, r float64) string {
	switch {
	case g > r && g > b:
		return ColorGreen
	case b > r && b > g:
		return ColorBlue
	default:
		return ColorRed
	}
}
