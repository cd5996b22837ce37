// Package analysis implements the image analyzers and the registry that
// selects one by analysis type.
package analysis

import (
	"context"

	"github.com/phrazzld/imagelab-api/internal/pixel"
)

// Supported analysis types.
const (
	TypeColor      = "color_analysis"
	TypeVegetation = "vegetation_index"
	TypeDetection  = "object_detection"
)

// Params carries analyzer-specific input parameters. Analyzers ignore keys
// they do not understand.
type Params map[string]any

// Result is the structured payload produced by an analyzer. It is serialized
// as a JSON object when persisted.
type Result map[string]any

// Analyzer is the single capability every analysis variant implements.
type Analyzer interface {
	// Predict runs the analysis against buf. Implementations must not retain
	// or mutate buf.
	Predict(ctx context.Context, buf *pixel.Buffer, params Params) (Result, error)
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, buf *pixel.Buffer, params Params) (Result, error)

// Predict implements Analyzer.
func (f AnalyzerFunc) Predict(ctx context.Context, buf *pixel.Buffer, params Params) (Result, error) {
	return f(ctx, buf, params)
}
