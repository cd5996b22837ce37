package analysis

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/imagelab-api/internal/pixel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// solid returns a w×h three-channel buffer filled with one BGR colour.
func solid(t *testing.T, w, h int, b, g, r uint8) *pixel.Buffer {
	t.Helper()
	buf, err := pixel.New(w, h, 3)
	require.NoError(t, err)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			buf.SetBGR(x, y, b, g, r)
		}
	}
	return buf
}

// greenSquare is a black 100×100 image with a pure green square at [30:70, 30:70].
func greenSquare(t *testing.T) *pixel.Buffer {
	t.Helper()
	buf := solid(t, 100, 100, 0, 0, 0)
	for y := 30; y < 70; y++ {
		for x := 30; x < 70; x++ {
			buf.SetBGR(x, y, 0, 255, 0)
		}
	}
	return buf
}

func sum(values []int) int {
	total := 0
	for _, v := range values {
		total += v
	}
	return total
}

func TestColorAnalyzer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		buf      func(t *testing.T) *pixel.Buffer
		dominant string
	}{
		{name: "solid green", buf: func(t *testing.T) *pixel.Buffer { return solid(t, 8, 8, 0, 255, 0) }, dominant: ColorGreen},
		{name: "solid blue", buf: func(t *testing.T) *pixel.Buffer { return solid(t, 8, 8, 255, 0, 0) }, dominant: ColorBlue},
		{name: "solid red", buf: func(t *testing.T) *pixel.Buffer { return solid(t, 8, 8, 0, 0, 255) }, dominant: ColorRed},
		{name: "three way tie falls back to red", buf: func(t *testing.T) *pixel.Buffer { return solid(t, 8, 8, 90, 90, 90) }, dominant: ColorRed},
		{name: "red blue tie falls back to red", buf: func(t *testing.T) *pixel.Buffer { return solid(t, 8, 8, 120, 10, 120) }, dominant: ColorRed},
		{name: "green square on black", buf: greenSquare, dominant: ColorGreen},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			buf := tc.buf(t)
			result, err := ColorAnalyzer{}.Predict(context.Background(), buf, nil)
			require.NoError(t, err)

			assert.Equal(t, tc.dominant, result["dominant_color"])

			avg := result["average_color"].(map[string]float64)
			for _, ch := range []string{"b", "g", "r"} {
				assert.GreaterOrEqual(t, avg[ch], 0.0)
				assert.LessOrEqual(t, avg[ch], 255.0)
			}

			hists := result["histograms"].(map[string][]int)
			for _, ch := range []string{"b", "g", "r"} {
				require.Len(t, hists[ch], 256)
				assert.Equal(t, buf.Pixels(), sum(hists[ch]), "histogram %s must cover every pixel", ch)
			}
		})
	}
}

func TestColorAnalyzer_Means(t *testing.T) {
	t.Parallel()

	result, err := ColorAnalyzer{}.Predict(context.Background(), greenSquare(t), nil)
	require.NoError(t, err)

	avg := result["average_color"].(map[string]float64)
	assert.InDelta(t, 0.0, avg["b"], 1e-9)
	assert.InDelta(t, 255.0*1600/10000, avg["g"], 1e-9)
	assert.InDelta(t, 0.0, avg["r"], 1e-9)
}

func TestColorAnalyzer_GrayInput(t *testing.T) {
	t.Parallel()

	gray, err := pixel.New(4, 4, 1)
	require.NoError(t, err)
	for i := range gray.Pix {
		gray.Pix[i] = 200
	}

	result, err := ColorAnalyzer{}.Predict(context.Background(), gray, nil)
	require.NoError(t, err)

	avg := result["average_color"].(map[string]float64)
	assert.Equal(t, map[string]float64{"b": 200, "g": 200, "r": 200}, avg)
	assert.Equal(t, ColorRed, result["dominant_color"])
}

func TestVegetationAnalyzer(t *testing.T) {
	t.Parallel()

	t.Run("uniform grey has no vegetation", func(t *testing.T) {
		t.Parallel()

		result, err := VegetationAnalyzer{}.Predict(context.Background(), solid(t, 10, 10, 128, 128, 128), nil)
		require.NoError(t, err)

		assert.InDelta(t, 0.0, result["ndvi_average"], 1e-9)
		assert.InDelta(t, 0.0, result["ndvi_std"], 1e-9)
		assert.InDelta(t, 0.0, result["coverage_percentage"], 1e-9)
		assert.InDelta(t, 0.0, result["exg_average"], 1e-9)
		assert.Equal(t, HealthPoor, result["vegetation_health"])
	})

	t.Run("green dominant is healthy", func(t *testing.T) {
		t.Parallel()

		// g=200, r=50: (200-50)/(250) = 0.6
		result, err := VegetationAnalyzer{}.Predict(context.Background(), solid(t, 10, 10, 40, 200, 50), nil)
		require.NoError(t, err)

		assert.InDelta(t, 0.6, result["ndvi_average"], 1e-9)
		assert.Equal(t, HealthHealthy, result["vegetation_health"])
		assert.InDelta(t, 100.0, result["coverage_percentage"], 1e-9)
		assert.InDelta(t, 2*200.0-50-40, result["exg_average"], 1e-9)
	})

	t.Run("slightly green is moderate", func(t *testing.T) {
		t.Parallel()

		// (120-80)/200 = 0.2
		result, err := VegetationAnalyzer{}.Predict(context.Background(), solid(t, 4, 4, 0, 120, 80), nil)
		require.NoError(t, err)
		assert.Equal(t, HealthModerate, result["vegetation_health"])
	})

	t.Run("half covered image", func(t *testing.T) {
		t.Parallel()

		buf := solid(t, 10, 10, 0, 0, 0)
		for y := 0; y < 5; y++ {
			for x := 0; x < 10; x++ {
				buf.SetBGR(x, y, 0, 255, 0)
			}
		}
		result, err := VegetationAnalyzer{}.Predict(context.Background(), buf, nil)
		require.NoError(t, err)

		assert.InDelta(t, 50.0, result["coverage_percentage"], 1e-9)
		assert.InDelta(t, 0.5, result["ndvi_average"], 1e-9)
		assert.InDelta(t, 0.5, result["ndvi_std"], 1e-9, "population standard deviation")
		assert.Equal(t, HealthHealthy, result["vegetation_health"])
	})

	t.Run("black image does not divide by zero", func(t *testing.T) {
		t.Parallel()

		result, err := VegetationAnalyzer{}.Predict(context.Background(), solid(t, 3, 3, 0, 0, 0), nil)
		require.NoError(t, err)
		assert.Equal(t, 0.0, result["ndvi_average"])
	})
}

func TestVegetationHealthThresholds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, HealthHealthy, vegetationHealth(0.31))
	assert.Equal(t, HealthModerate, vegetationHealth(0.3))
	assert.Equal(t, HealthModerate, vegetationHealth(0.11))
	assert.Equal(t, HealthPoor, vegetationHealth(0.1))
	assert.Equal(t, HealthPoor, vegetationHealth(-0.5))
}

func TestDetector_OutputContract(t *testing.T) {
	t.Parallel()

	detector := NewDetector(DetectorConfig{Rand: rand.New(rand.NewPCG(7, 11))})
	vocabulary := make(map[string]bool, len(DetectionClasses))
	for _, c := range DetectionClasses {
		vocabulary[c] = true
	}

	sizes := [][2]int{{640, 480}, {100, 100}, {37, 12}, {1, 1}, {800, 200}}
	for _, size := range sizes {
		buf := solid(t, size[0], size[1], 10, 20, 30)
		for i := 0; i < 10; i++ {
			result, err := detector.Predict(context.Background(), buf, nil)
			require.NoError(t, err)

			detections := result["objects_detected"].([]Detection)
			assert.Equal(t, len(detections), result["count"])
			assert.GreaterOrEqual(t, len(detections), 1)
			assert.LessOrEqual(t, len(detections), 4)

			for _, d := range detections {
				assert.True(t, vocabulary[d.Class], "unexpected class %q", d.Class)
				assert.GreaterOrEqual(t, d.Confidence, 0.6)
				assert.LessOrEqual(t, d.Confidence, 0.98)

				x, y, w, h := d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3]
				assert.GreaterOrEqual(t, x, 0)
				assert.GreaterOrEqual(t, y, 0)
				assert.Positive(t, w)
				assert.Positive(t, h)
				assert.LessOrEqual(t, x+w, size[0], "box %v exceeds width %d", d.BBox, size[0])
				assert.LessOrEqual(t, y+h, size[1], "box %v exceeds height %d", d.BBox, size[1])
			}
		}
	}
}

func TestDetector_LoadOnceUnderConcurrency(t *testing.T) {
	t.Parallel()

	detector := NewDetector(DetectorConfig{LoadDelay: 50 * time.Millisecond})
	assert.False(t, detector.Loaded())

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- detector.Load(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.True(t, detector.Loaded())

	// A loaded detector does not pay the delay again.
	start := time.Now()
	require.NoError(t, detector.Load(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestDetector_LoadHonoursContext(t *testing.T) {
	t.Parallel()

	detector := NewDetector(DetectorConfig{LoadDelay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := detector.Predict(ctx, solid(t, 4, 4, 0, 0, 0), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, detector.Loaded())
}

func TestRegistry_Resolve(t *testing.T) {
	t.Parallel()

	registry := NewDefaultRegistry(DetectorConfig{})

	for _, typ := range []string{TypeColor, TypeVegetation, TypeDetection} {
		a, err := registry.Resolve(typ)
		require.NoError(t, err, typ)
		assert.NotNil(t, a)
	}

	assert.Equal(t, []string{TypeColor, TypeDetection, TypeVegetation}, registry.Types())
}

func TestRegistry_ResolveUnsupported(t *testing.T) {
	t.Parallel()

	registry := NewDefaultRegistry(DetectorConfig{})

	_, err := registry.Resolve("thermal_imaging")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedType)

	var unsupported *UnsupportedTypeError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "thermal_imaging", unsupported.Type)
	assert.Equal(t, registry.Types(), unsupported.Supported)
	for _, typ := range registry.Types() {
		assert.Contains(t, err.Error(), typ)
	}
}

func TestRegistry_ConstructsOnceAndSharesHandle(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	var builds int
	var mu sync.Mutex
	registry.Register("custom", func() (Analyzer, error) {
		mu.Lock()
		builds++
		mu.Unlock()
		return NewDetector(DetectorConfig{}), nil
	})

	var wg sync.WaitGroup
	handles := make(chan Analyzer, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := registry.Resolve("custom")
			assert.NoError(t, err)
			handles <- a
		}()
	}
	wg.Wait()
	close(handles)

	var first Analyzer
	for h := range handles {
		if first == nil {
			first = h
		}
		assert.Same(t, first.(*Detector), h.(*Detector))
	}
	assert.Equal(t, 1, builds)
}

func TestRegistry_ConstructorError(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	boom := errors.New("weights missing")
	registry.Register("broken", func() (Analyzer, error) { return nil, boom })

	_, err := registry.Resolve("broken")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrUnsupportedType)
}

func TestRegistry_DuplicateRegistrationPanics(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Register(TypeColor, func() (Analyzer, error) { return ColorAnalyzer{}, nil })
	assert.Panics(t, func() {
		registry.Register(TypeColor, func() (Analyzer, error) { return ColorAnalyzer{}, nil })
	})
}

func TestAnalyzers_RespectCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	buf := solid(t, 2, 2, 1, 2, 3)
	_, err := ColorAnalyzer{}.Predict(ctx, buf, nil)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = VegetationAnalyzer{}.Predict(ctx, buf, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
