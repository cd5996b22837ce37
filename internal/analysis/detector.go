package analysis

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nfnt/resize"
	"github.com/phrazzld/imagelab-api/internal/pixel"
)

// ModelInputSize is the square input resolution of the detection model.
const ModelInputSize = 416

// DefaultDetectorLoadDelay approximates the time taken to load model weights.
const DefaultDetectorLoadDelay = time.Second

// DetectionClasses is the closed vocabulary of labels the detector emits.
var DetectionClasses = []string{
	"tree", "plant", "water", "building", "vehicle",
	"person", "animal", "waste", "fire", "smoke",
}

const (
	minDetections    = 1
	maxDetections    = 4
	minConfidence    = 0.6
	maxConfidence    = 0.98
	minBoxSide       = 50
	maxBoxSide       = 200
	boxAnchorReserve = 100
)

// Detection is a single detected object. BBox is x, y, width, height in
// source image pixels.
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	BBox       [4]int  `json:"bbox"`
}

// DetectorConfig configures the detection stand-in.
type DetectorConfig struct {
	// LoadDelay is the simulated weight loading time paid once per process.
	LoadDelay time.Duration

	// Rand supplies randomness for synthesized detections. If nil, a
	// time-seeded source is used.
	Rand *rand.Rand
}

// Detector marks where a real detection model plugs in. It preprocesses
// the input like a real model and then synthesizes detections that honour the
// output contract.
type Detector struct {
	loadDelay time.Duration

	loadOnce sync.Once
	ready    chan struct{}
	loadErr  error

	mu  sync.Mutex
	rng *rand.Rand
}

var _ Analyzer = (*Detector)(nil)

// NewDetector creates an unloaded detector.
func NewDetector(cfg DetectorConfig) *Detector {
	rng := cfg.Rand
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	delay := cfg.LoadDelay
	if delay < 0 {
		delay = 0
	}
	return &Detector{
		loadDelay: delay,
		ready:     make(chan struct{}),
		rng:       rng,
	}
}

// Load loads the model. The first call starts loading; every caller waits for
// that single load and later calls return immediately. Cancelling ctx stops
// the wait but not the load.
func (d *Detector) Load(ctx context.Context) error {
	d.loadOnce.Do(func() {
		go d.load()
	})

	select {
	case <-d.ready:
		return d.loadErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Detector) load() {
	defer close(d.ready)
	if d.loadDelay > 0 {
		time.Sleep(d.loadDelay)
	}
}

// Loaded reports whether the model has finished loading.
func (d *Detector) Loaded() bool {
	select {
	case <-d.ready:
		return d.loadErr == nil
	default:
		return false
	}
}

// Predict implements Analyzer.
func (d *Detector) Predict(ctx context.Context, buf *pixel.Buffer, _ Params) (Result, error) {
	if err := buf.Validate(); err != nil {
		return nil, err
	}
	if err := d.Load(ctx); err != nil {
		return nil, err
	}

	input := resize.Resize(ModelInputSize, ModelInputSize, buf.Image(), resize.Bilinear)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := input.Bounds()
	detections := d.synthesize(bounds.Dx(), bounds.Dy(), buf.Width, buf.Height)

	return Result{
		"objects_detected": detections,
		"count":            len(detections),
	}, nil
}

// synthesize draws detections in model space and rescales them to the source
// image, clamping every box inside it.
func (d *Detector) synthesize(modelW, modelH, srcW, srcH int) []Detection {
	d.mu.Lock()
	defer d.mu.Unlock()

	sx := float64(srcW) / float64(modelW)
	sy := float64(srcH) / float64(modelH)

	count := minDetections + d.rng.IntN(maxDetections-minDetections+1)
	out := make([]Detection, 0, count)
	for i := 0; i < count; i++ {
		x, w := d.span(modelW)
		y, h := d.span(modelH)

		out = append(out, Detection{
			Class:      DetectionClasses[d.rng.IntN(len(DetectionClasses))],
			Confidence: minConfidence + d.rng.Float64()*(maxConfidence-minConfidence),
			BBox:       scaleBox(x, y, w, h, sx, sy, srcW, srcH),
		})
	}
	return out
}

// span picks a box origin and extent along one axis of length size.
func (d *Detector) span(size int) (origin, extent int) {
	origin = d.rng.IntN(max(1, size-boxAnchorReserve) + 1)
	origin = min(origin, size-1)

	high := min(maxBoxSide, size-origin)
	low := min(minBoxSide, high)
	extent = low + d.rng.IntN(high-low+1)
	return origin, extent
}

func scaleBox(x, y, w, h int, sx, sy float64, srcW, srcH int) [4]int {
	bx := min(int(float64(x)*sx), srcW-1)
	by := min(int(float64(y)*sy), srcH-1)
	bw := max(1, min(int(float64(w)*sx), srcW-bx))
	bh := max(1, min(int(float64(h)*sy), srcH-by))
	return [4]int{bx, by, bw, bh}
}
