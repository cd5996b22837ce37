package service_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/phrazzld/imagelab-api/internal/analysis"
	"github.com/phrazzld/imagelab-api/internal/domain"
	"github.com/phrazzld/imagelab-api/internal/events"
	"github.com/phrazzld/imagelab-api/internal/mocks"
	"github.com/phrazzld/imagelab-api/internal/platform/logger"
	"github.com/phrazzld/imagelab-api/internal/service"
	"github.com/phrazzld/imagelab-api/internal/store"
	"github.com/phrazzld/imagelab-api/internal/task"
	"github.com/stretchr/testify/require"
)

// greenSquarePNG encodes a 100x100 black image with a green square at [30,70).
func greenSquarePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			c := color.RGBA{A: 255}
			if x >= 30 && x < 70 && y >= 30 && y < 70 {
				c.G = 255
			}
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// declaredPNG returns only a PNG signature and header declaring a width x
// height RGB canvas.
func declaredPNG(width, height uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], width)
	binary.BigEndian.PutUint32(ihdr[4:8], height)
	ihdr[8], ihdr[9] = 8, 2

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

type fixture struct {
	images     *mocks.MockImageStore
	jobs       *mocks.MockJobStore
	blobs      *mocks.MockBlobStore
	cache      *mocks.MockJobCache
	emitter    *events.InMemoryEventEmitter
	uploads    *service.ImageService
	dispatcher *service.AnalysisDispatcher
}

func testDispatcherConfig() service.DispatcherConfig {
	return service.DispatcherConfig{
		Runner: task.TaskRunnerConfig{
			WorkerCount:  2,
			QueueSize:    50,
			Backpressure: task.BackpressureReject,
		},
		InstanceID:   "replica-a",
		WriteRetries: 3,
		WriteBackoff: time.Millisecond,
	}
}

func newFixture(t *testing.T, cfg service.DispatcherConfig, registry *analysis.Registry) *fixture {
	t.Helper()
	log := logger.DiscardLogger()

	f := &fixture{
		images:  mocks.NewMockImageStore(),
		jobs:    mocks.NewMockJobStore(),
		blobs:   mocks.NewMockBlobStore(),
		cache:   mocks.NewMockJobCache(),
		emitter: events.NewInMemoryEventEmitter(log),
	}
	f.emitter.RegisterHandler(service.NewResultArchiver(f.blobs, log), events.JobCompleted)
	f.uploads = service.NewImageService(f.images, f.blobs, service.UploadLimits{MaxBytes: 1 << 20}, log)
	f.dispatcher = f.newDispatcher(t, cfg, registry)
	return f
}

// newDispatcher builds a dispatcher over the fixture's stores, as another
// replica or a later boot would see them.
func (f *fixture) newDispatcher(t *testing.T, cfg service.DispatcherConfig, registry *analysis.Registry) *service.AnalysisDispatcher {
	t.Helper()
	return f.dispatcherOver(t, f.jobs, cfg, registry)
}

// dispatcherOver is newDispatcher with jobs in place of the fixture's job store.
func (f *fixture) dispatcherOver(
	t *testing.T,
	jobs store.JobStore,
	cfg service.DispatcherConfig,
	registry *analysis.Registry,
) *service.AnalysisDispatcher {
	t.Helper()
	if registry == nil {
		registry = analysis.NewDefaultRegistry(analysis.DetectorConfig{})
	}
	d := service.NewAnalysisDispatcher(service.DispatcherDeps{
		Images:   f.images,
		Jobs:     jobs,
		Blobs:    f.blobs,
		Registry: registry,
		Cache:    f.cache,
		Events:   f.emitter,
	}, cfg, logger.DiscardLogger())
	t.Cleanup(d.Stop)
	return d
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.dispatcher.Start(context.Background()))
}

func (f *fixture) upload(t *testing.T) *domain.Image {
	t.Helper()
	img, err := f.uploads.Upload(context.Background(), "field.png", greenSquarePNG(t))
	require.NoError(t, err)
	return img
}

// waitTerminal polls the job store until id leaves processing.
func (f *fixture) waitTerminal(t *testing.T, id string) *domain.Job {
	t.Helper()
	var job *domain.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = f.jobs.GetJob(context.Background(), id)
		return err == nil && job.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond, "job %s never finished", id)
	return job
}
