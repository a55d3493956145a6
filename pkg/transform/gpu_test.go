package transform

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/T3-Labs/stream-balancer/pkg/circuit"
	"github.com/T3-Labs/stream-balancer/pkg/frame"
	"github.com/T3-Labs/stream-balancer/pkg/pool"
)

// flakyDevice falha as primeiras failCount submissões e depois delega para a
// execução em software.
type flakyDevice struct {
	inner      *SoftwareDevice
	failCount  int32
	dispatches atomic.Int32
	perStream  [8]atomic.Int32
}

func newFlakyDevice(failCount int) *flakyDevice {
	return &flakyDevice{
		inner:     NewSoftwareDevice(4),
		failCount: int32(failCount),
	}
}

func (d *flakyDevice) Name() string     { return "flaky" }
func (d *flakyDevice) StreamCount() int { return d.inner.StreamCount() }
func (d *flakyDevice) Close()           { d.inner.Close() }

func (d *flakyDevice) Dispatch(stream int, src *frame.Frame, dst *frame.Frame, opts Options) error {
	n := d.dispatches.Add(1)
	if stream >= 0 && stream < len(d.perStream) {
		d.perStream[stream].Add(1)
	}
	if n <= d.failCount {
		return errors.New("falha simulada do dispositivo")
	}
	return d.inner.Dispatch(stream, src, dst, opts)
}

func makeSource(t *testing.T) *frame.Frame {
	t.Helper()
	src, err := frame.New(8, 8, 3)
	if err != nil {
		t.Fatalf("frame.New falhou: %v", err)
	}
	for i := range src.Pixels {
		src.Pixels[i] = byte(i % 256)
	}
	return src
}

func TestGPUFallbackTransparency(t *testing.T) {
	device := newFlakyDevice(1000) // falha sempre
	b, err := NewGPUBackend(device, pool.New(2))
	assert.NoError(t, err)

	src := makeSource(t)
	out, err := b.Process(src, Options{Width: 4, Height: 4})

	// A falha do dispositivo é invisível: o consumidor recebe um frame
	// com a forma correta pelo caminho de CPU
	assert.NoError(t, err)
	assert.Equal(t, 4, out.Width)
	assert.Equal(t, 4, out.Height)
	assert.Equal(t, 3, out.Channels)
	assert.NoError(t, out.Validate())
	assert.Equal(t, int64(1), b.Fallbacks())
}

func TestGPUBreakerOpensAfterRepeatedFailures(t *testing.T) {
	device := newFlakyDevice(1000)
	b, _ := NewGPUBackend(device, pool.New(2))

	src := makeSource(t)
	for i := 0; i < 5; i++ {
		out, err := b.Process(src, Options{Width: 4, Height: 4})
		assert.NoError(t, err)
		assert.NoError(t, out.Validate())
	}

	// Depois de 3 falhas o breaker abre e o dispositivo deixa de ser
	// sondado; as chamadas seguintes vão direto para a CPU
	assert.Equal(t, circuit.StateOpen, b.breaker.State())
	assert.Equal(t, int32(3), device.dispatches.Load())
	assert.Equal(t, int64(5), b.Fallbacks())
}

func TestGPUSuccessPath(t *testing.T) {
	device := newFlakyDevice(0)
	b, _ := NewGPUBackend(device, pool.New(2))

	src := makeSource(t)
	out, err := b.Process(src, Options{Width: 4, Height: 4})

	assert.NoError(t, err)
	assert.NoError(t, out.Validate())
	assert.Equal(t, int64(0), b.Fallbacks())
	assert.Equal(t, circuit.StateClosed, b.breaker.State())
}

func TestGPURoundRobinStreams(t *testing.T) {
	device := newFlakyDevice(0)
	b, _ := NewGPUBackend(device, pool.New(4))

	src := makeSource(t)
	for i := 0; i < 8; i++ {
		_, err := b.Process(src, Options{Width: 4, Height: 4})
		assert.NoError(t, err)
	}

	// Quatro streams, oito submissões: duas por stream
	for s := 0; s < 4; s++ {
		assert.Equal(t, int32(2), device.perStream[s].Load(), "stream %d", s)
	}
}

func TestGPUMatchesCPUOutput(t *testing.T) {
	device := newFlakyDevice(0)
	gpu, _ := NewGPUBackend(device, pool.New(2))
	cpu := NewCPUBackend(pool.New(2))

	src := makeSource(t)
	opts := Options{Width: 4, Height: 4, Mirror: true}

	fromGPU, err := gpu.Process(src, opts)
	assert.NoError(t, err)
	fromCPU, err := cpu.Process(src, opts)
	assert.NoError(t, err)

	assert.Equal(t, fromCPU.Pixels, fromGPU.Pixels)
}

func TestDetectDeviceUnavailable(t *testing.T) {
	_, err := DetectDevice()
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestNewGPUBackendRequiresDevice(t *testing.T) {
	_, err := NewGPUBackend(nil, pool.New(2))
	assert.ErrorIs(t, err, ErrNoDevice)
}
