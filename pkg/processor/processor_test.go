package processor

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/T3-Labs/stream-balancer/pkg/config"
	"github.com/T3-Labs/stream-balancer/pkg/frame"
	"github.com/T3-Labs/stream-balancer/pkg/logger"
	"github.com/T3-Labs/stream-balancer/pkg/resolution"
	"github.com/T3-Labs/stream-balancer/pkg/transform"
)

func TestMain(m *testing.M) {
	logger.InitTestLogger()
	os.Exit(m.Run())
}

// deadDevice implementa transform.Device falhando todo despacho, para
// exercitar o rebaixamento GPU->CPU através do pipeline inteiro.
type deadDevice struct{}

func (deadDevice) Name() string     { return "dead" }
func (deadDevice) StreamCount() int { return 2 }
func (deadDevice) Close()           {}
func (deadDevice) Dispatch(stream int, src *frame.Frame, dst *frame.Frame, opts transform.Options) error {
	return errors.New("dispositivo indisponível")
}

func testConfig() *config.StreamConfig {
	cfg := config.Default()
	cfg.InputWidth = 640
	cfg.InputHeight = 480
	cfg.MaxQueueSize = 4
	return cfg
}

func makeInput(t *testing.T, seq uint64) *frame.Frame {
	t.Helper()
	f, err := frame.New(640, 480, 3)
	if err != nil {
		t.Fatalf("frame.New falhou: %v", err)
	}
	f.SequenceID = seq
	f.Timestamp = float64(seq) / 30.0
	for i := range f.Pixels {
		f.Pixels[i] = byte(i % 256)
	}
	return f
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	bad := testConfig()
	bad.TargetFPS = 0
	_, err = New(bad)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestSubmitRejectsInvalidFrame(t *testing.T) {
	p, err := New(testConfig())
	assert.NoError(t, err)
	defer p.Shutdown()

	assert.False(t, p.SubmitFrame(nil))

	torn := makeInput(t, 1)
	torn.Pixels = torn.Pixels[:8]
	assert.False(t, p.SubmitFrame(torn))
}

func TestBackpressure(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQueueSize = 2

	// Sem Initialize nenhum worker drena a fila de entrada
	p, err := New(cfg)
	assert.NoError(t, err)
	defer p.Shutdown()

	assert.True(t, p.SubmitFrame(makeInput(t, 1)))
	assert.True(t, p.SubmitFrame(makeInput(t, 2)))

	// Fila cheia: rejeição imediata, nunca bloqueio
	assert.False(t, p.SubmitFrame(makeInput(t, 3)))

	snap := p.GetMetrics()
	assert.Equal(t, uint64(1), snap.FramesDropped)
	assert.Equal(t, int64(1), p.InputStats().DroppedFrames)
}

func TestEndToEndShape(t *testing.T) {
	p, err := New(testConfig())
	assert.NoError(t, err)
	assert.NoError(t, p.Initialize())
	defer p.Shutdown()

	for seq := uint64(1); seq <= 4; seq++ {
		p.SubmitFrame(makeInput(t, seq))
	}

	var out *frame.Frame
	assert.Eventually(t, func() bool {
		out = p.GetProcessedFrame()
		return out != nil
	}, 3*time.Second, 10*time.Millisecond, "nenhum frame processado saiu do pipeline")

	// Partida fria: a rampa começa em 320x240 (25% do alvo 720p)
	assert.Equal(t, 320, out.Width)
	assert.Equal(t, 240, out.Height)
	assert.Equal(t, 3, out.Channels)
	assert.NoError(t, out.Validate())
	assert.Equal(t, 2, out.ScaleLevel)

	p.ReleaseFrame(out)

	snap := p.GetMetrics()
	assert.GreaterOrEqual(t, snap.FramesProcessed, uint64(1))
	assert.Equal(t, uint64(0), snap.TransformErrors)
}

func TestGPUFallbackEndToEnd(t *testing.T) {
	cfg := testConfig()
	cfg.EnableGPU = true

	p, err := New(cfg, WithDevice(deadDevice{}))
	assert.NoError(t, err)
	assert.NoError(t, p.Initialize())
	defer p.Shutdown()

	for seq := uint64(1); seq <= 4; seq++ {
		p.SubmitFrame(makeInput(t, seq))
	}

	var out *frame.Frame
	assert.Eventually(t, func() bool {
		out = p.GetProcessedFrame()
		return out != nil
	}, 3*time.Second, 10*time.Millisecond)

	// O dispositivo morto é invisível para o consumidor: o frame sai com
	// a forma correta pelo caminho de CPU e sem erro contabilizado
	assert.NoError(t, out.Validate())
	assert.Equal(t, 320, out.Width)
	assert.Equal(t, 240, out.Height)
	p.ReleaseFrame(out)

	assert.Equal(t, uint64(0), p.GetMetrics().TransformErrors)
}

func TestGPUUnavailableFallsBackToCPU(t *testing.T) {
	cfg := testConfig()
	cfg.EnableGPU = true

	// Sem dispositivo injetado a detecção falha e o backend vira CPU
	p, err := New(cfg)
	assert.NoError(t, err)
	assert.NoError(t, p.Initialize())
	defer p.Shutdown()

	assert.Equal(t, "cpu", p.backend.Name())
}

func TestInitializeTwice(t *testing.T) {
	p, err := New(testConfig())
	assert.NoError(t, err)
	assert.NoError(t, p.Initialize())
	defer p.Shutdown()

	assert.ErrorIs(t, p.Initialize(), ErrAlreadyInitialized)
}

func TestShutdownIdempotente(t *testing.T) {
	p, err := New(testConfig())
	assert.NoError(t, err)
	assert.NoError(t, p.Initialize())

	p.SubmitFrame(makeInput(t, 1))

	p.Shutdown()
	p.Shutdown()

	// Depois do encerramento nada mais entra nem sai
	assert.False(t, p.SubmitFrame(makeInput(t, 2)))
	assert.Nil(t, p.GetProcessedFrame())
	assert.ErrorIs(t, p.Initialize(), ErrShutDown)
}

func TestShutdownDrainsQueues(t *testing.T) {
	p, err := New(testConfig())
	assert.NoError(t, err)

	// Sem workers os frames ficam retidos na entrada
	p.SubmitFrame(makeInput(t, 1))
	p.SubmitFrame(makeInput(t, 2))

	p.Shutdown()

	assert.Equal(t, 0, p.input.Size())
	assert.Equal(t, 0, p.output.Size())
	assert.Equal(t, 0, p.pool.Len())
}

func TestUpdateConfig(t *testing.T) {
	p, err := New(testConfig())
	assert.NoError(t, err)
	defer p.Shutdown()

	assert.Error(t, p.UpdateConfig(nil))

	bad := testConfig()
	bad.MaxQueueSize = 0
	assert.ErrorIs(t, p.UpdateConfig(bad), config.ErrInvalidConfig)

	// Mudança de flag sem mudar o alvo não reinicia a rampa
	ctrlBefore := p.ctrl.Load()
	flags := testConfig()
	flags.Mirror = true
	assert.NoError(t, p.UpdateConfig(flags))
	assert.Same(t, ctrlBefore, p.ctrl.Load())

	// Mudança de alvo reinicia a rampa de startup
	retarget := testConfig()
	retarget.TargetWidth = 640
	retarget.TargetHeight = 480
	assert.NoError(t, p.UpdateConfig(retarget))
	assert.NotSame(t, ctrlBefore, p.ctrl.Load())
	assert.Equal(t, resolution.StateStartup, p.ctrl.Load().State())
}

func TestSequenceAssignedWhenMissing(t *testing.T) {
	p, err := New(testConfig())
	assert.NoError(t, err)
	defer p.Shutdown()

	f := makeInput(t, 0)
	assert.True(t, p.SubmitFrame(f))

	queued, ok := p.input.TryPop()
	assert.True(t, ok)
	assert.Equal(t, uint64(1), queued.SequenceID)
	p.pool.Release(queued)
}

func TestIDStable(t *testing.T) {
	p, err := New(testConfig())
	assert.NoError(t, err)
	defer p.Shutdown()

	assert.NotEmpty(t, p.ID())
	assert.Equal(t, p.ID(), p.ID())
}
