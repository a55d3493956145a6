package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/T3-Labs/stream-balancer/internal/diagnostics"
	"github.com/T3-Labs/stream-balancer/pkg/config"
	"github.com/T3-Labs/stream-balancer/pkg/frame"
	"github.com/T3-Labs/stream-balancer/pkg/logger"
	"github.com/T3-Labs/stream-balancer/pkg/metrics"
	"github.com/T3-Labs/stream-balancer/pkg/pool"
	"github.com/T3-Labs/stream-balancer/pkg/queue"
	"github.com/T3-Labs/stream-balancer/pkg/resolution"
	"github.com/T3-Labs/stream-balancer/pkg/transform"
)

const (
	defaultPopTimeout      = 100 * time.Millisecond
	defaultMetricsInterval = time.Second
)

var (
	ErrAlreadyInitialized = errors.New("processador já inicializado")
	ErrShutDown           = errors.New("processador encerrado")
)

// Processor é o pipeline adaptativo completo: fila de entrada, worker de
// transformação, fila de saída e laço de métricas/adaptação. O produtor e o
// consumidor (threads do chamador) só tocam nas filas através de
// SubmitFrame e GetProcessedFrame.
type Processor struct {
	id  string
	cfg atomic.Pointer[config.StreamConfig]

	input  *queue.Queue
	output *queue.Queue
	pool   *pool.Pool
	ctrl   atomic.Pointer[resolution.Controller]

	collector *metrics.Collector
	backend   transform.Backend
	recorder  *diagnostics.Recorder

	// Opções de construção
	device          transform.Device
	ladder          []resolution.Dimensions
	popTimeout      time.Duration
	metricsInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	active        atomic.Bool
	shutdownOnce  sync.Once
	nextSequence  atomic.Uint64
	lastFallbacks int64
}

// New valida a configuração e monta o processador. Nenhuma goroutine é
// iniciada aqui; frames já podem ser submetidos e ficam na fila de entrada
// até Initialize.
func New(cfg *config.StreamConfig, opts ...Option) (*Processor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: configuração nula", config.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Processor{
		id:              uuid.NewString(),
		popTimeout:      defaultPopTimeout,
		metricsInterval: defaultMetricsInterval,
	}
	for _, opt := range opts {
		opt(p)
	}

	ctrl, err := resolution.NewController(cfg.TargetWidth, cfg.TargetHeight, cfg.TargetFPS, p.ladder)
	if err != nil {
		return nil, err
	}

	p.cfg.Store(cfg)
	p.collector = metrics.NewCollector(metrics.DefaultWindowSize)
	ctrl.SetStatsWindow(uint64(p.collector.WindowSize()))
	p.ctrl.Store(ctrl)
	p.pool = pool.New(cfg.MaxQueueSize)
	p.input = queue.New(cfg.MaxQueueSize)
	p.output = queue.New(cfg.MaxQueueSize)
	p.ctx, p.cancel = context.WithCancel(context.Background())

	return p, nil
}

// ID retorna o identificador único desta instância, usado como rótulo de
// logs e métricas.
func (p *Processor) ID() string {
	return p.id
}

// Initialize escolhe o backend de transformação, abre o recorder de
// diagnóstico e inicia as goroutines de processamento e de métricas.
// Retorna erro em falha de aquisição de recursos; não é tentado novamente.
func (p *Processor) Initialize() error {
	if p.active.Load() {
		return ErrAlreadyInitialized
	}
	select {
	case <-p.ctx.Done():
		return ErrShutDown
	default:
	}

	cfg := p.cfg.Load()

	backend, err := p.selectBackend(cfg)
	if err != nil {
		return err
	}
	p.backend = backend

	if cfg.Diagnostics.Enabled {
		rec, err := diagnostics.NewRecorder(cfg.Diagnostics.Dir,
			cfg.Diagnostics.SampleInterval, cfg.Diagnostics.CompressionLevel)
		if err != nil {
			p.backend.Close()
			return fmt.Errorf("initialize: %w", err)
		}
		p.recorder = rec
	}

	p.active.Store(true)

	workers := 1
	if cfg.EnableConcurrentProcessing && cfg.MaxThreads > 1 {
		// Ordenação FIFO deixa de ser garantida com múltiplos workers
		workers = cfg.MaxThreads
		if logger.Log != nil {
			logger.Log.Warnw("Processamento concorrente habilitado, ordem FIFO relaxada",
				"processor_id", p.id,
				"workers", workers)
		}
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.processingLoop(i)
	}

	p.wg.Add(1)
	go p.metricsLoop()

	if logger.Log != nil {
		logger.Log.Infow("Processador inicializado",
			"processor_id", p.id,
			"backend", p.backend.Name(),
			"target_width", cfg.TargetWidth,
			"target_height", cfg.TargetHeight,
			"target_fps", cfg.TargetFPS,
			"max_queue_size", cfg.MaxQueueSize,
			"workers", workers)
	}

	return nil
}

func (p *Processor) selectBackend(cfg *config.StreamConfig) (transform.Backend, error) {
	if !cfg.EnableGPU {
		return transform.NewCPUBackend(p.pool), nil
	}

	device := p.device
	if device == nil {
		detected, err := transform.DetectDevice()
		if err != nil {
			if logger.Log != nil {
				logger.Log.Warnw("GPU solicitada mas nenhum dispositivo encontrado, usando CPU",
					"processor_id", p.id,
					"error", err)
			}
			return transform.NewCPUBackend(p.pool), nil
		}
		device = detected
	}

	gpu, err := transform.NewGPUBackend(device, p.pool)
	if err != nil {
		return nil, fmt.Errorf("initialize gpu backend: %w", err)
	}
	return gpu, nil
}

// SubmitFrame copia o frame do produtor para um buffer do pool e o coloca na
// fila de entrada. Retorna false quando a fila está cheia (backpressure) ou
// o processador foi encerrado; o frame do chamador permanece com ele.
func (p *Processor) SubmitFrame(f *frame.Frame) bool {
	if f == nil || f.Validate() != nil {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	default:
	}

	copyFrame, err := p.pool.Acquire(f.Width, f.Height, f.Channels)
	if err != nil {
		if logger.Log != nil {
			logger.Log.Errorw("Falha ao adquirir buffer para frame de entrada",
				"processor_id", p.id,
				"error", err)
		}
		return false
	}
	if err := f.CopyInto(copyFrame); err != nil {
		p.pool.Release(copyFrame)
		return false
	}
	if copyFrame.SequenceID == 0 {
		copyFrame.SequenceID = p.nextSequence.Add(1)
	}

	if !p.input.TryPush(copyFrame) {
		p.pool.Release(copyFrame)
		p.collector.RecordDrop()
		metrics.FramesDropped.WithLabelValues(p.id, "input").Inc()
		return false
	}
	return true
}

// GetProcessedFrame retorna o próximo frame transformado, ou nil se nenhum
// está pronto. A posse do frame passa ao chamador, que deve devolvê-lo com
// ReleaseFrame quando terminar.
func (p *Processor) GetProcessedFrame() *frame.Frame {
	f, ok := p.output.TryPop()
	if !ok {
		return nil
	}
	return f
}

// ReleaseFrame devolve ao pool um frame obtido com GetProcessedFrame.
func (p *Processor) ReleaseFrame(f *frame.Frame) {
	p.pool.Release(f)
}

// GetMetrics retorna o snapshot corrente das estatísticas.
func (p *Processor) GetMetrics() metrics.Snapshot {
	snap := p.collector.Snapshot()
	snap.CurrentScaleLevel = p.ctrl.Load().ScaleLevel()
	return snap
}

// UpdateConfig substitui o snapshot de configuração atomicamente. Vale a
// partir do próximo frame; frames em trânsito mantêm a diretiva original.
// Mudança de alvo (dimensões ou fps) reinicia a rampa de startup.
func (p *Processor) UpdateConfig(cfg *config.StreamConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: configuração nula", config.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	old := p.cfg.Load()
	if cfg.TargetWidth != old.TargetWidth || cfg.TargetHeight != old.TargetHeight ||
		cfg.TargetFPS != old.TargetFPS {
		ctrl, err := resolution.NewController(cfg.TargetWidth, cfg.TargetHeight, cfg.TargetFPS, p.ladder)
		if err != nil {
			return err
		}
		ctrl.SetStatsWindow(uint64(p.collector.WindowSize()))
		p.ctrl.Store(ctrl)
		if logger.Log != nil {
			logger.Log.Infow("Alvo reconfigurado, rampa de startup reiniciada",
				"processor_id", p.id,
				"target_width", cfg.TargetWidth,
				"target_height", cfg.TargetHeight,
				"target_fps", cfg.TargetFPS)
		}
	}

	p.cfg.Store(cfg)
	return nil
}

// Shutdown encerra as goroutines, drena as filas de volta ao pool e libera
// o backend. Idempotente; bloqueia até tudo estar liberado.
func (p *Processor) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.active.Store(false)
		p.cancel()
		p.input.Shutdown()
		p.output.Shutdown()

		p.wg.Wait()

		drained := p.input.Drain(p.pool.Release)
		drained += p.output.Drain(p.pool.Release)
		p.pool.Clear()

		if p.backend != nil {
			p.backend.Close()
		}
		p.recorder.Close()

		if logger.Log != nil {
			logger.Log.Infow("Processador encerrado",
				"processor_id", p.id,
				"frames_drenados", drained,
				"frames_processados", p.collector.Snapshot().FramesProcessed)
		}
	})
}

func (p *Processor) processingLoop(workerID int) {
	defer p.wg.Done()

	lastProcessingMs := 0.0

	for p.active.Load() {
		f, ok := p.input.PopBlocking(p.popTimeout)
		if !ok {
			select {
			case <-p.ctx.Done():
				return
			default:
				continue
			}
		}

		ctrl := p.ctrl.Load()

		if !ctrl.ShouldProcessFrame(lastProcessingMs) {
			// Pulo deliberado da rampa de startup: não conta como
			// processado nem como descartado
			p.pool.Release(f)
			p.collector.RecordSkip()
			metrics.FramesSkipped.WithLabelValues(p.id).Inc()
			continue
		}

		cfg := p.cfg.Load()
		directive := ctrl.Directive()

		opts := transform.Options{
			Width:  directive.Width,
			Height: directive.Height,
			Mirror: cfg.Mirror,
		}
		// Suavização nos níveis altos da escada, ou quando configurada
		if cfg.Blur || directive.ScaleLevel >= 3 {
			opts.BlurSigma = 0.5
		}

		start := time.Now()
		out, err := p.backend.Process(f, opts)
		elapsedMs := float64(time.Since(start).Microseconds()) / 1000.0

		p.pool.Release(f)

		if err != nil {
			// Falha por frame é recuperada localmente: o frame é
			// descartado com contagem, o stream continua
			p.collector.RecordError()
			metrics.TransformErrors.WithLabelValues(p.id, p.backend.Name()).Inc()
			if logger.Log != nil {
				logger.Log.Warnw("Falha de transformação, frame descartado",
					"processor_id", p.id,
					"worker", workerID,
					"error", err)
			}
			continue
		}

		out.ScaleLevel = directive.ScaleLevel
		lastProcessingMs = elapsedMs

		ctrl.RecordProcessingTime(elapsedMs)
		p.collector.Record(elapsedMs)
		metrics.FramesProcessed.WithLabelValues(p.id).Inc()
		metrics.ProcessingTime.WithLabelValues(p.id).Observe(elapsedMs / 1000.0)

		if cfg.MaxProcessingTimeMs > 0 && elapsedMs > cfg.MaxProcessingTimeMs {
			if logger.Log != nil {
				logger.Log.Warnw("Frame excedeu o orçamento de processamento",
					"processor_id", p.id,
					"elapsed_ms", elapsedMs,
					"budget_ms", cfg.MaxProcessingTimeMs)
			}
		}

		p.recorder.MaybeRecord(out)

		if !p.output.TryPush(out) {
			p.pool.Release(out)
			p.collector.RecordDrop()
			metrics.FramesDropped.WithLabelValues(p.id, "output").Inc()
		}
	}
}

func (p *Processor) metricsLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.adaptationStep()
		}
	}
}

func (p *Processor) adaptationStep() {
	snap := p.collector.Snapshot()
	ctrl := p.ctrl.Load()

	ctrl.Adapt(snap.CurrentFPS)
	p.collector.SetScaleLevel(ctrl.ScaleLevel())

	gpuUtil := 0.0
	if gpu, ok := p.backend.(*transform.GPUBackend); ok {
		gpuUtil = gpu.Utilization()
		total := gpu.Fallbacks()
		if delta := total - p.lastFallbacks; delta > 0 {
			metrics.GPUFallbacks.WithLabelValues(p.id).Add(float64(delta))
			p.lastFallbacks = total
		}
	}
	cpuUtil := metrics.SampleCPU()
	p.collector.SetUtilization(gpuUtil, cpuUtil)

	metrics.CurrentScaleLevel.WithLabelValues(p.id).Set(float64(ctrl.ScaleLevel()))
	metrics.CurrentFPS.WithLabelValues(p.id).Set(snap.CurrentFPS)
	metrics.QueueSize.WithLabelValues(p.id, "input").Set(float64(p.input.Size()))
	metrics.QueueSize.WithLabelValues(p.id, "output").Set(float64(p.output.Size()))
	metrics.GPUUtilization.WithLabelValues(p.id).Set(gpuUtil)
	metrics.CPUUtilization.WithLabelValues(p.id).Set(cpuUtil)
}

// InputStats e OutputStats expõem os contadores das filas para inspeção.
func (p *Processor) InputStats() queue.Stats {
	return p.input.Stats()
}

func (p *Processor) OutputStats() queue.Stats {
	return p.output.Stats()
}

// PoolStats expõe os contadores do pool de memória.
func (p *Processor) PoolStats() pool.Stats {
	return p.pool.Stats()
}
