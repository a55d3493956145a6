package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/shirou/gopsutil/v3/cpu"
)

// DefaultWindowSize é a capacidade da janela circular de tempos de
// processamento usada para a média móvel.
const DefaultWindowSize = 100

// Snapshot é a cópia por valor das estatísticas correntes, segura para
// leitura por qualquer thread.
type Snapshot struct {
	AvgProcessingTimeMs float64
	CurrentFPS          float64
	FramesProcessed     uint64
	FramesDropped       uint64
	FramesSkipped       uint64
	TransformErrors     uint64
	CurrentScaleLevel   int
	GPUUtilization      float64
	CPUUtilization      float64
}

// Collector mantém a janela circular de tempos de processamento e os
// contadores do pipeline. O registro por frame é barato (um lock curto ou um
// incremento atômico); a agregação pesada acontece apenas em Snapshot, no
// laço de métricas.
type Collector struct {
	mu      sync.Mutex
	samples []float64
	next    int
	count   int

	gpuUtilization float64
	cpuUtilization float64

	framesProcessed atomic.Uint64
	framesDropped   atomic.Uint64
	framesSkipped   atomic.Uint64
	transformErrors atomic.Uint64
	scaleLevel      atomic.Int64
}

func NewCollector(windowSize int) *Collector {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Collector{
		samples: make([]float64, windowSize),
	}
}

// Record adiciona um tempo de processamento (ms) à janela, sobrescrevendo a
// amostra mais antiga quando cheia.
func (c *Collector) Record(processingMs float64) {
	c.framesProcessed.Add(1)

	c.mu.Lock()
	c.samples[c.next] = processingMs
	c.next = (c.next + 1) % len(c.samples)
	if c.count < len(c.samples) {
		c.count++
	}
	c.mu.Unlock()
}

func (c *Collector) RecordDrop() {
	c.framesDropped.Add(1)
}

func (c *Collector) RecordSkip() {
	c.framesSkipped.Add(1)
}

func (c *Collector) RecordError() {
	c.transformErrors.Add(1)
}

func (c *Collector) SetScaleLevel(level int) {
	c.scaleLevel.Store(int64(level))
}

// SetUtilization registra as estimativas de utilização GPU/CPU amostradas
// pelo laço de métricas.
func (c *Collector) SetUtilization(gpu, cpuPct float64) {
	c.mu.Lock()
	c.gpuUtilization = gpu
	c.cpuUtilization = cpuPct
	c.mu.Unlock()
}

// WindowFull indica se a janela circular já deu uma volta completa.
func (c *Collector) WindowFull() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count == len(c.samples)
}

// WindowSize retorna a capacidade da janela.
func (c *Collector) WindowSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

// Snapshot calcula a média da janela corrente e deriva o FPS potencial
// (1000/avg). Slots ainda não preenchidos são ignorados.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	sum := 0.0
	for i := 0; i < c.count; i++ {
		sum += c.samples[i]
	}
	count := c.count
	gpu := c.gpuUtilization
	cpuPct := c.cpuUtilization
	c.mu.Unlock()

	avg := 0.0
	fps := 0.0
	if count > 0 {
		avg = sum / float64(count)
	}
	if avg > 0 {
		fps = 1000.0 / avg
	}

	return Snapshot{
		AvgProcessingTimeMs: avg,
		CurrentFPS:          fps,
		FramesProcessed:     c.framesProcessed.Load(),
		FramesDropped:       c.framesDropped.Load(),
		FramesSkipped:       c.framesSkipped.Load(),
		TransformErrors:     c.transformErrors.Load(),
		CurrentScaleLevel:   int(c.scaleLevel.Load()),
		GPUUtilization:      gpu,
		CPUUtilization:      cpuPct,
	}
}

// SampleCPU mede a utilização de CPU do sistema desde a última chamada.
// Retorna 0 se a plataforma não expõe a medição.
func SampleCPU() float64 {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return 0
	}
	return percents[0] / 100.0
}
