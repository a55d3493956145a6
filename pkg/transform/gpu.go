package transform

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/T3-Labs/stream-balancer/pkg/circuit"
	"github.com/T3-Labs/stream-balancer/pkg/frame"
	"github.com/T3-Labs/stream-balancer/pkg/logger"
	"github.com/T3-Labs/stream-balancer/pkg/pool"
)

// DefaultStreamCount é o número de streams de execução do dispositivo usados
// em rodízio para submissão de kernels.
const DefaultStreamCount = 4

var ErrNoDevice = errors.New("nenhum dispositivo GPU disponível")

// Device abstrai um dispositivo de aceleração. A implementação real faria a
// cópia para a memória do dispositivo, o despacho do kernel e a cópia de
// volta; a interface existe para que os testes possam injetar dispositivos
// que falham de forma controlada.
type Device interface {
	// Name identifica o dispositivo nos logs.
	Name() string

	// StreamCount retorna quantos streams de execução o dispositivo expõe.
	StreamCount() int

	// Dispatch executa resize/mirror/blur no stream indicado, escrevendo o
	// resultado em dst (já alocado com a forma de destino). Bloqueia até a
	// conclusão do stream.
	Dispatch(stream int, src *frame.Frame, dst *frame.Frame, opts Options) error

	// Close libera o contexto do dispositivo.
	Close()
}

// DetectDevice procura um dispositivo de aceleração utilizável. Nesta
// plataforma nenhum runtime de GPU é vinculado, então a detecção falha e o
// chamador fica com o backend de CPU.
func DetectDevice() (Device, error) {
	return nil, ErrNoDevice
}

// GPUBackend submete transformações a um Device em rodízio de streams e cai
// para o caminho de CPU quando o dispositivo falha. Falhas repetidas abrem o
// circuit breaker e o dispositivo deixa de ser sondado até o backoff
// expirar; para o consumidor a troca de caminho é invisível.
type GPUBackend struct {
	device   Device
	fallback *CPUBackend
	breaker  *circuit.Breaker
	pool     *pool.Pool

	nextStream atomic.Uint64
	fallbacks  atomic.Int64

	mu        sync.Mutex
	busyNanos int64
	sinceUtil time.Time
}

func NewGPUBackend(device Device, p *pool.Pool) (*GPUBackend, error) {
	if device == nil {
		return nil, ErrNoDevice
	}
	if p == nil {
		p = pool.New(0)
	}
	return &GPUBackend{
		device:    device,
		fallback:  NewCPUBackend(p),
		breaker:   circuit.NewBreaker("gpu-"+device.Name(), 3, 5*time.Second),
		pool:      p,
		sinceUtil: time.Now(),
	}, nil
}

func (b *GPUBackend) Name() string {
	return "gpu"
}

func (b *GPUBackend) Close() {
	b.device.Close()
}

// Fallbacks retorna quantos frames foram rebaixados para o caminho de CPU.
func (b *GPUBackend) Fallbacks() int64 {
	return b.fallbacks.Load()
}

func (b *GPUBackend) Process(src *frame.Frame, opts Options) (*frame.Frame, error) {
	if !b.breaker.Allow() {
		b.fallbacks.Add(1)
		return b.fallback.Process(src, opts)
	}

	if err := src.Validate(); err != nil {
		return nil, fmt.Errorf("gpu process: frame de origem inválido: %w", err)
	}
	if err := frame.CheckDimensions(opts.Width, opts.Height); err != nil {
		return nil, fmt.Errorf("gpu process: %w", err)
	}

	dst, err := b.pool.Acquire(opts.Width, opts.Height, src.Channels)
	if err != nil {
		return nil, fmt.Errorf("gpu process: %w", err)
	}

	streams := b.device.StreamCount()
	if streams <= 0 {
		streams = 1
	}
	stream := int(b.nextStream.Add(1)-1) % streams

	start := time.Now()
	err = b.device.Dispatch(stream, src, dst, opts)
	elapsed := time.Since(start)

	if err != nil {
		b.breaker.RecordFailure()
		b.fallbacks.Add(1)
		b.pool.Release(dst)

		if logger.Log != nil {
			logger.Log.Warnw("Despacho GPU falhou, rebaixando para CPU",
				"device", b.device.Name(),
				"stream", stream,
				"error", err)
		}
		return b.fallback.Process(src, opts)
	}

	b.breaker.RecordSuccess()

	dst.Timestamp = src.Timestamp
	dst.SequenceID = src.SequenceID
	dst.ScaleLevel = src.ScaleLevel

	b.mu.Lock()
	b.busyNanos += elapsed.Nanoseconds()
	b.mu.Unlock()

	return dst, nil
}

// Utilization estima a fração de tempo que o dispositivo passou ocupado
// desde a última amostragem e zera o acumulador.
func (b *GPUBackend) Utilization() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := time.Since(b.sinceUtil)
	if elapsed <= 0 {
		return 0
	}

	util := float64(b.busyNanos) / float64(elapsed.Nanoseconds())
	if util > 1 {
		util = 1
	}

	b.busyNanos = 0
	b.sinceUtil = time.Now()
	return util
}
