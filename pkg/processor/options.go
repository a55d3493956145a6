package processor

import (
	"time"

	"github.com/T3-Labs/stream-balancer/pkg/resolution"
	"github.com/T3-Labs/stream-balancer/pkg/transform"
)

type Option func(*Processor)

// WithDevice injeta um dispositivo de aceleração explícito em vez da
// detecção automática. Usado nos testes e no modo de emulação por software.
func WithDevice(device transform.Device) Option {
	return func(p *Processor) {
		p.device = device
	}
}

// WithLadder substitui a escada de resoluções padrão.
func WithLadder(ladder []resolution.Dimensions) Option {
	return func(p *Processor) {
		p.ladder = ladder
	}
}

// WithPopTimeout ajusta o timeout das esperas bloqueantes nas filas. Todas
// as goroutines observam o shutdown dentro de um intervalo deste timeout.
func WithPopTimeout(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.popTimeout = d
		}
	}
}

// WithMetricsInterval ajusta a cadência do laço de métricas/adaptação.
func WithMetricsInterval(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.metricsInterval = d
		}
	}
}
