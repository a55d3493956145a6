package transform

import (
	"fmt"
	"sync"

	"github.com/T3-Labs/stream-balancer/pkg/frame"
)

// SoftwareDevice emula um dispositivo de aceleração executando os kernels em
// software, com um mutex por stream para reproduzir a serialização de um
// stream real. Serve para exercitar o caminho GPU completo (rodízio de
// streams, fallback, breaker) em máquinas sem acelerador.
type SoftwareDevice struct {
	streams []sync.Mutex
	closed  bool
	mu      sync.Mutex
}

func NewSoftwareDevice(streamCount int) *SoftwareDevice {
	if streamCount <= 0 {
		streamCount = DefaultStreamCount
	}
	return &SoftwareDevice{
		streams: make([]sync.Mutex, streamCount),
	}
}

func (d *SoftwareDevice) Name() string {
	return "software"
}

func (d *SoftwareDevice) StreamCount() int {
	return len(d.streams)
}

func (d *SoftwareDevice) Dispatch(stream int, src *frame.Frame, dst *frame.Frame, opts Options) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return fmt.Errorf("dispositivo fechado")
	}
	if stream < 0 || stream >= len(d.streams) {
		return fmt.Errorf("stream %d fora do intervalo [0,%d)", stream, len(d.streams))
	}

	d.streams[stream].Lock()
	defer d.streams[stream].Unlock()

	if dst.Width == src.Width && dst.Height == src.Height {
		copy(dst.Pixels, src.Pixels)
	} else {
		resizeBilinear(src, dst)
	}
	if opts.Mirror {
		mirrorHorizontal(dst)
	}
	if opts.BlurSigma > 0 {
		blurGaussian3x3(dst)
	}
	return nil
}

func (d *SoftwareDevice) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}
