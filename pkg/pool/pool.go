package pool

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/T3-Labs/stream-balancer/pkg/frame"
)

// DefaultPerShapeCap limita quantos buffers ociosos o pool retém por forma
// observada. Acima disso o buffer é devolvido ao GC em vez de retido.
const DefaultPerShapeCap = 4

type shapeKey struct {
	width    int
	height   int
	channels int
}

// Pool recicla buffers de frame por forma exata (largura, altura, canais).
// Um buffer nunca é reutilizado para uma forma diferente da requisitada.
type Pool struct {
	mu          sync.Mutex
	idle        map[shapeKey][]*frame.Frame
	perShapeCap int

	hits      int64
	misses    int64
	discarded int64
}

func New(perShapeCap int) *Pool {
	if perShapeCap <= 0 {
		perShapeCap = DefaultPerShapeCap
	}
	return &Pool{
		idle:        make(map[shapeKey][]*frame.Frame),
		perShapeCap: perShapeCap,
	}
}

// Acquire retorna um frame com a forma exata requisitada, reaproveitando um
// buffer ocioso quando possível. A posse do frame passa ao chamador.
func (p *Pool) Acquire(width, height, channels int) (*frame.Frame, error) {
	if err := frame.CheckShape(width, height, channels); err != nil {
		return nil, fmt.Errorf("pool acquire: %w", err)
	}

	key := shapeKey{width, height, channels}

	p.mu.Lock()
	if stack := p.idle[key]; len(stack) > 0 {
		f := stack[len(stack)-1]
		p.idle[key] = stack[:len(stack)-1]
		p.mu.Unlock()
		atomic.AddInt64(&p.hits, 1)

		f.Timestamp = 0
		f.SequenceID = 0
		f.ScaleLevel = 0
		return f, nil
	}
	p.mu.Unlock()

	atomic.AddInt64(&p.misses, 1)
	return frame.New(width, height, channels)
}

// Release devolve a posse do frame ao pool. O chamador não pode tocar no
// frame depois desta chamada.
func (p *Pool) Release(f *frame.Frame) {
	if f == nil {
		return
	}
	// Buffer com forma corrompida não volta para o pool
	if f.Validate() != nil {
		atomic.AddInt64(&p.discarded, 1)
		return
	}

	key := shapeKey{f.Width, f.Height, f.Channels}

	p.mu.Lock()
	if len(p.idle[key]) >= p.perShapeCap {
		p.mu.Unlock()
		atomic.AddInt64(&p.discarded, 1)
		return
	}
	p.idle[key] = append(p.idle[key], f)
	p.mu.Unlock()
}

// Len retorna o total de frames ociosos retidos.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for _, stack := range p.idle {
		total += len(stack)
	}
	return total
}

// Clear descarta todos os buffers ociosos.
func (p *Pool) Clear() {
	p.mu.Lock()
	p.idle = make(map[shapeKey][]*frame.Frame)
	p.mu.Unlock()
}

type Stats struct {
	Idle      int
	Hits      int64
	Misses    int64
	Discarded int64
}

func (p *Pool) Stats() Stats {
	return Stats{
		Idle:      p.Len(),
		Hits:      atomic.LoadInt64(&p.hits),
		Misses:    atomic.LoadInt64(&p.misses),
		Discarded: atomic.LoadInt64(&p.discarded),
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("Pool: %d ociosos, hits: %d, misses: %d, descartados: %d",
		s.Idle, s.Hits, s.Misses, s.Discarded)
}
