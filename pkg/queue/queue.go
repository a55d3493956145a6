package queue

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/T3-Labs/stream-balancer/pkg/frame"
)

// Queue é uma fila FIFO limitada para transferência de frames entre
// estágios. Push é sempre não-bloqueante; pop bloqueia com timeout para que
// o shutdown seja observável mesmo com a fila vazia.
type Queue struct {
	frames   chan *frame.Frame
	done     chan struct{}
	shutOnce sync.Once

	droppedFrames int64
	totalFrames   int64
}

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		frames: make(chan *frame.Frame, capacity),
		done:   make(chan struct{}),
	}
}

// TryPush insere o frame se houver espaço. Retorna false imediatamente se a
// fila está cheia ou encerrada; nesse caso a posse do frame permanece com o
// chamador, que deve devolvê-lo ao pool.
func (q *Queue) TryPush(f *frame.Frame) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	atomic.AddInt64(&q.totalFrames, 1)

	select {
	case q.frames <- f:
		return true
	default:
		atomic.AddInt64(&q.droppedFrames, 1)
		return false
	}
}

// PopBlocking espera até haver um frame, o timeout expirar ou a fila ser
// encerrada. Após o shutdown, frames residuais ainda são entregues até a
// fila drenar; depois disso retorna (nil, false) imediatamente.
func (q *Queue) PopBlocking(timeout time.Duration) (*frame.Frame, bool) {
	// Caminho rápido: item já disponível
	select {
	case f := <-q.frames:
		return f, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-q.frames:
		return f, true
	case <-q.done:
		// Drena o residual sem bloquear
		select {
		case f := <-q.frames:
			return f, true
		default:
			return nil, false
		}
	case <-timer.C:
		return nil, false
	}
}

// TryPop remove um frame sem bloquear.
func (q *Queue) TryPop() (*frame.Frame, bool) {
	select {
	case f := <-q.frames:
		return f, true
	default:
		return nil, false
	}
}

// Shutdown acorda todos os bloqueados em PopBlocking. Idempotente. Os frames
// residuais devem ser recolhidos com Drain.
func (q *Queue) Shutdown() {
	q.shutOnce.Do(func() {
		close(q.done)
	})
}

// Drain remove todos os frames residuais e entrega cada um ao release,
// tipicamente o Release do pool de memória.
func (q *Queue) Drain(release func(*frame.Frame)) int {
	drained := 0
	for {
		select {
		case f := <-q.frames:
			if release != nil {
				release(f)
			}
			drained++
		default:
			return drained
		}
	}
}

func (q *Queue) Size() int {
	return len(q.frames)
}

func (q *Queue) Capacity() int {
	return cap(q.frames)
}

type Stats struct {
	Size          int
	Capacity      int
	DroppedFrames int64
	TotalFrames   int64
	DropRate      float64
}

func (q *Queue) Stats() Stats {
	dropped := atomic.LoadInt64(&q.droppedFrames)
	total := atomic.LoadInt64(&q.totalFrames)

	dropRate := float64(0)
	if total > 0 {
		dropRate = float64(dropped) / float64(total) * 100
	}

	return Stats{
		Size:          q.Size(),
		Capacity:      q.Capacity(),
		DroppedFrames: dropped,
		TotalFrames:   total,
		DropRate:      dropRate,
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("Fila: %d/%d, Total: %d, Descartados: %d (%.2f%%)",
		s.Size, s.Capacity, s.TotalFrames, s.DroppedFrames, s.DropRate)
}
