package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/T3-Labs/stream-balancer/pkg/frame"
)

func makeFrame(t *testing.T, seq uint64) *frame.Frame {
	t.Helper()
	f, err := frame.New(4, 4, 1)
	if err != nil {
		t.Fatalf("frame.New falhou: %v", err)
	}
	f.SequenceID = seq
	return f
}

func TestTryPushBounded(t *testing.T) {
	q := New(2)

	assert.True(t, q.TryPush(makeFrame(t, 1)))
	assert.True(t, q.TryPush(makeFrame(t, 2)))

	// Terceira inserção excede a capacidade: rejeitada com contagem
	assert.False(t, q.TryPush(makeFrame(t, 3)))

	stats := q.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, int64(1), stats.DroppedFrames)
	assert.Equal(t, int64(3), stats.TotalFrames)
}

func TestFIFOOrder(t *testing.T) {
	q := New(4)

	for seq := uint64(1); seq <= 3; seq++ {
		q.TryPush(makeFrame(t, seq))
	}

	for want := uint64(1); want <= 3; want++ {
		f, ok := q.PopBlocking(time.Second)
		if !ok {
			t.Fatalf("pop %d falhou", want)
		}
		if f.SequenceID != want {
			t.Errorf("ordem FIFO violada: esperado %d, obtido %d", want, f.SequenceID)
		}
	}
}

func TestPopBlockingTimeout(t *testing.T) {
	q := New(2)

	start := time.Now()
	f, ok := q.PopBlocking(50 * time.Millisecond)

	assert.False(t, ok)
	assert.Nil(t, f)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPopBlockingWokenByPush(t *testing.T) {
	q := New(2)

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.TryPush(makeFrame(t, 7))
	}()

	f, ok := q.PopBlocking(time.Second)
	assert.True(t, ok)
	assert.Equal(t, uint64(7), f.SequenceID)
}

func TestShutdownWakesWaiters(t *testing.T) {
	q := New(2)

	var wg sync.WaitGroup
	results := make([]bool, 3)

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, ok := q.PopBlocking(5 * time.Second)
			results[idx] = ok
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	q.Shutdown()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown não acordou todos os bloqueados")
	}

	for i, ok := range results {
		if ok {
			t.Errorf("waiter %d recebeu frame de fila vazia encerrada", i)
		}
	}
}

func TestShutdownDeliversResidual(t *testing.T) {
	q := New(4)

	q.TryPush(makeFrame(t, 1))
	q.TryPush(makeFrame(t, 2))
	q.Shutdown()

	// Frames residuais ainda saem após o shutdown
	f, ok := q.PopBlocking(100 * time.Millisecond)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), f.SequenceID)

	f, ok = q.PopBlocking(100 * time.Millisecond)
	assert.True(t, ok)
	assert.Equal(t, uint64(2), f.SequenceID)

	// Drenada: retorna imediatamente
	start := time.Now()
	_, ok = q.PopBlocking(5 * time.Second)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestTryPushAfterShutdown(t *testing.T) {
	q := New(2)
	q.Shutdown()

	assert.False(t, q.TryPush(makeFrame(t, 1)))
	// Rejeição por shutdown não conta como descarte por backpressure
	assert.Equal(t, int64(0), q.Stats().DroppedFrames)
}

func TestShutdownIdempotente(t *testing.T) {
	q := New(2)
	q.Shutdown()
	q.Shutdown()

	_, ok := q.PopBlocking(10 * time.Millisecond)
	assert.False(t, ok)
}

func TestDrain(t *testing.T) {
	q := New(4)

	for seq := uint64(1); seq <= 3; seq++ {
		q.TryPush(makeFrame(t, seq))
	}
	q.Shutdown()

	released := 0
	drained := q.Drain(func(f *frame.Frame) { released++ })

	assert.Equal(t, 3, drained)
	assert.Equal(t, 3, released)
	assert.Equal(t, 0, q.Size())
}
