package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/T3-Labs/stream-balancer/pkg/frame"
	"github.com/T3-Labs/stream-balancer/pkg/pool"
)

func TestResizeBilinearCorners(t *testing.T) {
	// Fonte 2x2 de um canal: [[0,255],[255,0]]
	src, _ := frame.New(2, 2, 1)
	src.Pixels[0] = 0
	src.Pixels[1] = 255
	src.Pixels[2] = 255
	src.Pixels[3] = 0

	b := NewCPUBackend(pool.New(2))
	out, err := b.Process(src, Options{Width: 4, Height: 4})
	assert.NoError(t, err)
	assert.NoError(t, out.Validate())

	// Os quatro cantos caem exatamente sobre pixels de origem e devem
	// reproduzi-los sem alteração
	assert.Equal(t, uint8(0), out.Pixels[0*4+0], "canto superior esquerdo")
	assert.Equal(t, uint8(255), out.Pixels[0*4+3], "canto superior direito")
	assert.Equal(t, uint8(255), out.Pixels[3*4+0], "canto inferior esquerdo")
	assert.Equal(t, uint8(0), out.Pixels[3*4+3], "canto inferior direito")

	// Pixels interiores são misturas ponderadas, não cópias de um canto
	for y := 1; y < 3; y++ {
		for x := 1; x < 3; x++ {
			v := out.Pixels[y*4+x]
			if v == 0 || v == 255 {
				t.Errorf("pixel interior (%d,%d)=%d não parece interpolado", x, y, v)
			}
		}
	}
}

func TestResizeDownscale(t *testing.T) {
	src, _ := frame.New(8, 8, 3)
	for i := range src.Pixels {
		src.Pixels[i] = byte(i % 251)
	}

	b := NewCPUBackend(pool.New(2))
	out, err := b.Process(src, Options{Width: 4, Height: 4})

	assert.NoError(t, err)
	assert.Equal(t, 4, out.Width)
	assert.Equal(t, 4, out.Height)
	assert.Equal(t, 3, out.Channels)
	assert.Equal(t, 4*4*3, len(out.Pixels))
}

func TestProcessSameSizeCopies(t *testing.T) {
	src, _ := frame.New(6, 6, 1)
	for i := range src.Pixels {
		src.Pixels[i] = byte(i)
	}

	b := NewCPUBackend(pool.New(2))
	out, err := b.Process(src, Options{Width: 6, Height: 6})

	assert.NoError(t, err)
	assert.Equal(t, src.Pixels, out.Pixels)
}

func TestProcessPreservesMetadata(t *testing.T) {
	src, _ := frame.New(8, 8, 1)
	src.Timestamp = 12.5
	src.SequenceID = 99

	b := NewCPUBackend(pool.New(2))
	out, err := b.Process(src, Options{Width: 4, Height: 4})

	assert.NoError(t, err)
	assert.Equal(t, 12.5, out.Timestamp)
	assert.Equal(t, uint64(99), out.SequenceID)
}

func TestProcessRejectsBadDimensions(t *testing.T) {
	src, _ := frame.New(8, 8, 1)
	b := NewCPUBackend(pool.New(2))

	_, err := b.Process(src, Options{Width: 0, Height: 4})
	assert.Error(t, err)

	_, err = b.Process(src, Options{Width: 40000, Height: 4})
	assert.Error(t, err)

	_, err = b.Process(src, Options{Width: 10001, Height: 10001})
	assert.Error(t, err)
}

func TestProcessRejectsTornSource(t *testing.T) {
	src, _ := frame.New(8, 8, 1)
	src.Pixels = src.Pixels[:16]

	b := NewCPUBackend(pool.New(2))
	_, err := b.Process(src, Options{Width: 4, Height: 4})
	assert.Error(t, err)
}

func TestMirrorHorizontal(t *testing.T) {
	src, _ := frame.New(4, 1, 1)
	src.Pixels = []byte{10, 20, 30, 40}

	b := NewCPUBackend(pool.New(2))
	out, err := b.Process(src, Options{Width: 4, Height: 1, Mirror: true})

	assert.NoError(t, err)
	assert.Equal(t, []byte{40, 30, 20, 10}, out.Pixels)
}

func TestBlurKeepsShapeAndRange(t *testing.T) {
	src, _ := frame.New(8, 8, 1)
	// Impulso central
	src.Pixels[8*4+4] = 255

	b := NewCPUBackend(pool.New(2))
	out, err := b.Process(src, Options{Width: 8, Height: 8, BlurSigma: 0.5})

	assert.NoError(t, err)
	assert.NoError(t, out.Validate())
	// O impulso foi espalhado para os vizinhos
	assert.Less(t, out.Pixels[8*4+4], uint8(255))
	assert.Greater(t, out.Pixels[8*4+5], uint8(0))
}
