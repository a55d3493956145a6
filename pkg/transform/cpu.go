package transform

import (
	"fmt"

	"github.com/T3-Labs/stream-balancer/pkg/frame"
	"github.com/T3-Labs/stream-balancer/pkg/pool"
)

// CPUBackend executa as transformações em software puro: redimensionamento
// bilinear, espelhamento horizontal e suavização gaussiana 3x3.
type CPUBackend struct {
	pool *pool.Pool
}

func NewCPUBackend(p *pool.Pool) *CPUBackend {
	if p == nil {
		p = pool.New(0)
	}
	return &CPUBackend{pool: p}
}

func (b *CPUBackend) Name() string {
	return "cpu"
}

func (b *CPUBackend) Close() {}

func (b *CPUBackend) Process(src *frame.Frame, opts Options) (*frame.Frame, error) {
	if err := src.Validate(); err != nil {
		return nil, fmt.Errorf("cpu process: frame de origem inválido: %w", err)
	}
	if err := frame.CheckDimensions(opts.Width, opts.Height); err != nil {
		return nil, fmt.Errorf("cpu process: %w", err)
	}

	dst, err := b.pool.Acquire(opts.Width, opts.Height, src.Channels)
	if err != nil {
		return nil, fmt.Errorf("cpu process: %w", err)
	}

	dst.Timestamp = src.Timestamp
	dst.SequenceID = src.SequenceID
	dst.ScaleLevel = src.ScaleLevel

	if opts.Width == src.Width && opts.Height == src.Height {
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

	return dst, nil
}

// resizeBilinear faz a interpolação bilinear clássica: cada pixel de destino
// é a média ponderada dos quatro vizinhos de origem, com os pesos dados pela
// parte fracionária da coordenada mapeada. O mapeamento alinha os cantos, de
// modo que coordenadas exatamente sobre pixels de origem reproduzem o valor
// original.
func resizeBilinear(src, dst *frame.Frame) {
	sw, sh, ch := src.Width, src.Height, src.Channels
	dw, dh := dst.Width, dst.Height

	var xRatio, yRatio float64
	if dw > 1 {
		xRatio = float64(sw-1) / float64(dw-1)
	}
	if dh > 1 {
		yRatio = float64(sh-1) / float64(dh-1)
	}

	for y := 0; y < dh; y++ {
		sy := float64(y) * yRatio
		y0 := int(sy)
		y1 := y0 + 1
		if y1 > sh-1 {
			y1 = sh - 1
		}
		fy := sy - float64(y0)

		for x := 0; x < dw; x++ {
			sx := float64(x) * xRatio
			x0 := int(sx)
			x1 := x0 + 1
			if x1 > sw-1 {
				x1 = sw - 1
			}
			fx := sx - float64(x0)

			i00 := (y0*sw + x0) * ch
			i01 := (y0*sw + x1) * ch
			i10 := (y1*sw + x0) * ch
			i11 := (y1*sw + x1) * ch
			di := (y*dw + x) * ch

			for c := 0; c < ch; c++ {
				top := (1-fx)*float64(src.Pixels[i00+c]) + fx*float64(src.Pixels[i01+c])
				bottom := (1-fx)*float64(src.Pixels[i10+c]) + fx*float64(src.Pixels[i11+c])
				dst.Pixels[di+c] = uint8((1-fy)*top + fy*bottom + 0.5)
			}
		}
	}
}

// mirrorHorizontal espelha cada linha in-place.
func mirrorHorizontal(f *frame.Frame) {
	w, h, ch := f.Width, f.Height, f.Channels

	for y := 0; y < h; y++ {
		row := f.Pixels[y*w*ch : (y+1)*w*ch]
		for x := 0; x < w/2; x++ {
			left := x * ch
			right := (w - 1 - x) * ch
			for c := 0; c < ch; c++ {
				row[left+c], row[right+c] = row[right+c], row[left+c]
			}
		}
	}
}

// blurGaussian3x3 aplica o kernel gaussiano 3x3 (1 2 1; 2 4 2; 1 2 1)/16 com
// as bordas fixadas no pixel mais próximo.
func blurGaussian3x3(f *frame.Frame) {
	w, h, ch := f.Width, f.Height, f.Channels
	if w < 2 || h < 2 {
		return
	}

	src := make([]byte, len(f.Pixels))
	copy(src, f.Pixels)

	kernel := [3][3]int{
		{1, 2, 1},
		{2, 4, 2},
		{1, 2, 1},
	}

	clamp := func(v, lo, hi int) int {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < ch; c++ {
				sum := 0
				for ky := -1; ky <= 1; ky++ {
					for kx := -1; kx <= 1; kx++ {
						px := clamp(x+kx, 0, w-1)
						py := clamp(y+ky, 0, h-1)
						sum += kernel[ky+1][kx+1] * int(src[(py*w+px)*ch+c])
					}
				}
				f.Pixels[(y*w+x)*ch+c] = uint8((sum + 8) / 16)
			}
		}
	}
}
