package frame

import (
	"errors"
	"fmt"
)

// Limites de segurança para dimensões de frame. Dimensões acima desses
// valores indicam corrupção de dados ou requisição malformada.
const (
	MaxDimension = 32767
	MaxPixelArea = 100_000_000 // 100MP

	MinChannels = 1
	MaxChannels = 4
)

var (
	ErrInvalidDimensions = errors.New("dimensões de frame inválidas")
	ErrInvalidChannels   = errors.New("número de canais inválido")
	ErrShapeMismatch     = errors.New("buffer de pixels não corresponde às dimensões")
)

// Frame é um buffer de pixels com posse exclusiva: apenas o estágio que o
// detém no momento (produtor, fila, worker ou consumidor) pode tocá-lo.
type Frame struct {
	Width      int
	Height     int
	Channels   int
	Pixels     []byte
	Timestamp  float64
	SequenceID uint64
	ScaleLevel int
}

// CheckDimensions valida uma requisição de dimensões antes de qualquer
// alocação ou transformação.
func CheckDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if width > MaxDimension || height > MaxDimension {
		return fmt.Errorf("%w: %dx%d excede o limite de %d por eixo", ErrInvalidDimensions, width, height, MaxDimension)
	}
	if width*height > MaxPixelArea {
		return fmt.Errorf("%w: área %d excede o limite de %d pixels", ErrInvalidDimensions, width*height, MaxPixelArea)
	}
	return nil
}

// CheckShape valida a tripla completa (dimensões + canais).
func CheckShape(width, height, channels int) error {
	if err := CheckDimensions(width, height); err != nil {
		return err
	}
	if channels < MinChannels || channels > MaxChannels {
		return fmt.Errorf("%w: %d", ErrInvalidChannels, channels)
	}
	return nil
}

// New aloca um frame novo com o buffer de pixels zerado.
func New(width, height, channels int) (*Frame, error) {
	if err := CheckShape(width, height, channels); err != nil {
		return nil, err
	}
	return &Frame{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pixels:   make([]byte, width*height*channels),
	}, nil
}

// Size retorna o tamanho esperado do buffer de pixels em bytes.
func (f *Frame) Size() int {
	return f.Width * f.Height * f.Channels
}

// Validate verifica o invariante de forma: len(Pixels) == W*H*C.
func (f *Frame) Validate() error {
	if err := CheckShape(f.Width, f.Height, f.Channels); err != nil {
		return err
	}
	if len(f.Pixels) != f.Size() {
		return fmt.Errorf("%w: %d bytes para %dx%dx%d", ErrShapeMismatch, len(f.Pixels), f.Width, f.Height, f.Channels)
	}
	return nil
}

// CopyInto copia os pixels e metadados de f para dst. As formas devem ser
// idênticas; o frame de destino mantém sua posse.
func (f *Frame) CopyInto(dst *Frame) error {
	if dst.Width != f.Width || dst.Height != f.Height || dst.Channels != f.Channels {
		return fmt.Errorf("%w: origem %dx%dx%d, destino %dx%dx%d",
			ErrShapeMismatch, f.Width, f.Height, f.Channels, dst.Width, dst.Height, dst.Channels)
	}
	copy(dst.Pixels, f.Pixels)
	dst.Timestamp = f.Timestamp
	dst.SequenceID = f.SequenceID
	dst.ScaleLevel = f.ScaleLevel
	return nil
}
