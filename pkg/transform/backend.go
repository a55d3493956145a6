package transform

import (
	"github.com/T3-Labs/stream-balancer/pkg/frame"
)

// Options descreve a transformação pedida para um único frame.
type Options struct {
	Width     int
	Height    int
	Mirror    bool
	BlurSigma float64
}

// Backend é o caminho concreto de execução da transformação de pixels. A
// implementação é escolhida uma única vez na inicialização; a ausência de um
// dispositivo utilizável é simplesmente o backend de CPU.
type Backend interface {
	// Name identifica o backend nos logs e nas métricas.
	Name() string

	// Process redimensiona (e opcionalmente espelha/suaviza) o frame de
	// origem para as dimensões pedidas. O frame de saída vem do pool do
	// backend e sua posse passa ao chamador; a posse do frame de origem
	// permanece com o chamador.
	Process(src *frame.Frame, opts Options) (*frame.Frame, error)

	// Close libera recursos do backend. Idempotente.
	Close()
}
