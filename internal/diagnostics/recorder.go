package diagnostics

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	zstdpkg "github.com/klauspost/compress/zstd"

	"github.com/T3-Labs/stream-balancer/pkg/frame"
	"github.com/T3-Labs/stream-balancer/pkg/logger"
)

const headerSize = 24

// Recorder grava amostras esparsas de frames processados em disco,
// comprimidas com zstd, para inspeção offline. Nunca bloqueia o caminho
// quente: a amostragem é por contagem e erros de escrita são apenas logados.
type Recorder struct {
	dir      string
	interval uint64
	encoder  *zstdpkg.Encoder

	seen    atomic.Uint64
	written atomic.Uint64

	mu     sync.Mutex
	closed bool
}

func NewRecorder(dir string, sampleInterval, level int) (*Recorder, error) {
	if sampleInterval <= 0 {
		sampleInterval = 300
	}
	if level <= 0 {
		level = 3
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("criar diretório de diagnóstico: %w", err)
	}

	enc, err := zstdpkg.NewWriter(nil,
		zstdpkg.WithEncoderLevel(zstdpkg.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("zstd new writer: %w", err)
	}

	return &Recorder{
		dir:      dir,
		interval: uint64(sampleInterval),
		encoder:  enc,
	}, nil
}

// MaybeRecord grava o frame se ele cair na janela de amostragem. A posse do
// frame permanece com o chamador; os pixels são copiados para o arquivo.
func (r *Recorder) MaybeRecord(f *frame.Frame) {
	if r == nil || f == nil {
		return
	}
	n := r.seen.Add(1)
	if n%r.interval != 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	// Cabeçalho: largura, altura, canais (uint32) + sequence id (uint64) +
	// nível de escala (uint32)
	raw := make([]byte, headerSize+len(f.Pixels))
	binary.LittleEndian.PutUint32(raw[0:], uint32(f.Width))
	binary.LittleEndian.PutUint32(raw[4:], uint32(f.Height))
	binary.LittleEndian.PutUint32(raw[8:], uint32(f.Channels))
	binary.LittleEndian.PutUint64(raw[12:], f.SequenceID)
	binary.LittleEndian.PutUint32(raw[20:], uint32(f.ScaleLevel))
	copy(raw[headerSize:], f.Pixels)

	compressed := r.encoder.EncodeAll(raw, nil)

	name := fmt.Sprintf("frame_%08d_%dx%dx%d.rawz", f.SequenceID, f.Width, f.Height, f.Channels)
	path := filepath.Join(r.dir, name)

	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		if logger.Log != nil {
			logger.Log.Warnw("Falha ao gravar frame de diagnóstico",
				"path", path,
				"error", err)
		}
		return
	}
	r.written.Add(1)
}

// Written retorna quantos frames foram efetivamente gravados.
func (r *Recorder) Written() uint64 {
	if r == nil {
		return 0
	}
	return r.written.Load()
}

// Decode reverte um arquivo gravado pelo recorder de volta a um frame.
func Decode(data []byte) (*frame.Frame, error) {
	dec, err := zstdpkg.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	if len(raw) < headerSize {
		return nil, fmt.Errorf("arquivo de diagnóstico truncado: %d bytes", len(raw))
	}

	f := &frame.Frame{
		Width:      int(binary.LittleEndian.Uint32(raw[0:])),
		Height:     int(binary.LittleEndian.Uint32(raw[4:])),
		Channels:   int(binary.LittleEndian.Uint32(raw[8:])),
		SequenceID: binary.LittleEndian.Uint64(raw[12:]),
		ScaleLevel: int(binary.LittleEndian.Uint32(raw[20:])),
		Pixels:     raw[headerSize:],
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Close libera o encoder. Idempotente.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.encoder.Close()
}
