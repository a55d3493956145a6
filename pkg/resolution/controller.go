package resolution

import (
	"errors"
	"fmt"
	"sync"

	"github.com/T3-Labs/stream-balancer/pkg/logger"
)

type State int

const (
	StateStartup State = iota
	StateAdaptive
)

func (s State) String() string {
	switch s {
	case StateStartup:
		return "STARTUP"
	case StateAdaptive:
		return "ADAPTIVE"
	default:
		return "UNKNOWN"
	}
}

const (
	// Resolução mínima de partida fria
	minStartupWidth  = 320
	minStartupHeight = 240

	// Durante o startup a resolução cresce a cada bloco de frames
	// processados, se o tempo médio estiver abaixo do limiar
	startupGrowthInterval = 30
	startupGrowthFactor   = 1.5
	startupGrowThreshold  = 0.7

	// Ajuste do fator de pulo por frame durante o startup
	skipIncreaseThreshold = 1.5
	skipDecreaseThreshold = 0.8
	maxSkipFactor         = 4

	// Histerese de nível no estado adaptativo
	fpsHeadroomRatio = 1.2
	fpsPressureRatio = 0.8

	// Fator de suavização da média móvel exponencial
	emaAlpha = 0.1

	// Janela de estatísticas que precisa ser observada por completo antes
	// da transição para o estado adaptativo
	DefaultStatsWindow = 100

	initialScaleLevel = 2
)

var (
	ErrInvalidTarget = errors.New("dimensões ou fps alvo inválidos")
	ErrInvalidLadder = errors.New("escada de resoluções inválida")
)

// Directive é a tripla autoconsistente que o worker lê a cada frame. É
// copiada sob o mutex do controlador, nunca lida campo a campo.
type Directive struct {
	Width      int
	Height     int
	ScaleLevel int
}

// Controller mantém a máquina de estados STARTUP/ADAPTIVE que decide a
// resolução de processamento e o fator de pulo de frames. Escrita única
// (laço de métricas e worker), leitura guardada por mutex.
type Controller struct {
	mu sync.Mutex

	targetWidth  int
	targetHeight int
	targetFPS    float64
	frameTimeMs  float64
	ladder       []Dimensions
	statsWindow  uint64

	state          State
	currentWidth   int
	currentHeight  int
	scaleLevel     int
	skipFactor     int
	avgProcessing  float64
	framesSeen     uint64
	framesSinceAdj uint64
	windowSeen     bool
}

// NewController valida os alvos e constrói o controlador no estado STARTUP
// com resolução conservadora (25% do alvo, com piso de 320x240).
func NewController(targetWidth, targetHeight int, targetFPS float64, ladder []Dimensions) (*Controller, error) {
	if targetWidth <= 0 || targetHeight <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidTarget, targetWidth, targetHeight)
	}
	if targetFPS <= 0 || targetFPS > 1000 {
		return nil, fmt.Errorf("%w: fps %.2f", ErrInvalidTarget, targetFPS)
	}
	if ladder == nil {
		ladder = DefaultLadder()
	}
	if len(ladder) == 0 {
		return nil, ErrInvalidLadder
	}
	for i, d := range ladder {
		if d.Width <= 0 || d.Height <= 0 {
			return nil, fmt.Errorf("%w: nível %d com %dx%d", ErrInvalidLadder, i, d.Width, d.Height)
		}
		if i > 0 && (d.Width < ladder[i-1].Width || d.Height < ladder[i-1].Height) {
			return nil, fmt.Errorf("%w: níveis fora de ordem em %d", ErrInvalidLadder, i)
		}
	}

	c := &Controller{
		targetWidth:  targetWidth,
		targetHeight: targetHeight,
		targetFPS:    targetFPS,
		frameTimeMs:  1000.0 / targetFPS,
		ladder:       append([]Dimensions(nil), ladder...),
		statsWindow:  DefaultStatsWindow,
	}
	c.resetLocked()
	return c, nil
}

// SetStatsWindow ajusta o tamanho da janela de estatísticas exigida para a
// transição de startup. Usado nos testes com janelas menores.
func (c *Controller) SetStatsWindow(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > 0 {
		c.statsWindow = n
	}
}

func (c *Controller) resetLocked() {
	c.state = StateStartup
	c.currentWidth = max(minStartupWidth, c.targetWidth/4)
	c.currentHeight = max(minStartupHeight, c.targetHeight/4)
	if c.currentWidth > c.targetWidth {
		c.currentWidth = c.targetWidth
	}
	if c.currentHeight > c.targetHeight {
		c.currentHeight = c.targetHeight
	}
	c.scaleLevel = min(initialScaleLevel, len(c.ladder)-1)
	c.skipFactor = 1
	c.avgProcessing = 0
	c.framesSeen = 0
	c.framesSinceAdj = 0
	c.windowSeen = false
}

// Reset devolve o controlador ao estado de partida fria.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

// ShouldProcessFrame decide se o próximo frame deve ser processado. Durante
// o STARTUP o fator de pulo é ajustado pelo último tempo de processamento e
// apenas um a cada skipFactor frames passa; no ADAPTIVE todo frame passa,
// pois o estrangulamento passa a ser por resolução.
func (c *Controller) ShouldProcessFrame(lastProcessingMs float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateAdaptive {
		return true
	}

	c.framesSinceAdj++

	if lastProcessingMs > c.frameTimeMs*skipIncreaseThreshold {
		c.skipFactor = min(maxSkipFactor, c.skipFactor+1)
	} else if lastProcessingMs < c.frameTimeMs*skipDecreaseThreshold {
		c.skipFactor = max(1, c.skipFactor-1)
	}

	return c.framesSinceAdj%uint64(c.skipFactor) == 0
}

// RecordProcessingTime alimenta a média móvel exponencial e executa o
// degrau de crescimento do startup a cada bloco de frames processados.
func (c *Controller) RecordProcessingTime(processingMs float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.avgProcessing == 0 {
		c.avgProcessing = processingMs
	} else {
		c.avgProcessing = emaAlpha*processingMs + (1-emaAlpha)*c.avgProcessing
	}

	c.framesSeen++
	if c.framesSeen >= c.statsWindow {
		c.windowSeen = true
	}

	if c.state != StateStartup || c.framesSeen%startupGrowthInterval != 0 {
		c.maybeCompleteStartupLocked()
		return
	}

	if c.avgProcessing < c.frameTimeMs*startupGrowThreshold {
		newWidth := min(c.targetWidth, int(float64(c.currentWidth)*startupGrowthFactor))
		newHeight := min(c.targetHeight, int(float64(c.currentHeight)*startupGrowthFactor))

		if newWidth != c.currentWidth || newHeight != c.currentHeight {
			c.currentWidth = newWidth
			c.currentHeight = newHeight
			if logger.Log != nil {
				logger.Log.Infow("Rampa de startup avançou",
					"width", c.currentWidth,
					"height", c.currentHeight,
					"avg_processing_ms", c.avgProcessing,
					"frames_seen", c.framesSeen)
			}
		}
	}

	c.maybeCompleteStartupLocked()
}

func (c *Controller) maybeCompleteStartupLocked() {
	if c.state != StateStartup {
		return
	}
	if c.currentWidth >= c.targetWidth && c.windowSeen {
		c.state = StateAdaptive
		c.skipFactor = 1
		if logger.Log != nil {
			logger.Log.Infow("Startup concluído",
				"width", c.currentWidth,
				"height", c.currentHeight,
				"frames_seen", c.framesSeen,
				"avg_processing_ms", c.avgProcessing)
		}
	}
}

// Adapt executa o passo adaptativo alimentado pelo laço de métricas. Só tem
// efeito no estado ADAPTIVE: sobe um nível quando há folga de fps, desce um
// nível sob pressão.
func (c *Controller) Adapt(currentFPS float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAdaptive || currentFPS <= 0 {
		return
	}

	old := c.scaleLevel
	if currentFPS < c.targetFPS*fpsPressureRatio {
		c.scaleLevel = max(0, c.scaleLevel-1)
	} else if currentFPS > c.targetFPS*fpsHeadroomRatio {
		c.scaleLevel = min(len(c.ladder)-1, c.scaleLevel+1)
	}

	if c.scaleLevel != old && logger.Log != nil {
		logger.Log.Infow("Nível de escala ajustado",
			"old_level", old,
			"new_level", c.scaleLevel,
			"current_fps", currentFPS,
			"target_fps", c.targetFPS)
	}
}

// Directive retorna a tripla (largura, altura, nível) que vale para o
// próximo frame. Durante o STARTUP a resolução vem da rampa; no ADAPTIVE,
// da escada, sempre limitada às dimensões alvo.
func (c *Controller) Directive() Directive {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateStartup {
		return Directive{
			Width:      c.currentWidth,
			Height:     c.currentHeight,
			ScaleLevel: c.scaleLevel,
		}
	}

	d := c.ladder[c.scaleLevel]
	return Directive{
		Width:      min(d.Width, c.targetWidth),
		Height:     min(d.Height, c.targetHeight),
		ScaleLevel: c.scaleLevel,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) StartupComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateAdaptive
}

func (c *Controller) SkipFactor() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.skipFactor
}

func (c *Controller) ScaleLevel() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scaleLevel
}

func (c *Controller) AvgProcessingTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.avgProcessing
}

func (c *Controller) FramesSeen() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.framesSeen
}
