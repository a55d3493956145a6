package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/T3-Labs/stream-balancer/pkg/frame"
)

var ErrInvalidConfig = errors.New("configuração inválida")

type DiagnosticsConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Dir              string `mapstructure:"dir"`
	SampleInterval   int    `mapstructure:"sample_interval"`
	CompressionLevel int    `mapstructure:"compression_level"`
}

// StreamConfig é o snapshot imutável de configuração do processador. Nunca é
// mutado in-place: uma reconfiguração substitui o snapshot inteiro e vale a
// partir do próximo frame.
type StreamConfig struct {
	InputWidth   int     `mapstructure:"input_width"`
	InputHeight  int     `mapstructure:"input_height"`
	TargetWidth  int     `mapstructure:"target_width"`
	TargetHeight int     `mapstructure:"target_height"`
	TargetFPS    float64 `mapstructure:"target_fps"`

	MaxQueueSize        int     `mapstructure:"max_queue_size"`
	MaxProcessingTimeMs float64 `mapstructure:"max_processing_time_ms"`

	EnableGPU                  bool `mapstructure:"enable_gpu"`
	EnableConcurrentProcessing bool `mapstructure:"enable_concurrent_processing"`
	MaxThreads                 int  `mapstructure:"max_threads"`

	Mirror bool `mapstructure:"mirror"`
	Blur   bool `mapstructure:"blur"`

	MetricsAddr string            `mapstructure:"metrics_addr"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
}

// Default retorna a configuração de referência: 720p a 30fps, fila de 10,
// processamento single-thread em CPU.
func Default() *StreamConfig {
	return &StreamConfig{
		InputWidth:          1280,
		InputHeight:         720,
		TargetWidth:         1280,
		TargetHeight:        720,
		TargetFPS:           30,
		MaxQueueSize:        10,
		MaxProcessingTimeMs: 100,
		MaxThreads:          1,
		MetricsAddr:         ":9090",
		Diagnostics: DiagnosticsConfig{
			SampleInterval:   300,
			CompressionLevel: 3,
		},
	}
}

// GetFrameInterval calcula o intervalo entre frames com base no TargetFPS.
func (c *StreamConfig) GetFrameInterval() time.Duration {
	if c.TargetFPS <= 0 {
		return time.Second / 30
	}
	return time.Duration(float64(time.Second) / c.TargetFPS)
}

// TargetFrameTimeMs é o orçamento de tempo por frame em milissegundos.
func (c *StreamConfig) TargetFrameTimeMs() float64 {
	if c.TargetFPS <= 0 {
		return 0
	}
	return 1000.0 / c.TargetFPS
}

// Validate rejeita a configuração antes de qualquer thread iniciar. Erros
// desta classe são fatais: não há recuperação em tempo de execução.
func (c *StreamConfig) Validate() error {
	if err := frame.CheckDimensions(c.InputWidth, c.InputHeight); err != nil {
		return fmt.Errorf("%w: dimensões de entrada: %v", ErrInvalidConfig, err)
	}
	if err := frame.CheckDimensions(c.TargetWidth, c.TargetHeight); err != nil {
		return fmt.Errorf("%w: dimensões alvo: %v", ErrInvalidConfig, err)
	}
	if c.TargetFPS <= 0 || c.TargetFPS > 1000 {
		return fmt.Errorf("%w: target_fps %.2f fora de (0,1000]", ErrInvalidConfig, c.TargetFPS)
	}
	if c.MaxQueueSize <= 0 {
		return fmt.Errorf("%w: max_queue_size %d deve ser positivo", ErrInvalidConfig, c.MaxQueueSize)
	}
	if c.MaxProcessingTimeMs < 0 {
		return fmt.Errorf("%w: max_processing_time_ms %.2f negativo", ErrInvalidConfig, c.MaxProcessingTimeMs)
	}
	if c.MaxThreads < 1 {
		return fmt.Errorf("%w: max_threads %d deve ser >= 1", ErrInvalidConfig, c.MaxThreads)
	}
	if c.EnableConcurrentProcessing && c.MaxThreads > 64 {
		return fmt.Errorf("%w: max_threads %d excede o limite de 64", ErrInvalidConfig, c.MaxThreads)
	}
	if c.Diagnostics.Enabled && c.Diagnostics.Dir == "" {
		return fmt.Errorf("%w: diagnostics.dir obrigatório quando diagnostics.enabled", ErrInvalidConfig)
	}
	return nil
}

// LoadConfig lê e valida um arquivo de configuração via viper, aplicando os
// defaults antes do unmarshal.
func LoadConfig(path string) (*StreamConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := Default()
	v.SetDefault("input_width", defaults.InputWidth)
	v.SetDefault("input_height", defaults.InputHeight)
	v.SetDefault("target_width", defaults.TargetWidth)
	v.SetDefault("target_height", defaults.TargetHeight)
	v.SetDefault("target_fps", defaults.TargetFPS)
	v.SetDefault("max_queue_size", defaults.MaxQueueSize)
	v.SetDefault("max_processing_time_ms", defaults.MaxProcessingTimeMs)
	v.SetDefault("max_threads", defaults.MaxThreads)
	v.SetDefault("metrics_addr", defaults.MetricsAddr)
	v.SetDefault("diagnostics.sample_interval", defaults.Diagnostics.SampleInterval)
	v.SetDefault("diagnostics.compression_level", defaults.Diagnostics.CompressionLevel)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("ler configuração: %w", err)
	}

	var cfg StreamConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decodificar configuração: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
