package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/T3-Labs/stream-balancer/pkg/config"
	"github.com/T3-Labs/stream-balancer/pkg/frame"
	"github.com/T3-Labs/stream-balancer/pkg/logger"
	"github.com/T3-Labs/stream-balancer/pkg/processor"
	"github.com/T3-Labs/stream-balancer/pkg/transform"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Caminho para o arquivo de configuração")
	development := flag.Bool("dev", false, "Logs em modo de desenvolvimento")
	softwareGPU := flag.Bool("software-gpu", false, "Emula o dispositivo GPU em software")
	flag.Parse()

	err := logger.InitLogger(*development)
	if err != nil {
		log.Fatalf("erro ao inicializar logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Log.Fatalw("Erro ao carregar config", "error", err, "config_file", *configFile)
	}

	logger.Log.Infow("Configuração carregada",
		"config_file", *configFile,
		"input_width", cfg.InputWidth,
		"input_height", cfg.InputHeight,
		"target_width", cfg.TargetWidth,
		"target_height", cfg.TargetHeight,
		"target_fps", cfg.TargetFPS,
		"max_queue_size", cfg.MaxQueueSize,
		"enable_gpu", cfg.EnableGPU)

	var opts []processor.Option
	if *softwareGPU && cfg.EnableGPU {
		opts = append(opts, processor.WithDevice(transform.NewSoftwareDevice(transform.DefaultStreamCount)))
	}

	proc, err := processor.New(cfg, opts...)
	if err != nil {
		logger.Log.Fatalw("Erro ao criar processador", "error", err)
	}

	if err := proc.Initialize(); err != nil {
		logger.Log.Fatalw("Erro ao inicializar processador", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go startMetricsServer(cfg.MetricsAddr)
	go produceFrames(ctx, proc, cfg)
	go consumeFrames(ctx, proc)
	go reportStats(ctx, proc)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Log.Info("Sinal recebido, encerrando...")
	cancel()
	proc.Shutdown()
	logger.Log.Info("Encerramento concluído")
}

// produceFrames simula a thread produtora (câmera): gera um gradiente móvel
// nas dimensões de entrada no ritmo do fps alvo.
func produceFrames(ctx context.Context, proc *processor.Processor, cfg *config.StreamConfig) {
	interval := cfg.GetFrameInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	src, err := frame.New(cfg.InputWidth, cfg.InputHeight, 3)
	if err != nil {
		logger.Log.Errorw("Falha ao alocar frame de origem", "error", err)
		return
	}

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq++
			fillGradient(src, seq)
			src.SequenceID = seq
			src.Timestamp = float64(time.Now().UnixNano()) / 1e9

			if !proc.SubmitFrame(src) {
				logger.Log.Debugw("Frame rejeitado por backpressure", "sequence_id", seq)
			}
		}
	}
}

// consumeFrames simula a thread consumidora drenando a fila de saída.
func consumeFrames(ctx context.Context, proc *processor.Processor) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				f := proc.GetProcessedFrame()
				if f == nil {
					break
				}
				proc.ReleaseFrame(f)
			}
		}
	}
}

func reportStats(ctx context.Context, proc *processor.Processor) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := proc.GetMetrics()
			logger.Log.Infow("Estatísticas do pipeline",
				"avg_processing_ms", snap.AvgProcessingTimeMs,
				"current_fps", snap.CurrentFPS,
				"frames_processed", snap.FramesProcessed,
				"frames_dropped", snap.FramesDropped,
				"frames_skipped", snap.FramesSkipped,
				"scale_level", snap.CurrentScaleLevel,
				"cpu_utilization", snap.CPUUtilization,
				"input_queue", proc.InputStats().String(),
				"pool", proc.PoolStats().String())
		}
	}
}

func fillGradient(f *frame.Frame, phase uint64) {
	w, h, ch := f.Width, f.Height, f.Channels
	shift := int(phase % 256)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			base := (y*w + x) * ch
			f.Pixels[base] = uint8((x + shift) & 0xFF)
			if ch > 1 {
				f.Pixels[base+1] = uint8((y + shift) & 0xFF)
			}
			if ch > 2 {
				f.Pixels[base+2] = uint8((x + y) & 0xFF)
			}
		}
	}
}

func startMetricsServer(addr string) {
	if addr == "" {
		return
	}
	http.Handle("/metrics", promhttp.Handler())
	logger.Log.Infow("Servidor de métricas iniciado", "addr", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		logger.Log.Errorw("Servidor de métricas falhou", "error", err)
	}
}
