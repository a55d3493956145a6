package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_balancer_frames_processed_total",
			Help: "Total de frames processados por instância",
		},
		[]string{"processor_id"},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_balancer_frames_dropped_total",
			Help: "Total de frames descartados por backpressure",
		},
		[]string{"processor_id", "queue"},
	)

	FramesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_balancer_frames_skipped_total",
			Help: "Total de frames pulados pelo fator de pulo do startup",
		},
		[]string{"processor_id"},
	)

	TransformErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_balancer_transform_errors_total",
			Help: "Total de falhas de transformação recuperadas",
		},
		[]string{"processor_id", "backend"},
	)

	GPUFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_balancer_gpu_fallbacks_total",
			Help: "Total de frames rebaixados do caminho GPU para CPU",
		},
		[]string{"processor_id"},
	)

	ProcessingTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stream_balancer_processing_time_seconds",
			Help:    "Tempo de processamento por frame",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"processor_id"},
	)

	CurrentScaleLevel = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stream_balancer_scale_level",
			Help: "Nível de escala corrente (0=emergência, 4=qualidade plena)",
		},
		[]string{"processor_id"},
	)

	CurrentFPS = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stream_balancer_fps",
			Help: "FPS potencial derivado do tempo médio de processamento",
		},
		[]string{"processor_id"},
	)

	QueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stream_balancer_queue_size",
			Help: "Ocupação corrente das filas de entrada e saída",
		},
		[]string{"processor_id", "queue"},
	)

	GPUUtilization = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stream_balancer_gpu_utilization",
			Help: "Estimativa de utilização do dispositivo GPU (0..1)",
		},
		[]string{"processor_id"},
	)

	CPUUtilization = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stream_balancer_cpu_utilization",
			Help: "Utilização de CPU do sistema (0..1)",
		},
		[]string{"processor_id"},
	)
)
