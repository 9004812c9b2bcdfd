package kernel

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the kernel's Prometheus metrics.
type Metrics struct {
	Syscalls         *prometheus.CounterVec   // by syscall and result
	SyscallDuration  *prometheus.HistogramVec // by syscall
	ProcessesSpawned prometheus.Counter
	ProcessesExited  *prometheus.CounterVec // by reason
	Processes        prometheus.Gauge
	OpenFiles        prometheus.GaugeFunc
}

func newMetrics(reg prometheus.Registerer, s *System) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		Syscalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webkernel_syscalls_total",
				Help: "Syscalls served, by name and result",
			},
			[]string{"syscall", "result"},
		),
		SyscallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webkernel_syscall_duration_seconds",
				Help:    "Time from syscall dispatch to result, including blocking",
				Buckets: prometheus.ExponentialBuckets(0.00001, 10, 8),
			},
			[]string{"syscall"},
		),
		ProcessesSpawned: factory.NewCounter(prometheus.CounterOpts{
			Name: "webkernel_processes_spawned_total",
			Help: "Processes spawned since boot",
		}),
		ProcessesExited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webkernel_processes_exited_total",
				Help: "Processes exited since boot, by reason",
			},
			[]string{"reason"},
		),
		Processes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "webkernel_processes",
			Help: "Processes in the process table, zombies included",
		}),
		OpenFiles: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "webkernel_open_file_descriptions",
			Help: "Live open file descriptions",
		}, func() float64 { return float64(s.files.Count()) }),
	}
	reg.MustRegister(&activityCollector{s: s})
	return m
}

func (m *Metrics) observeSyscall(name string, err error, elapsed time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.Syscalls.WithLabelValues(name, result).Inc()
	m.SyscallDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

var activityDesc = prometheus.NewDesc(
	"webkernel_process_userland_activity",
	"Fraction of the recent window a process spent outside syscalls",
	[]string{"pid", "program"}, nil,
)

// activityCollector exports per-process userland activity at scrape time.
type activityCollector struct {
	s *System
}

// Describe implements prometheus.Collector.
func (c *activityCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- activityDesc
}

// Collect implements prometheus.Collector.
func (c *activityCollector) Collect(ch chan<- prometheus.Metric) {
	now := c.s.clock()
	for _, p := range c.s.Processes() {
		if p.Exited() {
			continue
		}
		ch <- prometheus.MustNewConstMetric(
			activityDesc,
			prometheus.GaugeValue,
			p.UserlandActivity(now),
			strconv.Itoa(p.PID()), p.ProgramName(),
		)
	}
}
