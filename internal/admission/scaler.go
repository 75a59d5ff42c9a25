package admission

import (
	"runtime"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// AdaptiveConfig tunes load-based scaling of rule limits. Thresholds
// and factors are configuration so operators can retune without a
// rebuild.
type AdaptiveConfig struct {
	Enabled         bool
	LowThreshold    float64 // blended load below this scales limits up
	MediumThreshold float64 // blended load at or above this scales down
	LowFactor       float64
	MediumFactor    float64
	HighFactor      float64
}

func (c AdaptiveConfig) withDefaults() AdaptiveConfig {
	if c.LowThreshold <= 0 {
		c.LowThreshold = 0.3
	}
	if c.MediumThreshold <= 0 {
		c.MediumThreshold = 0.7
	}
	if c.LowFactor <= 0 {
		c.LowFactor = 1.5
	}
	if c.MediumFactor <= 0 {
		c.MediumFactor = 1.0
	}
	if c.HighFactor <= 0 {
		c.HighFactor = 0.5
	}
	return c
}

// SystemLoad is a point-in-time sample of host utilization, each
// component in [0,1].
type SystemLoad struct {
	CPU     float64 `json:"cpu"`
	Memory  float64 `json:"memory"`
	Blended float64 `json:"blended"`
}

// LoadSampler returns normalized cpu and memory utilization in [0,1].
type LoadSampler func() (cpu, memory float64, err error)

// Scaler adjusts a rule's nominal limit to the host's current load:
// more headroom when idle, protective shedding when busy. A sampling
// failure leaves limits unscaled rather than unlimited.
type Scaler struct {
	cfg    AdaptiveConfig
	sample LoadSampler
	log    zerolog.Logger
}

func NewScaler(cfg AdaptiveConfig, sample LoadSampler, log zerolog.Logger) *Scaler {
	if sample == nil {
		sample = sampleHostLoad
	}
	return &Scaler{
		cfg:    cfg.withDefaults(),
		sample: sample,
		log:    log.With().Str("component", "adaptive_scaler").Logger(),
	}
}

// EffectiveLimit scales nominal by the factor for the current load
// band. The result never drops below 1 so a rule cannot be scaled into
// a total block.
func (s *Scaler) EffectiveLimit(nominal int) int {
	factor := s.factor()
	scaled := int(float64(nominal) * factor)
	if scaled < 1 {
		scaled = 1
	}
	return scaled
}

func (s *Scaler) factor() float64 {
	if !s.cfg.Enabled {
		return 1.0
	}

	loadStat, err := s.SystemLoad()
	if err != nil {
		s.log.Warn().Err(err).Msg("load sampling failed, leaving limits unscaled")
		return 1.0
	}

	switch {
	case loadStat.Blended < s.cfg.LowThreshold:
		return s.cfg.LowFactor
	case loadStat.Blended < s.cfg.MediumThreshold:
		return s.cfg.MediumFactor
	default:
		return s.cfg.HighFactor
	}
}

// SystemLoad samples and blends utilization: 40% memory, 60% cpu.
func (s *Scaler) SystemLoad() (SystemLoad, error) {
	cpu, memory, err := s.sample()
	if err != nil {
		return SystemLoad{}, err
	}
	return SystemLoad{
		CPU:     cpu,
		Memory:  memory,
		Blended: 0.6*cpu + 0.4*memory,
	}, nil
}

func sampleHostLoad() (float64, float64, error) {
	avg, err := load.Avg()
	if err != nil {
		return 0, 0, err
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}

	cpu := avg.Load1 / float64(runtime.NumCPU())
	if cpu > 1 {
		cpu = 1
	}
	return cpu, vm.UsedPercent / 100, nil
}
