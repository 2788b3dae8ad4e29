package regime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/vertex-trading/engine/internal/events"
	"github.com/vertex-trading/engine/internal/instrumentation"
)

// Config holds the classification thresholds for one supervisor.
type Config struct {
	BufferSize       int     // rolling mid-price window (default 50)
	R2TrendThreshold float64 // R² above which the market is trending (default 0.7)
	R2RangingFloor   float64 // R² floor kept for reporting (default 0.2)
	ZScoreThreshold  float64 // |z| above which the market is mean reverting (default 2.0)
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		BufferSize:       50,
		R2TrendThreshold: 0.7,
		R2RangingFloor:   0.2,
		ZScoreThreshold:  2.0,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.R2TrendThreshold == 0 {
		c.R2TrendThreshold = d.R2TrendThreshold
	}
	if c.R2RangingFloor == 0 {
		c.R2RangingFloor = d.R2RangingFloor
	}
	if c.ZScoreThreshold == 0 {
		c.ZScoreThreshold = d.ZScoreThreshold
	}
	return c
}

// Metrics is a point-in-time snapshot of a supervisor's state.
type Metrics struct {
	Regime    events.RegimeType `json:"regime,omitempty"`
	Slope     float64           `json:"slope"`
	RSquared  float64           `json:"r_squared"`
	ZScore    float64           `json:"z_score"`
	TickCount int               `json:"tick_count"`
	BufferLen int               `json:"buffer_len"`
}

// Supervisor watches one symbol's tick stream and classifies its market
// regime. It owns its rolling buffer exclusively; the only writer is the
// tick handler, which runs inside the bus dispatch gate.
//
// A RegimeEvent is published only when the classification changes
// (edge-triggered); ticks that confirm the current regime update the
// stored metrics silently.
type Supervisor struct {
	bus     *events.Bus
	symbol  string
	config  Config
	logger  *zap.Logger
	metrics *instrumentation.Metrics

	mu        sync.RWMutex
	buffer    []float64 // ring storage, oldest evicted on overflow
	current   events.RegimeType
	lastSlope float64
	lastR2    float64
	lastZ     float64
	tickCount int
}

// NewSupervisor creates a supervisor for symbol and subscribes it to
// tick events on the bus. instr may be nil.
func NewSupervisor(bus *events.Bus, symbol string, config Config, logger *zap.Logger, instr *instrumentation.Metrics) *Supervisor {
	s := &Supervisor{
		bus:     bus,
		symbol:  symbol,
		config:  config.withDefaults(),
		logger:  logger.Named("supervisor").With(zap.String("symbol", symbol)),
		metrics: instr,
	}
	s.buffer = make([]float64, 0, s.config.BufferSize)
	bus.Subscribe(events.EventTypeTick, s.onTick)
	return s
}

func (s *Supervisor) onTick(event events.Event) error {
	tick, ok := event.(events.TickEvent)
	if !ok || tick.Symbol != s.symbol {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mid := tick.Mid().InexactFloat64()
	if len(s.buffer) == s.config.BufferSize {
		s.buffer = append(s.buffer[:0], s.buffer[1:]...)
	}
	s.buffer = append(s.buffer, mid)
	s.tickCount++

	if len(s.buffer) < 3 {
		s.logger.Debug("buffering prices", zap.Int("have", len(s.buffer)))
		return nil
	}
	return s.analyze(tick)
}

// analyze recomputes trend and deviation statistics over the buffer and
// emits a RegimeEvent when the classification flips. Caller holds mu.
func (s *Supervisor) analyze(tick events.TickEvent) error {
	slope, r2, err := SlopeAndR2(s.buffer)
	if err != nil {
		return err
	}

	window := len(s.buffer) - 1
	if window > 20 {
		window = 20
	}
	z, err := ZScore(s.buffer, window)
	if err != nil {
		return err
	}

	s.lastSlope = slope
	s.lastR2 = r2
	s.lastZ = z

	next := s.classify(r2, z, slope)
	if next == s.current {
		return nil
	}
	s.current = next

	s.logger.Info("regime change",
		zap.String("regime", string(next)),
		zap.Float64("r2", r2),
		zap.Float64("z", z),
		zap.Float64("slope", slope),
	)
	if s.metrics != nil {
		s.metrics.RecordRegimeChange(s.symbol, string(next))
	}

	// Publishing from inside a tick handler queues the event; the bus
	// dispatches it after the current handler chain completes.
	s.bus.Publish(events.RegimeEvent{
		Symbol:    s.symbol,
		Timestamp: tick.Timestamp,
		Regime:    next,
		RSquared:  r2,
		ZScore:    z,
	})
	return nil
}

func (s *Supervisor) classify(r2, z, slope float64) events.RegimeType {
	if r2 > s.config.R2TrendThreshold && (slope > slopeEpsilon || slope < -slopeEpsilon) {
		return events.RegimeTrending
	}
	if z > s.config.ZScoreThreshold || z < -s.config.ZScoreThreshold {
		return events.RegimeMeanReversion
	}
	return events.RegimeRanging
}

// Current returns the last classified regime, empty until the first
// classification.
func (s *Supervisor) Current() events.RegimeType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Metrics returns a snapshot for monitoring.
func (s *Supervisor) Metrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Metrics{
		Regime:    s.current,
		Slope:     s.lastSlope,
		RSquared:  s.lastR2,
		ZScore:    s.lastZ,
		TickCount: s.tickCount,
		BufferLen: len(s.buffer),
	}
}
