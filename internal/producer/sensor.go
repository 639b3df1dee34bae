package producer

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
)

const defaultSensorInterval = 100 * time.Millisecond

// SensorReading is one simulated environmental sample.
type SensorReading struct {
	Hertz       float64 `json:"hertz"`
	Temperature float64 `json:"temperature"`
	Timestamp   float64 `json:"timestamp"`
}

// SensorConfig configures the simulated sensor. Zero Seed seeds from the clock.
type SensorConfig struct {
	Interval time.Duration
	Seed     int64
	Clock    clockwork.Clock
}

// SensorSource simulates a vibration/temperature sensor emitting one reading
// per interval while enabled. Generation can be toggled over HTTP.
type SensorSource struct {
	interval time.Duration
	clock    clockwork.Clock
	rnd      *rand.Rand

	mu      sync.Mutex
	enabled bool
}

// NewSensorSource returns an enabled sensor.
func NewSensorSource(cfg SensorConfig) *SensorSource {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSensorInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Seed == 0 {
		cfg.Seed = cfg.Clock.Now().UnixNano()
	}
	return &SensorSource{
		interval: cfg.Interval,
		clock:    cfg.Clock,
		rnd:      rand.New(rand.NewSource(cfg.Seed)),
		enabled:  true,
	}
}

func (s *SensorSource) Name() string { return "sensor" }

// Next waits one interval at a time until generation is enabled, then
// returns a reading.
func (s *SensorSource) Next(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.clock.After(s.interval):
		}
		if s.Enabled() {
			return json.Marshal(s.sample())
		}
	}
}

func (s *SensorSource) sample() SensorReading {
	now := s.clock.Now()
	return SensorReading{
		Hertz:       round(s.rnd.NormFloat64()*2+1000, 2),
		Temperature: round(s.rnd.NormFloat64()*4+80, 2),
		Timestamp:   round(float64(now.UnixNano())/float64(time.Second), 4),
	}
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

// SetEnabled turns generation on or off.
func (s *SensorSource) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// Enabled reports whether readings are being generated.
func (s *SensorSource) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// RegisterRoutes adds the sensor toggles under /api/v1/sensor/data.
func (s *SensorSource) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/api/v1/sensor/data")
	g.GET("/enable", func(c *gin.Context) {
		s.SetEnabled(true)
		c.JSON(http.StatusOK, gin.H{"response": "sensor data enabled", "enabled": true})
	})
	g.GET("/disable", func(c *gin.Context) {
		s.SetEnabled(false)
		c.JSON(http.StatusOK, gin.H{"response": "sensor data disabled", "enabled": false})
	})
	g.GET("/status", func(c *gin.Context) {
		enabled := s.Enabled()
		c.JSON(http.StatusOK, gin.H{"response": "sensor data generation is set to " + strconv.FormatBool(enabled), "enabled": enabled})
	})
}
