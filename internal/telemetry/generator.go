// Package telemetry produces bounded synthetic solar panel readings under a
// probabilistic fault model. The condition label attached to each sample is
// simulation ground truth and stays inside the process; forwarding it to the
// classifier would leak the answer.
package telemetry

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/elghonerox/solarsentinel-depin/internal/models"
)

// MaxBatch caps Batch allocations regardless of the requested count.
const MaxBatch = 100

type span struct {
	min, max float64
}

func (s span) draw() float64 {
	return s.min + rand.Float64()*(s.max-s.min)
}

type regime struct {
	label       models.ConditionLabel
	weight      float64
	voltage     span
	temperature span
	power       span
}

// Condition regimes with cumulative weights 0.80 / 0.10 / 0.05 / 0.05.
var regimes = []regime{
	{models.ConditionNormal, 0.80, span{11.5, 12.5}, span{25, 35}, span{180, 220}},
	{models.ConditionDust, 0.10, span{10.5, 11.5}, span{30, 38}, span{120, 170}},
	{models.ConditionOverheat, 0.05, span{10.0, 11.0}, span{40, 48}, span{100, 150}},
	{models.ConditionVoltageDrop, 0.05, span{9.0, 10.5}, span{25, 35}, span{80, 130}},
}

// Deployment sites for the simulated fleet.
var sites = []models.Location{
	{Region: "nairobi", Latitude: -1.2921, Longitude: 36.8219},
	{Region: "mombasa", Latitude: -4.0435, Longitude: 39.6682},
	{Region: "kisumu", Latitude: -0.0917, Longitude: 34.7680},
	{Region: "eldoret", Latitude: 0.5143, Longitude: 35.2698},
	{Region: "garissa", Latitude: -0.4536, Longitude: 39.6461},
}

// Generator mints unique device identifiers from a monotonic counter and is
// safe for concurrent use.
type Generator struct {
	counter atomic.Uint64
}

// NewGenerator returns a ready generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Sample produces one labeled reading drawn from the weighted condition
// regimes.
func (g *Generator) Sample() models.TelemetrySample {
	r := pickRegime(rand.Float64())
	site := sites[rand.Intn(len(sites))]
	id := g.counter.Add(1)

	return models.TelemetrySample{
		DeviceID:       fmt.Sprintf("panel-%06d", id),
		Timestamp:      time.Now().UTC(),
		Voltage:        r.voltage.draw(),
		Temperature:    r.temperature.draw(),
		PowerOutput:    r.power.draw(),
		ConditionLabel: r.label,
		Location:       site,
	}
}

// Batch produces min(count, MaxBatch) independent samples. The count is
// clamped, not rejected, to guard against excessive allocation.
func (g *Generator) Batch(count int) []models.TelemetrySample {
	if count < 0 {
		count = 0
	}
	if count > MaxBatch {
		count = MaxBatch
	}
	out := make([]models.TelemetrySample, count)
	for i := range out {
		out[i] = g.Sample()
	}
	return out
}

func pickRegime(u float64) regime {
	cumulative := 0.0
	for _, r := range regimes {
		cumulative += r.weight
		if u < cumulative {
			return r
		}
	}
	return regimes[len(regimes)-1]
}
