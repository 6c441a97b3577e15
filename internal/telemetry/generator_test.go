package telemetry

import (
	"math"
	"testing"

	"github.com/elghonerox/solarsentinel-depin/internal/models"
)

type bounds struct {
	voltage     [2]float64
	temperature [2]float64
	power       [2]float64
}

var regimeBounds = map[models.ConditionLabel]bounds{
	models.ConditionNormal:      {[2]float64{11.5, 12.5}, [2]float64{25, 35}, [2]float64{180, 220}},
	models.ConditionDust:        {[2]float64{10.5, 11.5}, [2]float64{30, 38}, [2]float64{120, 170}},
	models.ConditionOverheat:    {[2]float64{10.0, 11.0}, [2]float64{40, 48}, [2]float64{100, 150}},
	models.ConditionVoltageDrop: {[2]float64{9.0, 10.5}, [2]float64{25, 35}, [2]float64{80, 130}},
}

var regimeWeights = map[models.ConditionLabel]float64{
	models.ConditionNormal:      0.80,
	models.ConditionDust:        0.10,
	models.ConditionOverheat:    0.05,
	models.ConditionVoltageDrop: 0.05,
}

func TestSampleBoundsAndDistribution(t *testing.T) {
	const draws = 10000
	g := NewGenerator()
	counts := make(map[models.ConditionLabel]int)

	for i := 0; i < draws; i++ {
		s := g.Sample()
		b, ok := regimeBounds[s.ConditionLabel]
		if !ok {
			t.Fatalf("unknown condition label %q", s.ConditionLabel)
		}
		if s.Voltage < b.voltage[0] || s.Voltage > b.voltage[1] {
			t.Fatalf("%s voltage %.3f outside [%.1f, %.1f]", s.ConditionLabel, s.Voltage, b.voltage[0], b.voltage[1])
		}
		if s.Temperature < b.temperature[0] || s.Temperature > b.temperature[1] {
			t.Fatalf("%s temperature %.3f outside [%.1f, %.1f]", s.ConditionLabel, s.Temperature, b.temperature[0], b.temperature[1])
		}
		if s.PowerOutput < b.power[0] || s.PowerOutput > b.power[1] {
			t.Fatalf("%s power %.3f outside [%.1f, %.1f]", s.ConditionLabel, s.PowerOutput, b.power[0], b.power[1])
		}
		counts[s.ConditionLabel]++
	}

	for label, want := range regimeWeights {
		got := float64(counts[label]) / draws
		if math.Abs(got-want) > 0.03 {
			t.Fatalf("regime %s frequency %.3f, want %.2f ±0.03", label, got, want)
		}
	}
}

func TestSampleMintsUniqueDeviceIDs(t *testing.T) {
	g := NewGenerator()
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		s := g.Sample()
		if s.DeviceID == "" {
			t.Fatalf("empty device id")
		}
		if seen[s.DeviceID] {
			t.Fatalf("duplicate device id %s", s.DeviceID)
		}
		seen[s.DeviceID] = true
		if s.Location.Region == "" {
			t.Fatalf("sample missing location region")
		}
	}
}

func TestBatchClampsCount(t *testing.T) {
	g := NewGenerator()
	cases := []struct {
		request int
		want    int
	}{
		{250, 100},
		{100, 100},
		{7, 7},
		{0, 0},
		{-3, 0},
	}
	for _, tc := range cases {
		if got := len(g.Batch(tc.request)); got != tc.want {
			t.Fatalf("Batch(%d) returned %d samples, want %d", tc.request, got, tc.want)
		}
	}
}
