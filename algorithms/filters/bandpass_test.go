package filters

import (
	"errors"
	"math"
	"sync"
	"testing"

	"gonum.org/v1/gonum/floats"
)

func TestDesignBandpassFirstOrderClosedForm(t *testing.T) {
	// Order 1, edges at 0.2 and 0.4 of Nyquist.
	c, err := DesignBandpass(0.2*22050, 0.4*22050, 44100, 1)
	if err != nil {
		t.Fatalf("DesignBandpass: %v", err)
	}

	wantB := []float64{0.24523727525278563, 0, -0.24523727525278563}
	wantA := []float64{1, -0.9329380346705198, 0.5095254494944288}

	if !floats.EqualApprox(c.B, wantB, 1e-12) {
		t.Errorf("B = %v, want %v", c.B, wantB)
	}
	if !floats.EqualApprox(c.A, wantA, 1e-12) {
		t.Errorf("A = %v, want %v", c.A, wantA)
	}
}

func TestDesignBandpassDefaultBand(t *testing.T) {
	c, err := DesignBandpass(80, 1200, 44100, DefaultOrder)
	if err != nil {
		t.Fatalf("DesignBandpass: %v", err)
	}

	if len(c.B) != 2*DefaultOrder+1 || len(c.A) != 2*DefaultOrder+1 {
		t.Fatalf("got %d/%d coefficients, want %d", len(c.B), len(c.A), 2*DefaultOrder+1)
	}
	if c.Order() != 2*DefaultOrder {
		t.Errorf("Order() = %d, want %d", c.Order(), 2*DefaultOrder)
	}
	if c.A[0] != 1 {
		t.Errorf("A[0] = %v, want 1", c.A[0])
	}

	wantB := []float64{
		3.317027851104533e-05, 0, -0.00013268111404418132, 0,
		0.00019902167106627199, 0, -0.00013268111404418132, 0, 3.317027851104533e-05,
	}
	if !floats.EqualApprox(c.B, wantB, 1e-12) {
		t.Errorf("B = %v, want %v", c.B, wantB)
	}

	tests := []struct {
		freq    float64
		want    float64
		epsilon float64
	}{
		{80, math.Sqrt2 / 2, 1e-3},
		{440, 1, 1e-3},
		{1200, math.Sqrt2 / 2, 1e-3},
		{20, 0, 0.01},
		{5000, 0, 0.01},
	}
	for _, tt := range tests {
		mag, _ := c.FrequencyResponse(tt.freq, 44100)
		if math.Abs(mag-tt.want) > tt.epsilon {
			t.Errorf("|H(%g Hz)| = %v, want %v ± %v", tt.freq, mag, tt.want, tt.epsilon)
		}
	}
}

func TestDesignBandpassDeterministic(t *testing.T) {
	first, err := DesignBandpass(60, 2000, 44100, 4)
	if err != nil {
		t.Fatalf("DesignBandpass: %v", err)
	}
	for range 5 {
		again, err := DesignBandpass(60, 2000, 44100, 4)
		if err != nil {
			t.Fatalf("DesignBandpass: %v", err)
		}
		if !floats.Equal(first.B, again.B) || !floats.Equal(first.A, again.A) {
			t.Fatalf("coefficients differ between calls")
		}
	}
}

func TestDesignBandpassInvalid(t *testing.T) {
	tests := []struct {
		name                  string
		low, high, sampleRate float64
		order                 int
	}{
		{"low equals high", 500, 500, 44100, 4},
		{"low above high", 1200, 80, 44100, 4},
		{"high at nyquist", 80, 22050, 44100, 4},
		{"high above nyquist", 80, 30000, 44100, 4},
		{"zero low", 0, 1200, 44100, 4},
		{"negative low", -10, 1200, 44100, 4},
		{"nan high", 80, math.NaN(), 44100, 4},
		{"zero order", 80, 1200, 44100, 0},
		{"zero sample rate", 80, 1200, 0, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DesignBandpass(tt.low, tt.high, tt.sampleRate, tt.order)
			if !errors.Is(err, ErrInvalidFilterConfig) {
				t.Errorf("err = %v, want ErrInvalidFilterConfig", err)
			}
		})
	}
}

func TestApplyPreservesLengthAndInput(t *testing.T) {
	c, err := DesignBandpass(80, 1200, 44100, 4)
	if err != nil {
		t.Fatalf("DesignBandpass: %v", err)
	}

	x := make([]float64, 1024)
	x[0] = 1
	orig := append([]float64(nil), x...)

	y := Apply(c, x)
	if len(y) != len(x) {
		t.Fatalf("len(y) = %d, want %d", len(y), len(x))
	}
	if !floats.Equal(x, orig) {
		t.Errorf("Apply modified its input")
	}
	// Impulse response starts with b0.
	if math.Abs(y[0]-c.B[0]) > 1e-15 {
		t.Errorf("y[0] = %v, want b0 = %v", y[0], c.B[0])
	}
}

func TestApplyPassesInBandTone(t *testing.T) {
	c, err := DesignBandpass(80, 1200, 44100, 4)
	if err != nil {
		t.Fatalf("DesignBandpass: %v", err)
	}

	const n = 8192
	x := make([]float64, n)
	for i := range x {
		x[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/44100)
	}

	y := Apply(c, x)

	// After the transient the tone comes through at unity gain.
	peak := floats.Max(y[n/2:])
	if math.Abs(peak-0.5) > 0.01 {
		t.Errorf("steady-state peak = %v, want ~0.5", peak)
	}
}

func TestApplyRejectsOutOfBandTone(t *testing.T) {
	c, err := DesignBandpass(80, 1200, 44100, 4)
	if err != nil {
		t.Fatalf("DesignBandpass: %v", err)
	}

	const n = 8192
	x := make([]float64, n)
	for i := range x {
		x[i] = 0.5 * math.Sin(2*math.Pi*8000*float64(i)/44100)
	}

	y := Apply(c, x)
	if peak := floats.Max(y[n/2:]); peak > 0.005 {
		t.Errorf("8 kHz leaked through with peak %v", peak)
	}
}

func TestApplyNormalizesLeadingFeedback(t *testing.T) {
	c := &Coefficients{B: []float64{2}, A: []float64{2}}
	y := Apply(c, []float64{1, -1, 0.5})
	if !floats.Equal(y, []float64{1, -1, 0.5}) {
		t.Errorf("y = %v, want passthrough", y)
	}
}

func TestApplyFloat32(t *testing.T) {
	c := &Coefficients{B: []float64{0.5, 0.5}, A: []float64{1, 0}}
	y := ApplyFloat32(c, []float32{1, 1, 0})
	if !floats.EqualApprox(y, []float64{0.5, 1, 0.5}, 1e-12) {
		t.Errorf("y = %v", y)
	}
}

func TestCoefficientCacheReusesDesign(t *testing.T) {
	cache := NewCoefficientCache()

	first, err := cache.Bandpass(80, 1200, 44100, 4)
	if err != nil {
		t.Fatalf("Bandpass: %v", err)
	}
	second, err := cache.Bandpass(80, 1200, 44100, 4)
	if err != nil {
		t.Fatalf("Bandpass: %v", err)
	}
	if first != second {
		t.Errorf("cache returned a new design for the same configuration")
	}

	if _, err := cache.Bandpass(60, 2000, 44100, 4); err != nil {
		t.Fatalf("Bandpass: %v", err)
	}
	if cache.Len() != 2 {
		t.Errorf("Len() = %d, want 2", cache.Len())
	}

	if _, err := cache.Bandpass(1200, 80, 44100, 4); !errors.Is(err, ErrInvalidFilterConfig) {
		t.Errorf("err = %v, want ErrInvalidFilterConfig", err)
	}
	if cache.Len() != 2 {
		t.Errorf("invalid design was cached")
	}
}

func TestCoefficientCacheConcurrentReaders(t *testing.T) {
	cache := NewCoefficientCache()

	var wg sync.WaitGroup
	results := make([]*Coefficients, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := cache.Bandpass(80, 1200, 44100, 4)
			if err != nil {
				t.Errorf("Bandpass: %v", err)
				return
			}
			results[i] = c
		}(i)
	}
	wg.Wait()

	for i, c := range results {
		if c != results[0] {
			t.Errorf("reader %d got a different design", i)
		}
	}
}
