package filters

// Apply runs x through the filter once, forward, starting from rest.
//
// Uses the transposed direct form II structure:
//
//	y[n]   = b0*x[n] + z0[n-1]
//	zi[n]  = b(i+1)*x[n] + z(i+1)[n-1] - a(i+1)*y[n]
//
// The output has the same length as x; x is not modified. A single causal
// pass adds phase delay, which downstream magnitude-only stages ignore.
func Apply(c *Coefficients, x []float64) []float64 {
	y := make([]float64, len(x))
	if c == nil || len(c.A) == 0 || len(c.B) == 0 || len(x) == 0 {
		copy(y, x)
		return y
	}

	n := max(len(c.A), len(c.B))
	b := make([]float64, n)
	a := make([]float64, n)
	copy(b, c.B)
	copy(a, c.A)

	if a[0] != 1.0 {
		a0 := a[0]
		for i := range n {
			b[i] /= a0
			a[i] /= a0
		}
	}

	if n == 1 {
		for i, v := range x {
			y[i] = b[0] * v
		}
		return y
	}

	state := make([]float64, n-1)
	for i, v := range x {
		out := b[0]*v + state[0]
		for k := 0; k < n-2; k++ {
			state[k] = b[k+1]*v + state[k+1] - a[k+1]*out
		}
		state[n-2] = b[n-1]*v - a[n-1]*out
		y[i] = out
	}

	return y
}

// ApplyFloat32 is Apply for captured float32 frames.
func ApplyFloat32(c *Coefficients, x []float32) []float64 {
	in := make([]float64, len(x))
	for i, v := range x {
		in[i] = float64(v)
	}
	return Apply(c, in)
}
