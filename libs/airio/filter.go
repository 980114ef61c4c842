// Package airio holds the per-pairing link-quality state shared by both
// engines: low-pass-filtered RSSI/SNR/LQ and inter-frame interval, plus
// the peer's negotiated pairing info.
package airio

// Filter is a single-pole IIR low-pass filter, the same shape applied to
// RSSI, SNR, LQ and the inter-frame interval alike. weight is in [0,1];
// larger weight tracks new samples faster.
type Filter struct {
	value   float64
	primed  bool
	weight  float64
}

func NewFilter(weight float64) Filter {
	return Filter{weight: weight}
}

func (f *Filter) Update(sample float64) {
	if !f.primed {
		f.value = sample
		f.primed = true
		return
	}
	f.value += (sample - f.value) * f.weight
}

func (f *Filter) Value() float64 {
	return f.value
}

func (f *Filter) Reset() {
	f.value = 0
	f.primed = false
}
