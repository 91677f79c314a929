package pe

import "math"

// CalculateEntropy calculates Shannon entropy for a given data block.
// Entropy value ranges from 0 (completely uniform) to 8 (completely random).
// High entropy (>7.0) often indicates encryption or compression (packed malware).
func CalculateEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0.0
	}

	var freq [256]int
	for _, b := range data {
		freq[b]++
	}

	// H = -Σ(p(x) * log2(p(x)))
	var entropy float64
	dataLen := float64(len(data))
	for _, count := range freq {
		if count == 0 {
			continue
		}
		p := float64(count) / dataLen
		entropy -= p * math.Log2(p)
	}

	return entropy
}

// Entropy returns the entropy of the section's raw data, or 0 when the data
// lies outside the buffer.
func (s SectionHeader) Entropy() float64 {
	data, err := s.Data()
	if err != nil {
		return 0.0
	}
	return CalculateEntropy(data)
}
