// Package rrd realigns the round-robin minute vectors reported by Kismet.
package rrd

// Realign rotates a ring buffer so index 0 is the oldest sample and the
// last index is the slot written at lastTime. serialTime is when the
// server serialized the vector; slots older than serialTime-lastTime
// seconds of silence are zeroed at the front.
func Realign(src []int64, lastTime, serialTime int64) []int64 {
	n := len(src)
	out := make([]int64, n)
	if n == 0 {
		return out
	}

	gap := serialTime - lastTime
	if gap < 0 {
		gap = 0
	}
	if gap > int64(n) {
		gap = int64(n)
	}

	last := int(lastTime % int64(n))
	if last < 0 {
		last += n
	}
	for i := int(gap); i < n; i++ {
		out[i] = src[(last+i+1)%n]
	}
	return out
}

// Max returns the largest value, or 0 for an empty slice
func Max(v []int64) int64 {
	var m int64
	for _, x := range v {
		if x > m {
			m = x
		}
	}
	return m
}

// Scale maps each value onto 0..height against the window maximum.
// An all-zero window scales to all zeros.
func Scale(v []int64, height int) []int {
	out := make([]int, len(v))
	m := Max(v)
	if m <= 0 || height <= 0 {
		return out
	}
	for i, x := range v {
		if x <= 0 {
			continue
		}
		h := int((x*int64(height) + m - 1) / m)
		if h > height {
			h = height
		}
		out[i] = h
	}
	return out
}
