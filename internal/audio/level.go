package audio

// bytesPerSample is the width of one S16_LE sample.
const bytesPerSample = 2

// meanAbsLevel computes the mean absolute amplitude of a raw S16_LE mono
// buffer. A trailing odd byte is ignored. An empty buffer is silence.
func meanAbsLevel(buf []byte) float64 {
	n := len(buf) / bytesPerSample
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		s := int16(uint16(buf[i*2]) | uint16(buf[i*2+1])<<8)
		v := int32(s)
		if v < 0 {
			v = -v
		}
		sum += float64(v)
	}
	return sum / float64(n)
}
