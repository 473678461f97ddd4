package imaging

// ResizeBilinear resamples a single-channel h x w grid to oh x ow with
// pixel-center alignment, matching cv2.resize with INTER_LINEAR.
func ResizeBilinear(src []float32, h, w, oh, ow int) []float32 {
	dst := make([]float32, oh*ow)
	if h == oh && w == ow {
		copy(dst, src)
		return dst
	}

	ys := make([]axisSample, oh)
	for i := range ys {
		ys[i] = sample(i, h, oh)
	}
	xs := make([]axisSample, ow)
	for i := range xs {
		xs[i] = sample(i, w, ow)
	}

	for i, sy := range ys {
		row0 := src[sy.lo*w : (sy.lo+1)*w]
		row1 := src[sy.hi*w : (sy.hi+1)*w]
		for j, sx := range xs {
			top := row0[sx.lo]*(1-sx.frac) + row0[sx.hi]*sx.frac
			bottom := row1[sx.lo]*(1-sx.frac) + row1[sx.hi]*sx.frac
			dst[i*ow+j] = top*(1-sy.frac) + bottom*sy.frac
		}
	}
	return dst
}

type axisSample struct {
	lo, hi int
	frac   float32
}

func sample(dst, in, out int) axisSample {
	pos := (float32(dst)+0.5)*float32(in)/float32(out) - 0.5
	if pos <= 0 {
		return axisSample{}
	}
	lo := int(pos)
	if lo >= in-1 {
		return axisSample{lo: in - 1, hi: in - 1}
	}
	return axisSample{lo: lo, hi: lo + 1, frac: pos - float32(lo)}
}
