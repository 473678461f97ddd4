package imaging

// Jet maps v in [0, 255] to the JET colormap (blue -> cyan -> yellow ->
// red) in BGR order, the channel order OpenCV's applyColorMap produces.
func Jet(v uint8) [3]uint8 {
	t := float32(v) / 255
	r := jetChannel(4*t - 3)
	g := jetChannel(4*t - 2)
	b := jetChannel(4*t - 1)
	return [3]uint8{b, g, r}
}

func jetChannel(d float32) uint8 {
	if d < 0 {
		d = -d
	}
	v := 1.5 - d
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	}
	return uint8(v*255 + 0.5)
}

// JetInOrder returns the JET color of v as BGR, or RGB when bgr is false.
func JetInOrder(v uint8, bgr bool) [3]uint8 {
	c := Jet(v)
	if !bgr {
		c[0], c[2] = c[2], c[0]
	}
	return c
}
