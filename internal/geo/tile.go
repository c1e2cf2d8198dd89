package geo

// QuadTile computes the spatial index key for a fixed-point position.
// The planet is divided into a 65536x65536 grid; the key interleaves the
// bits of the cell's x and y coordinates so that nearby cells share key
// prefixes, which keeps range scans over an index on the key local.
func QuadTile(lat, lon int64) uint64 {
	x := uint32(float64(lon-MinLon) / float64(MaxLon-MinLon) * 65535)
	y := uint32(float64(lat-MinLat) / float64(MaxLat-MinLat) * 65535)
	return interleave(x, y)
}

// interleave spreads the low 16 bits of y into the even bit positions
// and the low 16 bits of x into the odd ones
func interleave(x, y uint32) uint64 {
	return spread(x)<<1 | spread(y)
}

func spread(v uint32) uint64 {
	w := uint64(v) & 0xffff
	w = (w | w<<8) & 0x00ff00ff
	w = (w | w<<4) & 0x0f0f0f0f
	w = (w | w<<2) & 0x33333333
	w = (w | w<<1) & 0x55555555
	return w
}
