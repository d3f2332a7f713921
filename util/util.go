// Package util contains misc internal utilities.
package util

// Mask returns a 32-bit mask of length ones starting at bit start.
// lengths that run past bit 31 are truncated.
func Mask(start, length uint) uint32 {
	if length == 0 || start >= 32 {
		return 0
	}
	return uint32(((uint64(1) << length) - 1) << start)
}

// IsBitSet returns true if the bit at position is set in reg
func IsBitSet(reg uint32, position uint) bool {
	bit := uint32(1) << position
	return reg&bit == bit
}

// GetBits extracts length bits of reg starting at start, shifted down to bit 0
func GetBits(reg uint32, start, length uint) uint32 {
	return (reg & Mask(start, length)) >> start
}

// UpdateBits clears the field [start, start+length) of reg and ORs in value
// shifted into place.  Bits of value that do not fit in the field are dropped.
func UpdateBits(reg uint32, start, length uint, value uint32) uint32 {
	mask := Mask(start, length)
	return (reg &^ mask) | ((value << start) & mask)
}

// BoolToUint32 returns 1 for true and 0 for false
func BoolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
