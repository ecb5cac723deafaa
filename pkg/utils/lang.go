package utils

// ContainsCJK reports whether text contains CJK unified ideographs. Used to
// localize search parameters and to carry the same-language rule into
// prompts.
func ContainsCJK(text string) bool {
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FFF {
			return true
		}
	}
	return false
}
