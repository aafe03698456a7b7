package ledger

// PrefixEnd returns the smallest key greater than every key starting with
// prefix, or "" when no such bound exists. Backends without a native prefix
// match scan the half-open range [prefix, PrefixEnd(prefix)).
func PrefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}
