package ffs

// ToUpper folds ASCII a-z to upper case and leaves every other byte alone.
func ToUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}

// IntlToUpper additionally folds the ISO-8859-1 lower case range 224-254,
// except the division sign 247.
func IntlToUpper(c byte) byte {
	if (c >= 'a' && c <= 'z') || (c >= 224 && c <= 254 && c != 247) {
		return c - ('a' - 'A')
	}
	return c
}

func upperFunc(intl bool) func(byte) byte {
	if intl {
		return IntlToUpper
	}
	return ToUpper
}

// Hash returns the hash table slot of an ISO-8859-1 name in a 72 slot
// directory block.
func Hash(name []byte, intl bool) int {
	return HashSlot(name, intl, 72)
}

// HashSlot returns the slot of name in a hash table of tableSize entries.
// The 11 bit mask is applied on every step, before the final modulo.
func HashSlot(name []byte, intl bool, tableSize int) int {
	up := upperFunc(intl)
	hash := uint32(len(name))
	for _, c := range name {
		hash = (hash*13 + uint32(up(c))) & 0x7FF
	}
	return int(hash % uint32(tableSize))
}

// NameEqual compares two on-disk names the way the file system does:
// lengths first, then case folded bytes.
func NameEqual(a, b []byte, intl bool) bool {
	if len(a) != len(b) {
		return false
	}
	up := upperFunc(intl)
	for i := range a {
		if up(a[i]) != up(b[i]) {
			return false
		}
	}
	return true
}
