package badger

// Database Key Namespace Design
// ==============================
//
// The hierarchy is stored as two prefixed key spaces. Native paths are
// already unique and stable (the store is immutable once mounted), so they
// serve directly as identifiers.
//
// Data Type        Prefix   Key Format                      Value
// ======================================================================
// Node record      "n:"     n:<path>                        nodeRecord (JSON)
// Children index   "c:"     c:<parentPath>\x00<childName>   empty
//
// Children keys terminate the parent path with a NUL byte, which cannot
// appear in a path component, so "c:/a\x00" never prefixes the children of
// "/ab". Listing a group is a prefix scan; badger returns children in byte
// order of their names.
//
// The root group is implicit and has no node record.

const (
	prefixNode     = "n:"
	prefixChildren = "c:"
)

func keyNode(path string) []byte {
	return []byte(prefixNode + path)
}

func keyChild(parent, name string) []byte {
	return []byte(prefixChildren + parent + "\x00" + name)
}

func keyChildrenPrefix(parent string) []byte {
	return []byte(prefixChildren + parent + "\x00")
}
