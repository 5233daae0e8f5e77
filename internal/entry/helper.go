package entry

// Destination is a resolved writer root.
type Destination struct {
	Root []string
	// Exists reports whether the last Root component exists, and IsDir
	// whether it is a directory. An empty Root is the container root.
	Exists bool
	IsDir  bool
}

// FullPathComponents places a source entry below the destination.
//
// A single file copied onto an existing directory keeps its own name. A
// single file copied onto a missing or existing non-directory path takes
// the last destination component as its name. Everything else, including
// every multi-entry copy, appends relative to the root and never renames.
func (d Destination) FullPathComponents(t Type, relative []string, single bool) []string {
	root := append([]string(nil), d.Root...)
	if !single || t == TypeDir || t == TypeRoot || len(relative) == 0 {
		return append(root, relative...)
	}
	if (d.Exists && d.IsDir) || len(root) == 0 {
		return append(root, relative[len(relative)-1])
	}
	return root
}
