package entry

import "strings"

// Expander inserts directory entries for the ancestors of an entry that
// have not been produced yet, so a writer always sees a directory before
// anything inside it.
type Expander struct {
	root      []string
	recursive bool
	seen      map[string]bool
}

// NewExpander returns an expander for entries below root.
func NewExpander(root []string, recursive bool) *Expander {
	return &Expander{root: root, recursive: recursive, seen: map[string]bool{}}
}

func key(components []string) string {
	return strings.ToLower(strings.Join(components, "/"))
}

// Expand returns the entries to produce for e, in order. Entries more
// than one level below the root are dropped when not recursive.
func (x *Expander) Expand(e Entry) []Entry {
	rel := e.RelativePathComponents
	if len(rel) == 0 {
		return []Entry{e}
	}
	if !x.recursive && len(rel) > 1 {
		return nil
	}
	var out []Entry
	for i := 1; i < len(rel); i++ {
		k := key(rel[:i])
		if x.seen[k] {
			continue
		}
		x.seen[k] = true
		full := append(append([]string(nil), x.root...), rel[:i]...)
		out = append(out, Entry{
			Name:                   rel[i-1],
			Type:                   TypeDir,
			Date:                   e.Date,
			FullPathComponents:     full,
			RelativePathComponents: append([]string(nil), rel[:i]...),
		})
	}
	k := key(rel)
	if e.IsDir() {
		if x.seen[k] {
			return out
		}
		x.seen[k] = true
	}
	return append(out, e)
}
