package fold

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PathSegment is one step of a structural path: either an id anchor or a
// 1-based ordinal among non-excluded element siblings.
type PathSegment struct {
	Tag   string
	ID    string
	Index int
}

func (s PathSegment) String() string {
	if s.ID != "" {
		return fmt.Sprintf(`%s[@id="%s"]`, s.Tag, s.ID)
	}
	return fmt.Sprintf("%s[%d]", s.Tag, s.Index)
}

const tagPattern = `[a-z][a-z0-9_.-]*`

var (
	segmentRE = regexp.MustCompile(`^(` + tagPattern + `)\[(?:@id="([^"]+)"|([1-9][0-9]*))\]$`)
	tagRE     = regexp.MustCompile(`^` + tagPattern + `$`)
)

// anchorable reports whether id can appear inside an id segment without
// breaking the path or beacon grammar.
func anchorable(id string) bool {
	return id != "" && !strings.ContainsAny(id, `"/[]:,`)
}

// EncodePath addresses n relative to root. Ascent stops at the first
// ancestor-or-self whose id is unique in doc. An id shared by several
// elements is skipped in favour of ordinal addressing and reported as
// ErrDuplicateID together with the ordinal path. A tag outside the path
// grammar, such as a namespaced fb:like, yields ErrMalformedPath.
func EncodePath(doc Document, n, root Node) (string, error) {
	var segs []PathSegment
	var dupErr error
	cur := n
	for ; cur != nil && cur != root; cur = cur.Parent() {
		tag := strings.ToLower(cur.Tag())
		if !tagRE.MatchString(tag) {
			return "", fmt.Errorf("%w: tag %q cannot be addressed", ErrMalformedPath, tag)
		}
		if id := idOf(cur); id != "" {
			count := doc.CountID(id)
			if count > 1 {
				dupErr = fmt.Errorf("%w: %q used by %d elements", ErrDuplicateID, id, count)
			} else if count == 1 && anchorable(id) {
				segs = append(segs, PathSegment{Tag: tag, ID: id})
				return joinSegments(segs), dupErr
			}
		}
		segs = append(segs, PathSegment{Tag: tag, Index: ordinal(cur)})
	}
	if cur == nil && root != nil {
		return "", fmt.Errorf("%w: node is not a descendant of the root", ErrPathNotFound)
	}
	return joinSegments(segs), dupErr
}

// joinSegments joins segments collected leaf first.
func joinSegments(segs []PathSegment) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[len(segs)-1-i] = s.String()
	}
	return strings.Join(parts, "/")
}

func ordinal(n Node) int {
	p := n.Parent()
	if p == nil {
		return 1
	}
	i := 0
	for _, sib := range p.Children() {
		if !IsExcludedTag(sib.Tag()) {
			i++
		}
		if sib == n {
			break
		}
	}
	return i
}

// ParsePath splits a structural path into segments. The empty path names
// the root and yields no segments.
func ParsePath(path string) ([]PathSegment, error) {
	if path == "" {
		return nil, nil
	}
	parts := strings.Split(path, "/")
	segs := make([]PathSegment, 0, len(parts))
	for _, part := range parts {
		m := segmentRE.FindStringSubmatch(part)
		if m == nil {
			return nil, fmt.Errorf("%w: segment %q", ErrMalformedPath, part)
		}
		seg := PathSegment{Tag: m[1], ID: m[2]}
		if m[3] != "" {
			idx, err := strconv.Atoi(m[3])
			if err != nil {
				return nil, fmt.Errorf("%w: segment %q: %v", ErrMalformedPath, part, err)
			}
			seg.Index = idx
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

// DecodePath resolves a path produced by EncodePath. Resolution against a
// tree that differs from the encoded one may fail; callers treat that as
// a soft miss.
func DecodePath(doc Document, path string, root Node) (Node, error) {
	segs, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	cur := root
	for _, s := range segs {
		if s.ID != "" {
			if doc.CountID(s.ID) != 1 {
				return nil, fmt.Errorf("%w: id %q is not unique", ErrPathNotFound, s.ID)
			}
			cur = doc.ElementByID(s.ID)
		} else {
			cur = nthChild(cur, s.Index)
		}
		if cur == nil || !strings.EqualFold(cur.Tag(), s.Tag) {
			return nil, fmt.Errorf("%w: %s in %q", ErrPathNotFound, s, path)
		}
	}
	return cur, nil
}

func nthChild(n Node, idx int) Node {
	if n == nil {
		return nil
	}
	i := 0
	for _, c := range n.Children() {
		if IsExcludedTag(c.Tag()) {
			continue
		}
		i++
		if i == idx {
			return c
		}
	}
	return nil
}
