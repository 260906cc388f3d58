package link

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/ohler55/ojg/jp"
)

var ErrInvalidPath = errors.New("invalid link path")

// PathError reports a path outside the supported JSON path subset. Offset
// is -1 when the parser did not report a position.
type PathError struct {
	Path   string
	Offset int
	Reason string
}

func (e *PathError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("%q is not a valid JSON path: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("%q is not a valid JSON path: %s at offset %d", e.Path, e.Reason, e.Offset)
}

func (e *PathError) Unwrap() error {
	return ErrInvalidPath
}

type SegmentKind int

const (
	// SegmentIdentifier is a dotted member, e.g. .memberOf
	SegmentIdentifier SegmentKind = iota
	// SegmentIndex is a numeric component, e.g. [0] or .0
	SegmentIndex
	// SegmentKey is a quoted subscript, e.g. ["memberOf"]
	SegmentKey
)

type Segment struct {
	Kind  SegmentKind
	Name  string
	Index int
}

// Path is a parsed link path: the root followed by at least one segment.
type Path []Segment

// String renders the path with bracketed indexes and double-quoted keys.
func (p Path) String() string {
	var b strings.Builder
	b.WriteByte('$')
	for _, seg := range p {
		switch seg.Kind {
		case SegmentIdentifier:
			b.WriteByte('.')
			b.WriteString(seg.Name)
		case SegmentIndex:
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(seg.Index))
			b.WriteByte(']')
		case SegmentKey:
			b.WriteByte('[')
			b.WriteString(strconv.Quote(seg.Name))
			b.WriteByte(']')
		}
	}
	return b.String()
}

// jp reports failures as "<reason> at <pos> in <path>" with a 1-based pos.
var jpErrorPattern = regexp.MustCompile(`^(.*?) at (\d+) in `)

// ParsePath parses a link path with jp and keeps only the supported subset:
// the root followed by one or more member, index or quoted key components.
// Wildcards, recursive descent, filters, unions, slices and keyword members
// such as .true are rejected.
func ParsePath(path string) (Path, error) {
	fail := func(offset int, reason string) (Path, error) {
		return nil, &PathError{Path: path, Offset: offset, Reason: reason}
	}

	expr, err := jp.ParseString(path)
	if err != nil {
		if m := jpErrorPattern.FindStringSubmatch(err.Error()); m != nil {
			pos, _ := strconv.Atoi(m[2])
			return fail(max(pos-1, 0), m[1])
		}
		return fail(-1, err.Error())
	}
	if len(expr) == 0 {
		return fail(0, "missing root")
	}
	if _, ok := expr[0].(jp.Root); !ok {
		return fail(0, "missing root")
	}
	if len(expr) == 1 {
		return fail(len(path), "path has no components")
	}

	segments := make(Path, 0, len(expr)-1)
	pos := 1
	for _, frag := range expr[1:] {
		switch f := frag.(type) {
		case jp.Child:
			if path[pos] == '.' {
				seg, reason := dottedSegment(string(f))
				if reason != "" {
					return fail(pos+1, reason)
				}
				segments = append(segments, seg)
				pos += 1 + len(f)
				continue
			}
			segments = append(segments, Segment{Kind: SegmentKey, Name: string(f)})
			pos = closingBracket(path, pos) + 1
		case jp.Nth:
			segments = append(segments, Segment{Kind: SegmentIndex, Index: int(f)})
			pos = closingBracket(path, pos) + 1
		default:
			return fail(pos, "unsupported "+componentName(frag)+" component")
		}
	}
	return segments, nil
}

// dottedSegment classifies a member written after a dot. Digits only is a
// numeric component; anything else must be an identifier.
func dottedSegment(name string) (Segment, string) {
	switch name {
	case "true", "false", "null":
		return Segment{}, "unsupported keyword component"
	}
	if name[0] >= '0' && name[0] <= '9' {
		index, err := strconv.Atoi(name)
		if err != nil {
			return Segment{}, "expected identifier"
		}
		return Segment{Kind: SegmentIndex, Index: index}, ""
	}
	for _, r := range name {
		if r != '_' && r != '$' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return Segment{}, "expected identifier"
		}
	}
	return Segment{Kind: SegmentIdentifier, Name: name}, ""
}

// closingBracket returns the offset of the ] closing the subscript that
// opens at start. Quoted keys may contain ] and escaped quotes.
func closingBracket(path string, start int) int {
	var quote byte
	for i := start + 1; i < len(path); i++ {
		c := path[i]
		switch {
		case quote != 0 && c == '\\':
			i++
		case quote != 0 && c == quote:
			quote = 0
		case quote != 0:
		case c == '\'' || c == '"':
			quote = c
		case c == ']':
			return i
		}
	}
	return len(path) - 1
}

func componentName(frag jp.Frag) string {
	switch frag.(type) {
	case jp.Wildcard:
		return "wildcard"
	case jp.Descent:
		return "recursive descent"
	case *jp.Filter:
		return "filter"
	case jp.Slice:
		return "slice"
	case jp.Union:
		return "union"
	default:
		return fmt.Sprintf("%T", frag)
	}
}

func IsPathValid(path string) bool {
	_, err := ParsePath(path)
	return err == nil
}

func ValidatePath(path string) error {
	_, err := ParsePath(path)
	return err
}
