// Package path decodes and builds host resource strings such as
// "dataContext[Mammals].collection[species].allCases" into typed addresses.
package path

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies what a resource address designates.
type Kind int

const (
	KindUnknown Kind = iota
	KindContextList
	KindContext
	KindCollectionList
	KindCollection
	KindAllCases
	KindCases
	KindCaseByID
	KindItem
	KindContextChangeNotice
	KindDocumentChangeNotice
)

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	KindContextList:          "dataContextList",
	KindContext:              "dataContext",
	KindCollectionList:       "collectionList",
	KindCollection:           "collection",
	KindAllCases:             "allCases",
	KindCases:                "case",
	KindCaseByID:             "caseByID",
	KindItem:                 "item",
	KindContextChangeNotice:  "dataContextChangeNotice",
	KindDocumentChangeNotice: "documentChangeNotice",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Segment is one dotted component of a resource string: a word with an
// optional bracketed argument.
type Segment struct {
	Word   string
	Arg    string
	HasArg bool
}

func (s Segment) String() string {
	if s.HasArg {
		return s.Word + "[" + s.Arg + "]"
	}
	return s.Word
}

// Address is a decoded resource string.
type Address struct {
	Kind       Kind
	Context    string
	Collection string
	CaseID     int64
	Segments   []Segment
	Raw        string
}

var wordPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)

// splitSegments splits on dots that are outside brackets.
func splitSegments(resource string) ([]Segment, error) {
	var segs []Segment
	var word, arg strings.Builder
	inArg, hasArg := false, false

	flush := func() error {
		w := word.String()
		if !wordPattern.MatchString(w) {
			return fmt.Errorf("invalid resource segment %q", w)
		}
		segs = append(segs, Segment{Word: w, Arg: arg.String(), HasArg: hasArg})
		word.Reset()
		arg.Reset()
		hasArg = false
		return nil
	}

	for i := 0; i < len(resource); i++ {
		c := resource[i]
		switch {
		case inArg && c == ']':
			inArg = false
			hasArg = true
		case inArg:
			arg.WriteByte(c)
		case c == '[':
			if hasArg {
				return nil, fmt.Errorf("unexpected '[' at %d", i)
			}
			inArg = true
		case c == '.':
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			if hasArg {
				return nil, fmt.Errorf("unexpected %q after ']' at %d", c, i)
			}
			word.WriteByte(c)
		}
	}
	if inArg {
		return nil, fmt.Errorf("unterminated '[' in %q", resource)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return segs, nil
}

// Parse decodes a resource string once, at ingress.
// Examples:
//   - "dataContextList"
//   - "dataContext[Mammals]"
//   - "dataContext[Mammals].collection[species].allCases"
//   - "dataContext[Mammals].caseByID[12]"
//   - "dataContextChangeNotice[Mammals]"
//   - "documentChangeNotice"
func Parse(resource string) (*Address, error) {
	if resource == "" {
		return nil, fmt.Errorf("empty resource")
	}
	segs, err := splitSegments(resource)
	if err != nil {
		return nil, err
	}

	a := &Address{Segments: segs, Raw: resource}
	first := segs[0]
	switch first.Word {
	case "dataContextList":
		a.Kind = KindContextList
		return a, expectLen(a, 1)
	case "documentChangeNotice":
		a.Kind = KindDocumentChangeNotice
		return a, expectLen(a, 1)
	case "dataContextChangeNotice":
		if !first.HasArg || first.Arg == "" {
			return nil, fmt.Errorf("missing context name in %q", resource)
		}
		a.Kind = KindContextChangeNotice
		a.Context = first.Arg
		return a, expectLen(a, 1)
	case "dataContext":
		if !first.HasArg && len(segs) == 1 {
			// Creation target for new contexts.
			a.Kind = KindContextList
			return a, nil
		}
		if first.Arg == "" {
			return nil, fmt.Errorf("missing context name in %q", resource)
		}
		a.Context = first.Arg
	default:
		return nil, fmt.Errorf("unknown resource %q", first.Word)
	}

	a.Kind = KindContext
	for i, seg := range segs[1:] {
		switch seg.Word {
		case "collectionList":
			a.Kind = KindCollectionList
		case "collection":
			if !seg.HasArg {
				// Creation target for new collections.
				a.Kind = KindCollectionList
				break
			}
			a.Kind = KindCollection
			a.Collection = seg.Arg
		case "allCases":
			if a.Kind != KindCollection {
				return nil, fmt.Errorf("allCases requires a collection in %q", resource)
			}
			a.Kind = KindAllCases
		case "case":
			if a.Kind != KindCollection {
				return nil, fmt.Errorf("case requires a collection in %q", resource)
			}
			a.Kind = KindCases
		case "caseByID":
			id, err := strconv.ParseInt(seg.Arg, 10, 64)
			if err != nil || !seg.HasArg {
				return nil, fmt.Errorf("invalid case id %q in %q", seg.Arg, resource)
			}
			a.Kind = KindCaseByID
			a.CaseID = id
		case "item":
			a.Kind = KindItem
		default:
			return nil, fmt.Errorf("unknown resource segment %q at %d in %q", seg.Word, i+1, resource)
		}
	}
	return a, nil
}

func expectLen(a *Address, n int) error {
	if len(a.Segments) != n {
		return fmt.Errorf("unexpected segments after %s in %q", a.Kind, a.Raw)
	}
	return nil
}

// String reconstructs the canonical resource string.
func (a *Address) String() string {
	parts := make([]string, len(a.Segments))
	for i, seg := range a.Segments {
		parts[i] = seg.String()
	}
	return strings.Join(parts, ".")
}

// Builder assembles resource strings without hand-written concatenation.
type Builder struct {
	segs []Segment
}

// ContextList addresses the listing of all contexts.
func ContextList() string {
	return "dataContextList"
}

// NewContext is the creation target for contexts.
func NewContext() string {
	return "dataContext"
}

// DocumentChangeNotice addresses document-level notifications.
func DocumentChangeNotice() string {
	return "documentChangeNotice"
}

// ContextChangeNotice addresses per-context notifications.
func ContextChangeNotice(name string) string {
	return "dataContextChangeNotice[" + name + "]"
}

// Context starts a resource rooted at the named context.
func Context(name string) *Builder {
	return &Builder{segs: []Segment{{Word: "dataContext", Arg: name, HasArg: true}}}
}

func (b *Builder) add(seg Segment) *Builder {
	segs := make([]Segment, len(b.segs), len(b.segs)+1)
	copy(segs, b.segs)
	return &Builder{segs: append(segs, seg)}
}

// Collection narrows to a named collection.
func (b *Builder) Collection(name string) *Builder {
	return b.add(Segment{Word: "collection", Arg: name, HasArg: true})
}

// NewCollections is the creation target for collections.
func (b *Builder) NewCollections() *Builder {
	return b.add(Segment{Word: "collection"})
}

// CollectionList addresses the context's collection listing.
func (b *Builder) CollectionList() *Builder {
	return b.add(Segment{Word: "collectionList"})
}

// AllCases addresses every case of the current collection.
func (b *Builder) AllCases() *Builder {
	return b.add(Segment{Word: "allCases"})
}

// Cases is the creation target for cases of the current collection.
func (b *Builder) Cases() *Builder {
	return b.add(Segment{Word: "case"})
}

// CaseByID addresses a single case by id.
func (b *Builder) CaseByID(id int64) *Builder {
	return b.add(Segment{Word: "caseByID", Arg: strconv.FormatInt(id, 10), HasArg: true})
}

// Item addresses the flat item interface of the context.
func (b *Builder) Item() *Builder {
	return b.add(Segment{Word: "item"})
}

func (b *Builder) String() string {
	a := Address{Segments: b.segs}
	return a.String()
}
