package document

import "strings"

// Kind is the drawable variant of a canvas object
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindImage
	KindShape
	KindGroup
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	case KindShape:
		return "shape"
	case KindGroup:
		return "group"
	default:
		return "unknown"
	}
}

// ParseKind maps an object "type" string onto a Kind.
// Matching is case-insensitive and tolerates legacy editor spellings.
func ParseKind(t string) Kind {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "text", "textbox", "i-text", "itext", "rich-text", "richtext", "rich_text":
		return KindText
	case "image", "img", "picture":
		return KindImage
	case "rect", "rectangle", "circle", "ellipse", "triangle", "line", "polygon", "polyline", "path":
		return KindShape
	case "group":
		return KindGroup
	default:
		return KindUnknown
	}
}
