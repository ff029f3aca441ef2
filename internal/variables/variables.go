// Package variables lists the variable slots of a template so callers can
// show which regions vary per recipient and which need a field mapping.
package variables

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/foxzi/vdpress/internal/document"
)

var tokenRe = regexp.MustCompile(`\{([^{}]+)\}`)

// Variable is one variable slot of a template surface
type Variable struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"displayName"`
	SlotKind    document.SlotKind `json:"slotKind"`
	Shared      bool              `json:"isShared"`
	SurfaceSide string            `json:"surfaceSide"`
	ObjectIndex int               `json:"objectIndex"`
}

// Extract returns every slot of every surface, ordered by surface
// and then by object index. Shared and tracking slots are included.
func Extract(surfaces []*document.Surface) []Variable {
	var vars []Variable
	for _, s := range surfaces {
		if s == nil || s.Document == nil {
			continue
		}
		for _, slot := range s.Slots.All() {
			obj, ok := s.Document.Object(slot.ObjectID)
			if !ok {
				continue
			}
			vars = append(vars, Variable{
				ID:          slot.ObjectID,
				DisplayName: displayName(obj, slot),
				SlotKind:    slot.Kind,
				Shared:      slot.Shared,
				SurfaceSide: s.Side,
				ObjectIndex: slot.Index,
			})
		}
	}
	return vars
}

// NeedsMapping filters out slots the engine handles on its own
func NeedsMapping(vars []Variable) []Variable {
	out := make([]Variable, 0, len(vars))
	for _, v := range vars {
		if v.Shared || v.SlotKind == document.SlotTrackingCode {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Token returns the inner name of the first {placeholder} in text
func Token(text string) (string, bool) {
	m := tokenRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	name := strings.TrimSpace(m[1])
	return name, name != ""
}

// Tokens returns the inner names of all {placeholder}s in text, in order
func Tokens(text string) []string {
	var names []string
	for _, m := range tokenRe.FindAllStringSubmatch(text, -1) {
		if name := strings.TrimSpace(m[1]); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func displayName(obj document.Object, slot document.Slot) string {
	if obj.Kind == document.KindText {
		if name, ok := Token(obj.Text()); ok {
			return name
		}
	}
	switch slot.Kind {
	case "", document.SlotOther, document.SlotPlainText:
		return "variable_" + strconv.Itoa(slot.Index)
	default:
		return string(slot.Kind)
	}
}
