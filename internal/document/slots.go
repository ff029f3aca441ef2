package document

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SlotKind classifies what a variable region holds
type SlotKind string

const (
	SlotPlainText     SlotKind = "plainText"
	SlotPersonName    SlotKind = "personName"
	SlotPersonAddress SlotKind = "personAddress"
	SlotPhoneNumber   SlotKind = "phoneNumber"
	SlotEmailAddress  SlotKind = "emailAddress"
	SlotTrackingCode  SlotKind = "trackingCode"
	SlotOther         SlotKind = "other"
)

// ParseSlotKind maps stored slot type spellings onto a SlotKind.
// Unknown values map to SlotOther.
func ParseSlotKind(s string) SlotKind {
	switch normalizeKind(s) {
	case "plaintext", "text":
		return SlotPlainText
	case "personname", "name", "fullname", "firstname", "recipientname":
		return SlotPersonName
	case "personaddress", "address", "mailingaddress", "fulladdress":
		return SlotPersonAddress
	case "phonenumber", "phone", "telephone":
		return SlotPhoneNumber
	case "emailaddress", "email":
		return SlotEmailAddress
	case "trackingcode", "tracking", "qr", "qrcode", "code", "barcode":
		return SlotTrackingCode
	default:
		return SlotOther
	}
}

func normalizeKind(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
}

// SlotMeta describes one variable region.
// Shared regions (logos, boilerplate) are never personalized.
type SlotMeta struct {
	Kind   SlotKind `json:"slotKind"`
	Shared bool     `json:"isShared"`
}

// UnmarshalJSON accepts the current and the legacy field names
func (m *SlotMeta) UnmarshalJSON(data []byte) error {
	var raw struct {
		SlotKind     string `json:"slotKind"`
		Type         string `json:"type"`
		VariableType string `json:"variableType"`
		IsShared     *bool  `json:"isShared"`
		IsReusable   *bool  `json:"isReusable"`
		Reusable     *bool  `json:"reusable"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	kind := raw.SlotKind
	if kind == "" {
		kind = raw.Type
	}
	if kind == "" {
		kind = raw.VariableType
	}
	m.Kind = ParseSlotKind(kind)

	for _, b := range []*bool{raw.IsShared, raw.IsReusable, raw.Reusable} {
		if b != nil {
			m.Shared = *b
			break
		}
	}
	return nil
}

// SlotMetadata maps a stringified object index to its slot description
type SlotMetadata map[string]SlotMeta

// ParseSlotMetadata decodes stored slot metadata. Empty input yields nil.
func ParseSlotMetadata(data []byte) (SlotMetadata, error) {
	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" {
		return nil, nil
	}
	var meta SlotMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse slot metadata: %w", err)
	}
	return meta, nil
}

// Effective returns the first non-empty metadata map in priority order
func Effective(levels ...SlotMetadata) SlotMetadata {
	for _, m := range levels {
		if len(m) > 0 {
			return m
		}
	}
	return nil
}

// Slot is slot metadata bound to a concrete object
type Slot struct {
	ObjectID string
	Index    int
	Kind     SlotKind
	Shared   bool
}

// Slots is the resolved, identifier-keyed form of SlotMetadata
type Slots struct {
	byID    map[string]Slot
	ordered []Slot
}

// Resolve binds index-keyed metadata to the document's object identifiers.
// Keys that are not integers or point past the object list are returned as
// stale and otherwise ignored.
func Resolve(doc *Document, meta SlotMetadata) (Slots, []string) {
	slots := Slots{byID: make(map[string]Slot, len(meta))}
	var stale []string

	for key, m := range meta {
		idx, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || doc == nil || idx < 0 || idx >= len(doc.Objects) {
			stale = append(stale, key)
			continue
		}
		obj := doc.Objects[idx]
		slot := Slot{ObjectID: obj.ID, Index: idx, Kind: m.Kind, Shared: m.Shared}
		if slot.Kind == "" {
			slot.Kind = SlotOther
		}
		slots.byID[obj.ID] = slot
		slots.ordered = append(slots.ordered, slot)
	}

	sort.Slice(slots.ordered, func(i, j int) bool {
		return slots.ordered[i].Index < slots.ordered[j].Index
	})
	sort.Strings(stale)

	return slots, stale
}

// Lookup returns the slot bound to an object
func (s Slots) Lookup(objectID string) (Slot, bool) {
	slot, ok := s.byID[objectID]
	return slot, ok
}

// All returns slots ordered by object index
func (s Slots) All() []Slot {
	out := make([]Slot, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// Len returns the number of resolved slots
func (s Slots) Len() int {
	return len(s.ordered)
}
