package document

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	SideFront = "front"
	SideBack  = "back"
)

// Source is the stored form of one printable side
type Source struct {
	Side         string          `json:"side"`
	Document     json.RawMessage `json:"document"`
	SlotMetadata SlotMetadata    `json:"slotMetadata,omitempty"`
}

// Layout is everything a template stores about its surfaces.
// Document/SlotMetadata is the legacy single-surface shape.
type Layout struct {
	Document     json.RawMessage
	SlotMetadata SlotMetadata
	Surfaces     []Source
}

// Surface is a loaded printable side with resolved slots
type Surface struct {
	Side     string
	Document *Document
	Metadata SlotMetadata
	Slots    Slots
	Stale    []string // metadata keys that matched no object
}

// Load parses every surface of the layout. When the layout carries a
// surface list it wins over the legacy single document. Slot metadata
// priority is surface, then template, then the campaign snapshot.
func (l Layout) Load(snapshot SlotMetadata) ([]*Surface, error) {
	if len(l.Surfaces) > 0 {
		surfaces := make([]*Surface, 0, len(l.Surfaces))
		for i, src := range l.Surfaces {
			side := strings.TrimSpace(src.Side)
			if side == "" {
				side = defaultSide(i)
			}
			s, err := loadSurface(side, src.Document, Effective(src.SlotMetadata, l.SlotMetadata, snapshot))
			if err != nil {
				return nil, err
			}
			surfaces = append(surfaces, s)
		}
		return surfaces, nil
	}

	if len(l.Document) == 0 {
		return nil, ErrEmptyDocument
	}
	s, err := loadSurface(SideFront, l.Document, Effective(l.SlotMetadata, snapshot))
	if err != nil {
		return nil, err
	}
	return []*Surface{s}, nil
}

func loadSurface(side string, data json.RawMessage, meta SlotMetadata) (*Surface, error) {
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("surface %s: %w", side, err)
	}
	doc.AssignIDs(side)

	slots, stale := Resolve(doc, meta)
	return &Surface{
		Side:     side,
		Document: doc,
		Metadata: meta,
		Slots:    slots,
		Stale:    stale,
	}, nil
}

func defaultSide(i int) string {
	switch i {
	case 0:
		return SideFront
	case 1:
		return SideBack
	default:
		return fmt.Sprintf("side_%d", i+1)
	}
}

// Pick returns the front surface and, when present, the back surface
func Pick(surfaces []*Surface) (front, back *Surface) {
	for _, s := range surfaces {
		switch strings.ToLower(s.Side) {
		case SideFront:
			if front == nil {
				front = s
			}
		case SideBack:
			if back == nil {
				back = s
			}
		}
	}
	if front == nil {
		for _, s := range surfaces {
			if s != back {
				front = s
				break
			}
		}
	}
	if back == nil {
		for _, s := range surfaces {
			if s != front {
				back = s
				break
			}
		}
	}
	return front, back
}
