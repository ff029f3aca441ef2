package document

import (
	"encoding/json"
	"errors"
	"testing"
)

const sampleCanvas = `{
	"version": "5.3.0",
	"width": 1800,
	"height": 1200,
	"background": "#ffffff",
	"objects": [
		{"type": "Textbox", "text": "Dear {first_name},", "left": 100, "top": 80, "styles": {"0": {"0": {"fill": "red"}}}},
		{"type": "image", "src": "logo.png", "left": 10, "top": 10},
		{"type": "image", "id": "qr", "src": "placeholder.png", "left": 1500, "top": 900, "scaleX": 0.5},
		{"type": "rect", "fill": "#eee"}
	]
}`

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"text", KindText},
		{"Textbox", KindText},
		{"I-TEXT", KindText},
		{"rich-text", KindText},
		{"image", KindImage},
		{"rect", KindShape},
		{"Circle", KindShape},
		{"group", KindGroup},
		{"svg-blob", KindUnknown},
		{"", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseKind(tt.in); got != tt.want {
				t.Errorf("ParseKind(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(sampleCanvas))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if doc.Width != 1800 || doc.Height != 1200 {
		t.Errorf("size = %vx%v, want 1800x1200", doc.Width, doc.Height)
	}
	if len(doc.Objects) != 4 {
		t.Fatalf("len(Objects) = %d, want 4", len(doc.Objects))
	}
	if doc.Objects[0].Kind != KindText {
		t.Errorf("Objects[0].Kind = %v, want text", doc.Objects[0].Kind)
	}
	if doc.Objects[0].Text() != "Dear {first_name}," {
		t.Errorf("Objects[0].Text() = %q", doc.Objects[0].Text())
	}
	if doc.Objects[2].ID != "qr" {
		t.Errorf("Objects[2].ID = %q, want editor id qr", doc.Objects[2].ID)
	}
	if doc.Objects[1].ID != "#1" {
		t.Errorf("Objects[1].ID = %q, want #1", doc.Objects[1].ID)
	}
}

func TestParseEmpty(t *testing.T) {
	for _, in := range []string{"", "  ", "null"} {
		if _, err := Parse([]byte(in)); !errors.Is(err, ErrEmptyDocument) {
			t.Errorf("Parse(%q) error = %v, want ErrEmptyDocument", in, err)
		}
	}
	if _, err := Parse([]byte("{not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestAssignIDsDuplicates(t *testing.T) {
	doc, err := Parse([]byte(`{"objects":[{"type":"text","id":"a"},{"type":"text","id":"a"},{"type":"text","id":"b"}]}`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	doc.AssignIDs("front")

	want := []string{"front#0", "front#1", "b"}
	for i, w := range want {
		if doc.Objects[i].ID != w {
			t.Errorf("Objects[%d].ID = %q, want %q", i, doc.Objects[i].ID, w)
		}
	}
}

func TestObjectMutationsCopy(t *testing.T) {
	doc, err := Parse([]byte(sampleCanvas))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	orig := doc.Objects[0]
	before := string(orig.Raw())

	changed, err := orig.WithText("Dear Jane,")
	if err != nil {
		t.Fatalf("WithText() error = %v", err)
	}
	changed, err = changed.WithoutStyles()
	if err != nil {
		t.Fatalf("WithoutStyles() error = %v", err)
	}

	if string(orig.Raw()) != before {
		t.Error("original object was mutated")
	}
	if changed.Text() != "Dear Jane," {
		t.Errorf("Text() = %q", changed.Text())
	}
	if _, ok := changed.Prop("styles"); ok {
		t.Error("styles should be removed")
	}
	if changed.Float("left", 0) != 100 {
		t.Errorf("left = %v, want 100", changed.Float("left", 0))
	}

	img, err := doc.Objects[2].WithImageSource("data:image/png;base64,AAAA")
	if err != nil {
		t.Fatalf("WithImageSource() error = %v", err)
	}
	if img.String("src") != "data:image/png;base64,AAAA" {
		t.Errorf("src = %q", img.String("src"))
	}
	if img.Float("scaleX", 0) != 0.5 || img.Float("left", 0) != 1500 {
		t.Error("positional properties must be preserved")
	}
}

func TestCloneIndependent(t *testing.T) {
	doc, err := Parse([]byte(sampleCanvas))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	c := doc.Clone()
	c.Objects[0], _ = c.Objects[0].WithText("changed")
	c.Objects = c.Objects[:1]

	if len(doc.Objects) != 4 || doc.Objects[0].Text() != "Dear {first_name}," {
		t.Error("Clone shares state with the original")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	doc, err := Parse([]byte(sampleCanvas))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}

	again, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse(marshaled) error = %v", err)
	}
	if len(again.Objects) != len(doc.Objects) || again.Width != doc.Width {
		t.Error("round trip lost data")
	}
	if bg, ok := again.Field("background"); !ok || string(bg) != `"#ffffff"` {
		t.Errorf("background = %s, want preserved", bg)
	}
}

func TestGroupChildren(t *testing.T) {
	doc, err := Parse([]byte(`{"objects":[{"type":"group","left":5,"objects":[{"type":"text","text":"{city}"},{"type":"rect"}]}]}`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	group := doc.Objects[0]
	if group.Kind != KindGroup {
		t.Fatalf("Kind = %v, want group", group.Kind)
	}

	children, err := group.Children()
	if err != nil {
		t.Fatalf("Children() error = %v", err)
	}
	if len(children) != 2 || children[0].ID != "#0/0" || children[0].Kind != KindText {
		t.Fatalf("children = %+v", children)
	}

	children[0], _ = children[0].WithText("Springfield")
	updated, err := group.WithChildren(children)
	if err != nil {
		t.Fatalf("WithChildren() error = %v", err)
	}
	again, _ := updated.Children()
	if again[0].Text() != "Springfield" {
		t.Errorf("child text = %q", again[0].Text())
	}
	if updated.Float("left", 0) != 5 {
		t.Error("group properties must be preserved")
	}
	if orig, _ := group.Children(); orig[0].Text() != "{city}" {
		t.Error("original group was mutated")
	}
}
