// Package document models serialized canvas templates: an ordered list of
// drawable objects plus canvas-level properties. Objects keep their original
// JSON so anything the engine does not touch is re-emitted byte-for-byte.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrEmptyDocument is returned when there is nothing to parse
var ErrEmptyDocument = errors.New("document is empty")

// Object is one drawable element of a canvas
type Object struct {
	ID    string // stable identifier, resolved at load time
	Index int    // position in the surface's object list
	Kind  Kind
	Type  string // type string as stored

	raw json.RawMessage
}

// Document is a parsed canvas
type Document struct {
	Width   float64
	Height  float64
	Objects []Object

	// every top-level field except "objects"
	fields map[string]json.RawMessage
}

// Parse decodes a canvas document and assigns object identifiers
func Parse(data []byte) (*Document, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, ErrEmptyDocument
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	doc := &Document{fields: fields}

	if raw, ok := fields["objects"]; ok {
		delete(fields, "objects")

		var objects []json.RawMessage
		if err := json.Unmarshal(raw, &objects); err != nil {
			return nil, fmt.Errorf("failed to parse document objects: %w", err)
		}

		doc.Objects = make([]Object, 0, len(objects))
		for i, rawObj := range objects {
			obj, err := newObject(i, rawObj)
			if err != nil {
				return nil, fmt.Errorf("object %d: %w", i, err)
			}
			doc.Objects = append(doc.Objects, obj)
		}
	}

	doc.Width = numberField(fields, "width")
	doc.Height = numberField(fields, "height")
	doc.AssignIDs("")

	return doc, nil
}

func newObject(index int, raw json.RawMessage) (Object, error) {
	var head struct {
		Type string          `json:"type"`
		ID   json.RawMessage `json:"id"`
		Name string          `json:"name"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Object{}, fmt.Errorf("failed to parse object: %w", err)
	}

	obj := Object{
		Index: index,
		Kind:  ParseKind(head.Type),
		Type:  head.Type,
		raw:   append(json.RawMessage(nil), raw...),
	}
	obj.ID = ownID(head.ID, head.Name)
	return obj, nil
}

// ownID returns the identifier the editor stored on the object, if any
func ownID(id json.RawMessage, name string) string {
	if len(id) > 0 {
		var s string
		if err := json.Unmarshal(id, &s); err == nil && s != "" {
			return s
		}
		var n json.Number
		if err := json.Unmarshal(id, &n); err == nil {
			return n.String()
		}
	}
	return name
}

// AssignIDs resolves a stable identifier for every object.
// Editor-provided ids are kept when unique within the document; everything
// else gets "<prefix>#<index>".
func (d *Document) AssignIDs(prefix string) {
	seen := make(map[string]int, len(d.Objects))
	for i := range d.Objects {
		var head struct {
			ID   json.RawMessage `json:"id"`
			Name string          `json:"name"`
		}
		_ = json.Unmarshal(d.Objects[i].raw, &head)
		if id := ownID(head.ID, head.Name); id != "" {
			seen[id]++
		}
	}

	for i := range d.Objects {
		var head struct {
			ID   json.RawMessage `json:"id"`
			Name string          `json:"name"`
		}
		_ = json.Unmarshal(d.Objects[i].raw, &head)
		id := ownID(head.ID, head.Name)
		if id == "" || seen[id] > 1 {
			id = prefix + "#" + strconv.Itoa(i)
		}
		d.Objects[i].ID = id
	}
}

// Object returns the object with the given identifier
func (d *Document) Object(id string) (Object, bool) {
	for _, obj := range d.Objects {
		if obj.ID == id {
			return obj, true
		}
	}
	return Object{}, false
}

// Field returns a raw top-level canvas property
func (d *Document) Field(name string) (json.RawMessage, bool) {
	v, ok := d.fields[name]
	return v, ok
}

// Clone returns a deep copy
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := &Document{
		Width:   d.Width,
		Height:  d.Height,
		Objects: make([]Object, len(d.Objects)),
		fields:  make(map[string]json.RawMessage, len(d.fields)),
	}
	for k, v := range d.fields {
		c.fields[k] = append(json.RawMessage(nil), v...)
	}
	for i, obj := range d.Objects {
		c.Objects[i] = obj.clone()
	}
	return c
}

// MarshalJSON encodes the document back to canvas JSON
func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(d.fields)+1)
	for k, v := range d.fields {
		out[k] = v
	}

	objects := make([]json.RawMessage, len(d.Objects))
	for i, obj := range d.Objects {
		objects[i] = obj.raw
	}
	raw, err := json.Marshal(objects)
	if err != nil {
		return nil, err
	}
	out["objects"] = raw

	return json.Marshal(out)
}

// Raw returns a copy of the object's JSON
func (o Object) Raw() json.RawMessage {
	return append(json.RawMessage(nil), o.raw...)
}

func (o Object) clone() Object {
	c := o
	c.raw = append(json.RawMessage(nil), o.raw...)
	return c
}

func (o Object) props() (map[string]json.RawMessage, error) {
	var props map[string]json.RawMessage
	if err := json.Unmarshal(o.raw, &props); err != nil {
		return nil, fmt.Errorf("failed to decode object %s: %w", o.ID, err)
	}
	return props, nil
}

// Prop returns a raw property value
func (o Object) Prop(name string) (json.RawMessage, bool) {
	props, err := o.props()
	if err != nil {
		return nil, false
	}
	v, ok := props[name]
	return v, ok
}

// String returns a string property, or "" when absent or not a string
func (o Object) String(name string) string {
	raw, ok := o.Prop(name)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Float returns a numeric property, or def when absent
func (o Object) Float(name string, def float64) float64 {
	raw, ok := o.Prop(name)
	if !ok {
		return def
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return def
	}
	return f
}

// Text returns the object's text content
func (o Object) Text() string {
	return o.String("text")
}

// WithProp returns a copy of the object with one property set
func (o Object) WithProp(name string, value any) (Object, error) {
	return o.with(func(props map[string]json.RawMessage) error {
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		props[name] = raw
		return nil
	})
}

// WithText returns a copy of the object with its text replaced
func (o Object) WithText(text string) (Object, error) {
	return o.WithProp("text", text)
}

// WithoutStyles returns a copy of the object without character-offset styles
func (o Object) WithoutStyles() (Object, error) {
	if _, ok := o.Prop("styles"); !ok {
		return o.clone(), nil
	}
	return o.with(func(props map[string]json.RawMessage) error {
		delete(props, "styles")
		return nil
	})
}

// WithImageSource returns a copy of the object with only "src" replaced
func (o Object) WithImageSource(src string) (Object, error) {
	return o.WithProp("src", src)
}

// Children returns the nested objects of a group
func (o Object) Children() ([]Object, error) {
	raw, ok := o.Prop("objects")
	if !ok {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to decode children of %s: %w", o.ID, err)
	}
	children := make([]Object, 0, len(items))
	for i, item := range items {
		child, err := newObject(i, item)
		if err != nil {
			return nil, err
		}
		child.ID = o.ID + "/" + strconv.Itoa(i)
		children = append(children, child)
	}
	return children, nil
}

// WithChildren returns a copy of the group with its nested objects replaced
func (o Object) WithChildren(children []Object) (Object, error) {
	return o.with(func(props map[string]json.RawMessage) error {
		items := make([]json.RawMessage, len(children))
		for i, child := range children {
			items[i] = child.raw
		}
		raw, err := json.Marshal(items)
		if err != nil {
			return err
		}
		props["objects"] = raw
		return nil
	})
}

func (o Object) with(mutate func(map[string]json.RawMessage) error) (Object, error) {
	props, err := o.props()
	if err != nil {
		return Object{}, err
	}
	if err := mutate(props); err != nil {
		return Object{}, fmt.Errorf("failed to update object %s: %w", o.ID, err)
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return Object{}, fmt.Errorf("failed to encode object %s: %w", o.ID, err)
	}
	c := o
	c.raw = raw
	return c, nil
}

func numberField(fields map[string]json.RawMessage, name string) float64 {
	raw, ok := fields[name]
	if !ok {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0
	}
	return f
}
