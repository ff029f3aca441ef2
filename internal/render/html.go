package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"strconv"
	"strings"

	"github.com/foxzi/vdpress/internal/document"
)

// CSS pixels per inch
const cssDPI = 96

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
@page { size: {{.WidthIn}}in {{.HeightIn}}in; margin: 0; }
html, body { margin: 0; padding: 0; }
.page { position: relative; overflow: hidden; width: {{.WidthIn}}in; height: {{.HeightIn}}in; page-break-after: always; }
.page:last-child { page-break-after: auto; }
.canvas { position: absolute; left: 0; top: 0; transform-origin: 0 0; }
.obj { position: absolute; box-sizing: border-box; transform-origin: 0 0; }
.text { white-space: pre-wrap; overflow-wrap: break-word; }
</style>
</head>
<body>
{{range .Pages}}<section class="page" data-side="{{.Side}}"><div class="canvas" style="{{.Style}}">{{template "objects" .Objects}}</div></section>
{{end}}</body>
</html>
{{define "objects"}}{{range .}}{{if eq .Kind "text"}}<div class="obj text" style="{{.Style}}">{{.Text}}</div>{{else if eq .Kind "image"}}<img class="obj" style="{{.Style}}" src="{{.Src}}" alt="">{{else if eq .Kind "group"}}<div class="obj" style="{{.Style}}">{{template "objects" .Children}}</div>{{else}}<div class="obj" style="{{.Style}}"></div>{{end}}{{end}}{{end}}`))

type pageView struct {
	Title    string
	WidthIn  float64
	HeightIn float64
	Pages    []surfaceView
}

type surfaceView struct {
	Side    string
	Style   template.CSS
	Objects []elementView
}

type elementView struct {
	Kind     string
	Style    template.CSS
	Text     string
	Src      template.URL
	Children []elementView
}

// HTML lays the job's surfaces out as a print page, one page per surface
func HTML(job Job) ([]byte, error) {
	if err := job.validate(); err != nil {
		return nil, err
	}

	view := pageView{
		Title:    job.Fields["fullName"],
		WidthIn:  job.Format.WidthIn,
		HeightIn: job.Format.HeightIn,
	}
	if view.Title == "" {
		view.Title = job.Format.Label
	}

	sides := []struct {
		name string
		doc  *document.Document
	}{{document.SideFront, job.Front}, {document.SideBack, job.Back}}

	for _, s := range sides {
		if s.doc == nil {
			continue
		}
		view.Pages = append(view.Pages, surfaceView{
			Side:    s.name,
			Style:   canvasStyle(s.doc, job.Format),
			Objects: elements(s.doc.Objects),
		})
	}

	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("failed to render page: %w", err)
	}
	return buf.Bytes(), nil
}

// canvasStyle scales the canvas to fill the page
func canvasStyle(doc *document.Document, f Format) template.CSS {
	w, h := doc.Width, doc.Height
	if w <= 0 {
		w = float64(f.WidthPx())
	}
	if h <= 0 {
		h = float64(f.HeightPx())
	}

	scale := f.WidthIn * cssDPI / w
	if sy := f.HeightIn * cssDPI / h; sy < scale {
		scale = sy
	}

	var b strings.Builder
	fmt.Fprintf(&b, "width:%spx;height:%spx;transform:scale(%s);", num(w), num(h), num(scale))
	if bg := fieldString(doc, "background"); bg != "" {
		fmt.Fprintf(&b, "background:%s;", cssValue(bg))
	}
	return template.CSS(b.String())
}

func elements(objects []document.Object) []elementView {
	out := make([]elementView, 0, len(objects))
	for _, obj := range objects {
		if v, ok := obj.Prop("visible"); ok && string(v) == "false" {
			continue
		}
		el, ok := element(obj)
		if ok {
			out = append(out, el)
		}
	}
	return out
}

func element(obj document.Object) (elementView, bool) {
	var b strings.Builder
	w := obj.Float("width", 0)
	h := obj.Float("height", 0)
	if r := obj.Float("radius", 0); r > 0 && w == 0 {
		w, h = 2*r, 2*r
	}
	sx := obj.Float("scaleX", 1)
	sy := obj.Float("scaleY", 1)

	left := obj.Float("left", 0) - originOffset(obj.String("originX"), "right", w*sx)
	top := obj.Float("top", 0) - originOffset(obj.String("originY"), "bottom", h*sy)

	fmt.Fprintf(&b, "left:%spx;top:%spx;", num(left), num(top))
	if w > 0 {
		fmt.Fprintf(&b, "width:%spx;", num(w))
	}
	if h > 0 {
		fmt.Fprintf(&b, "height:%spx;", num(h))
	}

	var transforms []string
	if sx != 1 || sy != 1 {
		transforms = append(transforms, fmt.Sprintf("scale(%s,%s)", num(sx), num(sy)))
	}
	if a := obj.Float("angle", 0); a != 0 {
		transforms = append(transforms, fmt.Sprintf("rotate(%sdeg)", num(a)))
	}
	if len(transforms) > 0 {
		fmt.Fprintf(&b, "transform:%s;", strings.Join(transforms, " "))
	}
	if o := obj.Float("opacity", 1); o != 1 {
		fmt.Fprintf(&b, "opacity:%s;", num(o))
	}

	el := elementView{}
	switch obj.Kind {
	case document.KindText:
		el.Kind = "text"
		el.Text = obj.Text()
		fmt.Fprintf(&b, "font-size:%spx;", num(obj.Float("fontSize", 40)))
		fmt.Fprintf(&b, "line-height:%s;", num(obj.Float("lineHeight", 1.16)))
		if v := obj.String("fontFamily"); v != "" {
			fmt.Fprintf(&b, "font-family:%s;", cssValue(v))
		}
		if v := propString(obj, "fontWeight"); v != "" {
			fmt.Fprintf(&b, "font-weight:%s;", cssValue(v))
		}
		if v := obj.String("fontStyle"); v != "" {
			fmt.Fprintf(&b, "font-style:%s;", cssValue(v))
		}
		if v := obj.String("textAlign"); v != "" {
			fmt.Fprintf(&b, "text-align:%s;", cssValue(v))
		}
		if v := obj.String("fill"); v != "" {
			fmt.Fprintf(&b, "color:%s;", cssValue(v))
		}
		if v, ok := obj.Prop("underline"); ok && string(v) == "true" {
			b.WriteString("text-decoration:underline;")
		}

	case document.KindImage:
		src, ok := safeSource(obj.String("src"))
		if !ok {
			return el, false
		}
		el.Kind = "image"
		el.Src = src

	case document.KindGroup:
		el.Kind = "group"
		children, err := obj.Children()
		if err != nil {
			return el, false
		}
		// group children are positioned relative to the group center
		for i := range children {
			if moved, err := offsetChild(children[i], w/2, h/2); err == nil {
				children[i] = moved
			}
		}
		el.Children = elements(children)

	case document.KindShape:
		el.Kind = "shape"
		if v := obj.String("fill"); v != "" {
			fmt.Fprintf(&b, "background:%s;", cssValue(v))
		}
		if v := obj.String("stroke"); v != "" {
			fmt.Fprintf(&b, "border:%spx solid %s;", num(obj.Float("strokeWidth", 1)), cssValue(v))
		}
		switch strings.ToLower(obj.Type) {
		case "circle", "ellipse":
			b.WriteString("border-radius:50%;")
		default:
			if rx := obj.Float("rx", 0); rx > 0 {
				fmt.Fprintf(&b, "border-radius:%spx;", num(rx))
			}
		}

	default:
		return el, false
	}

	el.Style = template.CSS(b.String())
	return el, true
}

func offsetChild(obj document.Object, dx, dy float64) (document.Object, error) {
	moved, err := obj.WithProp("left", obj.Float("left", 0)+dx)
	if err != nil {
		return obj, err
	}
	return moved.WithProp("top", obj.Float("top", 0)+dy)
}

func originOffset(origin, far string, size float64) float64 {
	switch strings.ToLower(origin) {
	case "center":
		return size / 2
	case far:
		return size
	default:
		return 0
	}
}

// safeSource allows web and inline image sources only
func safeSource(src string) (template.URL, bool) {
	s := strings.TrimSpace(src)
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "data:image/"),
		strings.HasPrefix(lower, "https://"),
		strings.HasPrefix(lower, "http://"):
		return template.URL(s), true
	default:
		return "", false
	}
}

// cssValue strips characters that could end the declaration
func cssValue(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ';', '{', '}', '<', '>', '\\', '"', '\'':
			return -1
		}
		return r
	}, s)
}

func propString(obj document.Object, name string) string {
	raw, ok := obj.Prop(name)
	if !ok {
		return ""
	}
	return strings.Trim(string(raw), `"`)
}

func fieldString(doc *document.Document, name string) string {
	raw, ok := doc.Field(name)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
