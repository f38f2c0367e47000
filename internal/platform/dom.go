package platform

import "strings"

// Rect is an element's bounding box in viewport coordinates.
type Rect struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Contains reports whether the point lies inside the box.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.Left && x < r.Left+r.Width && y >= r.Top && y < r.Top+r.Height
}

// Element is a snapshot of a DOM element.
type Element struct {
	Tag       string            `json:"tag"`
	ID        string            `json:"id,omitempty"`
	Classes   []string          `json:"classes,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	Name      string            `json:"name,omitempty"`
	InputType string            `json:"inputType,omitempty"`
	Value     string            `json:"value,omitempty"`
	Text      string            `json:"text,omitempty"`
	Src       string            `json:"src,omitempty"`
	Href      string            `json:"href,omitempty"`
	OuterHTML string            `json:"outerHtml,omitempty"`
	Rect      Rect              `json:"rect"`
	// Hidden is set when computed style makes the element invisible
	// (display none, visibility hidden or zero opacity).
	Hidden bool     `json:"hidden,omitempty"`
	Parent *Element `json:"parent,omitempty"`
}

// TagName is the lower-case tag.
func (e *Element) TagName() string {
	return strings.ToLower(e.Tag)
}

// IsDocumentRoot reports whether the element is html or body.
func (e *Element) IsDocumentRoot() bool {
	t := e.TagName()
	return t == "html" || t == "body"
}

// HasClass reports whether c is one of the element's classes.
func (e *Element) HasClass(c string) bool {
	for _, have := range e.Classes {
		if have == c {
			return true
		}
	}
	return false
}

// HasAttr reports whether the attribute is present.
func (e *Element) HasAttr(name string) bool {
	_, ok := e.Attrs[name]
	return ok
}

// SourceURL returns src, falling back to href.
func (e *Element) SourceURL() string {
	if e.Src != "" {
		return e.Src
	}
	return e.Href
}

// Matches supports the simple selectors "#id", ".class" and "tag".
func (e *Element) Matches(selector string) bool {
	switch {
	case selector == "":
		return false
	case strings.HasPrefix(selector, "#"):
		return e.ID == selector[1:]
	case strings.HasPrefix(selector, "."):
		return e.HasClass(selector[1:])
	default:
		return strings.EqualFold(e.Tag, selector)
	}
}

// Selector describes the element as "tag#id" or "tag.class1.class2".
func (e *Element) Selector() string {
	return e.selector(-1)
}

func (e *Element) selector(maxClasses int) string {
	tag := e.TagName()
	if e.ID != "" {
		return tag + "#" + e.ID
	}
	classes := e.Classes
	if maxClasses >= 0 && len(classes) > maxClasses {
		classes = classes[:maxClasses]
	}
	if len(classes) == 0 {
		return tag
	}
	return tag + "." + strings.Join(classes, ".")
}

// Path builds a CSS-like path from the element up towards body, at most
// depth segments long and with at most maxClasses classes per segment. An
// element with an id ends the walk since the id is already unique.
func (e *Element) Path(depth, maxClasses int) string {
	var segs []string
	for cur := e; cur != nil && len(segs) < depth; cur = cur.Parent {
		if cur.TagName() == "body" || cur.TagName() == "html" {
			break
		}
		segs = append(segs, cur.selector(maxClasses))
		if cur.ID != "" {
			break
		}
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return strings.Join(segs, " > ")
}

// Ancestors returns the element followed by its parents.
func (e *Element) Ancestors() []*Element {
	var out []*Element
	for cur := e; cur != nil; cur = cur.Parent {
		out = append(out, cur)
	}
	return out
}
