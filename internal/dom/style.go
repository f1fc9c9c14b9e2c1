package dom

import (
	"strconv"
	"strings"
)

// Style returns an inline style property.
func (e *Element) Style(prop string) string {
	v, _ := e.Attr("style")
	for _, d := range parseStyle(v) {
		if d[0] == prop {
			return d[1]
		}
	}
	return ""
}

// SetStyle sets an inline style property, keeping the others in order.
func (e *Element) SetStyle(prop, val string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	v, _ := attr(e.node, "style")
	decls := parseStyle(v)
	found := false
	for i := range decls {
		if decls[i][0] == prop {
			decls[i][1] = val
			found = true
		}
	}
	if !found {
		decls = append(decls, [2]string{prop, val})
	}
	parts := make([]string, len(decls))
	for i, d := range decls {
		parts[i] = d[0] + ": " + d[1]
	}
	setAttr(e.node, "style", strings.Join(parts, "; "))
}

// OuterHeight is the inline content height plus vertical margins, in px.
// Non-pixel lengths count as zero.
func (e *Element) OuterHeight() float64 {
	h := px(e.Style("height"))
	top, bottom := px(e.Style("margin-top")), px(e.Style("margin-bottom"))
	if m := strings.Fields(e.Style("margin")); len(m) > 0 {
		switch len(m) {
		case 1:
			top, bottom = px(m[0]), px(m[0])
		case 2:
			top, bottom = px(m[0]), px(m[0])
		default:
			top, bottom = px(m[0]), px(m[2])
		}
		if v := e.Style("margin-top"); v != "" {
			top = px(v)
		}
		if v := e.Style("margin-bottom"); v != "" {
			bottom = px(v)
		}
	}
	return h + top + bottom
}

func parseStyle(s string) [][2]string {
	var out [][2]string
	for _, decl := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		out = append(out, [2]string{k, strings.TrimSpace(v)})
	}
	return out
}

func px(v string) float64 {
	v = strings.TrimSpace(v)
	if v == "0" {
		return 0
	}
	n, ok := strings.CutSuffix(v, "px")
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
	if err != nil {
		return 0
	}
	return f
}
