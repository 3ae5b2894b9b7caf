package dispatch

import (
	"encoding/json"
	"html"
)

// Document is a rendered view.
type Document struct {
	Title  string
	Styles []string

	// HTML is the full document, for normal navigation.
	HTML string

	// Parts maps placeholder names to rendered fragments, for
	// partial navigation.
	Parts map[string]string
}

// Renderer turns routes plus render context into markup.  Component
// rendering and templating live outside the engine; this interface is
// the seam.
type Renderer interface {
	RenderView(rt *Route, rc map[string]interface{}) (*Document, error)

	// RenderComponent produces the opaque payload keyed by an
	// action route's update target.
	RenderComponent(name string, rc map[string]interface{}) (interface{}, error)
}

// JSONRenderer is the built-in fallback renderer: it presents the
// render context as preformatted JSON.  Real applications install
// their own Renderer.
type JSONRenderer struct {
	Title string
}

func (jr *JSONRenderer) RenderView(rt *Route, rc map[string]interface{}) (*Document, error) {
	body, err := pre(rc)
	if err != nil {
		return nil, err
	}

	title := jr.Title
	if title == "" {
		title = rt.Key
	}

	doc := &Document{
		Title: title,
		HTML: "<!doctype html>\n<html><head><title>" + html.EscapeString(title) +
			"</title></head><body>" + body + "</body></html>\n",
		Parts: map[string]string{},
	}
	for placeholder := range rt.Inject {
		doc.Parts[placeholder] = body
	}
	return doc, nil
}

func (jr *JSONRenderer) RenderComponent(name string, rc map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"component": name,
		"data":      rc["data"],
	}, nil
}

func pre(rc map[string]interface{}) (string, error) {
	js, err := json.MarshalIndent(rc, "", "  ")
	if err != nil {
		return "", err
	}
	return "<pre>" + html.EscapeString(string(js)) + "</pre>", nil
}
