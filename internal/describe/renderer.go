// Package describe renders listing descriptions from an HTML template.
package describe

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/domain"
)

//go:embed templates/listing.html
var builtin embed.FS

// MaxImages is the largest gallery the template renders.
const MaxImages = 12

type specific struct {
	Name   string
	Values []string
}

type view struct {
	Title       string
	Description string
	Condition   string
	Images      []string
	Specifics   []specific
}

// Renderer fills the listing template. It is safe for concurrent use.
type Renderer struct {
	tmpl *template.Template
}

var funcs = template.FuncMap{"join": strings.Join}

// New parses the template at path, or the built-in one when path is empty.
func New(path string) (*Renderer, error) {
	var (
		t   *template.Template
		err error
	)
	if path == "" {
		t, err = template.New("listing.html").Funcs(funcs).ParseFS(builtin, "templates/listing.html")
	} else {
		t, err = template.New("").Funcs(funcs).ParseFiles(path)
	}
	if err != nil {
		return nil, fmt.Errorf("parse description template: %w", err)
	}
	if path != "" {
		t = t.Lookup(filepath.Base(path))
	}
	return &Renderer{tmpl: t}, nil
}

// RenderDescription produces the HTML description for a listing.
func (r *Renderer) RenderDescription(_ context.Context, in domain.DescriptionInput) (string, error) {
	v := view{
		Title:       in.Title,
		Description: in.Description,
		Condition:   in.Condition,
		Images:      in.Images,
	}
	if len(v.Images) > MaxImages {
		v.Images = v.Images[:MaxImages]
	}

	names := make([]string, 0, len(in.Specifics))
	for k := range in.Specifics {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if len(in.Specifics[k]) > 0 {
			v.Specifics = append(v.Specifics, specific{Name: k, Values: in.Specifics[k]})
		}
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("render description: %w", err)
	}
	return buf.String(), nil
}
