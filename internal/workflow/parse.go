package workflow

import (
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/goccy/go-yaml/ast"
	"github.com/goccy/go-yaml/parser"
)

// Document is a parsed workflow plus the source-location index built from
// the YAML AST. Downstream errors use Locate to point into the user's file.
type Document struct {
	Workflow *Workflow
	File     string

	locs map[string]Location
}

// ParseError is a YAML syntax or decode failure with the offending location
// when the parser could determine one.
type ParseError struct {
	Message string
	Loc     *Location

	// Pretty is goccy's annotated source excerpt, when available.
	Pretty string
}

func (e *ParseError) Error() string {
	if loc := e.Loc.String(); loc != "" {
		return fmt.Sprintf("%s: %s", loc, e.Message)
	}
	return e.Message
}

// Parse parses src as a workflow definition, retaining per-node source
// locations. file is recorded on every location for error formatting; it may
// be empty for in-memory sources.
func Parse(src []byte, file string) (*Document, error) {
	f, err := parser.ParseBytes(src, 0)
	if err != nil {
		return nil, &ParseError{
			Message: firstLine(err.Error()),
			Loc:     &Location{File: file},
			Pretty:  yaml.FormatError(err, false, true),
		}
	}
	if len(f.Docs) == 0 || f.Docs[0].Body == nil {
		return nil, &ParseError{Message: "empty workflow document", Loc: &Location{File: file}}
	}
	body := f.Docs[0].Body

	var wf Workflow
	if err := yaml.NodeToValue(body, &wf); err != nil {
		loc := &Location{File: file}
		if pos := tokenPosition(body); pos != nil {
			loc = &Location{File: file, Line: pos.Line, Column: pos.Column}
		}
		return nil, &ParseError{
			Message: firstLine(err.Error()),
			Loc:     loc,
			Pretty:  yaml.FormatError(err, false, true),
		}
	}

	doc := &Document{
		Workflow: &wf,
		File:     file,
		locs:     make(map[string]Location),
	}
	doc.index(body, "")
	return doc, nil
}

// Locate returns the source location recorded for a dotted path such as
// "jobs.main.steps[0].run", or nil when the path was not present in the
// source.
func (d *Document) Locate(path string) *Location {
	loc, ok := d.locs[path]
	if !ok {
		return nil
	}
	return &loc
}

// StepPath builds the location-index path for a field of main-job step i.
// An empty field addresses the step mapping itself.
func StepPath(i int, field string) string {
	p := fmt.Sprintf("jobs.main.steps[%d]", i)
	if field != "" {
		p += "." + field
	}
	return p
}

// FinallyPath builds the location-index path for a field of finally step i.
func FinallyPath(i int, field string) string {
	p := fmt.Sprintf("finally[%d]", i)
	if field != "" {
		p += "." + field
	}
	return p
}

// index walks the AST recording the position of every mapping key, sequence
// element, and scalar under its dotted path.
func (d *Document) index(n ast.Node, prefix string) {
	switch t := n.(type) {
	case *ast.MappingNode:
		for _, mv := range t.Values {
			d.indexPair(mv, prefix)
		}
	case *ast.MappingValueNode:
		d.indexPair(t, prefix)
	case *ast.SequenceNode:
		for i, v := range t.Values {
			if v == nil {
				continue
			}
			path := fmt.Sprintf("%s[%d]", prefix, i)
			d.record(v, path)
			d.index(v, path)
		}
	default:
		d.record(n, prefix)
	}
}

func (d *Document) indexPair(mv *ast.MappingValueNode, prefix string) {
	key := mapKeyString(mv.Key)
	if key == "" {
		return
	}
	path := key
	if prefix != "" {
		path = prefix + "." + key
	}
	d.record(mv.Key, path)
	if mv.Value != nil {
		d.index(mv.Value, path)
	}
}

func (d *Document) record(n ast.Node, path string) {
	if _, exists := d.locs[path]; exists {
		return
	}
	if pos := tokenPosition(n); pos != nil {
		d.locs[path] = Location{File: d.File, Line: pos.Line, Column: pos.Column}
	}
}

func mapKeyString(key ast.MapKeyNode) string {
	if key == nil {
		return ""
	}
	if sn, ok := key.(*ast.StringNode); ok {
		return sn.Value
	}
	if tok := key.GetToken(); tok != nil {
		return tok.Value
	}
	return ""
}

type position struct {
	Line   int
	Column int
}

func tokenPosition(n ast.Node) *position {
	if n == nil {
		return nil
	}
	tok := n.GetToken()
	if tok == nil || tok.Position == nil {
		return nil
	}
	return &position{Line: tok.Position.Line, Column: tok.Position.Column}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
