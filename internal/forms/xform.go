// Package forms provides a minimal XForm engine: it holds a primary instance
// built from the form model, optionally replaced by a saved instance, and
// validates the model's required bindings against it.
package forms

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/soaringjerry/Emtrip/internal/services"
)

var errNotInitialized = errors.New("form not initialized")

// node is a generic XML element. Names keep the prefix as written in the
// source (Space holds the prefix, not the namespace URI) so that namespace
// declarations and prefixed elements are written back unchanged.
type node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr
	Children []*node
	Text     string
}

type binding struct {
	nodeset  string
	required bool
}

// XForm is a form engine handle. It is not safe for concurrent use; the
// session manager replaces handles rather than sharing them.
type XForm struct {
	selector string
	data     services.FormData

	root     *node
	bindings []binding
	ready    bool
}

func New(selector string, data services.FormData, opts map[string]any) (*XForm, error) {
	if strings.TrimSpace(selector) == "" {
		return nil, errors.New("form selector required")
	}
	return &XForm{selector: selector, data: data}, nil
}

// Factory adapts New to services.FormFactory.
func Factory(selector string, data services.FormData, opts map[string]any) (services.FormEngine, error) {
	f, err := New(selector, data, opts)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Init parses the model and, if given, the instance to edit. Problems are
// returned as load errors; the form is usable only when none are returned.
func (f *XForm) Init() []string {
	f.ready = false
	var loadErrors []string

	model, err := parse(f.data.ModelStr)
	if err != nil {
		return []string{"model: " + err.Error()}
	}
	primary := primaryInstance(model)
	if primary == nil {
		return []string{"model: no primary instance"}
	}
	f.bindings = collectBindings(model)
	f.root = primary

	if strings.TrimSpace(f.data.InstanceStr) != "" {
		inst, err := parse(f.data.InstanceStr)
		switch {
		case err != nil:
			loadErrors = append(loadErrors, "instance: "+err.Error())
		case inst.XMLName.Local != primary.XMLName.Local:
			loadErrors = append(loadErrors, fmt.Sprintf("instance: root %q does not match model root %q", inst.XMLName.Local, primary.XMLName.Local))
		default:
			f.root = inst
		}
	}
	if len(loadErrors) == 0 {
		f.ready = true
	}
	return loadErrors
}

// Validate checks every required binding resolves to a non-empty node.
func (f *XForm) Validate(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !f.ready {
		return false, errNotInitialized
	}
	for _, b := range f.bindings {
		if !b.required {
			continue
		}
		n := f.lookup(b.nodeset)
		if n == nil || isEmpty(n) {
			return false, nil
		}
	}
	return true, nil
}

// DataStr serializes the current instance.
func (f *XForm) DataStr() string {
	if f.root == nil {
		return ""
	}
	var buf bytes.Buffer
	writeNode(&buf, f.root)
	return buf.String()
}

// lookup resolves an absolute path such as /data/group/question.
func (f *XForm) lookup(path string) *node {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || f.root == nil || parts[0] != f.root.XMLName.Local {
		return nil
	}
	cur := f.root
	for _, p := range parts[1:] {
		var next *node
		for _, c := range cur.Children {
			if c.XMLName.Local == p {
				next = c
				break
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

// parse reads the first element of s. Raw tokens are used so prefixes are
// not resolved; end tags are checked against their start tags by hand.
func parse(s string) (*node, error) {
	dec := xml.NewDecoder(strings.NewReader(s))
	var stack []*node
	var root *node
	for root == nil || len(stack) > 0 {
		tok, err := dec.RawToken()
		if err == io.EOF {
			if root == nil {
				return nil, errors.New("no root element")
			}
			return nil, fmt.Errorf("element <%s> not closed", qname(stack[len(stack)-1].XMLName))
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{XMLName: t.Name, Attrs: append([]xml.Attr(nil), t.Attr...)}
			if len(stack) == 0 {
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("unexpected </%s>", qname(t.Name))
			}
			top := stack[len(stack)-1]
			if top.XMLName != t.Name {
				return nil, fmt.Errorf("element <%s> closed by </%s>", qname(top.XMLName), qname(t.Name))
			}
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		}
	}
	normalize(root)
	return root, nil
}

// normalize drops formatting whitespace around child elements.
func normalize(n *node) {
	if len(n.Children) > 0 && strings.TrimSpace(n.Text) == "" {
		n.Text = ""
	}
	for _, c := range n.Children {
		normalize(c)
	}
}

func qname(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

// writeNode is the inverse of parse: names and attributes go out exactly as
// they were read, text and attribute values escaped.
func writeNode(buf *bytes.Buffer, n *node) {
	name := qname(n.XMLName)
	buf.WriteByte('<')
	buf.WriteString(name)
	for _, a := range n.Attrs {
		buf.WriteByte(' ')
		buf.WriteString(qname(a.Name))
		buf.WriteString(`="`)
		_ = xml.EscapeText(buf, []byte(a.Value))
		buf.WriteByte('"')
	}
	buf.WriteByte('>')
	_ = xml.EscapeText(buf, []byte(n.Text))
	for _, c := range n.Children {
		writeNode(buf, c)
	}
	buf.WriteString("</")
	buf.WriteString(name)
	buf.WriteByte('>')
}

// primaryInstance returns the single element of the model's first <instance>.
func primaryInstance(model *node) *node {
	for _, c := range model.Children {
		if c.XMLName.Local == "instance" && len(c.Children) > 0 {
			return c.Children[0]
		}
	}
	if model.XMLName.Local == "instance" && len(model.Children) > 0 {
		return model.Children[0]
	}
	return nil
}

func collectBindings(model *node) []binding {
	var out []binding
	for _, c := range model.Children {
		if c.XMLName.Local != "bind" {
			continue
		}
		b := binding{}
		for _, a := range c.Attrs {
			switch a.Name.Local {
			case "nodeset":
				b.nodeset = a.Value
			case "required":
				b.required = strings.TrimSpace(a.Value) == "true()"
			}
		}
		if b.nodeset != "" {
			out = append(out, b)
		}
	}
	return out
}

func isEmpty(n *node) bool {
	return len(n.Children) == 0 && strings.TrimSpace(n.Text) == ""
}
