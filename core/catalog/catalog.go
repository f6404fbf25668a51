// Package catalog holds the validated, immutable menu tree consumed by the
// conversation engine.
package catalog

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every structural error returned by New.
var ErrInvalid = errors.New("catalog: invalid")

// Catalog is a read-only view of a validated menu tree. It is safe for
// concurrent use without locking.
type Catalog struct {
	doc      Document
	limits   Limits
	nodes    map[string]*Node
	root     *Node
	warnings []Warning

	languageInputs map[string]string
	restart        map[string]struct{}
	changeLanguage map[string]struct{}
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML (or JSON) catalog document and validates it.
func Parse(data []byte) (*Catalog, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	return New(doc)
}

// New validates doc and builds the catalog. Any structural error is fatal.
func New(doc Document) (*Catalog, error) {
	errs, warns := Validate(&doc)
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}

	c := &Catalog{
		doc:            doc,
		limits:         doc.Limits.withDefaults(),
		nodes:          make(map[string]*Node, len(doc.Nodes)),
		warnings:       warns,
		languageInputs: make(map[string]string),
		restart:        make(map[string]struct{}),
		changeLanguage: make(map[string]struct{}),
	}
	for i := range c.doc.Nodes {
		n := &c.doc.Nodes[i]
		c.nodes[n.ID] = n
	}
	c.root = c.nodes[doc.Root]
	c.linkParents()

	for _, l := range doc.Languages {
		for _, w := range append([]string{l.Code, l.Name}, l.Keywords...) {
			if key := Normalize(w); key != "" {
				c.languageInputs[key] = l.Code
			}
		}
	}
	addKeywords(c.restart, doc.Keywords.Restart)
	addKeywords(c.changeLanguage, doc.Keywords.ChangeLanguage)
	return c, nil
}

func addKeywords(set map[string]struct{}, words []string) {
	for _, w := range words {
		if key := Normalize(w); key != "" {
			set[key] = struct{}{}
		}
	}
}

func (c *Catalog) linkParents() {
	seen := map[string]bool{c.root.ID: true}
	queue := []*Node{c.root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, ch := range n.Children {
			if seen[ch.ID] {
				continue
			}
			seen[ch.ID] = true
			child := c.nodes[ch.ID]
			child.ParentID = n.ID
			queue = append(queue, child)
		}
	}
}

// Root returns the root menu node.
func (c *Catalog) Root() *Node { return c.root }

// Resolve looks up a node by id.
func (c *Catalog) Resolve(id string) (*Node, bool) {
	n, ok := c.nodes[id]
	return n, ok
}

// Languages returns the declared languages in catalog order.
func (c *Catalog) Languages() []Language { return c.doc.Languages }

// DefaultLanguage returns the default language code, or "" if none is set.
func (c *Catalog) DefaultLanguage() string { return c.doc.DefaultLanguage }

// Timing returns the idle warning and expiry thresholds.
func (c *Catalog) Timing() Timing { return c.doc.Timing }

// Messages returns the localized system texts.
func (c *Catalog) Messages() Messages { return c.doc.Messages }

// Limits returns presentation limits with defaults applied.
func (c *Catalog) Limits() Limits { return c.limits }

// Warnings returns the non-fatal findings collected during validation.
func (c *Catalog) Warnings() []Warning { return c.warnings }

// Len returns the number of nodes.
func (c *Catalog) Len() int { return len(c.nodes) }

// MatchLanguage maps user input (code, display name or keyword) to a language code.
func (c *Catalog) MatchLanguage(input string) (string, bool) {
	code, ok := c.languageInputs[Normalize(input)]
	return code, ok
}

// IsRestart reports whether input is a restart keyword.
func (c *Catalog) IsRestart(input string) bool {
	_, ok := c.restart[Normalize(input)]
	return ok
}

// IsChangeLanguage reports whether input is a change-language keyword.
func (c *Catalog) IsChangeLanguage(input string) bool {
	_, ok := c.changeLanguage[Normalize(input)]
	return ok
}

// FallbackLanguage is used to render text when no language has been chosen
// yet: the default language, or the first declared one.
func (c *Catalog) FallbackLanguage() string {
	if c.doc.DefaultLanguage != "" {
		return c.doc.DefaultLanguage
	}
	return c.doc.Languages[0].Code
}
