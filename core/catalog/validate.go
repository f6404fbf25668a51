package catalog

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/language"
)

// ErrorKind classifies structural catalog errors.
type ErrorKind string

const (
	ErrDuplicate          ErrorKind = "duplicate"
	ErrDangling           ErrorKind = "dangling"
	ErrCycle              ErrorKind = "cycle"
	ErrUnreachable        ErrorKind = "unreachable"
	ErrMissingTranslation ErrorKind = "missing_translation"
	ErrMalformed          ErrorKind = "malformed"
	ErrAmbiguous          ErrorKind = "ambiguous"
	ErrConfig             ErrorKind = "config"
)

// Error is a single structural problem found while validating a catalog.
type Error struct {
	Kind   ErrorKind
	NodeID string
	Detail string
}

func (e *Error) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("catalog %s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("catalog %s: node %q: %s", e.Kind, e.NodeID, e.Detail)
}

// Warning flags content that exceeds declared presentation limits.
type Warning struct {
	NodeID string
	Detail string
}

func (w Warning) String() string {
	return fmt.Sprintf("node %q: %s", w.NodeID, w.Detail)
}

type validator struct {
	doc    *Document
	limits Limits
	langs  []string
	byID   map[string]*Node
	errs   []error
	warns  []Warning
}

// Validate checks the document structure. Errors make the catalog unusable;
// warnings only report content the transport will have to adapt.
func Validate(doc *Document) ([]error, []Warning) {
	v := &validator{
		doc:    doc,
		limits: doc.Limits.withDefaults(),
		byID:   make(map[string]*Node, len(doc.Nodes)),
	}
	v.languages()
	v.timing()
	v.messages()
	v.keywords()
	v.nodes()
	v.graph()
	v.presentation()
	return v.errs, v.warns
}

func (v *validator) fail(kind ErrorKind, nodeID, format string, args ...any) {
	v.errs = append(v.errs, &Error{Kind: kind, NodeID: nodeID, Detail: fmt.Sprintf(format, args...)})
}

func (v *validator) warn(nodeID, format string, args ...any) {
	v.warns = append(v.warns, Warning{NodeID: nodeID, Detail: fmt.Sprintf(format, args...)})
}

func (v *validator) languages() {
	if len(v.doc.Languages) == 0 {
		v.fail(ErrConfig, "", "no languages declared")
		return
	}
	seen := make(map[string]struct{}, len(v.doc.Languages))
	for _, l := range v.doc.Languages {
		code := strings.TrimSpace(l.Code)
		if code == "" {
			v.fail(ErrConfig, "", "language with empty code")
			continue
		}
		if _, err := language.Parse(code); err != nil {
			v.fail(ErrConfig, "", "language %q is not a valid BCP 47 tag: %v", code, err)
		}
		if _, dup := seen[code]; dup {
			v.fail(ErrDuplicate, "", "language %q declared twice", code)
			continue
		}
		seen[code] = struct{}{}
		if strings.TrimSpace(l.Name) == "" {
			v.fail(ErrMissingTranslation, "", "language %q has no display name", code)
		}
		v.langs = append(v.langs, code)
	}
	if d := v.doc.DefaultLanguage; d != "" {
		if _, ok := seen[d]; !ok {
			v.fail(ErrConfig, "", "default_language %q is not a declared language", d)
		}
	}
}

func (v *validator) timing() {
	t := v.doc.Timing
	if t.IdleWarning <= 0 {
		v.fail(ErrConfig, "", "timing.idle_warning must be > 0")
	}
	if t.Expiry <= t.IdleWarning {
		v.fail(ErrConfig, "", "timing.expiry (%s) must be greater than timing.idle_warning (%s)", t.Expiry, t.IdleWarning)
	}
}

func (v *validator) translated(nodeID, what string, t Text) {
	for _, code := range v.langs {
		if strings.TrimSpace(t[code]) == "" {
			v.fail(ErrMissingTranslation, nodeID, "%s has no %q text", what, code)
		}
	}
}

func (v *validator) messages() {
	m := v.doc.Messages
	v.translated("", "messages.opening", m.Opening)
	v.translated("", "messages.fallback", m.Fallback)
	v.translated("", "messages.idle_warning", m.IdleWarning)
	v.translated("", "messages.session_closed", m.SessionClosed)
	v.translated("", "messages.back", m.Back)
	v.translated("", "messages.main_menu", m.MainMenu)
	v.translated("", "messages.list_button", m.ListButton)
	v.translated("", "messages.navigation_section", m.NavigationSection)
}

func (v *validator) keywords() {
	owner := make(map[string]string)
	claim := func(word, who string) {
		key := Normalize(word)
		if key == "" {
			return
		}
		if prev, ok := owner[key]; ok && prev != who {
			v.fail(ErrAmbiguous, "", "keyword %q used by both %s and %s", word, prev, who)
			return
		}
		owner[key] = who
	}
	for _, w := range v.doc.Keywords.Restart {
		claim(w, "restart")
	}
	for _, w := range v.doc.Keywords.ChangeLanguage {
		claim(w, "change_language")
	}
	for _, l := range v.doc.Languages {
		who := "language " + l.Code
		claim(l.Code, who)
		claim(l.Name, who)
		for _, w := range l.Keywords {
			claim(w, who)
		}
	}
}

func (v *validator) nodes() {
	for i := range v.doc.Nodes {
		n := &v.doc.Nodes[i]
		if strings.TrimSpace(n.ID) == "" {
			v.fail(ErrMalformed, "", "node #%d has an empty id", i)
			continue
		}
		if IsReserved(n.ID) {
			v.fail(ErrMalformed, n.ID, "id uses reserved prefix %q", NavPrefix)
		}
		if _, dup := v.byID[n.ID]; dup {
			v.fail(ErrDuplicate, n.ID, "node declared twice")
			continue
		}
		v.byID[n.ID] = n
	}

	for i := range v.doc.Nodes {
		n := &v.doc.Nodes[i]
		if n.ID == "" {
			continue
		}
		v.shape(n)
		v.translated(n.ID, "text", n.Text)
		seen := make(map[string]struct{}, len(n.Children))
		for _, c := range n.Children {
			if c.ID == "" {
				v.fail(ErrMalformed, n.ID, "child with empty id")
				continue
			}
			if _, dup := seen[c.ID]; dup {
				v.fail(ErrDuplicate, n.ID, "child %q listed twice", c.ID)
			}
			seen[c.ID] = struct{}{}
			if _, ok := v.byID[c.ID]; !ok {
				v.fail(ErrDangling, n.ID, "child %q does not resolve to a node", c.ID)
			}
			v.translated(n.ID, fmt.Sprintf("child %q label", c.ID), c.Label)
			if len(c.Description) > 0 {
				v.translated(n.ID, fmt.Sprintf("child %q description", c.ID), c.Description)
			}
		}
		v.ambiguity(n)
	}
}

func (v *validator) shape(n *Node) {
	switch n.Kind {
	case KindText:
		if len(n.Children) > 0 {
			v.fail(ErrMalformed, n.ID, "text node must not declare children")
		}
	case KindButtons:
		if len(n.Children) == 0 || len(n.Children) > MaxButtonChildren {
			v.fail(ErrMalformed, n.ID, "buttons node needs 1..%d children, has %d", MaxButtonChildren, len(n.Children))
		}
	case KindList:
		if len(n.Children) == 0 {
			v.fail(ErrMalformed, n.ID, "list node needs at least one child")
		}
	default:
		v.fail(ErrMalformed, n.ID, "unknown kind %q", n.Kind)
	}
}

func (v *validator) ambiguity(n *Node) {
	for _, code := range v.langs {
		labels := map[string]string{
			Normalize(v.doc.Messages.Back[code]):     NavBack,
			Normalize(v.doc.Messages.MainMenu[code]): NavMain,
		}
		for _, c := range n.Children {
			key := Normalize(c.Label[code])
			if key == "" {
				continue
			}
			if prev, ok := labels[key]; ok {
				v.fail(ErrAmbiguous, n.ID, "label %q (%s) matches both %q and %q", c.Label[code], code, prev, c.ID)
				continue
			}
			labels[key] = c.ID
		}
	}
}

func (v *validator) graph() {
	root := v.doc.Root
	if root == "" {
		v.fail(ErrConfig, "", "root node is not set")
		return
	}
	if _, ok := v.byID[root]; !ok {
		v.fail(ErrDangling, "", "root %q does not resolve to a node", root)
		return
	}

	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(v.byID))
	var stack []string
	var visit func(id string)
	visit = func(id string) {
		color[id] = grey
		stack = append(stack, id)
		for _, c := range v.byID[id].Children {
			if _, ok := v.byID[c.ID]; !ok {
				continue
			}
			switch color[c.ID] {
			case grey:
				v.fail(ErrCycle, c.ID, "reference chain revisits node: %s -> %s", strings.Join(cyclePath(stack, c.ID), " -> "), c.ID)
			case white:
				visit(c.ID)
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}
	visit(root)

	var unreachable []string
	for id := range v.byID {
		if color[id] == white {
			unreachable = append(unreachable, id)
		}
	}
	sort.Strings(unreachable)
	for _, id := range unreachable {
		v.fail(ErrUnreachable, id, "not reachable from root %q", root)
		if color[id] == white {
			visit(id)
		}
	}
}

func cyclePath(stack []string, id string) []string {
	for i, s := range stack {
		if s == id {
			return stack[i:]
		}
	}
	return stack
}

func (v *validator) presentation() {
	for i := range v.doc.Nodes {
		n := &v.doc.Nodes[i]
		if n.ID == "" {
			continue
		}
		options := len(n.Children)
		if n.ID != v.doc.Root {
			// Back and Main menu.
			options += 2
		}
		switch n.Kind {
		case KindButtons, KindText:
			if options > v.limits.MaxButtons {
				v.warn(n.ID, "%d options exceed max_buttons=%d", options, v.limits.MaxButtons)
			}
		case KindList:
			if options > v.limits.MaxListRows {
				v.warn(n.ID, "%d options exceed max_list_rows=%d", options, v.limits.MaxListRows)
			}
		}
		for _, c := range n.Children {
			for _, code := range v.langs {
				if l := utf8.RuneCountInString(c.Label[code]); l > v.limits.MaxLabelLength {
					v.warn(n.ID, "child %q label (%s) is %d runes, max_label_length=%d", c.ID, code, l, v.limits.MaxLabelLength)
				}
				if l := utf8.RuneCountInString(c.Description[code]); l > v.limits.MaxDescriptionLength {
					v.warn(n.ID, "child %q description (%s) is %d runes, max_description_length=%d", c.ID, code, l, v.limits.MaxDescriptionLength)
				}
			}
		}
	}
}
