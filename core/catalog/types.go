package catalog

import (
	"strings"
	"time"
)

// Kind tags the presentation shape of a menu node.
type Kind string

const (
	// KindText is a content leaf rendered as plain text.
	KindText Kind = "text"
	// KindButtons presents up to three inline choices.
	KindButtons Kind = "buttons"
	// KindList presents a paginated list of choices.
	KindList Kind = "list"
)

// MaxButtonChildren bounds the authored children of a buttons node.
const MaxButtonChildren = 3

// Text maps a language code to a display string.
type Text map[string]string

// In returns the text for lang, falling back to fallback when lang is missing.
func (t Text) In(lang, fallback string) string {
	if s, ok := t[lang]; ok && s != "" {
		return s
	}
	return t[fallback]
}

// Language declares a supported language and the inputs that select it.
type Language struct {
	Code     string   `yaml:"code"`
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Timing holds the idle thresholds: Tw for the warning, Te for expiry.
type Timing struct {
	IdleWarning time.Duration `yaml:"idle_warning"`
	Expiry      time.Duration `yaml:"expiry"`
}

// Keywords lists global command phrases matched after normalization.
type Keywords struct {
	Restart        []string `yaml:"restart"`
	ChangeLanguage []string `yaml:"change_language"`
}

// Messages holds localized system texts.
type Messages struct {
	Opening           Text `yaml:"opening"`
	Fallback          Text `yaml:"fallback"`
	IdleWarning       Text `yaml:"idle_warning"`
	SessionClosed     Text `yaml:"session_closed"`
	Back              Text `yaml:"back"`
	MainMenu          Text `yaml:"main_menu"`
	ListButton        Text `yaml:"list_button"`
	NavigationSection Text `yaml:"navigation_section"`
}

// Limits declares presentation constraints of the target channel.
// Violations are reported as warnings, never as load errors.
type Limits struct {
	MaxButtons           int `yaml:"max_buttons"`
	MaxListRows          int `yaml:"max_list_rows"`
	MaxLabelLength       int `yaml:"max_label_length"`
	MaxDescriptionLength int `yaml:"max_description_length"`
}

func (l Limits) withDefaults() Limits {
	if l.MaxButtons <= 0 {
		l.MaxButtons = 3
	}
	if l.MaxListRows <= 0 {
		l.MaxListRows = 10
	}
	if l.MaxLabelLength <= 0 {
		l.MaxLabelLength = 24
	}
	if l.MaxDescriptionLength <= 0 {
		l.MaxDescriptionLength = 72
	}
	return l
}

// Child references another node from a parent's option list.
type Child struct {
	ID          string `yaml:"id"`
	Label       Text   `yaml:"label"`
	Description Text   `yaml:"description,omitempty"`
}

// Node is a single menu entry.
type Node struct {
	ID       string  `yaml:"id"`
	Kind     Kind    `yaml:"kind"`
	Text     Text    `yaml:"text"`
	Children []Child `yaml:"children,omitempty"`

	// ParentID is derived while building the catalog.
	ParentID string `yaml:"-"`
}

// Child returns the child entry with the given id.
func (n *Node) Child(id string) (Child, bool) {
	for _, c := range n.Children {
		if c.ID == id {
			return c, true
		}
	}
	return Child{}, false
}

// Document is the authored catalog file.
type Document struct {
	DefaultLanguage string     `yaml:"default_language"`
	Languages       []Language `yaml:"languages"`
	Root            string     `yaml:"root"`
	Timing          Timing     `yaml:"timing"`
	Keywords        Keywords   `yaml:"keywords"`
	Messages        Messages   `yaml:"messages"`
	Limits          Limits     `yaml:"limits"`
	Nodes           []Node     `yaml:"nodes"`
}

// Reserved identifiers for synthetic navigation options.
const (
	NavPrefix = "nav:"
	NavBack   = NavPrefix + "back"
	NavMain   = NavPrefix + "main"
)

// IsReserved reports whether id collides with synthetic navigation ids.
func IsReserved(id string) bool {
	return strings.HasPrefix(id, NavPrefix)
}
