package engine

import (
	"strings"

	"github.com/m3rciful/menubot/core/catalog"
	"github.com/m3rciful/menubot/core/session"
)

// render builds the directive for the session's current node, including
// the synthetic Back and Main menu options.
func (e *Engine) render(sess *session.Session) Directive {
	node := e.current(sess)
	lang := e.language(sess)
	fb := e.cat.FallbackLanguage()
	msgs := e.cat.Messages()

	d := Directive{
		UserID:   sess.UserID,
		Language: lang,
		NodeID:   node.ID,
		Text:     node.Text.In(lang, fb),
	}

	opts := make([]Option, 0, len(node.Children))
	for _, c := range node.Children {
		opts = append(opts, Option{
			ID:          c.ID,
			Label:       c.Label.In(lang, fb),
			Description: c.Description.In(lang, fb),
		})
	}

	var nav []Option
	if len(sess.History) > 0 {
		nav = append(nav, Option{ID: catalog.NavBack, Label: msgs.Back.In(lang, fb)})
	}
	if node.ID != e.cat.Root().ID {
		nav = append(nav, Option{ID: catalog.NavMain, Label: msgs.MainMenu.In(lang, fb)})
	}

	switch node.Kind {
	case catalog.KindList:
		d.Presentation = List
		d.ListButton = msgs.ListButton.In(lang, fb)
		d.Sections = []Section{{Options: opts}}
		if len(nav) > 0 {
			d.Sections = append(d.Sections, Section{
				Title:   msgs.NavigationSection.In(lang, fb),
				Options: nav,
			})
		}
	default:
		all := append(opts, nav...)
		if len(all) == 0 {
			d.Presentation = PlainText
			break
		}
		d.Presentation = Buttons
		d.Options = all
	}
	return d
}

// opening builds the language prompt: every translation of the opening
// message, with one option per declared language.
func (e *Engine) opening(userID string) Directive {
	langs := e.cat.Languages()
	msgs := e.cat.Messages()

	texts := make([]string, 0, len(langs))
	opts := make([]Option, 0, len(langs))
	for _, l := range langs {
		if t := msgs.Opening[l.Code]; t != "" {
			texts = append(texts, t)
		}
		opts = append(opts, Option{ID: l.Code, Label: l.Name})
	}

	d := Directive{
		UserID:   userID,
		Language: e.cat.FallbackLanguage(),
		Text:     strings.Join(texts, "\n"),
	}
	if len(opts) <= e.cat.Limits().MaxButtons {
		d.Presentation = Buttons
		d.Options = opts
		return d
	}
	d.Presentation = List
	d.ListButton = msgs.ListButton.In(d.Language, d.Language)
	d.Sections = []Section{{Options: opts}}
	return d
}
