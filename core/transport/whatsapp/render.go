package whatsapp

import (
	"strings"
	"unicode/utf8"

	"github.com/m3rciful/menubot/core/engine"
)

// Cloud API limits for interactive messages.
const (
	maxReplyButtons   = 3
	maxButtonTitle    = 20
	maxListRows       = 10
	maxRowTitle       = 24
	maxRowDescription = 72
	maxSectionTitle   = 24
	maxListButton     = 20
	maxInteractive    = 1024
	maxTextBody       = 4096
)

// Render converts a directive into one or more graph API messages.
// Buttons past the reply-button limit degrade to a list, and lists with more
// rows than one message allows are split, each part repeating the body.
func Render(to string, d engine.Directive) []Message {
	opts := d.AllOptions()
	if d.Presentation == engine.PlainText || len(opts) == 0 {
		return []Message{textMessage(to, d.Text)}
	}
	if d.Presentation == engine.Buttons && len(opts) <= maxReplyButtons {
		buttons := make([]ReplyButton, 0, len(opts))
		for _, o := range opts {
			buttons = append(buttons, ReplyButton{
				Type:  "reply",
				Reply: Reply{ID: o.ID, Title: truncate(o.Label, maxButtonTitle)},
			})
		}
		return []Message{interactive(to, "button", d.Text, Action{Buttons: buttons})}
	}
	return renderList(to, d)
}

func renderList(to string, d engine.Directive) []Message {
	sections := d.Sections
	if len(sections) == 0 {
		sections = []engine.Section{{Options: d.AllOptions()}}
	}
	button := truncate(d.ListButton, maxListButton)
	if button == "" {
		button = "Menu"
	}

	var (
		out   []Message
		cur   []ListSection
		count int
	)
	flush := func() {
		if count == 0 {
			return
		}
		if len(cur) > 1 {
			for i := range cur {
				if cur[i].Title == "" {
					cur[i].Title = button
				}
			}
		}
		out = append(out, interactive(to, "list", d.Text, Action{Button: button, Sections: cur}))
		cur, count = nil, 0
	}
	for _, s := range sections {
		title := truncate(s.Title, maxSectionTitle)
		for _, o := range s.Options {
			if count == maxListRows {
				flush()
			}
			if len(cur) == 0 || cur[len(cur)-1].Title != title {
				cur = append(cur, ListSection{Title: title})
			}
			last := &cur[len(cur)-1]
			last.Rows = append(last.Rows, ListRow{
				ID:          o.ID,
				Title:       truncate(o.Label, maxRowTitle),
				Description: truncate(o.Description, maxRowDescription),
			})
			count++
		}
	}
	flush()
	return out
}

func textMessage(to, body string) Message {
	return Message{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &Text{Body: truncate(body, maxTextBody)},
	}
}

func interactive(to, kind, body string, action Action) Message {
	return Message{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "interactive",
		Interactive: &Interactive{
			Type:   kind,
			Body:   Body{Text: truncate(body, maxInteractive)},
			Action: action,
		},
	}
}

// truncate trims s and cuts it to max runes.
func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:max]))
}
