package whatsapp

// Inbound webhook payload, reduced to the fields the menu reads.

type webhookPayload struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID      string   `json:"id"`
	Changes []change `json:"changes"`
}

type change struct {
	Field string      `json:"field"`
	Value changeValue `json:"value"`
}

type changeValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Messages         []inboundMessage `json:"messages"`
}

type inboundMessage struct {
	From        string              `json:"from"`
	ID          string              `json:"id"`
	Timestamp   string              `json:"timestamp"`
	Type        string              `json:"type"`
	Text        *inboundText        `json:"text,omitempty"`
	Interactive *inboundInteractive `json:"interactive,omitempty"`
	Button      *inboundButton      `json:"button,omitempty"`
}

type inboundText struct {
	Body string `json:"body"`
}

type inboundInteractive struct {
	Type        string      `json:"type"`
	ButtonReply *replyField `json:"button_reply,omitempty"`
	ListReply   *replyField `json:"list_reply,omitempty"`
}

type replyField struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// inboundButton is a quick-reply button from a template message.
type inboundButton struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

// Outbound graph API message.

// Message is one POST body for /{phone_number_id}/messages.
type Message struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type,omitempty"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *Text        `json:"text,omitempty"`
	Interactive      *Interactive `json:"interactive,omitempty"`
}

// Text is a plain text body.
type Text struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url,omitempty"`
}

// Interactive is a reply-button or list message.
type Interactive struct {
	Type   string `json:"type"`
	Body   Body   `json:"body"`
	Action Action `json:"action"`
}

// Body holds the interactive message text.
type Body struct {
	Text string `json:"text"`
}

// Action carries either reply buttons or list sections.
type Action struct {
	Button   string        `json:"button,omitempty"`
	Buttons  []ReplyButton `json:"buttons,omitempty"`
	Sections []ListSection `json:"sections,omitempty"`
}

// ReplyButton is one quick reply button.
type ReplyButton struct {
	Type  string `json:"type"`
	Reply Reply  `json:"reply"`
}

// Reply identifies a reply button.
type Reply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ListSection groups list rows.
type ListSection struct {
	Title string    `json:"title,omitempty"`
	Rows  []ListRow `json:"rows"`
}

// ListRow is one selectable list entry.
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}
