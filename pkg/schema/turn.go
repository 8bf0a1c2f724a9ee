package schema

// Attachment types.
const (
	AttachmentImage = "image"
	AttachmentAudio = "audio"
	AttachmentFile  = "file"
)

// Attachment is a media item received with an inbound message.
type Attachment struct {
	Type string `json:"type"`           // image, audio, file
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	Mime string `json:"mime,omitempty"`
}

// TurnInput is one inbound end-user turn delivered by the transport layer.
// OptionKey is set when the user tapped a prompt option; it takes precedence
// over Text when saving the reply into context.
type TurnInput struct {
	ConversationID string         `json:"conversation_id"`
	CompanyID      string         `json:"company_id"`
	Text           string         `json:"text,omitempty"`
	OptionKey      string         `json:"option_key,omitempty"`
	Attachments    []Attachment   `json:"attachments,omitempty"`
	Channel        string         `json:"channel,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ReplyValue returns the value to store for this turn: the option key when
// present, otherwise the free text.
func (in TurnInput) ReplyValue() string {
	if in.OptionKey != "" {
		return in.OptionKey
	}
	return in.Text
}
