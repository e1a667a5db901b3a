// Package settings owns the operator-editable credentials and telephony
// options that live in the .env file shared with the voice agent worker.
package settings

import "strings"

type FieldType string

const (
	FieldText     FieldType = "text"
	FieldPassword FieldType = "password"
	FieldSelect   FieldType = "select"
)

const (
	KeyLiveKitURL       = "LIVEKIT_URL"
	KeyLiveKitAPIKey    = "LIVEKIT_API_KEY"
	KeyLiveKitAPISecret = "LIVEKIT_API_SECRET"
	KeyGroqAPIKey       = "GROQ_API_KEY"
	KeyGroqModel        = "GROQ_MODEL"
	KeyLLMProvider      = "LLM_PROVIDER"
	KeySIPTrunkID       = "VOBIZ_SIP_TRUNK_ID"
	KeyOutboundNumber   = "VOBIZ_OUTBOUND_NUMBER"

	DefaultGroqModel = "llama-3.3-70b-versatile"
)

type Field struct {
	Key         string
	Label       string
	Type        FieldType
	Placeholder string
	Options     []string
	Default     string
}

func (f Field) Secret() bool {
	return f.Type == FieldPassword
}

type Group struct {
	ID          string
	Title       string
	Description string
	Fields      []Field
}

const transferPlaceholder = "+91XXXXXXXXXX"

var catalog = []Group{
	{
		ID:          "livekit",
		Title:       "LiveKit Configuration",
		Description: "Your LiveKit Cloud credentials for real-time communication",
		Fields: []Field{
			{Key: KeyLiveKitURL, Label: "LiveKit URL", Type: FieldText, Placeholder: "wss://your-project.livekit.cloud"},
			{Key: KeyLiveKitAPIKey, Label: "API Key", Type: FieldText, Placeholder: "Your API Key"},
			{Key: KeyLiveKitAPISecret, Label: "API Secret", Type: FieldPassword, Placeholder: "Your API Secret"},
		},
	},
	{
		ID:          "deepgram",
		Title:       "Deepgram (Speech-to-Text & Text-to-Speech)",
		Description: "Deepgram API for voice recognition and synthesis",
		Fields: []Field{
			{Key: "DEEPGRAM_API_KEY", Label: "Deepgram API Key", Type: FieldPassword, Placeholder: "Your Deepgram API Key"},
			{Key: "TTS_PROVIDER", Label: "TTS Provider", Type: FieldSelect, Default: "deepgram",
				Options: []string{"deepgram", "openai", "cartesia", "sarvam"}},
			{Key: "DEEPGRAM_TTS_MODEL", Label: "Voice Model", Type: FieldSelect, Default: "aura-asteria-en",
				Options: []string{
					"aura-asteria-en", "aura-luna-en", "aura-stella-en", "aura-athena-en",
					"aura-hera-en", "aura-orion-en", "aura-arcas-en", "aura-perseus-en",
					"aura-angus-en", "aura-orpheus-en", "aura-helios-en", "aura-zeus-en",
				}},
		},
	},
	{
		ID:          "groq",
		Title:       "Groq (AI Language Model)",
		Description: "Groq API for fast AI responses",
		Fields: []Field{
			{Key: KeyGroqAPIKey, Label: "Groq API Key", Type: FieldPassword, Placeholder: "Your Groq API Key"},
			{Key: KeyLLMProvider, Label: "LLM Provider", Type: FieldSelect, Default: "groq", Options: []string{"groq", "openai"}},
			{Key: KeyGroqModel, Label: "Model", Type: FieldSelect, Default: DefaultGroqModel,
				Options: []string{DefaultGroqModel, "llama-3.1-70b-versatile", "llama-3.1-8b-instant", "mixtral-8x7b-32768"}},
		},
	},
	{
		ID:          "sip",
		Title:       "SIP / Telephony Configuration",
		Description: "SIP trunk settings for making phone calls",
		Fields: []Field{
			{Key: KeySIPTrunkID, Label: "SIP Trunk ID", Type: FieldText, Placeholder: "ST_xxxxx"},
			{Key: "OUTBOUND_TRUNK_ID", Label: "Outbound Trunk ID", Type: FieldText, Placeholder: "ST_xxxxx"},
			{Key: "VOBIZ_SIP_DOMAIN", Label: "SIP Domain", Type: FieldText, Placeholder: "your-domain.sip.provider.com"},
			{Key: "VOBIZ_USERNAME", Label: "SIP Username", Type: FieldText, Placeholder: "Username"},
			{Key: "VOBIZ_PASSWORD", Label: "SIP Password", Type: FieldPassword, Placeholder: "Password"},
			{Key: KeyOutboundNumber, Label: "Outbound Phone Number", Type: FieldText, Placeholder: transferPlaceholder},
		},
	},
	{
		ID:          "transfer",
		Title:       "Call Transfer Settings",
		Description: "Configure transfer destinations for call routing",
		Fields: []Field{
			{Key: "DEFAULT_TRANSFER_NUMBER", Label: "Default Transfer Number", Type: FieldText, Placeholder: transferPlaceholder},
			{Key: "TRANSFER_SALES", Label: "Sales Team Number", Type: FieldText, Placeholder: transferPlaceholder},
			{Key: "TRANSFER_SUPPORT", Label: "Support Team Number", Type: FieldText, Placeholder: transferPlaceholder},
			{Key: "TRANSFER_MANAGER", Label: "Manager Number", Type: FieldText, Placeholder: transferPlaceholder},
			{Key: "TRANSFER_ANNOUNCEMENT", Label: "Transfer Announcement", Type: FieldText,
				Placeholder: "I'm transferring you now...",
				Default:     "I'm transferring you now. Please hold for just a moment."},
		},
	},
}

// Catalog returns the setting groups in display order. Callers get a copy.
func Catalog() []Group {
	out := make([]Group, len(catalog))
	for i, group := range catalog {
		out[i] = group
		out[i].Fields = append([]Field(nil), group.Fields...)
	}
	return out
}

// LookupField finds a catalog field by env key.
func LookupField(key string) (Field, bool) {
	key = strings.TrimSpace(key)
	for _, group := range catalog {
		for _, field := range group.Fields {
			if field.Key == key {
				return field, true
			}
		}
	}
	return Field{}, false
}

type FieldView struct {
	Key         string    `json:"key"`
	Label       string    `json:"label"`
	Type        FieldType `json:"type"`
	Placeholder string    `json:"placeholder,omitempty"`
	Options     []string  `json:"options,omitempty"`
	Value       string    `json:"value"`
	Configured  bool      `json:"configured"`
}

type GroupView struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Fields      []FieldView `json:"fields"`
}

// View renders the catalog against resolved values. Secret values are never
// echoed back; Configured reports whether one is stored.
func View(values map[string]string) map[string]GroupView {
	out := make(map[string]GroupView, len(catalog))
	for _, group := range catalog {
		view := GroupView{Title: group.Title, Description: group.Description}
		for _, field := range group.Fields {
			value := strings.TrimSpace(values[field.Key])
			fv := FieldView{
				Key:         field.Key,
				Label:       field.Label,
				Type:        field.Type,
				Placeholder: field.Placeholder,
				Options:     field.Options,
				Configured:  value != "",
			}
			switch {
			case field.Secret():
			case value == "":
				fv.Value = field.Default
			default:
				fv.Value = value
			}
			view.Fields = append(view.Fields, fv)
		}
		out[group.ID] = view
	}
	return out
}
