package provider

// Capability describes what a model can do.
type Capability string

const (
	CapCompletion Capability = "completion"
	CapTools      Capability = "tools"
	CapEmbeddings Capability = "embeddings"
	CapVision     Capability = "vision"
)

// Well-known setting keys.
const (
	KeyContextLength = "ctx_len"
	KeyGPULayers     = "ngl"
	KeyContextShift  = "ctx_shift"
	KeyTemperature   = "temperature"
	KeyStream        = "stream"
	KeyMaxTokens     = "max_tokens"
)

// DefaultContextLength is the floor applied when a model has no ctx_len
// configured (or one below the floor) and the context window must grow.
const DefaultContextLength = 16384

// SettingKind discriminates the value carried by a Setting.
type SettingKind string

const (
	KindNumber SettingKind = "number"
	KindBool   SettingKind = "bool"
	KindString SettingKind = "string"
	KindEnum   SettingKind = "enum"
)

// Setting is one typed configuration entry on a provider or model.
type Setting struct {
	Key     string      `yaml:"key"`
	Kind    SettingKind `yaml:"kind"`
	Number  float64     `yaml:"number,omitempty"`
	Bool    bool        `yaml:"bool,omitempty"`
	Text    string      `yaml:"text,omitempty"`
	Options []string    `yaml:"options,omitempty"`
}

// NumberSetting creates a numeric setting.
func NumberSetting(key string, value float64) Setting {
	return Setting{Key: key, Kind: KindNumber, Number: value}
}

// BoolSetting creates a boolean setting.
func BoolSetting(key string, value bool) Setting {
	return Setting{Key: key, Kind: KindBool, Bool: value}
}

// StringSetting creates a string setting.
func StringSetting(key, value string) Setting {
	return Setting{Key: key, Kind: KindString, Text: value}
}

// EnumSetting creates an enum setting with the current value and its options.
func EnumSetting(key, value string, options []string) Setting {
	return Setting{Key: key, Kind: KindEnum, Text: value, Options: options}
}

// Value returns the setting's current value as an untyped interface, in the
// shape the completion API expects (numbers, bools, strings).
func (s Setting) Value() any {
	switch s.Kind {
	case KindNumber:
		return s.Number
	case KindBool:
		return s.Bool
	default:
		return s.Text
	}
}

// Model is one addressable model within a provider.
type Model struct {
	ID           string       `yaml:"id"`
	Capabilities []Capability `yaml:"capabilities,omitempty"`
	Settings     []Setting    `yaml:"settings,omitempty"`
}

// HasCapability reports whether the model advertises the capability.
func (m *Model) HasCapability(c Capability) bool {
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Setting returns the model-level setting for key.
func (m *Model) Setting(key string) (Setting, bool) {
	for _, s := range m.Settings {
		if s.Key == key {
			return s, true
		}
	}
	return Setting{}, false
}

// SetSetting replaces the setting with the same key, or appends it.
func (m *Model) SetSetting(setting Setting) {
	for i, s := range m.Settings {
		if s.Key == setting.Key {
			m.Settings[i] = setting
			return
		}
	}
	m.Settings = append(m.Settings, setting)
}

// ContextLength returns the configured context length, or 0 if unset.
func (m *Model) ContextLength() int {
	if s, ok := m.Setting(KeyContextLength); ok && s.Kind == KindNumber {
		return int(s.Number)
	}
	return 0
}

// Provider is a named completion backend exposing one or more models.
type Provider struct {
	Name     string    `yaml:"name"`
	Active   bool      `yaml:"active"`
	APIKey   string    `yaml:"api_key,omitempty"`
	BaseURL  string    `yaml:"base_url,omitempty"`
	Models   []Model   `yaml:"models,omitempty"`
	Settings []Setting `yaml:"settings,omitempty"`
}

// Model returns a pointer into the provider's model list.
func (p *Provider) Model(id string) (*Model, bool) {
	for i := range p.Models {
		if p.Models[i].ID == id {
			return &p.Models[i], true
		}
	}
	return nil, false
}

// Setting returns the provider-level setting for key.
func (p *Provider) Setting(key string) (Setting, bool) {
	for _, s := range p.Settings {
		if s.Key == key {
			return s, true
		}
	}
	return Setting{}, false
}

// SetSetting replaces the provider-level setting with the same key, or
// appends it.
func (p *Provider) SetSetting(setting Setting) {
	for i, s := range p.Settings {
		if s.Key == setting.Key {
			p.Settings[i] = setting
			return
		}
	}
	p.Settings = append(p.Settings, setting)
}

// Clone returns a deep copy of the provider.
func (p *Provider) Clone() *Provider {
	out := *p
	out.Settings = append([]Setting(nil), p.Settings...)
	out.Models = make([]Model, len(p.Models))
	for i, m := range p.Models {
		cm := m
		cm.Capabilities = append([]Capability(nil), m.Capabilities...)
		cm.Settings = append([]Setting(nil), m.Settings...)
		out.Models[i] = cm
	}
	return &out
}
