package config

// ColumnMeta is the typed view of resolved column metadata. Rules read the
// raw Params; this view is used for validation and display.
type ColumnMeta struct {
	Kind          string   `koanf:"kind" json:"kind,omitempty"`
	Required      bool     `koanf:"required" json:"required,omitempty"`
	Unique        bool     `koanf:"unique" json:"unique,omitempty"`
	MultilineOK   bool     `koanf:"multiline_ok" json:"multiline_ok,omitempty"`
	AllowedValues []string `koanf:"allowed_values" json:"allowed_values,omitempty"`
	Regex         string   `koanf:"regex" json:"regex,omitempty"`
	ContentType   string   `koanf:"content_type" json:"content_type,omitempty"`
	MinLength     int      `koanf:"min_length" json:"min_length,omitempty"`
	MaxLength     int      `koanf:"max_length" json:"max_length,omitempty"`
	ListSeparator string   `koanf:"list_separator" json:"list_separator,omitempty"`
	ExpectedCase  string   `koanf:"expected_case" json:"expected_case,omitempty"`
	NakalaField   string   `koanf:"nakala_field" json:"nakala_field,omitempty"`
	Vocabulary    string   `koanf:"vocabulary" json:"vocabulary,omitempty"`
}
