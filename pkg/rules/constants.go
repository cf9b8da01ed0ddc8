package rules

// Rule ids. These are stable: they appear in templates, issue ids and logs.
const (
	IDLeadingTrailingSpace = "generic.hygiene.leading_trailing_space"
	IDMultipleSpaces       = "generic.hygiene.multiple_spaces"
	IDUnicodeChars         = "generic.hygiene.unicode_chars"
	IDInvisibleChars       = "generic.hygiene.invisible_chars"
	IDPseudoMissing        = "generic.pseudo_missing"
	IDDuplicateRows        = "generic.duplicate_rows"
	IDUniqueColumn         = "generic.unique_column"
	IDSoftTyping           = "generic.soft_typing"
	IDRareValues           = "generic.rare_values"
	IDSimilarValues        = "generic.similar_values"
	IDUnexpectedMultiline  = "generic.unexpected_multiline"
	IDRegex                = "generic.regex"
	IDContentType          = "generic.content_type"
	IDLength               = "generic.length"
	IDForbiddenChars       = "generic.forbidden_chars"
	IDCase                 = "generic.case"
	IDRequired             = "generic.required"
	IDAllowedValues        = "generic.allowed_values"
	IDListItems            = "generic.list_items"
	IDVocabulary           = "generic.vocabulary"
	IDCreatedFormat        = "nakala.created_format"
	IDDepositType          = "nakala.deposit_type"
	IDLicense              = "nakala.license"
	IDLanguage             = "nakala.language"
)

// Default thresholds. Every one can be overridden per rule or per column.
const (
	// DefaultSoftTypingMinCount is the number of non-empty values a column
	// needs before a dominant type is inferred.
	DefaultSoftTypingMinCount = 30

	// DefaultSoftTypingThreshold is the share of values that must match a
	// type for it to be dominant. Values not matching a dominant type are
	// flagged.
	DefaultSoftTypingThreshold = 0.95

	// DefaultRareMinFrequency flags values seen fewer times than this.
	DefaultRareMinFrequency = 2

	// DefaultRareMaxDistinct skips columns with more distinct values.
	DefaultRareMaxDistinct = 50

	// DefaultRareMaxRatio skips columns whose distinct/total ratio is above
	// this, which guards free-text columns.
	DefaultRareMaxRatio = 0.2

	// DefaultSimilarThreshold is the minimum similarity (0-100) for two
	// values to be clustered.
	DefaultSimilarThreshold = 85.0

	// DefaultSimilarMinDistinct skips columns with fewer distinct values.
	DefaultSimilarMinDistinct = 5

	// DefaultSimilarMaxDistinct bounds the pairwise comparison cost.
	DefaultSimilarMaxDistinct = 500

	// DefaultListSeparator is used by list_items when list mode is enabled
	// with an empty separator.
	DefaultListSeparator = "|"

	// maxMessageValues caps how many values a message lists.
	maxMessageValues = 5
)

// DefaultPseudoMissingTokens are placeholder values that stand in for a
// missing value. Matching is case-insensitive on the trimmed cell.
var DefaultPseudoMissingTokens = []string{
	"NA", "N/A", "NULL", "n/a", "na", "null", "-", "?", "none", "None", "#N/A",
}

// DefaultEmptyTokens are values a required cell may not hold.
var DefaultEmptyTokens = []string{
	"", "NA", "N/A", "n/a", "null", "NULL", "None", "-", ".", "?", "#N/A", "#REF!", "#VALEUR!",
}
