package types

// Verb is the final classification of a job run
type Verb string

const (
	VerbNew             Verb = "new"
	VerbChanged         Verb = "changed"
	VerbChangedNoReport Verb = "changed,no_report"
	VerbUnchanged       Verb = "unchanged"
	VerbError           Verb = "error"
)

// IsValid reports whether the verb is one of the built-in classifications
func (v Verb) IsValid() bool {
	switch v {
	case VerbNew, VerbChanged, VerbChangedNoReport, VerbUnchanged, VerbError:
		return true
	default:
		return false
	}
}

func (v Verb) String() string {
	return string(v)
}

// ReportKind selects the rendering a diff is produced for
type ReportKind string

const (
	ReportText     ReportKind = "text"
	ReportMarkdown ReportKind = "markdown"
	ReportHTML     ReportKind = "html"
)

// AllReportKinds lists every report kind a differ must produce
var AllReportKinds = []ReportKind{ReportText, ReportMarkdown, ReportHTML}

// IsValid reports whether the kind is known
func (k ReportKind) IsValid() bool {
	switch k {
	case ReportText, ReportMarkdown, ReportHTML:
		return true
	default:
		return false
	}
}
