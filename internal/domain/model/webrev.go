package model

// WebrevDescription describes one generated diff artifact. It is never
// mutated after creation.
type WebrevDescription struct {
	Type         WebrevType
	URL          string // Empty when nothing was published.
	Description  string // Optional extra detail, such as the merged branch.
	DiffTooLarge bool
}

// Available reports whether the description carries something to link or
// explain.
func (w WebrevDescription) Available() bool {
	return w.URL != "" || w.DiffTooLarge
}

// Label returns a human readable label for PR comments.
func (w WebrevDescription) Label() string {
	switch w.Type {
	case WebrevFull:
		return "Full"
	case WebrevIncremental:
		return "Incremental"
	case WebrevMergeTarget:
		return withDescription("Merge target", w.Description)
	case WebrevMergeSource:
		return withDescription("Merge source", w.Description)
	case WebrevMergeConflict:
		return withDescription("Merge conflicts", w.Description)
	default:
		return string(w.Type)
	}
}

// ShortLabel returns a compact label for email footers.
func (w WebrevDescription) ShortLabel() string {
	switch w.Type {
	case WebrevFull:
		return "full"
	case WebrevIncremental:
		return "incr"
	case WebrevMergeTarget:
		return withDescription("merge target", w.Description)
	case WebrevMergeSource:
		return withDescription("merge source", w.Description)
	case WebrevMergeConflict:
		return withDescription("merge conflicts", w.Description)
	default:
		return string(w.Type)
	}
}

func withDescription(label, description string) string {
	if description == "" {
		return label
	}
	return label + " (" + description + ")"
}
