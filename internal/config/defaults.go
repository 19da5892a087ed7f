package config

// Scheduler defaults.
const (
	DefaultMaxJobs = 0 // 0 means "use runtime.NumCPU()"
)

// PtyDriver defaults (spec.md §4.9.2, §4.9.3).
const (
	DefaultPtyTimeoutSeconds = 10
	DefaultMatcherKind       = "literal"
	DefaultCloseGraceSeconds = 5
)
