package version

// Build metadata, overridable via -ldflags.
var (
	AppName   = "Groovekeeper"
	AppGoVer  = "go1.24"
	Version   = "dev"
	BuildDate = "unknown"
)
