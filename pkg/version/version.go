package version

// Current defines the application version.
// It defaults to "dev" but is overwritten at build time with -ldflags.
var Current = "dev"

// Commit is the source revision, injected the same way.
var Commit = "none"

const AppName = "propgraph"
