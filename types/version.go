package types

// Version is the canonical project version.
// The CLI, the host runtime and the lifecycle event contract share this
// version.
const Version = "0.3.0"
