package core

// GatewayVersion is overridden at build time with -ldflags
var GatewayVersion = "0.1.0-unstable"
