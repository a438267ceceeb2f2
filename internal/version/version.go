package version

// Version is reported in the X-App-Version response header.
var Version = "0.3.0"
