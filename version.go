package quilld

// Version is the quilld release version, overridable at link time with
// -ldflags "-X github.com/quillcms/quilld.Version=...".
var Version = "0.1.0"
