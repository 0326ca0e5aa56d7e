package global

// Version is overridden in release build with
// -ldflags "-X hermod/internal/pkg/global.Version=x.y.z"
var Version = "development"

// UserAgent is sent with every webseed request.
var UserAgent = "Hermod/" + Version
