package takumi

import (
	"runtime"

	"github.com/gookit/color"
)

// Global variables
var (
	Debug      bool
	ConfigFile = "/etc/takumi.conf"
	version    = "dev" // default version; overridden at build time
	hostArch   = runtime.GOARCH
	buildDate  = "unknown" // overridden at build time
)

// color helpers
var (
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)

// Version returns the linker-injected version string.
func Version() string { return version }

// BuildDate returns the linker-injected build timestamp.
func BuildDate() string { return buildDate }
