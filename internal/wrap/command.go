package wrap

import (
	"path/filepath"
	"strings"
)

// Substitute replaces every Marker in template with path.
func Substitute(template, path string) string {
	return strings.ReplaceAll(template, Marker, path)
}

// BuildCommand returns the shell line for one run. Without tracing it is the
// bare command. With tracing the wrapper is prefixed, and when outDir is set
// every Marker in the wrapper becomes outDir/baseName. Markers inside the
// user's command are left alone.
func BuildCommand(command string, tracing bool, wrapper, outDir, baseName string) string {
	if !tracing {
		return command
	}
	if outDir != "" {
		wrapper = Substitute(wrapper, filepath.Join(outDir, baseName))
	}
	return wrapper + " " + command
}
