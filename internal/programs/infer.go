package programs

import (
	"path"
	"strings"
)

// Interpreters whose first argument carries the real program identity. For
// these, the inferred name is "interpreter:script" so a Python worker and
// the interpreter running it group together.
var interpreterNames = map[string]struct{}{
	"python":  {},
	"python2": {},
	"python3": {},
	"node":    {},
	"nodejs":  {},
	"java":    {},
	"ruby":    {},
	"perl":    {},
	"php":     {},
}

var shellNames = map[string]struct{}{
	"bash": {},
	"sh":   {},
	"zsh":  {},
}

var scriptExtensions = []string{".py", ".js", ".rb", ".pl", ".php"}

// InferName derives the program identity of a process from its command line,
// falling back to the bare process name when no command line is available.
// The mapping is pure: the same inputs always yield the same name.
func InferName(cmdline []string, processName string) string {
	if len(cmdline) == 0 || cmdline[0] == "" {
		return processName
	}

	base := path.Base(cmdline[0])

	if _, isInterpreter := interpreterNames[base]; isInterpreter && len(cmdline) > 1 {
		script := path.Base(cmdline[1])
		for _, extension := range scriptExtensions {
			if strings.HasSuffix(script, extension) {
				script = strings.TrimSuffix(script, extension)
				break
			}
		}
		return base + ":" + script
	}

	// Shell scripts keep their extension, "bash:deploy.sh" reads clearer
	// than a bare "deploy".
	if _, isShell := shellNames[base]; isShell && len(cmdline) > 1 {
		return base + ":" + path.Base(cmdline[1])
	}

	return base
}
