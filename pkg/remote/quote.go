package remote

import (
	"regexp"
	"strings"

	"github.com/mlsmithjr/transcoder/pkg/models"
)

var safeArg = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// QuoteArg quotes one argument for the remote shell of the given OS
func QuoteArg(targetOS, arg string) string {
	if arg != "" && safeArg.MatchString(arg) {
		return arg
	}
	if targetOS == models.OSWin10 {
		return `"` + strings.ReplaceAll(arg, `"`, `\"`) + `"`
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

// JoinArgs renders argv as a single remote command line
func JoinArgs(targetOS string, argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = QuoteArg(targetOS, a)
	}
	return strings.Join(quoted, " ")
}

// ConvertPath rewrites a forward-slash path into the remote OS's form
func ConvertPath(targetOS, path string) string {
	if targetOS == models.OSWin10 {
		return strings.ReplaceAll(path, "/", `\`)
	}
	return path
}

// JoinPath joins a remote directory and file name
func JoinPath(targetOS, dir, name string) string {
	sep := "/"
	if targetOS == models.OSWin10 && strings.Contains(dir, `\`) {
		sep = `\`
	}
	return strings.TrimRight(dir, `/\`) + sep + name
}
