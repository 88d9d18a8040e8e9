package ssh_remote

import (
	"al.essio.dev/pkg/shellescape"
	"github.com/davarch/rollout/internal/domain"
)

// Render turns a structured command into the single line an SSH exec
// request carries. Every argument is quoted; nothing is interpolated.
func Render(cmd domain.Command) string {
	line := shellescape.QuoteCommand(cmd.Args)
	if !cmd.Background {
		return line
	}

	logFile := cmd.LogFile
	if logFile == "" {
		logFile = "/dev/null"
	}
	return "nohup " + line + " > " + shellescape.Quote(logFile) + " 2>&1 < /dev/null &"
}
