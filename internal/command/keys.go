package command

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"

	"vrflow/internal/config"
	"vrflow/internal/driver"
)

type commandSender interface {
	Send(cmd driver.Command) bool
}

func keyCommands(gm config.GMControls) map[string]driver.Command {
	keys := map[string]driver.Command{}
	for key, cmd := range map[string]driver.Command{
		gm.NextKey:    driver.CmdNext,
		gm.EndKey:     driver.CmdEnd,
		gm.PauseKey:   driver.CmdPause,
		gm.RestartKey: driver.CmdRestart,
	} {
		if key != "" {
			keys[strings.ToLower(key)] = cmd
		}
	}
	return keys
}

// readCommands forwards one operator command per input line until r is
// exhausted or ctx ends. A blocked read only returns once r is closed or
// yields a line, so on stdin the goroutine lives until the process exits.
func readCommands(ctx context.Context, r io.Reader, keys map[string]driver.Command, to commandSender, logger *slog.Logger) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.ToLower(strings.TrimSpace(sc.Text()))
		if line == "" {
			continue
		}
		cmd, ok := keys[line]
		if !ok {
			logger.Warn("unknown operator key", "key", line)
			continue
		}
		to.Send(cmd)
	}
	if err := sc.Err(); err != nil {
		logger.Warn("operator input closed", "err", err)
	}
}
