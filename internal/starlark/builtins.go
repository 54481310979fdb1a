package starlark

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Predeclared returns the globals every script sees: this, refs, state,
// broadcast and log.
func Predeclared(this *ThisInfo, refs *refsValue, state *starlark.Dict, broadcast *starlark.Builtin, log starlark.Value) starlark.StringDict {
	globals := starlark.StringDict{
		"refs":      refs,
		"state":     state,
		"broadcast": broadcast,
		"log":       log,
	}
	if this != nil {
		globals["this"] = this.ToStarlark()
	}
	return globals
}

// LogModule builds the "log" global. Each function takes a message and
// keyword arguments that become structured attributes:
//
//	log.info("synced", rows = 12)
func LogModule(logger *slog.Logger, scriptName string) starlark.Value {
	levels := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	members := make(starlark.StringDict, len(levels))
	for name, level := range levels {
		members[name] = starlark.NewBuiltin("log."+name, logFunc(logger, scriptName, level))
	}
	return starlarkstruct.FromStringDict(starlark.String("log"), members)
}

func logFunc(logger *slog.Logger, scriptName string, level slog.Level) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var msg string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 1, &msg); err != nil {
			return nil, err
		}

		attrs := make([]any, 0, 2+2*len(kwargs))
		attrs = append(attrs, slog.String("script", scriptName))

		sort.Slice(kwargs, func(i, j int) bool {
			return string(kwargs[i][0].(starlark.String)) < string(kwargs[j][0].(starlark.String))
		})
		for _, kv := range kwargs {
			key := string(kv[0].(starlark.String))
			val, err := ToGo(kv[1])
			if err != nil {
				return nil, fmt.Errorf("%s: %s: %w", b.Name(), key, err)
			}
			attrs = append(attrs, slog.Any(key, val))
		}

		logger.Log(context.Background(), level, msg, attrs...)
		return starlark.None, nil
	}
}

// printFunc routes print() to the logger at debug level.
func printFunc(logger *slog.Logger) func(*starlark.Thread, string) {
	return func(_ *starlark.Thread, msg string) {
		logger.Debug(msg, slog.String("source", "print"))
	}
}
