package flags

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"
)

// NewApp creates an app with sane defaults.
func NewApp(gitCommit, gitDate, usage string) *cli.App {
	app := cli.NewApp()
	app.EnableBashCompletion = true
	app.Version = version(gitCommit, gitDate)
	app.Usage = usage
	app.Copyright = "Copyright 2024-2026 The shieldpay Authors"
	app.Before = func(ctx *cli.Context) error {
		MigrateGlobalFlags(ctx)
		return nil
	}
	return app
}

func version(gitCommit, gitDate string) string {
	v := "1.0.0"
	if len(gitCommit) >= 8 {
		v += "-" + gitCommit[:8]
	}
	if gitDate != "" {
		v += "-" + gitDate
	}
	return v
}

// MigrateGlobalFlags makes all global flag values available in the
// context. This should be called as early as possible in app.Before.
//
// Example:
//
//	relayer --verbosity 2 run --verbosity 4
//
// is equivalent after calling this method with:
//
//	relayer run --verbosity 4
func MigrateGlobalFlags(ctx *cli.Context) {
	var iterate func(cs []*cli.Context, fn func(*cli.Context))
	iterate = func(cs []*cli.Context, fn func(*cli.Context)) {
		for _, c := range cs {
			fn(c)
			iterate(c.Lineage()[1:], fn)
		}
	}
	iterate(ctx.Lineage(), func(c *cli.Context) {
		for _, name := range c.FlagNames() {
			for _, parent := range ctx.Lineage()[1:] {
				if parent.IsSet(name) {
					ctx.Set(name, parent.String(name))
					break
				}
			}
		}
	})
}

// CheckExclusive verifies that only a single instance of the provided flags was
// set by the user. Each flag might optionally be followed by a string type to
// specialize it further.
func CheckExclusive(ctx *cli.Context, args ...interface{}) {
	set := make([]string, 0, 1)
	for i := 0; i < len(args); i++ {
		flag, ok := args[i].(cli.Flag)
		if !ok {
			panic(fmt.Sprintf("invalid argument, not cli.Flag type: %T", args[i]))
		}
		name := flag.Names()[0]
		if ctx.IsSet(name) {
			set = append(set, "--"+name)
		}
	}
	if len(set) > 1 {
		Fatalf("Flags %v can't be used at the same time", set)
	}
}

// Fatalf formats a message to standard error and exits the program.
func Fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Fatal: "+format+"\n", args...)
	os.Exit(1)
}

// HomeDir returns the user's home directory, used for default data paths.
func HomeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return ""
}

// ExpandPath expands a leading tilde into the user's home directory.
func ExpandPath(p string) string {
	if len(p) >= 2 && p[:2] == "~/" {
		if home := HomeDir(); home != "" {
			p = home + p[1:]
		}
	}
	return filepath.Clean(os.ExpandEnv(p))
}
