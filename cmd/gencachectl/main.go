// Command gencachectl inspects and drives a running gencached.
//
//	gencachectl info -admin http://localhost:7071
//	gencachectl put -addr localhost:7070 favicon:example.com='{"size":32}'
//	gencachectl watch -addr localhost:7070
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/maruel/subcommands"
)

type application struct {
	subcommands.DefaultApplication
	out, err io.Writer
}

func (a *application) GetOut() io.Writer { return a.out }
func (a *application) GetErr() io.Writer { return a.err }

func newApplication(out, errw io.Writer) *application {
	return &application{
		DefaultApplication: subcommands.DefaultApplication{
			Name:  "gencachectl",
			Title: "Inspect and drive a gencache service.",
			Commands: []*subcommands.Command{
				cmdHealth(),
				cmdInfo(),
				cmdFlush(),

				{}, // a separator
				cmdFetch(),
				cmdPut(),
				cmdWatch(),

				{}, // a separator
				subcommands.CmdHelp,
			},
		},
		out: out,
		err: errw,
	}
}

func main() {
	os.Exit(subcommands.Run(newApplication(os.Stdout, os.Stderr), nil))
}

// printJSON writes v indented to a's stdout.
func printJSON(a subcommands.Application, v any) error {
	enc := json.NewEncoder(a.GetOut())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// done reports err on stderr and maps it to an exit code.
func done(a subcommands.Application, err error) int {
	if err != nil {
		fmt.Fprintf(a.GetErr(), "%s: %s\n", a.GetName(), err)
		return 1
	}
	return 0
}
