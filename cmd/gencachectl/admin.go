package main

import (
	"context"
	"time"

	"github.com/maruel/subcommands"

	"github.com/unkn0wn-root/gencache/adminclient"
)

type adminRun struct {
	subcommands.CommandRunBase
	url     string
	timeout time.Duration
}

func (r *adminRun) registerAdminFlags() {
	r.Flags.StringVar(&r.url, "admin", "http://localhost:7071", "admin endpoint base URL")
	r.Flags.DurationVar(&r.timeout, "timeout", 10*time.Second, "request timeout")
}

func (r *adminRun) client() *adminclient.Client {
	return adminclient.New(r.url, adminclient.WithTimeout(r.timeout))
}

type adminCmd struct {
	adminRun
	call func(ctx context.Context, c *adminclient.Client) (any, error)
}

func (r *adminCmd) Run(a subcommands.Application, args []string, _ subcommands.Env) int {
	if len(args) != 0 {
		return done(a, errUsage("takes no arguments"))
	}
	out, err := r.call(context.Background(), r.client())
	if err != nil {
		return done(a, err)
	}
	return done(a, printJSON(a, out))
}

func newAdminCmd(usage, short string, call func(context.Context, *adminclient.Client) (any, error)) *subcommands.Command {
	return &subcommands.Command{
		UsageLine: usage,
		ShortDesc: short,
		CommandRun: func() subcommands.CommandRun {
			c := &adminCmd{call: call}
			c.registerAdminFlags()
			return c
		},
	}
}

func cmdHealth() *subcommands.Command {
	return newAdminCmd("health [-admin url]", "checks that the service is up",
		func(ctx context.Context, c *adminclient.Client) (any, error) {
			return c.Health(ctx)
		})
}

func cmdInfo() *subcommands.Command {
	return newAdminCmd("info [-admin url]", "prints generation, clients and batch counters",
		func(ctx context.Context, c *adminclient.Client) (any, error) {
			return c.Info(ctx)
		})
}

func cmdFlush() *subcommands.Command {
	return newAdminCmd("flush [-admin url]", "forces a batch and prints the resulting generation",
		func(ctx context.Context, c *adminclient.Client) (any, error) {
			gen, err := c.Flush(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]uint64{"generation": gen}, nil
		})
}
