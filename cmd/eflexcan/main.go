package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"
	"github.com/temoto/eflexcan/cmd/eflexcan/bridge"
	"github.com/temoto/eflexcan/cmd/eflexcan/decode"
	"github.com/temoto/eflexcan/cmd/eflexcan/run"
	"github.com/temoto/eflexcan/cmd/eflexcan/subcmd"
	"github.com/temoto/eflexcan/internal/config"
	"github.com/temoto/eflexcan/log2"
)

var log = log2.NewStderr(log2.LDebug)

var modules = []subcmd.Mod{
	run.Mod,
	decode.Mod,
	bridge.Mod,
}

func main() {
	flagset := flag.NewFlagSet("eflexcan", flag.ContinueOnError)
	flagConfig := flagset.String("config", config.DefaultPath, "")
	flagset.Usage = func() {
		fmt.Fprintf(flagset.Output(), "Usage: eflexcan [options] [command]\n\nOptions:\n")
		flagset.PrintDefaults()
		fmt.Fprintf(flagset.Output(), "\nCommands:\n")
		for _, m := range modules {
			fmt.Fprintf(flagset.Output(), "  %-14s %s\n", m.Name, m.Usage)
		}
	}
	if err := flagset.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		log.Fatal(err)
	}

	command := flagset.Arg(0)
	if command == "" {
		command = run.Mod.Name
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		flagset.Usage()
		log.Fatal(err)
	}

	if subcmd.SdNotify("start") {
		// under systemd assume journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	c := config.MustRead(log, config.DiskFiles{}, *flagConfig)
	log = subcmd.SetupLog(c, log)
	log.Debugf("config can=%+v publish=%+v", c.Can, c.Publish)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := mod.Main(ctx, c, log); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}
