// Offline decoder: feed candump lines, publish records to stdout.
package decode

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/temoto/eflexcan/cmd/eflexcan/subcmd"
	"github.com/temoto/eflexcan/helpers/cli"
	"github.com/temoto/eflexcan/internal/bms"
	"github.com/temoto/eflexcan/internal/canbus"
	"github.com/temoto/eflexcan/internal/config"
	"github.com/temoto/eflexcan/internal/tele"
	"github.com/temoto/eflexcan/log2"
)

const modName = "decode"

var Mod = subcmd.Mod{
	Name:  modName,
	Usage: "decode candump lines from stdin, print records as JSON",
	Main:  Main,
}

var suggests = []prompt.Suggest{
	{Text: "tick", Description: "publish nodes with new data"},
	{Text: "dump", Description: "print compiled payloads"},
	{Text: "help", Description: "show commands"},
}

type Session struct {
	ctx   context.Context
	log   *log2.Log
	out   io.Writer
	store *bms.Store
	gate  *bms.Gate
}

func NewSession(ctx context.Context, log *log2.Log, out io.Writer) *Session {
	store := bms.NewStore(nil)
	return &Session{
		ctx:   ctx,
		log:   log,
		out:   out,
		store: store,
		gate:  bms.NewGate(store, tele.NewLogSink(out), log, bms.GateOptions{}),
	}
}

func Main(ctx context.Context, c *config.Config, log *log2.Log) error {
	s := NewSession(ctx, log, os.Stdout)
	if err := cli.MainLoop(modName, s.Exec, cli.Complete(suggests)); err != nil {
		return err
	}
	return s.gate.Tick(ctx)
}

// Exec handles one command or candump line.
func (s *Session) Exec(line string) {
	switch strings.ToLower(line) {
	case "tick":
		if err := s.gate.Tick(s.ctx); err != nil {
			s.log.Error(err)
		}
		return

	case "dump":
		s.Dump()
		return

	case "help":
		for _, sg := range suggests {
			fmt.Fprintf(s.out, "%-6s %s\n", sg.Text, sg.Description)
		}
		fmt.Fprintf(s.out, "other input is parsed as candump line, e.g. (1715029936.123456) vcan0 101#08221100544603BB\n")
		return
	}

	f, _, err := canbus.ParseCandump(line)
	if err != nil {
		s.log.Errorf("line=%q err=%v", line, err)
		return
	}
	bf, ok := bms.FromCAN(f)
	if !ok {
		s.log.Errorf("frame=%s need 8 data bytes", f.String())
		return
	}
	if !s.store.Ingest(bf) {
		s.log.Debugf("frame=%s unknown family", f.String())
	}
}

// Dump prints compiled payloads of every node.
func (s *Session) Dump() {
	snap := s.store.Snapshot()
	nodes := make(map[uint8]struct{})
	for n := range snap.Type10 {
		nodes[n] = struct{}{}
	}
	for n := range snap.Type60 {
		nodes[n] = struct{}{}
	}
	for n := 0; n < 256; n++ {
		if _, ok := nodes[uint8(n)]; !ok {
			continue
		}
		fmt.Fprintf(s.out, "node=%d fresh=%f type10=%s type60=%s\n",
			n, snap.Fresh[uint8(n)], hex.EncodeToString(snap.Type10[uint8(n)]), hex.EncodeToString(snap.Type60[uint8(n)]))
	}
}
