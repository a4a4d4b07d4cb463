package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/ergochat/readline"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cpubot/cmdq"
	"github.com/cpubot/cmdq/examples"
	"github.com/cpubot/cmdq/utils"
)

type Config struct {
	HistoryFile string     `env:"CMDQ_HISTORY" envDefault:".cmdq_cmd_log.txt"`
	LogLevel    slog.Level `env:"CMDQ_LOG_LEVEL" envDefault:"WARN"`
}

// REPL drives one command queue with a set view, a count derivation and a
// parity derivation on top of it.
type REPL struct {
	rl    *readline.Instance
	queue *cmdq.CommandQueue[examples.Command]
	set   *cmdq.View[examples.Command, examples.Set]
	count *cmdq.Derivation[examples.Set, int]
	even  *cmdq.Derivation[int, bool]

	parsed *lru.Cache[string, examples.Command]
	reg    *prometheus.Registry
}

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),

	readline.PcItem("add"),
	readline.PcItem("remove"),
	readline.PcItem("push"),

	readline.PcItem("show"),
	readline.PcItem("log"),
	readline.PcItem("stats"),

	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func (repl *REPL) Open(cfg Config) (err error) {
	log := utils.NewDefaultLogger(cfg.LogLevel)

	repl.queue = cmdq.NewCommandQueue[examples.Command](
		cmdq.WithQueueLogger[examples.Command](log),
		cmdq.WithFingerprint(examples.Encode),
	)
	repl.set = cmdq.NewView[examples.Command, examples.Set](
		examples.SetReducer{}, cmdq.WithLogger(log))
	repl.queue.RegisterView(repl.set)
	repl.count = cmdq.NewDerivation[examples.Set, int](
		examples.CountReducer{}, cmdq.WithLogger(log))
	repl.set.RegisterDerivation(repl.count)
	repl.even = cmdq.NewDerivation[int, bool](
		examples.ParityReducer{}, cmdq.WithLogger(log))
	repl.count.RegisterDerivation(repl.even)

	repl.parsed, err = lru.New[string, examples.Command](1024)
	if err != nil {
		return
	}

	repl.reg = prometheus.NewRegistry()
	_ = repl.reg.Register(cmdq.NewQueueCollector(repl.queue))
	_ = repl.reg.Register(cmdq.NewNodeCollector("set", repl.set.Stats))
	_ = repl.reg.Register(cmdq.NewNodeCollector("count", repl.count.Stats))
	_ = repl.reg.Register(cmdq.NewNodeCollector("even", repl.even.Stats))

	repl.rl, err = readline.NewEx(&readline.Config{
		Prompt:          "◌ ",
		HistoryFile:     cfg.HistoryFile,
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return
	}
	repl.rl.CaptureExitSignal()
	return
}

func (repl *REPL) Close() error {
	if repl.rl != nil {
		_ = repl.rl.Close()
		repl.rl = nil
	}
	return nil
}

var HelpPush = errors.New("push add:milk remove:eggs ...")

// parseCommand turns an add:id / remove:id token into a Command. Tokens
// repeat a lot in a session, so parses are cached.
func (repl *REPL) parseCommand(token string) (examples.Command, error) {
	if cmd, ok := repl.parsed.Get(token); ok {
		return cmd, nil
	}
	typ, id, ok := strings.Cut(token, ":")
	if !ok || id == "" || (typ != examples.CmdAdd && typ != examples.CmdRemove) {
		return examples.Command{}, HelpPush
	}
	cmd := examples.Command{Type: typ, ID: id}
	repl.parsed.Add(token, cmd)
	return cmd, nil
}

func (repl *REPL) CommandPush(tokens []string) error {
	if len(tokens) == 0 {
		return HelpPush
	}
	cmds := make([]examples.Command, 0, len(tokens))
	for _, token := range tokens {
		cmd, err := repl.parseCommand(token)
		if err != nil {
			return err
		}
		cmds = append(cmds, cmd)
	}
	return repl.queue.Push(cmds...)
}

func (repl *REPL) CommandShow(ctx context.Context) error {
	set, err := repl.set.State(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	n, err := repl.count.State(ctx)
	if err != nil {
		return err
	}
	even, err := repl.even.State(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("set:   {%s}\ncount: %d\neven:  %v\n", strings.Join(ids, " "), n, even)
	return nil
}

func (repl *REPL) CommandLog() error {
	for i, cmd := range repl.queue.Snapshot() {
		fmt.Printf("%d\t%s\t%s\n", i, cmd.Type, cmd.ID)
	}
	st := repl.queue.Stats()
	fmt.Printf("%d command(s), fingerprint %016x\n", st.LogLen, st.Fingerprint)
	return nil
}

func (repl *REPL) CommandStats() error {
	families, err := repl.reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			val := float64(0)
			if m.GetCounter() != nil {
				val = m.GetCounter().GetValue()
			} else if m.GetGauge() != nil {
				val = m.GetGauge().GetValue()
			}
			labels := ""
			for _, lp := range m.GetLabel() {
				labels += fmt.Sprintf("{%s=%s}", lp.GetName(), lp.GetValue())
			}
			fmt.Printf("%s%s\t%g\n", mf.GetName(), labels, val)
		}
	}
	return nil
}

const help = `add <id>        add an element
remove <id>     remove an element
push <t:id>...  push a batch of commands as one update
show            print the set, its count and parity
log             dump the command log
stats           dump prometheus metrics
exit            leave`

func (repl *REPL) Once(ctx context.Context) error {
	line, err := repl.rl.Readline()
	if err == readline.ErrInterrupt && len(line) != 0 {
		return nil
	}
	if err != nil {
		return err
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "help":
		fmt.Println(help)
	case "add", "remove":
		if len(args) != 1 {
			err = HelpPush
			break
		}
		err = repl.CommandPush([]string{cmd + ":" + args[0]})
	case "push":
		err = repl.CommandPush(args)
	case "show":
		err = repl.CommandShow(ctx)
	case "log":
		err = repl.CommandLog()
	case "stats":
		err = repl.CommandStats()
	case "exit", "quit":
		return io.EOF
	default:
		fmt.Printf("unknown command %q, try help\n", cmd)
	}
	if err != nil {
		fmt.Println(err.Error())
	}
	return nil
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	var repl REPL
	if err := repl.Open(cfg); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	defer func() { _ = repl.Close() }()

	ctx := context.Background()
	if err := repl.set.Ready(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	for {
		if err := repl.Once(ctx); err != nil {
			if err != io.EOF {
				_, _ = fmt.Fprintln(os.Stderr, err.Error())
			}
			return
		}
	}
}
