package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/lexlapax/engram/pkg/engram"
	"github.com/lexlapax/engram/pkg/mem/query"
	"github.com/lexlapax/engram/pkg/mem/record"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

// historyFile is the file where REPL history is stored
const historyFile = ".engram_history"

var replCommands = []string{
	"remember", "recall", "forget", "connect", "disconnect", "related",
	"query", "emotion", "working", "reinforce", "consolidate", "stats", "help", "quit",
}

const replHelp = `Commands:
  remember [kind] <text>     store a memory (kind: episodic, semantic, emotional, procedural)
  recall <id>                show a memory and count the access
  forget <id>                remove a memory and its links
  connect <id> <id>          link two memories
  disconnect <id> <id>       unlink two memories
  related <id>               show associated memories
  query <text>               retrieve memories by text
  emotion <valence>          retrieve memories by emotional valence (-1..1)
  working                    retrieve memories associated with the working set
  reinforce <id> <delta>     adjust a memory's reinforcement score
  consolidate                run a consolidation pass
  stats                      show statistics
  quit                       exit`

func newReplCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive memory shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, cfg, err := opts.openEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.Start(ctx); err != nil {
				return err
			}

			line := liner.NewLiner()
			defer line.Close()
			line.SetCtrlCAborts(true)
			line.SetCompleter(func(input string) (c []string) {
				for _, name := range replCommands {
					if strings.HasPrefix(name, input) {
						c = append(c, name)
					}
				}
				return
			})

			if f, err := os.Open(historyFile); err == nil {
				line.ReadHistory(f)
				f.Close()
			}
			defer func() {
				if f, err := os.Create(historyFile); err == nil {
					line.WriteHistory(f)
					f.Close()
				}
			}()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "engram | persistence: %s | semantic: %s\n", cfg.Persistence.Type, cfg.Semantic.Type)
			fmt.Fprintln(out, "Type help for available commands.")

			s := &session{engine: e, out: out}
			for {
				input, err := line.Prompt("engram> ")
				if err != nil {
					if err == liner.ErrPromptAborted || err == io.EOF {
						fmt.Fprintln(out, "Goodbye!")
						return nil
					}
					return err
				}
				input = strings.TrimSpace(input)
				if input == "" {
					continue
				}
				line.AppendHistory(input)
				if s.execute(ctx, input) {
					fmt.Fprintln(out, "Goodbye!")
					return nil
				}
			}
		},
	}
}

// session executes REPL lines against an engine.
type session struct {
	engine *engram.Engine
	out    io.Writer
}

// execute runs one line and reports whether the session should end.
func (s *session) execute(ctx context.Context, input string) (quit bool) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	var err error
	switch cmd {
	case "quit", "exit":
		return true
	case "help":
		fmt.Fprintln(s.out, replHelp)
	case "remember":
		err = s.remember(ctx, args)
	case "recall":
		err = s.recall(ctx, args)
	case "forget":
		if err = need(args, 1, "forget <id>"); err == nil {
			s.report(s.engine.Forget(ctx, args[0]), "forgotten", "no such memory")
		}
	case "connect":
		if err = need(args, 2, "connect <id> <id>"); err == nil {
			s.report(s.engine.Connect(ctx, args[0], args[1]), "connected", "cannot connect")
		}
	case "disconnect":
		if err = need(args, 2, "disconnect <id> <id>"); err == nil {
			s.report(s.engine.Disconnect(ctx, args[0], args[1]), "disconnected", "not connected")
		}
	case "related":
		if err = need(args, 1, "related <id>"); err == nil {
			for i, r := range s.engine.Related(ctx, args[0], 0) {
				fmt.Fprintf(s.out, "%d. [%s %.3f] %s (%s)\n", i+1, r.Source, r.Score, r.Record.Content, r.Record.ID)
			}
		}
	case "query":
		var res *query.Result
		if res, err = s.engine.Query(ctx, query.Query{Text: strings.Join(args, " ")}); err == nil {
			s.printResult(res)
		}
	case "emotion":
		err = s.emotion(ctx, args)
	case "working":
		var res *query.Result
		if res, err = s.engine.ByWorkingSet(ctx, query.DefaultLimit); err == nil {
			s.printResult(res)
		}
	case "reinforce":
		err = s.reinforce(ctx, args)
	case "consolidate":
		rep, cerr := s.engine.Consolidate(ctx)
		if err = cerr; err == nil {
			fmt.Fprintf(s.out, "scanned %d, reinforced %d, decayed %d, linked %d in %s\n",
				rep.Scanned, rep.Reinforced, rep.Decayed, rep.Linked, rep.Elapsed)
		}
	case "stats":
		err = writeJSON(s.out, s.engine.Stats())
	default:
		err = fmt.Errorf("unknown command %q, type help", cmd)
	}
	if err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
	}
	return false
}

func need(args []string, n int, usage string) error {
	if len(args) < n {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

func (s *session) report(ok bool, yes, no string) {
	if ok {
		fmt.Fprintln(s.out, yes)
	} else {
		fmt.Fprintln(s.out, no)
	}
}

func (s *session) remember(ctx context.Context, args []string) error {
	if err := need(args, 1, "remember [kind] <text>"); err != nil {
		return err
	}
	kind := record.Episodic
	if k, err := record.ParseKind(args[0]); err == nil && len(args) > 1 {
		kind, args = k, args[1:]
	}
	id, err := s.engine.Remember(ctx, record.New(kind, strings.Join(args, " ")))
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "remembered %s\n", id)
	return nil
}

func (s *session) recall(ctx context.Context, args []string) error {
	if err := need(args, 1, "recall <id>"); err != nil {
		return err
	}
	rec, ok := s.engine.Recall(ctx, args[0])
	if !ok {
		fmt.Fprintln(s.out, "no such memory")
		return nil
	}
	return writeJSON(s.out, rec)
}

func (s *session) emotion(ctx context.Context, args []string) error {
	if err := need(args, 1, "emotion <valence>"); err != nil {
		return err
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid valence %q", args[0])
	}
	res, err := s.engine.ByEmotion(ctx, v, query.DefaultLimit)
	if err != nil {
		return err
	}
	s.printResult(res)
	return nil
}

func (s *session) reinforce(ctx context.Context, args []string) error {
	if err := need(args, 2, "reinforce <id> <delta>"); err != nil {
		return err
	}
	delta, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid delta %q", args[1])
	}
	ok, err := s.engine.Reinforce(ctx, args[0], delta)
	if err != nil {
		return err
	}
	s.report(ok, "reinforced", "no such memory")
	return nil
}

func (s *session) printResult(res *query.Result) {
	if len(res.Records) == 0 {
		fmt.Fprintln(s.out, "no memories found")
		return
	}
	for i, rec := range res.Records {
		fmt.Fprintf(s.out, "%d. [%s] %s (%s)\n", i+1, rec.Kind, rec.Content, rec.ID)
	}
	fmt.Fprintf(s.out, "%d of %d matches via %v in %s\n", len(res.Records), res.TotalMatches, res.Sources, res.Elapsed)
}
