package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"ewmsearch/internal/search"
	"ewmsearch/internal/table"
)

const browsePrompt = "ewm> "

const browseHelp = `Digite um texto para pesquisar. Comandos:
  :col <n|nome|all>  limita a pesquisa a uma coluna
  :cols              lista as colunas
  :export [dir]      exporta o resultado atual para .xlsx
  :quit              sai`

func browseCommand() *cobra.Command {
	var maxRows int
	cmd := &cobra.Command{
		Use:   "browse <file>",
		Short: "Search a spreadsheet interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openFile(cmd.Context(), args[0], terminalLogger())
			if err != nil {
				return err
			}
			s := newSession(store, maxRows, cmd.OutOrStdout())
			return s.run()
		},
	}
	cmd.Flags().IntVar(&maxRows, "max-rows", 50, "maximum rows to print per query")
	return cmd
}

// session is the state of one interactive browse.
type session struct {
	store  *table.Store
	engine *search.Engine
	out    io.Writer
	scope  search.Scope
	now    func() time.Time
}

func newSession(store *table.Store, maxRows int, out io.Writer) *session {
	return &session{
		store:  store,
		engine: search.NewEngine(store, maxRows, nil),
		out:    out,
		scope:  search.AllColumns(),
		now:    time.Now,
	}
}

func (s *session) run() error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(s.complete)

	historyFile := filepath.Join(os.TempDir(), ".ewmsearch_history")
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

	ds := s.store.Dataset()
	fmt.Fprintf(s.out, "%s: %s\n%s\n\n", ds.Source(), search.TotalLabel(ds.Len()), browseHelp)
	for {
		input, err := line.Prompt(browsePrompt)
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(s.out)
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}
		quit, err := s.exec(input)
		if err != nil {
			fmt.Fprintf(s.out, "Erro: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// exec handles one input line and reports whether the session should end.
func (s *session) exec(input string) (bool, error) {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, ":") {
		return false, printPlan(s.out, s.engine.Search(search.NewQuery(input, s.scope)))
	}

	cmd, arg, _ := strings.Cut(trimmed[1:], " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "q", "quit", "exit":
		return true, nil
	case "help", "h":
		fmt.Fprintln(s.out, browseHelp)
	case "cols":
		for i, c := range s.store.Dataset().Columns() {
			fmt.Fprintf(s.out, "%d\t%s\n", i, c)
		}
	case "col":
		scope, err := scopeFor(s.store, arg)
		if err != nil {
			return false, err
		}
		s.scope = scope
		fmt.Fprintf(s.out, "Coluna: %s\n", s.describeScope())
	case "export":
		dir := arg
		if dir == "" {
			dir = "."
		}
		path, n, err := writeExport(s.store, dir, s.now())
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "Exportado: %d itens -> %s\n", n, path)
	default:
		return false, fmt.Errorf("comando desconhecido :%s", cmd)
	}
	return false, nil
}

func (s *session) describeScope() string {
	if s.scope.IsAll() {
		return "todas"
	}
	return s.store.Dataset().Columns()[s.scope.Index()]
}

func (s *session) complete(line string) []string {
	var out []string
	for _, c := range []string{":col ", ":cols", ":export ", ":help", ":quit"} {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	return out
}
