// Package preload loads the bundled system dataset at startup and reloads it
// when the file changes on disk.
package preload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"ewmsearch/internal/parser"
	"ewmsearch/internal/table"
)

// DefaultLabel names the preloaded dataset wherever a file name would appear.
const DefaultLabel = "Dados do Sistema (Automático)"

// ErrNotConfigured is returned by Load when no preload path is set.
var ErrNotConfigured = errors.New("no preload file configured")

// Notice is a user-visible message about the startup data source.
type Notice struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// Loader reads the preload file into a store.
type Loader struct {
	path   string
	label  string
	store  *table.Store
	logger *zap.Logger
}

// NewLoader creates a Loader. An empty label means DefaultLabel.
func NewLoader(path, label string, store *table.Store, logger *zap.Logger) *Loader {
	if label == "" {
		label = DefaultLabel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{path: path, label: label, store: store, logger: logger}
}

// Path returns the preload file path.
func (l *Loader) Path() string { return l.path }

// Load parses the preload file and replaces the store's dataset with it.
// JSON files are read as an array of records; anything else as a spreadsheet.
func (l *Loader) Load(ctx context.Context) (*table.Dataset, error) {
	if l.path == "" {
		return nil, ErrNotConfigured
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preload file: %w", err)
	}

	var tbl *parser.Table
	if strings.EqualFold(filepath.Ext(l.path), ".json") {
		tbl, err = parser.ParseRecords(data)
	} else {
		tbl, err = parser.Parse(data, l.path, "")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse preload file %s: %w", l.path, err)
	}
	return l.store.Load(ctx, tbl.Columns, tbl.Rows, l.label)
}

// Bootstrap picks the startup dataset: the preload file when it loads,
// otherwise the snapshot persisted by the previous session.
func Bootstrap(ctx context.Context, store *table.Store, loader *Loader, logger *zap.Logger) Notice {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loader != nil && loader.Path() != "" {
		ds, err := loader.Load(ctx)
		if err == nil {
			return Notice{Message: fmt.Sprintf("Dados carregados: %d itens", ds.Len()), Kind: "success"}
		}
		logger.Error("failed to load preload file", zap.String("path", loader.Path()), zap.Error(err))
	}
	if ds, ok := store.Restore(ctx); ok {
		return Notice{Message: "Dados restaurados: " + ds.Source(), Kind: "success"}
	}
	logger.Warn("no dataset available at startup")
	return Notice{Message: "Erro: Dados do sistema não encontrados.", Kind: "error"}
}
