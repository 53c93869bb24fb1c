// Package handler exposes the dataset, search, export and requisition
// operations as a JSON API for the page script.
package handler

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"ewmsearch/internal/requisition"
	"ewmsearch/internal/search"
	"ewmsearch/internal/table"
)

// User-visible messages.
const (
	MsgUnsupported   = "Por favor, selecione um arquivo Excel (.xlsx, .xls) ou CSV"
	MsgTooSmall      = "O arquivo parece estar vazio ou não tem dados suficientes"
	MsgParseFailed   = "Erro ao processar o arquivo. Tente novamente."
	MsgNoFile        = "Nenhum arquivo enviado"
	MsgTooLarge      = "Arquivo muito grande. Limite de %d MB."
	MsgNothingExport = "Não há dados para exportar"
	MsgExportFailed  = "Erro ao exportar. Tente novamente."
	MsgCleared       = "Dados removidos"
	MsgBadColumn     = "Coluna de pesquisa inválida"
)

// Settings are the client-side tunables served to the page script.
type Settings struct {
	DebounceMS       int64 `json:"debounce_ms"`
	LookupDebounceMS int64 `json:"lookup_debounce_ms"`
	MaxRows          int   `json:"max_rows"`
	RequisitionLines int   `json:"requisition_lines"`
	IDMaxLength      int   `json:"id_max_length"`
}

// Options configures an App.
type Options struct {
	MaxUploadMB    int
	Debounce       time.Duration
	LookupDebounce time.Duration
}

// App holds the collaborators shared by every handler.
type App struct {
	store  *table.Store
	engine *search.Engine
	filler *requisition.Filler
	logger *zap.Logger
	opts   Options
	now    func() time.Time

	mu     sync.Mutex
	notice *Toast
}

// NewApp wires the handlers to a store, its search engine and a requisition filler.
func NewApp(store *table.Store, engine *search.Engine, filler *requisition.Filler, opts Options, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxUploadMB <= 0 {
		opts.MaxUploadMB = 20
	}
	return &App{
		store:  store,
		engine: engine,
		filler: filler,
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
}

// SetNotice records the message describing where the current dataset came
// from. It is repeated to every page load until the dataset changes.
func (a *App) SetNotice(t Toast) {
	a.mu.Lock()
	a.notice = &t
	a.mu.Unlock()
}

func (a *App) clearNotice() {
	a.mu.Lock()
	a.notice = nil
	a.mu.Unlock()
}

func (a *App) currentNotice() *Toast {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.notice == nil {
		return nil
	}
	n := *a.notice
	return &n
}

func (a *App) maxUploadBytes() int64 {
	return int64(a.opts.MaxUploadMB) << 20
}

// Settings returns the values served by /api/settings.
func (a *App) Settings() Settings {
	opts := a.filler.Options()
	return Settings{
		DebounceMS:       a.opts.Debounce.Milliseconds(),
		LookupDebounceMS: a.opts.LookupDebounce.Milliseconds(),
		MaxRows:          a.engine.MaxRows(),
		RequisitionLines: opts.Lines,
		IDMaxLength:      opts.IDMaxLength,
	}
}
