package journal

import (
	"context"
	"sync"

	"github.com/andrej220/swapctl/pkg/persistence"
)

// FileJournal appends events as JSON lines to a local file.
type FileJournal struct {
	path string
	mu   sync.Mutex
}

func NewFileJournal(path string) *FileJournal {
	return &FileJournal{path: path}
}

func (f *FileJournal) Record(_ context.Context, ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return persistence.AppendJSONLine(ev, f.path)
}

func (f *FileJournal) Close() error { return nil }
