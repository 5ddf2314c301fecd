// Package gatewaytest provides an in-memory gateway.Backend whose calls can be
// counted, blocked and failed on demand.
package gatewaytest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tstore/tstore-desktop/internal/gateway"
	"github.com/tstore/tstore-desktop/internal/models"
)

// Operation names used for call counting, failures and gates.
const (
	OpFetch             = "fetch"
	OpUpload            = "upload"
	OpDownload          = "download"
	OpOffload           = "offload"
	OpDelete            = "delete"
	OpUpdateDescription = "updateDescription"
	OpGetConfig         = "getConfig"
	OpUpdateConfig      = "updateConfig"
	OpSelectFile        = "selectFile"
	OpSelectDirectory   = "selectDirectory"
)

// Gate holds calls for one (op, key) until released.
type Gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	enterMu sync.Once
}

// Entered is closed once the first call reaches the gate.
func (g *Gate) Entered() <-chan struct{} { return g.entered }

// Release lets every waiting and future call through.
func (g *Gate) Release() {
	g.once.Do(func() { close(g.release) })
}

func (g *Gate) wait(ctx context.Context) error {
	g.enterMu.Do(func() { close(g.entered) })
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backend is a scriptable in-memory backend.
type Backend struct {
	mu       sync.Mutex
	files    []models.FileRecord
	config   models.Config
	calls    map[string]int
	failures map[string]error
	gates    map[string]*Gate
	subs     map[chan gateway.Event]struct{}

	pickFile string
	pickDir  string

	lastDescription map[string]string
}

// New returns a backend seeded with files.
func New(files ...models.FileRecord) *Backend {
	b := &Backend{
		calls:           make(map[string]int),
		failures:        make(map[string]error),
		gates:           make(map[string]*Gate),
		subs:            make(map[chan gateway.Event]struct{}),
		lastDescription: make(map[string]string),
	}
	b.SetFiles(files...)
	return b
}

func opKey(op, key string) string {
	return op + "\x00" + key
}

// SetFiles replaces the stored file list.
func (b *Backend) SetFiles(files ...models.FileRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files = make([]models.FileRecord, 0, len(files))
	for _, f := range files {
		b.files = append(b.files, f.Clone())
	}
}

// Files returns a copy of the stored file list.
func (b *Backend) Files() []models.FileRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneAll(b.files)
}

// SetConfig replaces the stored configuration.
func (b *Backend) SetConfig(cfg models.Config) {
	b.mu.Lock()
	b.config = cfg
	b.mu.Unlock()
}

// SetPicks sets what SelectFile and SelectDirectory return.
func (b *Backend) SetPicks(file, dir string) {
	b.mu.Lock()
	b.pickFile, b.pickDir = file, dir
	b.mu.Unlock()
}

// Fail makes calls of op on key return err. An empty key matches every key.
// A nil err clears the failure.
func (b *Backend) Fail(op, key string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failures, opKey(op, key))
		return
	}
	b.failures[opKey(op, key)] = err
}

// Block installs a gate for (op, key); calls wait on it until Release.
func (b *Backend) Block(op, key string) *Gate {
	g := &Gate{entered: make(chan struct{}), release: make(chan struct{})}
	b.mu.Lock()
	b.gates[opKey(op, key)] = g
	b.mu.Unlock()
	return g
}

// Calls returns how many times op was invoked for key.
func (b *Backend) Calls(op, key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[opKey(op, key)]
}

// TotalCalls returns how many times op was invoked for any key.
func (b *Backend) TotalCalls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// LastDescription returns the most recent committed description for name.
func (b *Backend) LastDescription(name string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.lastDescription[name]
	return d, ok
}

// Emit delivers ev to every open event stream. Full streams drop the event.
func (b *Backend) Emit(ev gateway.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the number of open event streams.
func (b *Backend) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// enter counts the call, waits on any gate and returns the scripted failure.
func (b *Backend) enter(ctx context.Context, op, key string) error {
	b.mu.Lock()
	b.calls[opKey(op, key)]++
	b.calls[op]++
	g := b.gates[opKey(op, key)]
	b.mu.Unlock()

	if g != nil {
		if err := g.wait(ctx); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.failures[opKey(op, key)]; ok {
		return err
	}
	if err, ok := b.failures[opKey(op, "")]; ok {
		return err
	}
	return nil
}

func (b *Backend) indexLocked(name string) int {
	for i := range b.files {
		if b.files[i].Name == name {
			return i
		}
	}
	return -1
}

func (b *Backend) FetchMetadata(ctx context.Context) ([]models.FileRecord, error) {
	if err := b.enter(ctx, OpFetch, ""); err != nil {
		return nil, err
	}
	return b.Files(), nil
}

func (b *Backend) Upload(ctx context.Context, path string) error {
	if err := b.enter(ctx, OpUpload, path); err != nil {
		return err
	}

	rec := models.FileRecord{Name: filepath.Base(path), State: models.StateLocal}
	if info, err := os.Stat(path); err == nil {
		rec.Size = info.Size()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if i := b.indexLocked(rec.Name); i >= 0 {
		b.files[i] = rec
	} else {
		b.files = append(b.files, rec)
	}
	return nil
}

func (b *Backend) Download(ctx context.Context, name string) error {
	return b.mutate(ctx, OpDownload, name, func(r *models.FileRecord) { r.State = models.StateLocal })
}

func (b *Backend) Offload(ctx context.Context, name string) error {
	return b.mutate(ctx, OpOffload, name, func(r *models.FileRecord) { r.State = models.StateCloud })
}

func (b *Backend) UpdateDescription(ctx context.Context, name, text string) error {
	if err := b.mutate(ctx, OpUpdateDescription, name, func(r *models.FileRecord) { r.Description = text }); err != nil {
		return err
	}
	b.mu.Lock()
	b.lastDescription[name] = text
	b.mu.Unlock()
	return nil
}

func (b *Backend) Delete(ctx context.Context, name string) error {
	if err := b.enter(ctx, OpDelete, name); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.indexLocked(name)
	if i < 0 {
		return fmt.Errorf("delete %s: %w", name, gateway.ErrNotFound)
	}
	b.files = append(b.files[:i], b.files[i+1:]...)
	return nil
}

func (b *Backend) mutate(ctx context.Context, op, name string, fn func(*models.FileRecord)) error {
	if err := b.enter(ctx, op, name); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.indexLocked(name)
	if i < 0 {
		return fmt.Errorf("%s %s: %w", op, name, gateway.ErrNotFound)
	}
	fn(&b.files[i])
	return nil
}

func (b *Backend) GetConfig(ctx context.Context) (models.Config, error) {
	if err := b.enter(ctx, OpGetConfig, ""); err != nil {
		return models.Config{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config, nil
}

func (b *Backend) UpdateConfig(ctx context.Context, cfg models.Config) error {
	if err := b.enter(ctx, OpUpdateConfig, ""); err != nil {
		return err
	}
	b.SetConfig(cfg)
	return nil
}

func (b *Backend) SelectFile(ctx context.Context) (string, error) {
	if err := b.enter(ctx, OpSelectFile, ""); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pickFile, nil
}

func (b *Backend) SelectDirectory(ctx context.Context) (string, error) {
	if err := b.enter(ctx, OpSelectDirectory, ""); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pickDir, nil
}

func (b *Backend) Events(ctx context.Context) (<-chan gateway.Event, error) {
	ch := make(chan gateway.Event, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

func cloneAll(files []models.FileRecord) []models.FileRecord {
	out := make([]models.FileRecord, len(files))
	for i, f := range files {
		out[i] = f.Clone()
	}
	return out
}

var _ gateway.Backend = (*Backend)(nil)
