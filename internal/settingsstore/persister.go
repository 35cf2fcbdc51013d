package settingsstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/experiment-core/internal/component"
)

// DefaultDebounce is the delay between a slot change and its write.
const DefaultDebounce = 300 * time.Millisecond

const saveTimeout = 5 * time.Second

// Logger defines the logging interface used by the Persister.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Resolver supplies the desired selection of a slot during bulk
// initialisation. See (*component.Container).InitFrom.
type Resolver = func(component.SlotRef) (component.Selection, bool)

// Persister keeps a Store in step with a container.
//
// Resolver reads the store once at startup. Watch saves every later change,
// debounced per slot so a burst of edits produces one write.
type Persister struct {
	container *component.Container
	store     Store
	debounce  time.Duration
	logger    Logger

	saveMu sync.Mutex // serialises writes to the store

	mu          sync.Mutex
	pending     map[string]*pendingSave
	unsubscribe func()
	closed      bool
}

type pendingSave struct {
	timer *time.Timer
	rec   Record
}

// NewPersister creates a Persister. A non-positive debounce selects
// DefaultDebounce.
func NewPersister(c *component.Container, store Store, debounce time.Duration) *Persister {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Persister{
		container: c,
		store:     store,
		debounce:  debounce,
		logger:    noopLogger{},
		pending:   make(map[string]*pendingSave),
	}
}

// SetLogger sets the logger for the persister.
func (p *Persister) SetLogger(logger Logger) {
	p.logger = logger
}

// Resolver returns a resolver backed by the store. Slots with nothing
// stored, or whose stored implementation is no longer registered, are left
// to the next resolver in a Chain. A stored empty selection keeps the slot
// disabled.
func (p *Persister) Resolver(ctx context.Context) Resolver {
	return func(ref component.SlotRef) (component.Selection, bool) {
		rec, ok, err := p.store.Load(ctx, ref.Key())
		if err != nil {
			p.logger.Warn("loading slot selection failed", "slot", ref.Key(), "error", err)
			return component.Selection{}, false
		}
		if !ok {
			return component.Selection{}, false
		}
		return selectionFor(p.container, p.logger, ref, rec)
	}
}

// Defaults returns a resolver over fixed records, keyed by slot key. It is
// used for the slot defaults declared in the configuration file.
func Defaults(c *component.Container, records map[string]Record) Resolver {
	return func(ref component.SlotRef) (component.Selection, bool) {
		rec, ok := records[ref.Key()]
		if !ok {
			return component.Selection{}, false
		}
		return selectionFor(c, noopLogger{}, ref, rec)
	}
}

// selectionFor expands a stored record into a selection, starting from the
// settings defaults.
func selectionFor(c *component.Container, logger Logger, ref component.SlotRef, rec Record) (component.Selection, bool) {
	if rec.Implementation == "" {
		return component.Selection{}, true
	}
	if _, ok := c.Implementation(rec.Implementation); !ok {
		logger.Warn("stored implementation is not registered", "slot", ref.Key(), "implementation", rec.Implementation)
		return component.Selection{}, false
	}
	return component.Selection{
		Implementation: rec.Implementation,
		Settings:       c.RestoreSettings(rec.Implementation, rec.Settings),
	}, true
}

// Chain returns a resolver that asks each resolver in turn and uses the
// first answer.
func Chain(resolvers ...Resolver) Resolver {
	return func(ref component.SlotRef) (component.Selection, bool) {
		for _, r := range resolvers {
			if r == nil {
				continue
			}
			if sel, ok := r(ref); ok {
				return sel, true
			}
		}
		return component.Selection{}, false
	}
}

// Watch starts saving container changes. Failed activations are not saved
// so a missing device does not erase the stored selection.
func (p *Persister) Watch() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrStoreClosed
	}
	if p.unsubscribe == nil {
		p.unsubscribe = p.container.OnChange(p.onChange)
	}
	return nil
}

func (p *Persister) onChange(ch component.Change) {
	if ch.Err != nil {
		return
	}
	rec, err := p.record(ch)
	if err != nil {
		p.logger.Warn("flattening slot settings failed", "slot", ch.Slot.Key(), "error", err)
		return
	}
	p.schedule(ch.Slot.Key(), rec)
}

func (p *Persister) record(ch component.Change) (Record, error) {
	rec := Record{Implementation: ch.Implementation}
	if ch.Implementation == "" {
		return rec, nil
	}
	impl, ok := p.container.Implementation(ch.Implementation)
	if !ok {
		return rec, nil
	}
	st, err := component.ResolveSettingsType(impl)
	if err != nil || st == nil {
		return rec, err
	}
	settings, err := p.container.ActiveSettings(ch.Slot.Contract, ch.Slot.ID)
	if err != nil {
		return rec, err
	}
	rec.Settings, err = st.Flatten(settings)
	return rec, err
}

func (p *Persister) schedule(key string, rec Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	if prev, ok := p.pending[key]; ok {
		prev.timer.Stop()
	}
	entry := &pendingSave{rec: rec}
	entry.timer = time.AfterFunc(p.debounce, func() { p.fire(key, entry) })
	p.pending[key] = entry
}

func (p *Persister) fire(key string, entry *pendingSave) {
	p.mu.Lock()
	if p.pending[key] != entry {
		// superseded or flushed
		p.mu.Unlock()
		return
	}
	delete(p.pending, key)
	p.mu.Unlock()

	if err := p.save(key, entry.rec); err != nil {
		p.logger.Error("saving slot selection failed", "slot", key, "error", err)
	}
}

func (p *Persister) save(key string, rec Record) error {
	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := p.store.Save(ctx, key, rec); err != nil {
		return err
	}
	p.logger.Debug("slot selection saved", "slot", key, "implementation", rec.Implementation)
	return nil
}

// Flush writes every pending change now.
func (p *Persister) Flush() error {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[string]*pendingSave)
	p.mu.Unlock()

	var errs []error
	for key, entry := range pending {
		entry.timer.Stop()
		if err := p.save(key, entry.rec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// Close stops watching and flushes pending changes.
func (p *Persister) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	unsubscribe := p.unsubscribe
	p.unsubscribe = nil
	p.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	return p.Flush()
}
