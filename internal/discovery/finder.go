package discovery

import (
	"fmt"
	"iter"
	"reflect"
	"strings"
	"sync"

	"github.com/xraph/corekit/internal/errors"
	"github.com/xraph/corekit/internal/logger"
	"github.com/xraph/corekit/internal/metrics"
)

// DefaultDenyPrefixes name modules that never contribute candidates.
var DefaultDenyPrefixes = []string{
	"runtime",
	"internal/",
	"vendor/",
	"testing",
	"golang.org/",
	"google.golang.org/",
	"go.uber.org/",
	"github.com/stretchr/",
}

var errorType = reflect.TypeFor[error]()

// Finder scans a catalog for capability matches. Module inspection is
// cached per module and redone when the module's Version changes.
type Finder struct {
	catalog *Catalog
	deny    []string
	include []string
	logger  logger.Logger
	metrics *metrics.Collector

	mu         sync.Mutex
	cache      map[string]*inspection
	generation uint64
}

type inspection struct {
	version    string
	generation uint64
	candidates []Candidate
	skipped    []errors.Skip
}

// FinderOption configures a Finder.
type FinderOption func(*Finder)

// WithDenyPrefixes adds module name prefixes to skip.
func WithDenyPrefixes(prefixes ...string) FinderOption {
	return func(f *Finder) { f.deny = append(f.deny, prefixes...) }
}

// WithIncludePrefixes limits scanning to modules under the given prefixes.
func WithIncludePrefixes(prefixes ...string) FinderOption {
	return func(f *Finder) { f.include = append(f.include, prefixes...) }
}

// WithFinderLogger sets the logger used for scan and skip events.
func WithFinderLogger(l logger.Logger) FinderOption {
	return func(f *Finder) { f.logger = logger.OrNoop(l) }
}

// WithFinderMetrics counts skipped exports on m.
func WithFinderMetrics(m *metrics.Collector) FinderOption {
	return func(f *Finder) { f.metrics = m }
}

// NewFinder creates a finder over catalog, or DefaultCatalog when nil.
func NewFinder(catalog *Catalog, opts ...FinderOption) *Finder {
	if catalog == nil {
		catalog = DefaultCatalog
	}
	f := &Finder{
		catalog: catalog,
		deny:    append([]string(nil), DefaultDenyPrefixes...),
		logger:  logger.NewNoopLogger(),
		cache:   make(map[string]*inspection),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Catalog returns the catalog being scanned.
func (f *Finder) Catalog() *Catalog {
	return f.catalog
}

// Eligible reports whether a module name passes the deny and include lists.
func (f *Finder) Eligible(module string) bool {
	for _, p := range f.deny {
		if strings.HasPrefix(module, p) {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, p := range f.include {
		if strings.HasPrefix(module, p) {
			return true
		}
	}
	return false
}

// Generation counts module inspections performed so far.
func (f *Finder) Generation() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generation
}

// Invalidate drops all cached inspections.
func (f *Finder) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache = make(map[string]*inspection)
}

// inspect returns the cached inspection of m, redoing it when stale.
func (f *Finder) inspect(m Module) *inspection {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[m.Name]; ok && cached.version == m.Version {
		return cached
	}

	f.generation++
	ins := &inspection{version: m.Version, generation: f.generation}
	for i, export := range m.Exports {
		cand, skip := inspectExport(m.Name, i, export)
		if skip != nil {
			ins.skipped = append(ins.skipped, *skip)
			continue
		}
		ins.candidates = append(ins.candidates, cand)
	}
	f.cache[m.Name] = ins

	f.logger.Debug("module inspected",
		logger.Module(m.Name),
		logger.String("version", m.Version),
		logger.Int("candidates", len(ins.candidates)),
		logger.Int("skipped", len(ins.skipped)),
	)
	return ins
}

// inspectExport turns one export into a candidate. Malformed exports and
// introspection panics produce a skip instead.
func inspectExport(module string, index int, export any) (cand Candidate, skip *errors.Skip) {
	subject := fmt.Sprintf("%T", export)
	defer func() {
		if rec := recover(); rec != nil {
			skip = &errors.Skip{Module: module, Index: index, Subject: subject, Reason: fmt.Sprintf("introspection panicked: %v", rec)}
		}
	}()

	fail := func(reason string) (Candidate, *errors.Skip) {
		return Candidate{}, &errors.Skip{Module: module, Index: index, Subject: subject, Reason: reason}
	}

	if export == nil {
		return fail("nil export")
	}

	var (
		t    reflect.Type
		ctor any
	)
	switch v := export.(type) {
	case reflect.Type:
		t = v
		subject = v.String()
	default:
		rt := reflect.TypeOf(export)
		if rt.Kind() != reflect.Func {
			t = rt
			break
		}
		if reflect.ValueOf(export).IsNil() {
			return fail("nil constructor")
		}
		if rt.IsVariadic() {
			return fail("variadic constructor")
		}
		switch {
		case rt.NumOut() == 1 && rt.Out(0) != errorType:
		case rt.NumOut() == 2 && rt.Out(1) == errorType:
		default:
			return fail("constructor must return (T) or (T, error)")
		}
		t = rt.Out(0)
		ctor = export
		subject = rt.String()
	}

	if t.Kind() == reflect.Struct {
		t = reflect.PointerTo(t)
	}

	base := t
	if base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	switch {
	case base.Kind() == reflect.Interface:
		return fail("interface types are not instantiable")
	case base.Name() == "":
		return fail("unnamed type")
	case base.PkgPath() == "":
		return fail("predeclared type")
	}

	return Candidate{Module: module, Type: t, Constructor: ctor}, nil
}

// Scan returns a lazy scan of the catalog for capability c.
func (f *Finder) Scan(c Capability) *Scan {
	return &Scan{finder: f, capability: c}
}

// FindAll collects every match. The error, when non-nil, is a
// *errors.DiscoveryPartialFailure and the returned matches are still valid.
func (f *Finder) FindAll(c Capability) ([]Match, error) {
	s := f.Scan(c)
	var out []Match
	for m := range s.All() {
		out = append(out, m)
	}
	return out, s.Err()
}

// Scan is a restartable sequence of matches. Each pass over All sees the
// modules registered at that time and replaces the recorded skips.
type Scan struct {
	finder     *Finder
	capability Capability

	mu      sync.Mutex
	skipped []errors.Skip
}

// All yields matches in catalog and export order.
func (s *Scan) All() iter.Seq[Match] {
	return func(yield func(Match) bool) {
		var skipped []errors.Skip
		defer func() {
			s.mu.Lock()
			s.skipped = skipped
			s.mu.Unlock()
		}()

		f := s.finder
		for _, m := range f.catalog.Modules() {
			if !f.Eligible(m.Name) {
				continue
			}
			ins := f.inspect(m)
			for _, sk := range ins.skipped {
				skipped = append(skipped, sk)
				f.report(sk)
			}
			for _, cand := range ins.candidates {
				match, ok, skip := s.match(cand)
				if skip != nil {
					skipped = append(skipped, *skip)
					f.report(*skip)
					continue
				}
				if !ok {
					continue
				}
				if !yield(match) {
					return
				}
			}
		}
	}
}

func (s *Scan) match(cand Candidate) (match Match, ok bool, skip *errors.Skip) {
	skipFor := func(reason string) *errors.Skip {
		return &errors.Skip{Module: cand.Module, Subject: cand.Type.String(), Index: -1, Reason: reason}
	}
	defer func() {
		if rec := recover(); rec != nil {
			match, ok, skip = Match{}, false, skipFor(fmt.Sprintf("%s: panicked: %v", s.capability.Name(), rec))
		}
	}()

	match, ok, err := s.capability.Match(cand)
	if err != nil {
		return Match{}, false, skipFor(s.capability.Name() + ": " + err.Error())
	}
	return match, ok, nil
}

func (f *Finder) report(sk errors.Skip) {
	f.metrics.ObserveSkipped(sk.Module)
	f.logger.Warn("discovery candidate skipped",
		logger.Module(sk.Module),
		logger.Int("index", sk.Index),
		logger.String("subject", sk.Subject),
		logger.String("reason", sk.Reason),
	)
}

// Skipped returns the skips recorded by the most recent pass.
func (s *Scan) Skipped() []errors.Skip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]errors.Skip(nil), s.skipped...)
}

// Err reports the most recent pass's skips as a partial failure.
func (s *Scan) Err() error {
	skipped := s.Skipped()
	if len(skipped) == 0 {
		return nil
	}
	return &errors.DiscoveryPartialFailure{Skipped: skipped}
}
