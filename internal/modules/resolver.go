package modules

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/botloom/internal/bots"
	"github.com/roach88/botloom/internal/compiler"
	"github.com/roach88/botloom/internal/script"
)

// HookTag is the reserved tag consulted before normal resolution.
const HookTag = "onResolveModule"

// hookPrefix starts the identity of modules supplied by the resolve hook.
const hookPrefix = "hook:"

// Request is one import.
type Request struct {
	Specifier string
	// BotID and Tag name the importing listener or module.
	BotID string
	Tag   string
	// Chain lists the identities loading on this call path, outermost first.
	Chain []string
	// InHook is set for imports made while the resolve hook runs.
	InHook bool
}

func (r Request) importer() string {
	if len(r.Chain) > 0 {
		return r.Chain[len(r.Chain)-1]
	}
	if r.BotID == "" {
		return ""
	}
	return r.BotID + "." + r.Tag
}

// Runner executes module bodies and the resolve hook on the scheduling
// timeline. The scheduler implements it.
type Runner interface {
	// RunModule loads m with a host bound to (botID, tag). Imports made by
	// the body must carry chain.
	RunModule(ctx context.Context, m *compiler.Module, botID, tag string, chain []string) (script.Exports, error)
	// RunResolveHook asks the onResolveModule listeners about req. A nil
	// answer means no listener had an opinion.
	RunResolveHook(ctx context.Context, req Request) (any, error)
	// Park prepares to suspend the listener fiber running on ctx. wait
	// blocks the fiber until resume is called; the fiber then continues in
	// a new batch. ok is false when ctx carries no fiber.
	Park(ctx context.Context) (resume func(script.Exports, error), wait func() (script.Exports, error), ok bool)
}

// Record is a cached module.
type Record struct {
	Identity string
	// BotID and Tag name the tag backing the module, if any.
	BotID string
	Tag   string
	// URL is set for remote modules.
	URL string
	// Source is set for modules whose text did not come from a tag.
	Source  string
	Exports script.Exports
}

// Resolver resolves and caches modules. It is used only from the
// scheduling timeline.
type Resolver struct {
	store   *bots.Store
	interp  script.Interpreter
	runner  Runner
	fetcher Fetcher
	cache   map[string]*Record
	loading map[string]*loadState
	graph   compiler.ImportGraph
}

// loadState tracks a module whose body is running, possibly suspended.
type loadState struct {
	// waiters are importers on other fibers sharing this load.
	waiters []func(script.Exports, error)
	// blockedOn is the module this load is waiting for, if any.
	blockedOn string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFetcher replaces the HTTP fetcher used for URL specifiers.
func WithFetcher(f Fetcher) Option {
	return func(r *Resolver) {
		r.fetcher = f
	}
}

// New creates a resolver over store. The resolver subscribes to the store
// so tag changes invalidate cached modules.
func New(store *bots.Store, interp script.Interpreter, runner Runner, opts ...Option) *Resolver {
	r := &Resolver{
		store:   store,
		interp:  interp,
		runner:  runner,
		fetcher: HTTPFetcher{},
		cache:   make(map[string]*Record),
		loading: make(map[string]*loadState),
		graph:   compiler.ImportGraph{},
	}
	for _, opt := range opts {
		opt(r)
	}
	store.Subscribe(r)
	return r
}

// Import resolves req and returns the module's exports, loading the
// module on first use.
func (r *Resolver) Import(ctx context.Context, req Request) (script.Exports, error) {
	target, err := r.resolve(ctx, req)
	if err != nil {
		return nil, &ResolveError{Specifier: req.Specifier, Importer: req.importer(), Err: err}
	}

	if from := req.importer(); from != "" {
		r.graph.AddEdge(from, target.identity)
	}

	if slices.Contains(req.Chain, target.identity) {
		chain := append(slices.Clone(req.Chain), target.identity)
		return nil, &CycleError{Chain: chain}
	}
	if rec, ok := r.cache[target.identity]; ok {
		return rec.Exports, nil
	}
	if st, ok := r.loading[target.identity]; ok {
		return r.await(ctx, req, target.identity, st)
	}

	rec, err := r.load(ctx, target, append(slices.Clone(req.Chain), target.identity))
	if err != nil {
		if IsCycleError(err) {
			return nil, err
		}
		return nil, &ResolveError{Specifier: req.Specifier, Importer: req.importer(), Err: err}
	}
	return rec.Exports, nil
}

// await suspends the importer until a load started on another fiber
// settles, then returns its outcome. A wait that would close a loop of
// loads blocked on each other fails with a CycleError.
func (r *Resolver) await(ctx context.Context, req Request, identity string, st *loadState) (script.Exports, error) {
	if chain := r.blockedChain(req, identity); chain != nil {
		return nil, &CycleError{Chain: chain}
	}
	resume, wait, ok := r.runner.Park(ctx)
	if !ok {
		return nil, &ResolveError{Specifier: req.Specifier, Importer: req.importer(), Err: ErrLoading}
	}

	var own *loadState
	if len(req.Chain) > 0 {
		own = r.loading[req.Chain[len(req.Chain)-1]]
	}
	if own != nil {
		own.blockedOn = identity
	}
	st.waiters = append(st.waiters, resume)
	slog.Debug("waiting for module", "module", identity, "importer", req.importer())

	exports, err := wait()
	if own != nil {
		own.blockedOn = ""
	}
	if err != nil {
		if IsCycleError(err) {
			return nil, err
		}
		return nil, &ResolveError{Specifier: req.Specifier, Importer: req.importer(), Err: err}
	}
	return exports, nil
}

// blockedChain follows the loads identity is blocked on. If one of them is
// on req's chain, waiting would never end; the loop is returned.
func (r *Resolver) blockedChain(req Request, identity string) []string {
	chain := append(slices.Clone(req.Chain), identity)
	for id := identity; ; {
		st, ok := r.loading[id]
		if !ok || st.blockedOn == "" || slices.Contains(chain[len(req.Chain):], st.blockedOn) {
			return nil
		}
		chain = append(chain, st.blockedOn)
		if slices.Contains(req.Chain, st.blockedOn) {
			return chain
		}
		id = st.blockedOn
	}
}

// target is a resolved specifier before loading.
type target struct {
	identity string
	botID    string
	tag      string
	url      string
	source   string
	exports  script.Exports
}

func (r *Resolver) resolve(ctx context.Context, req Request) (target, error) {
	if !req.InHook && len(r.store.ListenerIDs(HookTag)) > 0 {
		answer, err := r.runner.RunResolveHook(ctx, req)
		if err != nil {
			return target{}, fmt.Errorf("%s: %w", HookTag, err)
		}
		if answer != nil {
			return r.fromHook(ctx, req, answer)
		}
	}
	return r.resolveSpecifier(req)
}

// fromHook interprets a resolve hook answer.
func (r *Resolver) fromHook(ctx context.Context, req Request, answer any) (target, error) {
	switch a := answer.(type) {
	case string:
		next := req
		next.Specifier = a
		next.InHook = true
		return r.resolve(ctx, next)
	case script.Exports:
		return target{identity: hookPrefix + req.Specifier, exports: a}, nil
	case map[string]any:
		switch {
		case a["exports"] != nil:
			exports, ok := a["exports"].(map[string]any)
			if !ok {
				if e, isExports := a["exports"].(script.Exports); isExports {
					exports = e
				} else {
					return target{}, fmt.Errorf("%s: exports must be a map, got %T", HookTag, a["exports"])
				}
			}
			return target{identity: hookPrefix + req.Specifier, exports: script.Exports(exports)}, nil
		case a["source"] != nil:
			src, ok := a["source"].(string)
			if !ok {
				return target{}, fmt.Errorf("%s: source must be a string, got %T", HookTag, a["source"])
			}
			return target{identity: hookPrefix + req.Specifier, source: src}, nil
		case a["url"] != nil:
			url, ok := a["url"].(string)
			if !ok {
				return target{}, fmt.Errorf("%s: url must be a string, got %T", HookTag, a["url"])
			}
			return target{identity: url, url: url}, nil
		case a["botId"] != nil:
			botID, _ := a["botId"].(string)
			tag, _ := a["tag"].(string)
			if !r.store.Has(botID) || compiler.CompileModule(r.interp, botID, tag, r.store.Raw(botID, tag)) == nil {
				return target{}, fmt.Errorf("%s answered %s.%s: %w", HookTag, botID, tag, ErrNotFound)
			}
			return botTarget(botID, tag), nil
		}
	}
	return target{}, fmt.Errorf("%s: unsupported answer %T", HookTag, answer)
}

func botTarget(botID, tag string) target {
	return target{identity: botID + "." + tag, botID: botID, tag: tag}
}

func (r *Resolver) resolveSpecifier(req Request) (target, error) {
	spec := strings.TrimSpace(req.Specifier)
	switch {
	case spec == "":
		return target{}, ErrNotFound
	case isURL(spec):
		return target{identity: spec, url: spec}, nil
	case strings.HasPrefix(spec, compiler.PrefixBotLink):
		if t, ok := r.byID(strings.TrimPrefix(spec, compiler.PrefixBotLink)); ok {
			return t, nil
		}
		return target{}, ErrNotFound
	case strings.HasPrefix(spec, "."):
		spec = r.absolute(req.BotID, spec)
	}

	if t, ok := r.bySystem(spec); ok {
		return t, nil
	}
	if t, ok := r.byID(spec); ok {
		return t, nil
	}
	return target{}, ErrNotFound
}

// absolute rewrites a relative specifier against the importer's system
// path. One dot means the importer's own system; every further dot climbs
// one level.
func (r *Resolver) absolute(importerID, spec string) string {
	rest := strings.TrimLeft(spec, ".")
	climb := len(spec) - len(rest) - 1

	var segments []string
	if sys := r.store.SystemOf(importerID); sys != "" {
		segments = strings.Split(sys, ".")
	}
	if climb >= len(segments) {
		return rest
	}
	base := strings.Join(segments[:len(segments)-climb], ".")
	return base + "." + rest
}

// bySystem splits at the last dot into a system path and a tag.
func (r *Resolver) bySystem(spec string) (target, bool) {
	i := strings.LastIndexByte(spec, '.')
	if i <= 0 || i == len(spec)-1 {
		return target{}, false
	}
	system, tag := spec[:i], spec[i+1:]
	for _, id := range r.store.BySystem(system) {
		if compiler.IsModule(r.store.Raw(id, tag)) {
			return botTarget(id, tag), true
		}
	}
	return target{}, false
}

// byID tries every dot as the split between a bot id and a tag, preferring
// the first split whose prefix names an existing bot.
func (r *Resolver) byID(spec string) (target, bool) {
	for i := 0; i < len(spec); i++ {
		if spec[i] != '.' {
			continue
		}
		id, tag := spec[:i], spec[i+1:]
		if r.store.Has(id) && compiler.IsModule(r.store.Raw(id, tag)) {
			return botTarget(id, tag), true
		}
	}
	return target{}, false
}

func (r *Resolver) load(ctx context.Context, t target, chain []string) (*Record, error) {
	rec := &Record{Identity: t.identity, BotID: t.botID, Tag: t.tag, URL: t.url, Source: t.source}

	if t.exports != nil {
		rec.Exports = t.exports
		r.cache[t.identity] = rec
		return rec, nil
	}

	var m *compiler.Module
	switch {
	case t.botID != "":
		m = r.store.Module(t.botID, t.tag)
		if m == nil {
			return nil, ErrNotFound
		}
	case t.url != "":
		src, err := r.fetcher.Fetch(ctx, t.url)
		if err != nil {
			return nil, err
		}
		rec.Source = src
		m = compiler.CompileModuleSource(r.interp, t.url, src)
	default:
		m = compiler.CompileModuleSource(r.interp, t.identity, t.source)
	}

	st := &loadState{}
	r.loading[t.identity] = st

	slog.Debug("loading module", "module", t.identity, "chain", strings.Join(chain, " -> "))
	exports, err := r.runner.RunModule(ctx, m, t.botID, t.tag, chain)
	delete(r.loading, t.identity)
	if err == nil {
		if exports == nil {
			exports = script.Exports{}
		}
		rec.Exports = exports
		r.cache[t.identity] = rec
	}
	for _, resume := range st.waiters {
		resume(exports, err)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Lookup returns the cached record for an identity.
func (r *Resolver) Lookup(identity string) (*Record, bool) {
	rec, ok := r.cache[identity]
	return rec, ok
}

// Invalidate drops the cached module backed by (botID, tag).
func (r *Resolver) Invalidate(botID, tag string) {
	identity := botID + "." + tag
	if _, ok := r.cache[identity]; ok {
		slog.Debug("module invalidated", "module", identity)
		delete(r.cache, identity)
	}
}

// Graph returns a copy of the import graph observed so far.
func (r *Resolver) Graph() compiler.ImportGraph {
	g := make(compiler.ImportGraph, len(r.graph))
	for k, v := range r.graph {
		g[k] = slices.Clone(v)
	}
	return g
}

// Reset drops every cached module.
func (r *Resolver) Reset() {
	clear(r.cache)
}

// TagChanged implements bots.Observer. A change to the resolve hook drops
// every module the hook supplied.
func (r *Resolver) TagChanged(botID, tag, _, _ string) {
	r.Invalidate(botID, tag)
	if tag == HookTag {
		for _, identity := range slices.Collect(maps.Keys(r.cache)) {
			if strings.HasPrefix(identity, hookPrefix) {
				delete(r.cache, identity)
			}
		}
	}
}

// BotRemoved implements bots.Observer.
func (r *Resolver) BotRemoved(botID string) {
	for identity, rec := range r.cache {
		if rec.BotID == botID {
			delete(r.cache, identity)
		}
	}
}
