// Package provider turns a prompt into a runnable command for an external
// assistant CLI and normalizes that CLI's stdout lines into events.
package provider

import (
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/kballard/go-shellquote"
)

// Adapter is implemented once per assistant CLI.
type Adapter interface {
	Name() string
	BuildCommand(prompt string, opts BuildOptions) (Command, error)
	// ParseEvent normalizes one stdout line. ok is false for lines that carry
	// nothing of interest.
	ParseEvent(line string) (ev Event, ok bool)
}

type BuildOptions struct {
	WorkingDir     string
	PermissionMode string
}

// Command is what the executor spawns. Env entries are KEY=VALUE and are
// appended to the parent environment.
type Command struct {
	Binary string
	Args   []string
	Env    []string
}

// Event is one normalized output event. Text is a complete message, which
// may restate deltas already seen for that message; Delta is new text only.
type Event struct {
	Text  string
	Delta string
	Model string

	// Final marks Text as the run's closing result rather than a message.
	Final bool
	// NewMessage and NewBlock mark the start of a streamed message or of a
	// text block inside it.
	NewMessage bool
	NewBlock   bool
	// Error is a failure the provider reported in its own output.
	Error string
}

const (
	TypeClaude  = "claude"
	TypeCommand = "command"
)

// DefaultClaudeBinary is run when a claude provider names no binary.
const DefaultClaudeBinary = "claude"

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrInvalidSpec     = errors.New("invalid provider spec")
)

// Spec is the configured description of one provider.
type Spec struct {
	Name      string
	Type      string
	Binary    string
	Args      []string
	ExtraArgs string
	Model     string
	Env       map[string]string
}

// New builds the adapter described by spec.
func New(spec Spec) (Adapter, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, errors.Mark(errors.New("provider name is empty"), ErrInvalidSpec)
	}
	extra, err := shellquote.Split(spec.ExtraArgs)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "provider %q: parse extra_args", spec.Name), ErrInvalidSpec)
	}
	env := envList(spec.Env)

	switch spec.Type {
	case TypeClaude, "":
		binary := spec.Binary
		if binary == "" {
			binary = DefaultClaudeBinary
		}
		return &Claude{name: spec.Name, binary: binary, model: spec.Model, extra: extra, env: env}, nil
	case TypeCommand:
		if spec.Binary == "" {
			return nil, errors.Mark(errors.Newf("provider %q: command providers need a binary", spec.Name), ErrInvalidSpec)
		}
		return &CommandAdapter{name: spec.Name, binary: spec.Binary, args: append(append([]string(nil), spec.Args...), extra...), model: spec.Model, env: env}, nil
	default:
		return nil, errors.Mark(errors.Newf("provider %q: unknown type %q", spec.Name, spec.Type), ErrInvalidSpec)
	}
}

func envList(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}

// Registry maps provider names to adapters.
type Registry struct {
	mu          sync.RWMutex
	adapters    map[string]Adapter
	defaultName string
}

func NewRegistry(defaultName string) *Registry {
	return &Registry{adapters: make(map[string]Adapter), defaultName: defaultName}
}

// NewRegistryFromSpecs builds every spec and registers it.
func NewRegistryFromSpecs(defaultName string, specs []Spec) (*Registry, error) {
	r := NewRegistry(defaultName)
	for _, s := range specs {
		a, err := New(s)
		if err != nil {
			return nil, err
		}
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	if defaultName != "" && !r.Has(defaultName) {
		return nil, errors.Mark(errors.Newf("default provider %q is not configured", defaultName), ErrUnknownProvider)
	}
	return r, nil
}

func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.adapters[a.Name()]; dup {
		return errors.Mark(errors.Newf("provider %q registered twice", a.Name()), ErrInvalidSpec)
	}
	r.adapters[a.Name()] = a
	return nil
}

// Get returns the named adapter; an empty name resolves to the default.
func (r *Registry) Get(name string) (Adapter, error) {
	if name == "" {
		name = r.defaultName
	}
	r.mu.RLock()
	a, ok := r.adapters[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Mark(errors.Newf("provider %q is not configured", name), ErrUnknownProvider)
	}
	return a, nil
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[name]
	return ok
}

func (r *Registry) Default() string { return r.defaultName }

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
