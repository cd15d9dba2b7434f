package handler

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/oriys/nova-ric/internal/rterror"
)

var functionExpr = regexp.MustCompile(`^([^.]*)\.(.*)$`)

type module struct {
	exports map[string]Handler
	loadErr error
}

// Registry resolves descriptors against handlers registered in process.
// The module part of a descriptor, including its directory, names a group of
// registered functions.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]*module
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]*module)}
}

// Register exports h as function of module.
func (r *Registry) Register(moduleName, function string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.moduleLocked(moduleName)
	m.exports[function] = h
}

// RegisterBuffered is shorthand for registering a buffered handler.
func (r *Registry) RegisterBuffered(moduleName, function string, fn Buffered) {
	r.Register(moduleName, function, Handler{Buffered: fn})
}

// RegisterStreaming is shorthand for registering a streaming handler.
func (r *Registry) RegisterStreaming(moduleName, function string, fn Streaming, highWaterMark int) {
	r.Register(moduleName, function, Handler{Streaming: fn, HighWaterMark: highWaterMark})
}

// Descriptors lists every registered function as module.function, sorted.
func (r *Registry) Descriptors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, m := range r.modules {
		for fn := range m.exports {
			out = append(out, name+"."+fn)
		}
	}
	sort.Strings(out)
	return out
}

// Fail marks module as broken; resolving any of its functions reports err.
func (r *Registry) Fail(moduleName string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moduleLocked(moduleName).loadErr = err
}

func (r *Registry) moduleLocked(name string) *module {
	name = path.Clean(name)
	m, ok := r.modules[name]
	if !ok {
		m = &module{exports: make(map[string]Handler)}
		r.modules[name] = m
	}
	return m
}

// Resolve implements Resolver. appRoot is only used in messages.
func (r *Registry) Resolve(appRoot, descriptor string) (Handler, error) {
	if strings.Contains(descriptor, "..") {
		return Handler{}, rterror.Newf(rterror.TypeMalformedHandlerName,
			"'%s' is not a valid handler name. Use absolute paths when specifying root directories in handler names.", descriptor)
	}

	base := path.Base(descriptor)
	moduleRoot := strings.TrimSuffix(descriptor, base)
	match := functionExpr.FindStringSubmatch(base)
	if match == nil {
		return Handler{}, rterror.New(rterror.TypeMalformedHandlerName, "Bad handler")
	}
	moduleName, function := path.Join(moduleRoot, match[1]), match[2]

	r.mu.RLock()
	m, ok := r.modules[path.Clean(moduleName)]
	r.mu.RUnlock()
	if !ok {
		return Handler{}, rterror.Newf(rterror.TypeImportModuleError,
			"Cannot find module '%s'", path.Join(appRoot, moduleName))
	}
	if m.loadErr != nil {
		return Handler{}, rterror.Wrap(rterror.TypeUserCodeSyntaxError, m.loadErr)
	}

	h, ok := m.exports[function]
	if !ok {
		return Handler{}, rterror.New(rterror.TypeHandlerNotFound, fmt.Sprintf("%s is undefined or not exported", descriptor))
	}
	if h.Buffered == nil && h.Streaming == nil {
		return Handler{}, rterror.New(rterror.TypeHandlerNotFound, fmt.Sprintf("%s is not a function", descriptor))
	}
	return h, nil
}
