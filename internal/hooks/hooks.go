// Package hooks runs an optional user script that rewrites captions before
// they are published.
//
// The script is a CommonJS module exporting transform(caption, folder):
//
//	module.exports.transform = function (caption, folder) {
//		return caption + "\n\n#" + folder;
//	};
//
// It may require other modules next to it. Assigning the function to
// globalThis.transform works as well.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"github.com/slotpost/slotpost/pkg/logger"
	"github.com/spf13/afero"
)

// DefaultTimeout bounds a single transform call.
const DefaultTimeout = 2 * time.Second

var (
	ErrNoTransform = errors.New("hook does not define transform")
	ErrBadResult   = errors.New("transform must return a string")
)

// CaptionHook rewrites a caption. *Hook implements it.
type CaptionHook interface {
	Apply(ctx context.Context, caption, folder string) string
}

// Hook is a loaded caption script. Each call runs in a fresh runtime, so a
// Hook is safe for concurrent use.
type Hook struct {
	path     string
	registry *require.Registry
	log      logger.Logger
	Timeout  time.Duration
}

// Load checks that path exists on fsys and prepares it for execution. The
// script is compiled on first use and cached by the registry.
func Load(fsys afero.Fs, path string, l logger.Logger) (*Hook, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, err := fsys.Stat(abs); err != nil {
		return nil, fmt.Errorf("hook %s: %w", path, err)
	}
	loader := func(p string) ([]byte, error) {
		b, err := afero.ReadFile(fsys, p)
		if err != nil && os.IsNotExist(err) {
			return nil, require.ModuleFileDoesNotExistError
		}
		return b, err
	}
	return &Hook{
		path:     abs,
		registry: require.NewRegistry(require.WithLoader(loader)),
		log:      logger.OrNop(l),
		Timeout:  DefaultTimeout,
	}, nil
}

// Path returns the absolute script path.
func (h *Hook) Path() string { return h.path }

// Transform runs the script's transform function.
func (h *Hook) Transform(ctx context.Context, caption, folder string) (string, error) {
	rt := goja.New()
	req := h.registry.Enable(rt)
	if err := rt.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		h.log.Info("hook: %s", strings.Join(parts, " "))
		return goja.Undefined()
	}); err != nil {
		return "", err
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.AfterFunc(timeout, func() { rt.Interrupt("timeout") })
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() { rt.Interrupt(ctx.Err()) })
	defer stop()

	mod, err := req.Require(h.path)
	if err != nil {
		return "", err
	}
	var fn goja.Callable
	ok := false
	if exports, isObj := mod.(*goja.Object); isObj {
		fn, ok = goja.AssertFunction(exports.Get("transform"))
	}
	if !ok {
		fn, ok = goja.AssertFunction(rt.Get("transform"))
	}
	if !ok {
		return "", ErrNoTransform
	}
	v, err := fn(goja.Undefined(), rt.ToValue(caption), rt.ToValue(folder))
	if err != nil {
		return "", err
	}
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return caption, nil
	}
	s, ok := v.Export().(string)
	if !ok {
		return "", ErrBadResult
	}
	return s, nil
}

// Apply returns the transformed caption, or caption unchanged when the hook
// fails. A nil Hook is a no-op.
func (h *Hook) Apply(ctx context.Context, caption, folder string) string {
	if h == nil {
		return caption
	}
	out, err := h.Transform(ctx, caption, folder)
	if err != nil {
		h.log.Warning("hook %s: %s: %v", filepath.Base(h.path), folder, err)
		return caption
	}
	return out
}
