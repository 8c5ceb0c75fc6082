package console

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/jscage/cage"
	"github.com/wippyai/jscage/quickjs"
)

// Line is one captured console call.
type Line struct {
	Level string
	Args  []any
}

// Console installs the guest console object. Calls are captured for the
// host and mirrored to a zap logger.
type Console struct {
	logger *zap.Logger

	mu    sync.Mutex
	lines []Line
}

// New creates a console module with a no-op logger.
func New() *Console {
	return &Console{logger: zap.NewNop()}
}

// NewWithLogger creates a console module mirroring calls to l.
func NewWithLogger(l *zap.Logger) *Console {
	return &Console{logger: l}
}

// Lines returns captured calls in guest order.
func (c *Console) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

// Messages returns the first argument of every captured call as a
// string, in order. Convenient for asserting log sequences.
func (c *Console) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.lines))
	for _, line := range c.lines {
		if len(line.Args) > 0 {
			out = append(out, Format(line.Args[0]))
		} else {
			out = append(out, "")
		}
	}
	return out
}

// Reset drops captured lines. Call between evaluations when reusing the
// module.
func (c *Console) Reset() {
	c.mu.Lock()
	c.lines = nil
	c.mu.Unlock()
}

func (c *Console) Name() string { return "console" }

func (c *Console) Def(mc *cage.ModuleContext) error {
	obj, err := cage.DefineSandboxObject(mc, mc.Context().Global(), "console", nil)
	if err != nil {
		return err
	}

	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		level := level
		if _, err := cage.DefineSandboxFn(mc, obj, level, func(args []any) (any, error) {
			c.record(level, args)
			return quickjs.Undefined, nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Console) record(level string, args []any) {
	c.mu.Lock()
	c.lines = append(c.lines, Line{Level: level, Args: args})
	c.mu.Unlock()

	msg := FormatAll(args)
	switch level {
	case "warn":
		c.logger.Warn(msg)
	case "error":
		c.logger.Error(msg)
	case "debug":
		c.logger.Debug(msg)
	default:
		c.logger.Info(msg)
	}
}

// Format renders one dumped guest value the way a console would.
func Format(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strconv(t)
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = Format(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *quickjs.Object:
		parts := make([]string, 0, t.Len())
		for _, key := range t.Keys() {
			val, _ := t.Get(key)
			parts = append(parts, key+": "+Format(val))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *quickjs.ErrorValue:
		return t.Error()
	}
	return fmt.Sprintf("%v", v)
}

// FormatAll joins formatted arguments with spaces.
func FormatAll(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = Format(a)
	}
	return strings.Join(parts, " ")
}

// strconv renders a number without a trailing ".0" for integral values.
func strconv(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
