package client

import (
	"fmt"
	"io"
	"sync"

	"loudfits/pkg/protocol"

	"github.com/fatih/color"
)

// ToastLevel is the visual weight of a toast
type ToastLevel int

const (
	ToastInfo ToastLevel = iota
	ToastDestructive
)

// LevelFor maps priority to a toast level: high and urgent are destructive
func LevelFor(p protocol.Priority) ToastLevel {
	if p.Loud() {
		return ToastDestructive
	}
	return ToastInfo
}

// Toast is one transient display of a notification
type Toast struct {
	Notification protocol.Notification
	Level        ToastLevel
	Style        Style
}

// Toaster renders toasts
type Toaster interface {
	Toast(t Toast)
}

// ToasterFunc adapts a function to Toaster
type ToasterFunc func(t Toast)

func (f ToasterFunc) Toast(t Toast) { f(t) }

// NopToaster discards toasts
type NopToaster struct{}

func (NopToaster) Toast(Toast) {}

// ColorToaster prints toasts to a terminal
type ColorToaster struct {
	mu  sync.Mutex
	out io.Writer
}

func NewColorToaster(out io.Writer) *ColorToaster {
	return &ColorToaster{out: out}
}

var styleColors = map[string]*color.Color{
	"blue":   color.New(color.FgBlue, color.Bold),
	"green":  color.New(color.FgGreen, color.Bold),
	"purple": color.New(color.FgMagenta, color.Bold),
	"orange": color.New(color.FgYellow, color.Bold),
	"red":    color.New(color.FgRed, color.Bold),
	"gray":   color.New(color.FgWhite, color.Bold),
}

func (c *ColorToaster) Toast(t Toast) {
	head := styleColors[t.Style.Color]
	if head == nil {
		head = styleColors["gray"]
	}
	if t.Level == ToastDestructive {
		head = color.New(color.FgWhite, color.BgRed, color.Bold)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	head.Fprintf(c.out, "%s %s", t.Style.Icon, t.Notification.Title)
	fmt.Fprintln(c.out)
	if t.Notification.Message != "" {
		fmt.Fprintf(c.out, "   %s\n", t.Notification.Message)
	}
	if t.Notification.ActionRequired {
		color.New(color.FgYellow).Fprintln(c.out, "   action required")
	}
}
