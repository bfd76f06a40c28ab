package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/srg/gattsd/pkg/convert"
	"github.com/srg/gattsd/pkg/event"
	"github.com/ugorji/go/codec"
	"golang.org/x/term"
)

// envelopePrinter writes event envelopes and command results to out in
// text, json (one document per line) or cbor (concatenated items).
type envelopePrinter struct {
	mu     sync.Mutex
	out    io.Writer
	format string
	enc    *codec.Encoder

	kind  *color.Color
	key   *color.Color
	fault *color.Color
}

func newEnvelopePrinter(out io.Writer, format string) (*envelopePrinter, error) {
	p := &envelopePrinter{
		out:    out,
		format: format,
		kind:   color.New(color.FgCyan, color.Bold),
		key:    color.New(color.FgHiBlack),
		fault:  color.New(color.FgRed),
	}

	switch format {
	case "", "text":
		p.format = "text"
		if !isTerminal(out) {
			p.kind.DisableColor()
			p.key.DisableColor()
			p.fault.DisableColor()
		}
	case "json":
		h := new(codec.JsonHandle)
		h.Canonical = true
		h.TermWhitespace = true
		p.enc = codec.NewEncoder(out, h)
	case "cbor":
		h := new(codec.CborHandle)
		h.Canonical = true
		p.enc = codec.NewEncoder(out, h)
	default:
		return nil, fmt.Errorf("unknown output format %q (must be text, json or cbor)", format)
	}
	return p, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Envelope prints one event envelope.
func (p *envelopePrinter) Envelope(env convert.Object) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.enc != nil {
		if err := p.enc.Encode(env); err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode envelope: %v\n", err)
		}
		return
	}

	line := fmt.Sprintf("%s %-9s conn=%v",
		env[event.FieldTime], p.kind.Sprint(env[event.FieldKind]), env[event.FieldConnHandle])
	if payload, ok := env[event.FieldPayload].(convert.Object); ok && len(payload) > 0 {
		line += " " + p.fields(payload)
	}
	if msg, ok := env[event.FieldPayloadError]; ok {
		line += " " + p.fault.Sprintf("payload_error=%q", msg)
	}
	fmt.Fprintln(p.out, line)
}

// Result prints the managed result of a command.
func (p *envelopePrinter) Result(verb string, result convert.Object) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.enc != nil {
		if err := p.enc.Encode(convert.Object{"verb": verb, "result": result}); err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode result: %v\n", err)
		}
		return
	}
	if len(result) == 0 {
		fmt.Fprintf(p.out, "%-18s ok\n", verb)
		return
	}
	fmt.Fprintf(p.out, "%-18s %s\n", verb, p.fields(result))
}

// fields renders an object as sorted key=value pairs, bytes in hex.
func (p *envelopePrinter) fields(obj convert.Object) string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, p.key.Sprint(k+"=")+formatValue(obj[k]))
	}
	return strings.Join(parts, " ")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case []byte:
		return "0x" + hex.EncodeToString(x)
	case convert.Object:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+":"+formatValue(x[k]))
		}
		return "{" + strings.Join(parts, ",") + "}"
	case string:
		return x
	}
	return fmt.Sprint(v)
}
