package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"

	"github.com/reelkit/reel-agent/internal/export"
)

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// writeDocument prints doc in format. Markdown is styled with glamour when w
// is a terminal and written raw otherwise, so it can be piped into a file.
func writeDocument(w io.Writer, doc export.Document, format string) error {
	data, _, err := export.Render(doc, format)
	if err != nil {
		return err
	}

	if format == export.FormatMarkdown && isTerminal(w) {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(100),
		)
		if err == nil {
			if styled, err := renderer.Render(string(data)); err == nil {
				_, err = fmt.Fprint(w, styled)
				return err
			}
		}
	}

	_, err = w.Write(data)
	return err
}
