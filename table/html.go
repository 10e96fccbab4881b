package table

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// StaticRow is an in-memory Row.
type StaticRow struct {
	Cells  []string
	Hidden bool
}

func (r StaticRow) CellTexts() ([]string, error) { return r.Cells, nil }

func (r StaticRow) FirstCellVisible() (bool, error) { return !r.Hidden, nil }

// HTMLGrid is a Grid over a static HTML snapshot.
type HTMLGrid struct {
	doc *goquery.Document
}

// NewHTMLGrid parses r into a grid snapshot.
func NewHTMLGrid(r io.Reader) (*HTMLGrid, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse grid html: %w", err)
	}
	return &HTMLGrid{doc: doc}, nil
}

// NewHTMLGridFromString parses an HTML fragment such as a tbody's outer HTML.
func NewHTMLGridFromString(s string) (*HTMLGrid, error) {
	// A bare <tbody> is dropped by the HTML parser outside a <table>.
	if strings.HasPrefix(strings.TrimSpace(strings.ToLower(s)), "<tbody") {
		s = "<table>" + s + "</table>"
	}
	return NewHTMLGrid(strings.NewReader(s))
}

// Rows returns the direct child rows of the first element matching
// bodyLocator. A body with no rows yields an empty slice; a missing body is
// an error.
func (g *HTMLGrid) Rows(_ context.Context, bodyLocator string) ([]Row, error) {
	body := g.doc.Find(bodyLocator).First()
	if body.Length() == 0 {
		return nil, fmt.Errorf("grid body %q not found", bodyLocator)
	}

	var rows []Row
	body.ChildrenFiltered("tr").Each(func(_ int, tr *goquery.Selection) {
		row := StaticRow{}
		tds := tr.ChildrenFiltered("td")
		tds.Each(func(_ int, td *goquery.Selection) {
			row.Cells = append(row.Cells, strings.TrimSpace(td.Text()))
		})
		if tds.Length() > 0 {
			row.Hidden = hidden(tds.First(), tr)
		}
		rows = append(rows, row)
	})
	return rows, nil
}

// hidden reports whether td or any ancestor up to and including tr is
// hidden by attribute or inline style.
func hidden(td, tr *goquery.Selection) bool {
	stop := tr.Get(0)
	for n := td.Get(0); n != nil; n = n.Parent {
		if n.Type == html.ElementNode && nodeHidden(n) {
			return true
		}
		if n == stop {
			break
		}
	}
	return false
}

func nodeHidden(n *html.Node) bool {
	for _, a := range n.Attr {
		switch a.Key {
		case "hidden":
			return true
		case "style":
			style := strings.ReplaceAll(strings.ToLower(a.Val), " ", "")
			if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
				return true
			}
		}
	}
	return false
}
