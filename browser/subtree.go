package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/use-agent/seibro/models"
	"golang.org/x/net/html"
)

// ExtractSubtree dumps every element matching each locator in the current
// document. Locators that never appear are skipped.
func (s *Session) ExtractSubtree(ctx context.Context, locators []string) []models.NodeDescriptor {
	var out []models.NodeDescriptor
	for _, loc := range locators {
		var outers []string
		err := s.do(ctx, "dump "+loc, "", func(p *rod.Page) error {
			if _, err := p.Element(loc); err != nil {
				return err
			}
			els, err := p.Elements(loc)
			if err != nil {
				return err
			}
			for _, el := range els {
				h, err := el.HTML()
				if err != nil {
					continue
				}
				outers = append(outers, h)
			}
			return nil
		})
		if err != nil {
			continue
		}
		for _, h := range outers {
			node, err := DescribeHTML(h)
			if err != nil {
				s.logger.Debug("subtree parse failed", "locator", loc, "error", err)
				continue
			}
			out = append(out, node)
		}
	}
	return out
}

// tableParts are dropped by the HTML parser outside a <table>.
var tableParts = map[string]bool{
	"thead": true, "tbody": true, "tfoot": true, "tr": true, "td": true, "th": true,
}

// DescribeHTML converts an element's outer HTML into a NodeDescriptor tree.
func DescribeHTML(outer string) (models.NodeDescriptor, error) {
	tag := leadingTag(outer)
	if tag == "" {
		return models.NodeDescriptor{}, fmt.Errorf("parse subtree: no element in %q", outer)
	}
	src := outer
	if tableParts[tag] {
		src = "<table>" + outer + "</table>"
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return models.NodeDescriptor{}, fmt.Errorf("parse subtree: %w", err)
	}
	sel := doc.Find(tag).First()
	if sel.Length() == 0 {
		return models.NodeDescriptor{}, fmt.Errorf("parse subtree: <%s> lost while parsing", tag)
	}
	return describe(sel.Get(0)), nil
}

func leadingTag(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "<") {
		return ""
	}
	end := 1
	for end < len(s) {
		c := s[end]
		if c == '-' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			end++
			continue
		}
		break
	}
	return strings.ToLower(s[1:end])
}

func describe(n *html.Node) models.NodeDescriptor {
	d := models.NodeDescriptor{
		Tag:  n.Data,
		Text: strings.TrimSpace(goquery.NewDocumentFromNode(n).Text()),
	}
	if len(n.Attr) > 0 {
		d.Attributes = make(map[string]string, len(n.Attr))
		for _, a := range n.Attr {
			d.Attributes[a.Key] = a.Val
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			d.Children = append(d.Children, describe(c))
		}
	}
	return d
}
