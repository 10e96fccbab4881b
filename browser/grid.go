package browser

import (
	"context"
	"time"

	"github.com/go-rod/rod"
	"github.com/use-agent/seibro/table"
	"github.com/ysmood/gson"
)

const (
	// GridModeLive reads every row over CDP.
	GridModeLive = "live"
	// GridModeSnapshot reads the body's HTML once and parses it locally.
	GridModeSnapshot = "snapshot"
)

const jsCellTexts = `() => Array.from(this.querySelectorAll('td')).map(td => (td.textContent || '').trim())`

const jsFirstCellVisible = `() => {
	const td = this.querySelector('td');
	if (!td) return false;
	const style = window.getComputedStyle(td);
	if (style.display === 'none' || style.visibility === 'hidden') return false;
	return td.getClientRects().length > 0;
}`

const jsChildTexts = `(sel) => Array.from(this.querySelectorAll(sel)).map(el => (el.textContent || '').trim())`

// Texts returns the trimmed textContent of every items match inside the
// container, in document order.
func (s *Session) Texts(ctx context.Context, container, items string) ([]string, error) {
	var out []string
	err := s.do(ctx, "read "+container, "", func(p *rod.Page) error {
		el, err := p.Element(container)
		if err != nil {
			return err
		}
		res, err := el.Eval(jsChildTexts, items)
		if err != nil {
			return err
		}
		out = jsonStrings(res.Value)
		return nil
	})
	return out, err
}

// Rows returns the rows under bodyLocator in the current document.
func (s *Session) Rows(ctx context.Context, bodyLocator string) ([]table.Row, error) {
	if s.cfg.GridMode == GridModeSnapshot {
		return s.snapshotRows(ctx, bodyLocator)
	}

	var rows []table.Row
	err := s.do(ctx, "read grid "+bodyLocator, "", func(p *rod.Page) error {
		body, err := p.Element(bodyLocator)
		if err != nil {
			return err
		}
		trs, err := body.Elements("tr")
		if err != nil {
			return err
		}
		rows = make([]table.Row, len(trs))
		for i, tr := range trs {
			rows[i] = &liveRow{el: tr.Context(ctx), timeout: s.cfg.WaitTimeout}
		}
		return nil
	})
	return rows, err
}

func (s *Session) snapshotRows(ctx context.Context, bodyLocator string) ([]table.Row, error) {
	var outer string
	err := s.do(ctx, "snapshot grid "+bodyLocator, "", func(p *rod.Page) error {
		body, err := p.Element(bodyLocator)
		if err != nil {
			return err
		}
		outer, err = body.HTML()
		return err
	})
	if err != nil {
		return nil, err
	}
	grid, err := table.NewHTMLGridFromString(outer)
	if err != nil {
		return nil, err
	}
	return grid.Rows(ctx, bodyLocator)
}

// liveRow reads a <tr> lazily. Cell texts are cached after the first read
// so the page key and the mapped record see the same values.
type liveRow struct {
	el      *rod.Element
	timeout time.Duration
	cells   []string
	read    bool
}

func (r *liveRow) CellTexts() ([]string, error) {
	if r.read {
		return r.cells, nil
	}
	var cells []string
	err := try(func() error {
		res, err := r.el.Timeout(r.timeout).Eval(jsCellTexts)
		if err != nil {
			return err
		}
		cells = jsonStrings(res.Value)
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.cells, r.read = cells, true
	return cells, nil
}

func (r *liveRow) FirstCellVisible() (bool, error) {
	var visible bool
	err := try(func() error {
		res, err := r.el.Timeout(r.timeout).Eval(jsFirstCellVisible)
		if err != nil {
			return err
		}
		visible = res.Value.Bool()
		return nil
	})
	return visible, err
}

func jsonStrings(v gson.JSON) []string {
	arr := v.Arr()
	out := make([]string, len(arr))
	for i, item := range arr {
		out[i] = item.Str()
	}
	return out
}
