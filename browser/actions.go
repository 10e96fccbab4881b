package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
)

// jsClick clicks through the DOM so overlays and animations cannot
// intercept the event.
const jsClick = `() => this.click()`

// jsSetValue is the fallback for inputs that refuse keyboard focus.
const jsSetValue = `(v) => {
	this.value = v;
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
}`

// ClickButton waits for locator and clicks it.
func (s *Session) ClickButton(ctx context.Context, locator, frame string) error {
	err := s.do(ctx, "click "+locator, frame, func(p *rod.Page) error {
		el, err := p.Element(locator)
		if err != nil {
			return err
		}
		_, err = el.Eval(jsClick)
		return err
	})
	if err != nil {
		return err
	}
	return s.pause(ctx)
}

// ClickByVisibleText clicks the first button, then link, whose normalized
// text equals text.
func (s *Session) ClickByVisibleText(ctx context.Context, text, frame string) error {
	lit := xpathLiteral(text)
	err := s.do(ctx, "click text "+text, frame, func(p *rod.Page) error {
		el, err := p.Race().
			ElementX(fmt.Sprintf("//button[normalize-space(string())=%s]", lit)).
			ElementX(fmt.Sprintf("//a[normalize-space(string())=%s]", lit)).
			Do()
		if err != nil {
			return err
		}
		_, err = el.Eval(jsClick)
		return err
	})
	if err != nil {
		return err
	}
	return s.pause(ctx)
}

// FillInput focuses locator, replaces its content with value and lets the
// page settle.
func (s *Session) FillInput(ctx context.Context, locator, value, frame string) error {
	err := s.do(ctx, "fill "+locator, frame, func(p *rod.Page) error {
		el, err := p.Element(locator)
		if err != nil {
			return err
		}
		if _, err := el.Eval(jsClick); err != nil {
			return err
		}
		if err := el.SelectAllText(); err == nil {
			if err = el.Input(value); err == nil {
				return nil
			}
		}
		if p.GetContext().Err() != nil {
			return p.GetContext().Err()
		}
		_, err = el.Eval(jsSetValue, value)
		return err
	})
	if err != nil {
		return err
	}
	return s.pause(ctx)
}

// CheckErrorPopup looks for the alert modal in the top-level document, logs
// its text, dismisses it and reports true. Any failure reads as no popup.
func (s *Session) CheckErrorPopup(ctx context.Context) bool {
	page, _, err := s.docs()
	if err != nil {
		return false
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.WaitTimeout)
	defer cancel()
	p := page.Context(opCtx)

	var shown bool
	err = try(func() error {
		has, modal, err := p.Has(s.sel.ErrorPopup)
		if err != nil || !has {
			return err
		}
		visible, err := modal.Visible()
		if err != nil || !visible {
			return err
		}
		shown = true

		text, _ := modal.Text()
		s.logger.Warn("error popup shown", "text", strings.TrimSpace(text))

		ok, closeBtn, err := modal.Has(s.sel.ErrorPopupClose)
		if err != nil {
			return err
		}
		if !ok {
			if ok, closeBtn, err = p.Has(s.sel.ErrorPopupClose); err != nil || !ok {
				return fmt.Errorf("popup close control %q not found", s.sel.ErrorPopupClose)
			}
		}
		_, err = closeBtn.Eval(jsClick)
		return err
	})
	if err != nil {
		s.logger.Debug("error popup check incomplete", "shown", shown, "error", err)
	}
	return shown
}

// xpathLiteral quotes s for use in an XPath 1.0 expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}
