// Package browser wraps one isolated Chromium instance behind the operations
// the scrape workflow needs. Every operation has a bounded wait and reports
// failure as a typed error; Rod panics never escape.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/seibro/config"
	"github.com/use-agent/seibro/engine"
	"github.com/use-agent/seibro/logging"
	"github.com/use-agent/seibro/models"
)

// cleanupTimeout bounds the wait for the browser process to exit.
const cleanupTimeout = 5 * time.Second

// Session owns one browser process, one profile directory and one tab.
// A Session is driven by a single workflow; Cleanup may be called from any
// goroutine to force it closed.
type Session struct {
	cfg    config.BrowserConfig
	sel    config.Selectors
	logger *slog.Logger

	mu         sync.Mutex
	launcher   *launcher.Launcher
	launched   bool
	browser    *rod.Browser
	page       *rod.Page // top-level document
	current    *rod.Page // page or the entered frame
	router     *rod.HijackRouter
	profileDir string
	closed     bool
	closeOnce  sync.Once
}

// New returns an unstarted session; call Setup before anything else.
func New(cfg config.BrowserConfig, sel config.Selectors, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{cfg: cfg, sel: sel, logger: logger}
}

// NewFactory returns a SessionFactory that launches a fresh browser per task.
func NewFactory(cfg config.BrowserConfig, sel config.Selectors) engine.SessionFactory {
	return func(ctx context.Context, workerID int) (engine.Session, error) {
		logger := logging.FromContext(ctx).With("worker", workerID)
		s := New(cfg, sel, logger)
		if err := s.Setup(ctx); err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Setup launches an isolated browser with its own profile directory. The
// process is killed when ctx is canceled.
func (s *Session) Setup(ctx context.Context) error {
	dir, err := os.MkdirTemp(s.cfg.ProfileRoot, "seibro-profile-*")
	if err != nil {
		return models.NewScrapeError(models.ErrCodeSessionInit, "failed to create profile directory", err)
	}

	l := launcher.New().
		Context(ctx).
		UserDataDir(dir).
		Headless(s.cfg.Headless).
		NoSandbox(s.cfg.NoSandbox)

	if s.cfg.BrowserBin != "" {
		l = l.Bin(s.cfg.BrowserBin)
	}
	if s.cfg.Proxy != "" {
		l = l.Proxy(s.cfg.Proxy)
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("disable-notifications"))
	l.Set(flags.Flag("no-first-run"))
	l.Set(flags.Flag("window-size"), "1600,1000")

	s.mu.Lock()
	s.launcher = l
	s.profileDir = dir
	s.mu.Unlock()

	controlURL, err := l.Launch()
	if err != nil {
		s.Cleanup()
		return models.NewScrapeError(models.ErrCodeSessionInit, "failed to launch browser", err)
	}
	s.mu.Lock()
	s.launched = true
	closed := s.closed
	s.mu.Unlock()
	if closed {
		l.Kill()
		_ = os.RemoveAll(dir)
		return models.NewScrapeError(models.ErrCodeCanceled, "session closed during setup", ctx.Err())
	}
	s.logger.Debug("browser launched", "controlURL", controlURL, "profile", dir)

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		s.Cleanup()
		return models.NewScrapeError(models.ErrCodeSessionInit, "failed to connect to browser", err)
	}
	s.mu.Lock()
	s.browser = b
	s.mu.Unlock()

	var page *rod.Page
	if s.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		s.Cleanup()
		return models.NewScrapeError(models.ErrCodeSessionInit, "failed to open tab", err)
	}

	router := setupHijack(page, s.cfg.BlockedResourceTypes)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		if router != nil {
			_ = router.Stop()
		}
		_ = b.Close()
		l.Kill()
		return models.NewScrapeError(models.ErrCodeCanceled, "session closed during setup", ctx.Err())
	}
	s.page, s.current, s.router = page, page, router
	return nil
}

// Open navigates the top-level document to url and leaves any frame.
func (s *Session) Open(ctx context.Context, url string) error {
	page, _, err := s.docs()
	if err != nil {
		return err
	}

	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancel()
	p := page.Context(navCtx)

	err = try(func() error {
		if err := p.Navigate(url); err != nil {
			return err
		}
		if err := p.WaitLoad(); err != nil {
			s.logger.Debug("load event not observed, proceeding", "url", url, "error", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Debug("open failed", "url", url, "error", err)
		return models.Categorize(err, "navigation failed")
	}

	s.mu.Lock()
	s.current = s.page
	s.mu.Unlock()
	return nil
}

// SwitchToFrame makes the iframe at locator the current document.
func (s *Session) SwitchToFrame(ctx context.Context, locator string) error {
	return s.do(ctx, "switch to frame", "", func(p *rod.Page) error {
		el, err := p.Element(locator)
		if err != nil {
			return err
		}
		frame, err := el.Frame()
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.current = frame.Context(s.page.GetContext())
		s.mu.Unlock()
		return nil
	})
}

// SwitchToDefault makes the top-level document current again.
func (s *Session) SwitchToDefault() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return models.NewScrapeError(models.ErrCodeSessionInit, "session not set up", nil)
	}
	s.current = s.page
	return nil
}

// Cleanup closes the browser, waits for it to exit and removes the profile
// directory. It is idempotent and safe to call concurrently with any
// operation, which then fails.
func (s *Session) Cleanup() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		l, launched, b, router, dir := s.launcher, s.launched, s.browser, s.router, s.profileDir
		s.mu.Unlock()

		if router != nil {
			_ = router.Stop()
		}
		if b != nil {
			if err := b.Close(); err != nil && l != nil {
				s.logger.Debug("browser close failed, killing", "error", err)
				l.Kill()
			}
		}
		if l != nil && launched {
			done := make(chan struct{})
			go func() {
				l.Cleanup()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(cleanupTimeout):
				s.logger.Warn("browser did not exit in time, killing", "pid", l.PID())
				l.Kill()
			}
		}
		if dir != "" {
			_ = os.RemoveAll(dir)
		}
		s.logger.Debug("browser session closed")
	})
}

// docs returns the top-level page and the current document.
func (s *Session) docs() (page, current *rod.Page, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, models.NewScrapeError(models.ErrCodeCanceled, "session closed", nil)
	}
	if s.page == nil {
		return nil, nil, models.NewScrapeError(models.ErrCodeSessionInit, "session not set up", nil)
	}
	return s.page, s.current, nil
}

// do runs fn against the current document, or the iframe at frame when set,
// bounded by WaitTimeout. Rod panics become errors.
func (s *Session) do(ctx context.Context, op, frame string, fn func(p *rod.Page) error) error {
	_, current, err := s.docs()
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.WaitTimeout)
	defer cancel()
	p := current.Context(opCtx)

	err = try(func() error {
		target := p
		if frame != "" {
			el, err := p.Element(frame)
			if err != nil {
				return fmt.Errorf("frame %s: %w", frame, err)
			}
			fp, err := el.Frame()
			if err != nil {
				return fmt.Errorf("frame %s: %w", frame, err)
			}
			target = fp.Context(opCtx)
		}
		return fn(target)
	})
	if err != nil {
		s.logger.Debug(op+" failed", "frame", frame, "error", err)
		return models.Categorize(err, op+" failed")
	}
	return nil
}

// try runs fn, turning a Rod panic into an error that keeps the panic value.
func try(fn func() error) error {
	var fnErr error
	if err := rod.Try(func() { fnErr = fn() }); err != nil {
		var te *rod.TryError
		if errors.As(err, &te) {
			if v, ok := te.Value.(error); ok {
				return fmt.Errorf("recovered: %w", v)
			}
			return fmt.Errorf("recovered: %v", te.Value)
		}
		return err
	}
	return fnErr
}

// pause waits StepDelay for the page to settle.
func (s *Session) pause(ctx context.Context) error {
	if s.cfg.StepDelay <= 0 {
		return nil
	}
	t := time.NewTimer(s.cfg.StepDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return models.Categorize(ctx.Err(), "settle interrupted")
	case <-t.C:
		return nil
	}
}
