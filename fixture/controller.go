// Package fixture drives a multi-site test fixture: one rs232 Session per
// site, a shared command table and a single stream of site events.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/Station-Manager/rs232"
)

var (
	ErrUnknownSite   = errors.New("fixture: unknown site")
	ErrUnknownAction = errors.New("fixture: unknown action")
)

// SiteEvent is an event raised by one of the fixture's sessions.
type SiteEvent = rs232.Event

// Option configures a Controller.
type Option func(*Controller)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithTransportFactory supplies the transport of every site, replacing the
// serial port.
func WithTransportFactory(f func(SiteConfig) rs232.Transport) Option {
	return func(c *Controller) { c.newTransport = f }
}

type site struct {
	cfg     SiteConfig
	session *rs232.Session
}

// Controller owns the sessions of all sites.
type Controller struct {
	cfg          *Config
	logger       zerolog.Logger
	newTransport func(SiteConfig) rs232.Transport

	sites map[int]*site
	order []int

	events  chan SiteEvent
	dropped atomic.Int64

	aborted   chan struct{}
	abortOnce sync.Once
}

// New builds a closed controller with one session per configured site.
func New(cfg *Config, opts ...Option) (*Controller, error) {
	if cfg == nil {
		return nil, errors.New("fixture: nil config")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:     cfg,
		logger:  zerolog.Nop(),
		sites:   make(map[int]*site, len(cfg.Sites)),
		events:  make(chan SiteEvent, cfg.EventBuffer),
		aborted: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, sc := range cfg.Sites {
		sopts := []rs232.Option{rs232.WithLogger(c.logger)}
		if c.newTransport != nil {
			sopts = append(sopts, rs232.WithTransport(c.newTransport(sc)))
		}
		s, err := rs232.NewSession(sc.Config, sopts...)
		if err != nil {
			return nil, fmt.Errorf("site %d: %w", sc.Site, err)
		}
		id := sc.Site
		s.SetEventHandler(id, c.onEvent)
		s.SetStopHandler(func() { c.onStop(id) })

		c.sites[id] = &site{cfg: sc, session: s}
		c.order = append(c.order, id)
	}
	sort.Ints(c.order)
	return c, nil
}

// Open opens every site and runs its init action, if one is configured.
// On failure the sites opened so far are closed again.
func (c *Controller) Open() (err error) {
	var opened []*site
	defer func() {
		if err == nil {
			return
		}
		for _, st := range opened {
			if e := st.session.Close(); e != nil {
				err = errors.Join(err, fmt.Errorf("site %d: %w", st.cfg.Site, e))
			}
		}
	}()

	for _, id := range c.order {
		st := c.sites[id]
		if err = st.session.Open(); err != nil {
			return fmt.Errorf("site %d: %w", id, err)
		}
		opened = append(opened, st)
	}
	for _, id := range c.order {
		if _, ok := c.cfg.command(c.sites[id].cfg, ActionInit); !ok {
			continue
		}
		if _, err = c.Exec(id, ActionInit); err != nil {
			return err
		}
	}

	c.logger.Info().Str("vendor", c.cfg.Vendor).Str("serial", c.cfg.Serial).
		Ints("sites", c.order).Msg("fixture open")
	return nil
}

// Close closes every site and reports all failures.
func (c *Controller) Close() error {
	var errs []error
	for _, id := range c.order {
		if err := c.sites[id].session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("site %d: %w", id, err))
		}
	}
	c.logger.Info().Msg("fixture closed")
	return errors.Join(errs...)
}

// Sites returns the configured site ids in ascending order.
func (c *Controller) Sites() []int {
	return append([]int(nil), c.order...)
}

func (c *Controller) Session(id int) (*rs232.Session, error) {
	st, ok := c.sites[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSite, id)
	}
	return st.session, nil
}

// Exec sends the command configured for action on site and returns the
// reply, bounded by the configured command timeout.
func (c *Controller) Exec(id int, action string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CommandTimeout)
	defer cancel()
	return c.ExecContext(ctx, id, action)
}

func (c *Controller) ExecContext(ctx context.Context, id int, action string) (string, error) {
	st, ok := c.sites[id]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownSite, id)
	}
	cmd, ok := c.cfg.command(st.cfg, action)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	reply, err := st.session.Exec(ctx, cmd)
	if err != nil {
		c.logger.Warn().Err(err).Int("site", id).Str("action", action).Msg("action failed")
		return "", fmt.Errorf("site %d %s: %w", id, action, err)
	}
	c.logger.Debug().Int("site", id).Str("action", action).Str("reply", reply).Msg("action done")
	return reply, nil
}

// ExecAll runs action on every site concurrently. The result maps each
// site to its error; sites that succeeded map to nil.
func (c *Controller) ExecAll(action string) map[int]error {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[int]error, len(c.order))
	)
	for _, id := range c.order {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := c.Exec(id, action)
			mu.Lock()
			out[id] = err
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return out
}

// SetLED switches the site LED to one of the LED states.
func (c *Controller) SetLED(id int, state string) error {
	_, err := c.Exec(id, "led_state_"+state)
	return err
}

// Send writes text to site and waits for the reply.
func (c *Controller) Send(id int, text string, timeout time.Duration) (string, error) {
	s, err := c.Session(id)
	if err != nil {
		return "", err
	}
	return s.WriteReadString(text, timeout)
}

// WaitDetect waits for token on site. An empty token keeps the session's
// current detect string.
func (c *Controller) WaitDetect(id int, token string, timeout time.Duration) error {
	s, err := c.Session(id)
	if err != nil {
		return err
	}
	if token != "" {
		s.SetDetectString(token)
	}
	return s.WaitDetect(timeout)
}

// Events is the fan-in of all site events. Events are dropped, and
// counted, while the channel is full.
func (c *Controller) Events() <-chan SiteEvent { return c.events }

// Dropped is the number of events lost to a full Events channel.
func (c *Controller) Dropped() int64 { return c.dropped.Load() }

// Abort raises a stop request on every site.
func (c *Controller) Abort() {
	for _, id := range c.order {
		c.sites[id].session.Stop()
	}
}

// Aborted is closed by the first stop notification of any site, including
// the one raised by closing a site.
func (c *Controller) Aborted() <-chan struct{} { return c.aborted }

// Metrics returns one snapshot per site in site order.
func (c *Controller) Metrics() []rs232.MetricsSnapshot {
	out := make([]rs232.MetricsSnapshot, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.sites[id].session.MetricsSnapshot())
	}
	return out
}

func (c *Controller) onEvent(ev rs232.Event) {
	if ev.Type == rs232.EventStart {
		c.logger.Info().Int("site", ev.Site).Msg("start requested")
	}
	select {
	case c.events <- ev:
	default:
		// never block the receive goroutine
		if n := c.dropped.Inc(); n == 1 || n%100 == 0 {
			c.logger.Warn().Int64("dropped", n).Msg("event channel full")
		}
	}
}

func (c *Controller) onStop(id int) {
	c.logger.Info().Int("site", id).Msg("stop")
	c.abortOnce.Do(func() { close(c.aborted) })
}
