package screens

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/yakeru/usbwriter"
	"github.com/yakeru/usbwriter/metrics"
	"github.com/yakeru/usbwriter/notify"
	"github.com/yakeru/usbwriter/session"
)

// Outcome of the session shown on the Result screen.
type Outcome struct {
	SessionID string
	Success   bool
	Forced    bool
	Message   string
}

// View is a snapshot of everything the front end renders.
type View struct {
	Current Screen
	Phase   Phase
	// Target is the screen being entered while Phase is not Idle.
	Target Screen

	Progress int
	Status   string
	Message  string

	Selection usbwriter.Selection
	Outcome   Outcome
}

// Config configures a Controller.
type Config struct {
	Animator Animator
	Logger   logrus.FieldLogger
	Metrics  *metrics.Metrics
}

// Controller is the Screen Transition Controller. Front ends call Tick on
// their own cadence and feed it session events through HandleEvent.
type Controller struct {
	anim    Animator
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
	changes *notify.Serial[View]

	mu       sync.Mutex
	view     View
	hidden   bool
	watching string
}

// New returns a controller showing Title.
func New(cfg Config) *Controller {
	if cfg.Animator == nil {
		cfg.Animator = Instant{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	logger := cfg.Logger.WithField("component", "screens")
	return &Controller{
		anim:    cfg.Animator,
		logger:  logger,
		metrics: cfg.Metrics,
		changes: notify.NewSerial[View]("screen-changes", logger),
		view:    View{Current: Title, Target: Title},
	}
}

// Subscribe registers fn for view changes.
func (c *Controller) Subscribe(fn func(View)) (cancel func()) {
	return c.changes.Subscribe(fn)
}

// View returns the current view.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Current returns the current screen.
func (c *Controller) Current() Screen {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.Current
}

// InFlight reports whether a transition is running.
func (c *Controller) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.Phase != Idle
}

// RequestTransition starts a transition to target. A transition already in
// flight is collapsed first: its target becomes current, hidden, and the new
// transition exits from there. Requesting the screen that is already current
// or already being entered does nothing.
func (c *Controller) RequestTransition(target Screen) {
	c.mu.Lock()
	c.requestLocked(target)
	c.mu.Unlock()
	c.changes.Drain()
}

func (c *Controller) requestLocked(target Screen) {
	v := &c.view
	if v.Phase == Idle && v.Current == target {
		return
	}
	if v.Phase != Idle {
		if v.Target == target {
			return
		}
		c.anim.Skip(v.Current)
		c.anim.Skip(v.Target)
		c.logger.WithFields(logrus.Fields{
			"from":      v.Current,
			"collapsed": v.Target,
			"to":        target,
		}).Debug("collapsing in-flight transition")
		v.Current = v.Target
		c.hidden = true
	}
	if target == Writing {
		v.Progress = 0
		v.Status = ""
		v.Message = ""
	}
	v.Phase = ExitingCurrent
	v.Target = target
	c.changes.Enqueue(*v)
}

// Tick advances an in-flight transition by at most one phase.
func (c *Controller) Tick() {
	c.mu.Lock()
	v := &c.view
	switch v.Phase {
	case ExitingCurrent:
		if c.hidden || c.anim.Exit(v.Current) {
			c.hidden = false
			v.Phase = EnteringNext
			c.changes.Enqueue(*v)
		}
	case EnteringNext:
		if c.anim.Enter(v.Target) {
			v.Current = v.Target
			v.Phase = Idle
			c.metrics.Transition(v.Current.String())
			c.logger.WithField("screen", v.Current).Debug("screen shown")
			c.changes.Enqueue(*v)
		}
	}
	c.mu.Unlock()
	c.changes.Drain()
}

// Settle ticks until no transition is in flight or max ticks have run.
func (c *Controller) Settle(max int) {
	for i := 0; i < max && c.InFlight(); i++ {
		c.Tick()
	}
}

// HandleEvent folds a session event into the view. Completed and Error move
// to Result only for the session this controller saw start; leftovers from
// an ended session are ignored.
func (c *Controller) HandleEvent(e session.Event) {
	c.mu.Lock()
	v := &c.view
	switch e.Kind {
	case session.Started:
		c.watching = e.SessionID
		v.Progress = 0
		v.Status = e.Status
		v.Message = e.Message
		v.Outcome = Outcome{}
		c.changes.Enqueue(*v)

	case session.Progress:
		if c.watching == "" || e.SessionID != c.watching {
			break
		}
		v.Progress = e.Progress
		v.Status = e.Status
		v.Message = e.Message
		c.changes.Enqueue(*v)

	case session.Completed, session.Error:
		if c.watching == "" || e.SessionID != c.watching {
			c.logger.WithFields(logrus.Fields{
				"event":      e.Kind,
				"session_id": e.SessionID,
			}).Debug("ignoring terminal event for inactive session")
			break
		}
		c.watching = ""
		v.Progress = e.Progress
		v.Status = e.Status
		v.Message = e.Message
		v.Outcome = Outcome{
			SessionID: e.SessionID,
			Success:   e.Kind == session.Completed,
			Forced:    e.Forced,
			Message:   e.Message,
		}
		c.requestLocked(Result)
		c.changes.Enqueue(*v)

	case session.Reset:
		c.watching = ""
		v.Progress = 0
		v.Status = ""
		v.Message = ""
		v.Outcome = Outcome{}
		c.changes.Enqueue(*v)

	case session.SelectionChanged:
		v.Selection = e.Selection
		c.changes.Enqueue(*v)
	}
	c.mu.Unlock()
	c.changes.Drain()
}

// Watch subscribes the controller to a session manager's events.
func (c *Controller) Watch(m *session.Manager) (cancel func()) {
	return m.Subscribe(c.HandleEvent)
}
