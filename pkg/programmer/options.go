package programmer

import "time"

// Logger receives progress and failure messages. log.Default()
// satisfies it.
type Logger interface {
	Printf(format string, v ...interface{})
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...interface{}) {}

// Indicator plays user-visible feedback for the active selection.
type Indicator interface {
	// ShowSelection starts an indication for the given selection slot.
	ShowSelection(slot int, name string)
	// Active reports whether an indication is still playing.
	Active() bool
}

type nopIndicator struct{}

func (nopIndicator) ShowSelection(int, string) {}
func (nopIndicator) Active() bool              { return false }

// Config holds the orchestrator configuration.
type Config struct {
	// HaltTimeout bounds the halt poll during the target check.
	HaltTimeout time.Duration
	// SuccessDwell and ErrorDwell are how long the terminal states are
	// shown before the machine returns to idle on its own.
	SuccessDwell time.Duration
	ErrorDwell   time.Duration

	Logger    Logger
	Indicator Indicator

	// Now supplies monotonic time for dwell evaluation.
	Now func() time.Time
	// Sleep suspends the halt poll between status reads.
	Sleep func(time.Duration)
}

func defaultConfig() Config {
	return Config{
		HaltTimeout:  100 * time.Millisecond,
		SuccessDwell: 3 * time.Second,
		ErrorDwell:   2 * time.Second,
		Logger:       nopLogger{},
		Indicator:    nopIndicator{},
		Now:          time.Now,
		Sleep:        time.Sleep,
	}
}

// Option is a functional option for configuring the Orchestrator.
type Option func(*Config)

// WithHaltTimeout bounds the halt poll during the target check.
func WithHaltTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.HaltTimeout = d
	}
}

// WithDwell sets how long the success and error states are shown before
// returning to idle.
func WithDwell(success, failure time.Duration) Option {
	return func(c *Config) {
		c.SuccessDwell = success
		c.ErrorDwell = failure
	}
}

// WithLogger sets a logger for programming progress.
func WithLogger(l Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithIndicator sets the selection feedback collaborator.
func WithIndicator(ind Indicator) Option {
	return func(c *Config) {
		c.Indicator = ind
	}
}

// WithClock replaces the time source and the poll sleep. Test hook.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(c *Config) {
		c.Now = now
		c.Sleep = sleep
	}
}
