package rates

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/kababayanbot/kababayan/resources"
)

type (
	Action string

	Limit struct {
		Max    int      `yaml:"max"`
		Window Duration `yaml:"window"`
	}

	Policy map[Action]Limit

	key struct {
		userID int64
		action Action
	}

	// Limiter counts actions per (user, action) over a rolling window.
	// State is a soft cache: losing it only resets counters.
	Limiter struct {
		mu     sync.RWMutex
		policy Policy
		hits   map[key][]time.Time
		now    func() time.Time
	}

	Duration time.Duration
)

const (
	ActionVerify  Action = "verify"
	ActionJoin    Action = "join"
	ActionMessage Action = "message"
)

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

var fallbackPolicy = Policy{
	ActionVerify:  {Max: 3, Window: Duration(24 * time.Hour)},
	ActionJoin:    {Max: 5, Window: Duration(24 * time.Hour)},
	ActionMessage: {Max: 20, Window: Duration(time.Minute)},
}

// DefaultPolicy reads the embedded limits file, falling back to built-in
// values if the resource is broken.
func DefaultPolicy() Policy {
	raw, err := resources.FS.ReadFile("policy/limits.yml")
	if err != nil {
		log.WithField("context", "rates").WithError(err).Error("cant read limits policy")
		return fallbackPolicy
	}
	policy := Policy{}
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		log.WithField("context", "rates").WithError(err).Error("cant unmarshal limits policy")
		return fallbackPolicy
	}
	return policy
}

func NewLimiter(policy Policy) *Limiter {
	return &Limiter{
		policy: policy,
		hits:   map[key][]time.Time{},
		now:    time.Now,
	}
}

// Allow reports whether the user is still under the limit for the
// action. It never records anything.
func (l *Limiter) Allow(userID int64, action Action) bool {
	limit, ok := l.policy[action]
	if !ok {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	k := key{userID: userID, action: action}
	l.hits[k] = prune(l.hits[k], l.now(), time.Duration(limit.Window))
	return len(l.hits[k]) < limit.Max
}

// Record appends the current attempt. Callers are expected to have
// passed Allow first, but Record tolerates being over limit.
func (l *Limiter) Record(userID int64, action Action) {
	limit, ok := l.policy[action]
	if !ok {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	k := key{userID: userID, action: action}
	window := prune(l.hits[k], l.now(), time.Duration(limit.Window))
	window = append(window, l.now())
	// bound memory to max+1 entries per kind
	if excess := len(window) - (limit.Max + 1); excess > 0 {
		window = window[excess:]
	}
	l.hits[k] = window
}

func prune(stamps []time.Time, now time.Time, window time.Duration) []time.Time {
	kept := stamps[:0]
	for _, stamp := range stamps {
		elapsed := now.Sub(stamp)
		if elapsed < 0 {
			// clock went backwards, treat as just recorded
			elapsed = 0
		}
		if elapsed < window {
			kept = append(kept, stamp)
		}
	}
	return kept
}
