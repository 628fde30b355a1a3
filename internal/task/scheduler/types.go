package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"flightwatch/internal/eventbus"
	logx "flightwatch/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Pacific/Auckland"
}

// Job is a scheduled unit of work. ctx is cancelled on timeout or shutdown.
type Job func(ctx context.Context) error

type entry struct {
	name     string
	sched    Schedule
	timeout  time.Duration
	job      Job
	entryID  cron.EntryID
	spreadBy time.Duration

	mu      sync.Mutex
	runs    uint64
	lastRun time.Time
	lastDur time.Duration
	lastErr string
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	runCtx context.Context
	cancel context.CancelFunc
	defs   []*entry
}

type ScheduleInfo struct {
	Name    string        `json:"name"`
	Expr    string        `json:"expr"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next,omitempty"`
	Prev    time.Time     `json:"prev,omitempty"`
	Runs    uint64        `json:"runs"`
	LastDur time.Duration `json:"last_duration,omitempty"`
	LastErr string        `json:"last_error,omitempty"`
}

type Snapshot struct {
	Enabled   bool           `json:"enabled"`
	Running   bool           `json:"running"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
}

// RunEvent is published as "schedule.run" or "schedule.failed".
type RunEvent struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}
