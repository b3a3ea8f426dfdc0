package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "claimrelay/pkg/logx"
)

// Config controls the scheduler.
type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"; empty means local
}

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    string // cron spec or @every
	timeout time.Duration
	job     Job
	entryID cron.EntryID

	// running makes overlapping triggers skip instead of piling up.
	running atomic.Bool
	runs    atomic.Uint64
	skips   atomic.Uint64
}

// Entry is a read-only view of a registered schedule.
type Entry struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
	Runs uint64
	Skip uint64
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	parser cron.Parser

	c    *cron.Cron
	loc  *time.Location
	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	defs map[string]*scheduleDef
}
