package perf

import (
	"math"

	"github.com/szibis/pagewatch/internal/logging"
	"github.com/szibis/pagewatch/internal/platform"
	"github.com/szibis/pagewatch/internal/plugin"
	"github.com/szibis/pagewatch/internal/record"
)

// maxSummaryTasks bounds the raw tasks carried by one summary.
const maxSummaryTasks = 10

// LongTaskOptions configures long-task aggregation. Times are in
// milliseconds.
type LongTaskOptions struct {
	Threshold       float64 `yaml:"threshold"`
	ReportAll       bool    `yaml:"reportAllTasks"`
	MaxReportCount  int     `yaml:"maxReportCount"`
	AggregationTime int     `yaml:"aggregationTime"`
}

// LongTask collects long main-thread tasks into windows and reports one
// summary per window.
type LongTask struct {
	host plugin.Host
	life plugin.Lifecycle
	opts LongTaskOptions

	observer  platform.Observer
	listeners []platform.Listener
	window    platform.Timer
	pending   []record.LongTask
	reports   int
	stopped   bool
}

// NewLongTask is the factory for the long-task plugin.
func NewLongTask(host plugin.Host) plugin.Plugin {
	return &LongTask{host: host, opts: LongTaskOptions{
		Threshold:       50,
		MaxReportCount:  100,
		AggregationTime: 5000,
	}}
}

func (l *LongTask) Name() string { return LongTaskName }

func (l *LongTask) Init(cfg plugin.RawConfig) error {
	if err := l.life.Activate(); err != nil {
		return err
	}
	if err := plugin.Decode(cfg, &l.opts); err != nil {
		return err
	}
	p := l.host.Platform()
	o, err := p.ObservePerformance(platform.EntryLongTask, false, l.handle)
	if err != nil {
		return err
	}
	l.observer = o
	l.listeners = append(l.listeners, p.Listen(platform.TargetWindow, platform.EventBeforeUnload, false, func(platform.Event) {
		l.flush()
	}))
	return nil
}

func (l *LongTask) handle(entries []platform.PerformanceEntry) {
	if l.stopped || !l.life.Active() {
		return
	}
	for _, e := range entries {
		if e.EntryType != platform.EntryLongTask {
			continue
		}
		if !l.opts.ReportAll && e.Duration < l.opts.Threshold {
			continue
		}
		task := record.LongTask{
			Name:      e.Name,
			EntryType: e.EntryType,
			StartTime: e.StartTime,
			Duration:  e.Duration,
		}
		if len(e.Attribution) > 0 {
			a := e.Attribution[0]
			task.Attribution = &record.LongTaskAttribution{
				Name:          a.Name,
				EntryType:     a.EntryType,
				StartTime:     a.StartTime,
				Duration:      a.Duration,
				ContainerType: a.ContainerType,
				ContainerName: a.ContainerName,
				ContainerID:   a.ContainerID,
				ContainerSrc:  a.ContainerSrc,
			}
		}
		l.pending = append(l.pending, task)
		if l.window == nil {
			l.window = l.host.Platform().AfterFunc(ms(l.opts.AggregationTime), l.flush)
		}
	}
}

// flush reports the pending window, if any.
func (l *LongTask) flush() {
	stop(l.window)
	l.window = nil
	if len(l.pending) == 0 {
		return
	}
	tasks := l.pending
	l.pending = nil
	l.host.Send(summarize(tasks))
	l.reports++
	if l.opts.MaxReportCount > 0 && l.reports >= l.opts.MaxReportCount {
		logging.Debug("long task report limit reached", logging.F(
			"component", "perf",
			"plugin", LongTaskName,
			"reports", l.reports,
		))
		l.halt()
	}
}

func summarize(tasks []record.LongTask) *record.LongTaskSummary {
	s := &record.LongTaskSummary{
		Count:       len(tasks),
		MaxDuration: math.Inf(-1),
		MinDuration: math.Inf(1),
		TimeRange:   [2]float64{math.Inf(1), math.Inf(-1)},
	}
	for _, t := range tasks {
		s.TotalDuration += t.Duration
		s.MaxDuration = math.Max(s.MaxDuration, t.Duration)
		s.MinDuration = math.Min(s.MinDuration, t.Duration)
		s.TimeRange[0] = math.Min(s.TimeRange[0], t.StartTime)
		s.TimeRange[1] = math.Max(s.TimeRange[1], t.StartTime+t.Duration)
	}
	s.AverageDuration = s.TotalDuration / float64(len(tasks))
	n := min(len(tasks), maxSummaryTasks)
	s.Tasks = append([]record.LongTask(nil), tasks[:n]...)
	return s
}

func (l *LongTask) halt() {
	l.stopped = true
	disconnect(l.observer)
	stop(l.window)
	removeAll(l.listeners)
	l.observer, l.window, l.listeners = nil, nil, nil
}

func (l *LongTask) Destroy() {
	if !l.life.Active() {
		return
	}
	if !l.stopped {
		l.flush()
	}
	l.life.Deactivate()
	l.halt()
}
