package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/use-agent/seibro/cache"
	"github.com/use-agent/seibro/config"
	"github.com/use-agent/seibro/models"
	"github.com/use-agent/seibro/table"
	"github.com/use-agent/seibro/workflow/workflowtest"
)

var testRange = models.TimeRange{FromDate: "20210101", ToDate: "20231231"}

// trackedSession reports its Cleanup to the pool.
type trackedSession struct {
	*workflowtest.Session
	once    sync.Once
	onClose func()
}

func (s *trackedSession) Cleanup() {
	s.Session.Cleanup()
	s.once.Do(s.onClose)
}

// pool builds fake sessions whose candidate matches entity i and counts
// how many are alive at once.
type pool struct {
	rowsPerTarget int
	opDelay       time.Duration
	configure     func(workerID int, s *workflowtest.Session)

	mu       sync.Mutex
	alive    int
	peak     int
	sessions []*workflowtest.Session
	launched []time.Time
}

func (p *pool) factory(ctx context.Context, workerID int) (Session, error) {
	s := workflowtest.NewSession()
	s.Candidates = []string{fmt.Sprintf("종목%d CB", workerID)}
	s.Pages = [][]table.Row{workflowtest.Page(fmt.Sprintf("2022/%02d", workerID%12+1), p.rowsPerTarget)}
	s.OpDelay = p.opDelay
	if p.configure != nil {
		p.configure(workerID, s)
	}

	p.mu.Lock()
	p.alive++
	p.peak = max(p.peak, p.alive)
	p.sessions = append(p.sessions, s)
	p.launched = append(p.launched, time.Now())
	p.mu.Unlock()

	return &trackedSession{Session: s, onClose: func() {
		p.mu.Lock()
		p.alive--
		p.mu.Unlock()
	}}, nil
}

func (p *pool) created() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func entities(n int) []models.EntityDescriptor {
	out := make([]models.EntityDescriptor, n)
	for i := range out {
		out[i] = models.EntityDescriptor{
			Keyword:     fmt.Sprintf("종목%d", i),
			CompanyName: fmt.Sprintf("회사%d", i),
		}
	}
	return out
}

func testOptions(concurrency int) Options {
	return Options{
		Config: config.OrchestratorConfig{
			Concurrency:  concurrency,
			PollInterval: 5 * time.Millisecond,
			JoinTimeout:  time.Second,
		},
		Workflow: config.WorkflowConfig{
			MaxRetries:       1,
			MaxSearchRetries: 2,
			PageSize:         15,
		},
		Selectors: config.DefaultSelectors(),
		Range:     testRange,
	}
}

// memSink records appends and flags overlapping calls.
type memSink struct {
	mu       sync.Mutex
	rows     []models.RowRecord
	batches  [][]models.RowRecord
	inFlight atomic.Int32
	overlap  atomic.Bool
	hold     time.Duration
	resets   int
	failWith error
}

func (m *memSink) Append(_ context.Context, rows []models.RowRecord) error {
	if m.inFlight.Add(1) > 1 {
		m.overlap.Store(true)
	}
	defer m.inFlight.Add(-1)
	time.Sleep(m.hold)
	if m.failWith != nil {
		return m.failWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, rows...)
	m.batches = append(m.batches, rows)
	return nil
}

func (m *memSink) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	m.rows = nil
	return nil
}

func TestRun_BoundedConcurrency(t *testing.T) {
	p := &pool{rowsPerTarget: 5, opDelay: 2 * time.Millisecond}
	sink := &memSink{}
	var progress []int

	opts := testOptions(3)
	opts.OnProgress = func(completed, total int) {
		if total != 10 {
			t.Errorf("total = %d, want 10", total)
		}
		progress = append(progress, completed)
	}
	sum, err := New(p.factory, sink, opts).Run(context.Background(), entities(10))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if p.peak > 3 || sum.PeakAlive > 3 {
		t.Errorf("peak alive = %d sessions / %d tasks, want <= 3", p.peak, sum.PeakAlive)
	}
	if sum.Completed != 10 || sum.Succeeded != 10 || sum.Failed != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.Records != 50 || len(sink.rows) != 50 {
		t.Errorf("records = %d, sink rows = %d, want 50", sum.Records, len(sink.rows))
	}
	if sink.resets != 1 {
		t.Errorf("sink reset %d times, want 1", sink.resets)
	}
	if len(progress) != 10 || progress[9] != 10 {
		t.Errorf("progress = %v", progress)
	}
	for _, s := range p.sessions {
		if !s.Closed() {
			t.Error("session left open")
		}
	}
}

func TestRun_SinkAppendsSerialized(t *testing.T) {
	p := &pool{rowsPerTarget: 4}
	sink := &memSink{hold: 5 * time.Millisecond}

	sum, err := New(p.factory, sink, testOptions(4)).Run(context.Background(), entities(8))
	if err != nil {
		t.Fatal(err)
	}
	if sink.overlap.Load() {
		t.Error("sink appends overlapped")
	}
	if sum.Succeeded != 8 || len(sink.batches) != 8 {
		t.Fatalf("succeeded = %d, batches = %d", sum.Succeeded, len(sink.batches))
	}
	for _, b := range sink.batches {
		for _, r := range b {
			if r.Title != b[0].Title {
				t.Fatalf("batch interleaves %q and %q", b[0].Title, r.Title)
			}
		}
	}
}

func TestRun_FailureIsolated(t *testing.T) {
	p := &pool{
		rowsPerTarget: 3,
		configure: func(id int, s *workflowtest.Session) {
			if id == 1 {
				s.Candidates = []string{"다른회사CB"}
			}
		},
	}
	sink := &memSink{}
	results := make(map[string]models.TaskResult)
	opts := testOptions(3)
	opts.OnResult = func(r models.TaskResult) { results[r.Keyword] = r }

	sum, err := New(p.factory, sink, opts).Run(context.Background(), entities(3))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Succeeded != 2 || sum.Failed != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	bad := results["종목1"]
	if bad.Success || bad.Code != models.ErrCodeNotFound || !strings.Contains(bad.Message, "종목1") {
		t.Errorf("failed result = %+v", bad)
	}
	for _, kw := range []string{"종목0", "종목2"} {
		if r := results[kw]; !r.Success || r.RecordCount != 3 {
			t.Errorf("%s = %+v", kw, r)
		}
	}
	if len(sink.rows) != 6 {
		t.Errorf("sink rows = %d, want 6", len(sink.rows))
	}
}

func TestRun_TaskFailures(t *testing.T) {
	tests := []struct {
		name     string
		factory  func(p *pool) SessionFactory
		sink     *memSink
		wantCode string
	}{
		{
			name: "factory error",
			factory: func(p *pool) SessionFactory {
				return func(ctx context.Context, id int) (Session, error) {
					if id == 0 {
						return nil, errors.New("chrome not found")
					}
					return p.factory(ctx, id)
				}
			},
			sink:     &memSink{},
			wantCode: models.ErrCodeSessionInit,
		},
		{
			name: "factory panic",
			factory: func(p *pool) SessionFactory {
				return func(ctx context.Context, id int) (Session, error) {
					if id == 0 {
						panic("boom")
					}
					return p.factory(ctx, id)
				}
			},
			sink:     &memSink{},
			wantCode: models.ErrCodeInternal,
		},
		{
			name:     "sink error",
			factory:  func(p *pool) SessionFactory { return p.factory },
			sink:     &memSink{failWith: errors.New("disk full")},
			wantCode: models.ErrCodeSink,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &pool{rowsPerTarget: 2}
			var got []models.TaskResult
			opts := testOptions(2)
			opts.OnResult = func(r models.TaskResult) { got = append(got, r) }

			sum, err := New(tt.factory(p), tt.sink, opts).Run(context.Background(), entities(2))
			if err != nil {
				t.Fatalf("a task failure must not fail the run: %v", err)
			}
			if sum.Completed != 2 {
				t.Fatalf("completed = %d, want 2", sum.Completed)
			}
			var first models.TaskResult
			for _, r := range got {
				if r.Keyword == "종목0" {
					first = r
				}
			}
			if first.Success || first.Code != tt.wantCode {
				t.Errorf("result = %+v, want code %s", first, tt.wantCode)
			}
		})
	}
}

func TestRun_StopTerminatesAliveTasks(t *testing.T) {
	p := &pool{rowsPerTarget: 15, opDelay: time.Hour}
	o := New(p.factory, &memSink{}, testOptions(2))

	done := make(chan struct{})
	var sum *RunSummary
	var err error
	go func() {
		sum, err = o.Run(context.Background(), entities(5))
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for p.created() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	start := time.Now()
	o.Stop()
	o.Stop()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if d := time.Since(start); d > 2*time.Second {
		t.Errorf("stop took %v", d)
	}
	if err != nil {
		t.Errorf("Stop is not an error: %v", err)
	}
	if !sum.Stopped || sum.Succeeded != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if n := p.created(); n != 2 {
		t.Errorf("sessions created = %d, want 2", n)
	}
	for _, s := range p.sessions {
		if !s.Closed() {
			t.Error("alive session not closed on stop")
		}
	}
}

func TestRun_ContextCanceled(t *testing.T) {
	p := &pool{rowsPerTarget: 15, opDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	sum, err := New(p.factory, nil, testOptions(2)).Run(ctx, entities(4))
	if models.CodeOf(err) != models.ErrCodeCanceled {
		t.Fatalf("err = %v, want CANCELED", err)
	}
	if !sum.Stopped {
		t.Error("canceled run should be marked stopped")
	}
}

func TestRun_LaunchSpacing(t *testing.T) {
	p := &pool{rowsPerTarget: 1}
	opts := testOptions(3)
	opts.Config.LaunchDelay = 40 * time.Millisecond

	if _, err := New(p.factory, nil, opts).Run(context.Background(), entities(3)); err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(p.launched); i++ {
		if gap := p.launched[i].Sub(p.launched[i-1]); gap < 20*time.Millisecond {
			t.Errorf("launch %d followed the previous after %v", i, gap)
		}
	}
}

func TestRun_NoEntities(t *testing.T) {
	var lines []string
	opts := testOptions(1)
	opts.OnLog = func(l string) { lines = append(lines, l) }
	sink := &memSink{}

	sum, err := New(func(context.Context, int) (Session, error) {
		t.Fatal("factory must not be called")
		return nil, nil
	}, sink, opts).Run(context.Background(), nil)
	if err != nil || sum.Total != 0 || sum.Completed != 0 {
		t.Fatalf("sum = %+v, err = %v", sum, err)
	}
	if len(lines) != 1 {
		t.Errorf("log lines = %q", lines)
	}
	if sink.resets != 0 {
		t.Error("empty run must not touch the sink")
	}
}

func TestRun_InvalidRange(t *testing.T) {
	opts := testOptions(1)
	opts.Range = models.TimeRange{FromDate: "20231231", ToDate: "20210101"}
	_, err := New((&pool{}).factory, nil, opts).Run(context.Background(), entities(1))
	if models.CodeOf(err) != models.ErrCodeInvalidInput {
		t.Errorf("err = %v, want INVALID_INPUT", err)
	}
}

func TestRun_CallbackPanicSurfaced(t *testing.T) {
	p := &pool{rowsPerTarget: 1}
	opts := testOptions(1)
	opts.OnProgress = func(int, int) { panic("ui gone") }

	_, err := New(p.factory, nil, opts).Run(context.Background(), entities(2))
	if models.CodeOf(err) != models.ErrCodeInternal || !strings.Contains(err.Error(), "ui gone") {
		t.Errorf("err = %v", err)
	}
}

func TestRun_CacheSkipsPartialResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := cache.New(ctx, 10)

	p := &pool{
		rowsPerTarget: 15,
		configure: func(id int, s *workflowtest.Session) {
			// Target 1 fails on its second page after gathering the first.
			if id == 1 {
				s.Pages = append(s.Pages, workflowtest.Page("2022/09", 15))
				s.GridFailsOnPage = 2
			}
		},
	}
	opts := testOptions(2)
	opts.Cache = c
	opts.CacheMaxAge = time.Minute

	ents := entities(2)
	sum, err := New(p.factory, nil, opts).Run(context.Background(), ents)
	if err != nil || sum.Succeeded != 2 {
		t.Fatalf("sum = %+v, err = %v", sum, err)
	}
	if _, ok := c.Get(ents[0], testRange, time.Minute); !ok {
		t.Error("complete result not cached")
	}
	if _, ok := c.Get(ents[1], testRange, time.Minute); ok {
		t.Error("partial result cached")
	}

	sink := &memSink{}
	sum, err = New(p.factory, sink, opts).Run(context.Background(), ents[:1])
	if err != nil || !sum.Results[0].Cached || len(sink.rows) != 15 {
		t.Errorf("second run = %+v, rows %d, err %v", sum.Results, len(sink.rows), err)
	}
	if p.created() != 2 {
		t.Errorf("sessions created = %d, want 2", p.created())
	}
}
