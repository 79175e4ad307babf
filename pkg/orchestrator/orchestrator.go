// Package orchestrator drives the optimisation loop: clarify, then generate, build, evaluate,
// score and rewrite until the score is good enough or the budget runs out.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"promptsmith/pkg/agent"
	"promptsmith/pkg/config"
	"promptsmith/pkg/logx"
	"promptsmith/pkg/patterns"
	"promptsmith/pkg/persistence"
	"promptsmith/pkg/proto"
)

// Orchestrator runs sessions over a fixed agent set. It is safe for concurrent use; every
// session gets its own state machine and history.
type Orchestrator struct {
	agents        agent.Set
	store         *patterns.Store
	maxIterations int
	sink          ProgressSink
	registry      *Registry
	metrics       *Metrics
	history       *persistence.DB
	now           func() time.Time
	logger        *logx.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxIterations overrides the iteration budget.
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// WithSink sets the progress sink.
func WithSink(s ProgressSink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithRegistry shares a session registry.
func WithRegistry(r *Registry) Option {
	return func(o *Orchestrator) { o.registry = r }
}

// WithMetrics enables Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithHistory saves every finished session to db.
func WithHistory(db *persistence.DB) Option {
	return func(o *Orchestrator) { o.history = db }
}

// New returns an orchestrator. Every agent kind must be present. store may be nil, which
// disables learning.
func New(agents agent.Set, store *patterns.Store, opts ...Option) (*Orchestrator, error) {
	if missing := agents.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("agent set is incomplete, missing %v", missing)
	}
	o := &Orchestrator{
		agents:        agents,
		store:         store,
		maxIterations: config.DefaultMaxIterations,
		now:           time.Now,
		logger:        logx.NewLogger("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = NewRegistry(DefaultSessionTTL)
	}
	return o, nil
}

// Registry returns the session registry.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// MaxIterations returns the iteration budget.
func (o *Orchestrator) MaxIterations() int { return o.maxIterations }

// Run optimises a single query. It always returns a terminal result; failures are reported
// through Status error and Err, never as a panic.
func (o *Orchestrator) Run(ctx context.Context, query string) *Result {
	r := o.begin(query)
	o.metrics.sessionStarted()
	err := r.execute(ctx)
	return o.finish(ctx, r, err)
}

// RunBatch runs queries concurrently, at most parallel at a time, and returns results in
// query order.
func (o *Orchestrator) RunBatch(ctx context.Context, queries []string, parallel int) []*Result {
	results := make([]*Result, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, q := range queries {
		g.Go(func() error {
			results[i] = o.Run(gctx, q)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// run is the per-session execution state.
type run struct {
	o       *Orchestrator
	session *Session
	sm      *agent.BaseStateMachine
	query   proto.Query

	mu      sync.Mutex
	partial *proto.IterationRecord
}

func (o *Orchestrator) begin(text string) *run {
	id := uuid.NewString()
	s := newSession(id, text, o.now().UTC())
	sm := agent.NewBaseStateMachine("orchestrator", StateInit, Transitions)
	sm.SetObserver(func(t agent.StateTransition) { s.setState(t.ToState) })
	o.registry.Put(s)
	return &run{o: o, session: s, sm: sm}
}

func (r *run) execute(ctx context.Context) error {
	q, err := proto.NewQuery(r.session.Query, r.o.maxIterations)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOrchestratorFault, err)
	}
	r.query = q

	if err := r.move(ctx, StateClarifying); err != nil {
		return err
	}
	out, err := r.step(ctx, agent.KindClarifier, agent.Input{Query: q}, nil)
	if err != nil {
		return err
	}
	if out.Clarification != nil {
		r.publish(ctx, StateClarifying, agent.KindClarifier, 0, out.Clarification)
		if out.Clarification.NeedsClarification {
			r.session.setClarification(out.Clarification)
			r.o.logger.Info("❓ Clarification needed for %q: %s", q.Text, out.Clarification.Question)
			return r.move(ctx, StateNeedsClarification)
		}
	}

	var prev *proto.IterationRecord
	for i := 1; i <= q.MaxIterations; i++ {
		rec, done, err := r.iterate(ctx, i, prev)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		prev = &rec
	}
	return fmt.Errorf("%w: loop ran past %d iterations", ErrOrchestratorFault, q.MaxIterations)
}

// iterate runs one pass of the loop and reports whether a terminal state was reached.
func (r *run) iterate(ctx context.Context, i int, prev *proto.IterationRecord) (proto.IterationRecord, bool, error) {
	r.session.setIteration(i)
	rec := &proto.IterationRecord{
		Index:    i,
		Snapshot: map[string]any{},
		Timings:  map[string]float64{},
	}
	r.setPartial(rec)
	in := agent.Input{Query: r.query, Iteration: i, Previous: prev}

	if err := r.move(ctx, StateGeneratingPrompt); err != nil {
		return *rec, false, err
	}
	out, err := r.step(ctx, agent.KindPromptGenerator, in, rec)
	if err != nil {
		return *rec, false, err
	}
	if out.Prompt == nil {
		return *rec, false, fault(agent.KindPromptGenerator, "no prompt")
	}
	rec.Prompt = *out.Prompt
	in.Prompt = &rec.Prompt
	if rec.Prompt.FromCache {
		r.o.metrics.cacheHit(agent.KindPromptGenerator)
	}
	r.publish(ctx, StateGeneratingPrompt, agent.KindPromptGenerator, i, out.Prompt)

	if err := r.move(ctx, StateBuildingChart); err != nil {
		return *rec, false, err
	}
	out, err = r.step(ctx, agent.KindChartBuilder, in, rec)
	if err != nil {
		return *rec, false, err
	}
	if out.Build == nil {
		return *rec, false, fault(agent.KindChartBuilder, "no chart")
	}
	rec.Build = *out.Build
	in.Build = &rec.Build
	if rec.Build.FromCache {
		r.o.metrics.cacheHit(agent.KindChartBuilder)
	}
	r.publish(ctx, StateBuildingChart, agent.KindChartBuilder, i, out.Build)

	if err := r.move(ctx, StateHeuristicEvaluation); err != nil {
		return *rec, false, err
	}
	if err := r.evaluate(ctx, in, rec); err != nil {
		return *rec, false, err
	}
	in.Heuristic = &rec.Heuristic
	in.Model = &rec.Model
	r.publish(ctx, StateHeuristicEvaluation, agent.KindHeuristicEvaluator, i, &rec.Heuristic)

	if err := r.move(ctx, StateModelEvaluation); err != nil {
		return *rec, false, err
	}
	r.publish(ctx, StateModelEvaluation, agent.KindModelEvaluator, i, &rec.Model)

	if err := r.move(ctx, StateScoring); err != nil {
		return *rec, false, err
	}
	out, err = r.step(ctx, agent.KindScorer, in, rec)
	if err != nil {
		return *rec, false, err
	}
	if out.Decision == nil {
		return *rec, false, fault(agent.KindScorer, "no decision")
	}
	rec.Decision = *out.Decision
	if rec.Decision.Continue && i >= r.query.MaxIterations {
		r.o.logger.Warn("⚠️  Scorer asked to continue at the iteration budget, stopping")
		rec.Decision.Continue = false
		rec.Decision.Status = proto.StatusExhausted
		rec.Decision.Reason = fmt.Sprintf("Maximum iterations (%d) reached", r.query.MaxIterations)
	}
	in.Decision = &rec.Decision
	r.publish(ctx, StateScoring, agent.KindScorer, i, &rec.Decision)

	switch {
	case rec.Decision.Status == proto.StatusOptimal:
		return r.complete(ctx, rec, StateOptimal)
	case !rec.Decision.Continue:
		return r.complete(ctx, rec, StateExhausted)
	}

	if rec.Heuristic.ShouldClarify {
		out, err := r.step(ctx, agent.KindClarifier, in, rec)
		if err != nil {
			return *rec, false, err
		}
		if c := out.Clarification; c != nil && c.NeedsClarification {
			r.session.setClarification(c)
			rec.Decision.Continue = false
			rec.Decision.Status = proto.StatusNeedsClarification
			rec.Decision.Reason = "Clarification needed: " + c.Question
			return r.complete(ctx, rec, StateNeedsClarification)
		}
	}

	if err := r.move(ctx, StateRewritingPrompt); err != nil {
		return *rec, false, err
	}
	out, err = r.step(ctx, agent.KindRewriter, in, rec)
	if err != nil {
		return *rec, false, err
	}
	if out.Rewrite == nil {
		return *rec, false, fault(agent.KindRewriter, "no rewrite")
	}
	rec.Rewrite = out.Rewrite
	r.publish(ctx, StateRewritingPrompt, agent.KindRewriter, i, out.Rewrite)

	rec.At = r.o.now().UTC()
	r.session.appendRecord(*rec)
	r.setPartial(nil)
	return *rec, false, nil
}

func (r *run) complete(ctx context.Context, rec *proto.IterationRecord, terminal agent.State) (proto.IterationRecord, bool, error) {
	rec.At = r.o.now().UTC()
	r.session.appendRecord(*rec)
	r.setPartial(nil)
	return *rec, true, r.move(ctx, terminal)
}

// evaluate runs both evaluators concurrently and joins on both.
func (r *run) evaluate(ctx context.Context, in agent.Input, rec *proto.IterationRecord) error {
	var h, m agent.Output
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		h, err = r.step(gctx, agent.KindHeuristicEvaluator, in, rec)
		return err
	})
	g.Go(func() error {
		var err error
		m, err = r.step(gctx, agent.KindModelEvaluator, in, rec)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if h.Evaluation == nil {
		return fault(agent.KindHeuristicEvaluator, "no evaluation")
	}
	if m.Evaluation == nil {
		return fault(agent.KindModelEvaluator, "no evaluation")
	}
	rec.Heuristic = *h.Evaluation
	rec.Model = *m.Evaluation
	return nil
}

// step runs one agent with panic recovery. Cancellation passes through unwrapped; every other
// failure becomes an ErrOrchestratorFault.
func (r *run) step(ctx context.Context, kind agent.Kind, in agent.Input, rec *proto.IterationRecord) (out agent.Output, err error) {
	a, ok := r.o.agents[kind]
	if !ok {
		return agent.Output{}, fault(kind, "no agent registered")
	}
	if err := ctx.Err(); err != nil {
		return agent.Output{}, fmt.Errorf("%s cancelled: %w", kind, err)
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			out = agent.Output{}
			err = fmt.Errorf("%w: %s panicked: %v", ErrOrchestratorFault, kind, p)
		}
		elapsed := time.Since(start)
		r.o.metrics.observeStep(kind, elapsed, err != nil)
		if rec != nil {
			r.mu.Lock()
			rec.Timings[kind.String()] = float64(elapsed.Microseconds()) / 1000
			if err == nil {
				if payload := out.Payload(); payload != nil {
					rec.Snapshot[kind.String()] = payload
				}
			}
			r.mu.Unlock()
		}
	}()

	out, err = a.Step(ctx, in)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return agent.Output{}, fmt.Errorf("%s cancelled: %w", kind, err)
		}
		return agent.Output{}, fmt.Errorf("%w: %s: %w", ErrOrchestratorFault, kind, err)
	}
	return out, nil
}

// move checks cancellation and the transition table. Table violations are faults.
func (r *run) move(ctx context.Context, to agent.State) error {
	err := r.sm.TransitionTo(ctx, to, nil)
	if err != nil && errors.Is(err, agent.ErrInvalidTransition) {
		return fmt.Errorf("%w: %w", ErrOrchestratorFault, err)
	}
	return err
}

func (r *run) publish(ctx context.Context, state agent.State, kind agent.Kind, iteration int, payload any) {
	if r.o.sink == nil {
		return
	}
	p := Progress{
		SessionID: r.session.ID,
		Step:      state.String(),
		Iteration: iteration,
		Progress:  overallProgress(state, iteration, r.query.MaxIterations),
		Status:    string(StatusFor(r.sm.GetCurrentState())),
		Output:    payload,
		At:        r.o.now().UTC(),
	}
	if kind != 0 {
		p.Agent = kind.String()
	}
	if err := r.o.sink.Publish(context.WithoutCancel(ctx), p); err != nil {
		r.o.logger.Warn("⚠️  Progress sink failed: %v", err)
	}
}

func (r *run) setPartial(rec *proto.IterationRecord) {
	r.mu.Lock()
	r.partial = rec
	r.mu.Unlock()
}

func (r *run) takePartial() *proto.IterationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.partial == nil {
		return nil
	}
	cp := r.partial.Clone()
	return &cp
}

func (o *Orchestrator) finish(ctx context.Context, r *run, err error) *Result {
	if err != nil {
		if ferr := r.sm.ForceTransition(StateError, map[string]any{"error": err.Error()}); ferr != nil {
			err = errors.Join(err, ferr)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			o.logger.Warn("⏹️  Session %s cancelled after %d iterations", shortID(r.session.ID), len(r.session.Records()))
		} else {
			o.logger.Error("❌ Session %s failed: %v", shortID(r.session.ID), err)
		}
	}
	r.session.finish(o.now().UTC(), err)

	res := r.session.Result()
	if err != nil {
		res.Partial = r.takePartial()
	}
	writeCtx := context.WithoutCancel(ctx)
	res.Learned = o.learn(writeCtx, res)
	if o.store != nil {
		res.Stats = o.store.Stats()
	}
	o.saveHistory(writeCtx, res)

	best := 0.0
	if res.Final != nil {
		best = res.Final.Decision.Final
	}
	o.metrics.sessionFinished(res.Status, res.Iterations, best)
	r.publish(ctx, r.sm.GetCurrentState(), 0, r.session.Iteration(), map[string]any{
		"status":      res.Status,
		"iterations":  res.Iterations,
		"final_score": best,
	})
	o.logger.Info("🏁 Session %s finished: %s after %d iterations (best %.2f)", shortID(res.SessionID), res.Status, res.Iterations, best)
	return res
}

func fault(kind agent.Kind, what string) error {
	return fmt.Errorf("%w: %s returned %s", ErrOrchestratorFault, kind, what)
}
