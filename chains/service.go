package chains

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"hivehub.dev/common"
	"hivehub.dev/fault"
	"hivehub.dev/graph"
	"hivehub.dev/vault"
	"hivehub.dev/worker"
)

const (
	// terminalGrace keeps concluded chains in the live map so follow-up
	// reads stay cheap; after that the graph serves them.
	terminalGrace = 10 * time.Minute

	exportTimeout = 15 * time.Second
)

// EntityStore is the slice of the graph entity operations the chain
// service needs. *graph.Entities satisfies it.
type EntityStore interface {
	Create(ctx context.Context, label string, props map[string]interface{}) (map[string]interface{}, error)
	Get(ctx context.Context, label, id string) (map[string]interface{}, error)
	Find(ctx context.Context, label string, match map[string]interface{}, limit int, newestFirst bool) ([]map[string]interface{}, error)
	Update(ctx context.Context, label, id string, props map[string]interface{}) (map[string]interface{}, error)
}

// RelationStore is the slice of the graph relationship operations the
// chain service needs. *graph.Relationships satisfies it.
type RelationStore interface {
	Create(ctx context.Context, from graph.Ref, relType string, to graph.Ref, props map[string]interface{}) (map[string]interface{}, error)
	GetFor(ctx context.Context, label, id, direction, relType string) ([]graph.Related, error)
}

// Notebook receives exported chains. *vault.Vault satisfies it.
type Notebook interface {
	Write(name, body string, fm *vault.Frontmatter) (string, error)
	Exists(name string) bool
}

// Service owns reasoning chains. The graph is the source of truth; the
// live map is a write-through cache of chains that are in progress or
// recently terminal, hydrated from the graph on cold lookups.
type Service struct {
	entities  EntityStore
	relations RelationStore
	notebook  Notebook
	pool      *worker.Pool
	grace     time.Duration

	mu   sync.Mutex
	live map[string]*liveChain
}

// liveChain serializes writes to one chain. chain is guarded by mu;
// doneAt is guarded by the service mutex.
type liveChain struct {
	mu     sync.Mutex
	chain  *Chain
	doneAt time.Time
}

// NewService creates the chain service. notebook and pool may be nil;
// without a notebook concluded chains are not exported, without a pool
// exports run inline.
func NewService(entities EntityStore, relations RelationStore, notebook Notebook, pool *worker.Pool) *Service {
	return &Service{
		entities:  entities,
		relations: relations,
		notebook:  notebook,
		pool:      pool,
		grace:     terminalGrace,
		live:      map[string]*liveChain{},
	}
}

// StartInput are the arguments accepted by start_thinking.
type StartInput struct {
	Prompt     string
	Context    string
	Goal       string
	Tags       []string
	BranchFrom string
}

// AddStepInput are the arguments accepted by add_step.
type AddStepInput struct {
	ChainID    string
	Thought    string
	Type       string
	Confidence float64
	Data       map[string]interface{}
}

// ConcludeInput are the arguments accepted by conclude.
type ConcludeInput struct {
	ChainID    string
	Conclusion string
	Success    bool
	Confidence float64
}

// StartThinking creates a chain in status in_progress and persists it.
// When BranchFrom names an existing chain, a BRANCHED_TO edge links the
// parent to the new chain without copying steps.
func (s *Service) StartThinking(ctx context.Context, in StartInput) (*Chain, error) {
	if in.Prompt == "" {
		return nil, fault.Invalid("prompt must not be empty")
	}
	if in.BranchFrom != "" {
		if _, err := s.entities.Get(ctx, labelChain, in.BranchFrom); err != nil {
			return nil, chainLookupErr(in.BranchFrom, err)
		}
	}

	now := common.NowISO()
	chain := &Chain{
		ID:         uuid.NewString(),
		Prompt:     in.Prompt,
		Context:    in.Context,
		Goal:       in.Goal,
		Tags:       append([]string(nil), in.Tags...),
		Status:     StatusInProgress,
		BranchFrom: in.BranchFrom,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if _, err := s.entities.Create(ctx, labelChain, chainProps(chain)); err != nil {
		return nil, err
	}
	if in.BranchFrom != "" {
		if err := s.linkBranch(ctx, in.BranchFrom, chain.ID, 0); err != nil {
			return nil, err
		}
	}

	s.install(chain)
	return chain.clone(), nil
}

// AddStep appends a numbered step. Terminal chains reject further steps.
func (s *Service) AddStep(ctx context.Context, in AddStepInput) (*Step, error) {
	if in.Thought == "" {
		return nil, fault.Invalid("thought must not be empty")
	}
	stepType, err := checkStepType(in.Type)
	if err != nil {
		return nil, err
	}
	if err := checkConfidence(in.Confidence); err != nil {
		return nil, err
	}

	var created Step
	err = s.withChain(ctx, in.ChainID, func(ctx context.Context, c *Chain) error {
		if c.Terminal() {
			return fault.Invalid("chain %s is %s and accepts no further steps", c.ID, c.Status)
		}

		step := Step{
			Number:     len(c.Steps) + 1,
			Thought:    in.Thought,
			Type:       stepType,
			Confidence: in.Confidence,
			Data:       in.Data,
			CreatedAt:  common.NowISO(),
		}
		if err := s.persistStep(ctx, c.ID, step); err != nil {
			return err
		}

		c.Steps = append(c.Steps, step)
		c.StepCount = len(c.Steps)
		c.UpdatedAt = step.CreatedAt
		created = step
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// Conclude moves the chain to its terminal status and schedules the
// notebook export. Repeating the same conclusion is a no-op; a
// conflicting conclusion is rejected.
func (s *Service) Conclude(ctx context.Context, in ConcludeInput) (*Chain, error) {
	if in.Conclusion == "" {
		return nil, fault.Invalid("conclusion must not be empty")
	}
	if err := checkConfidence(in.Confidence); err != nil {
		return nil, err
	}

	target := StatusCompleted
	if !in.Success {
		target = StatusFailed
	}

	var out *Chain
	err := s.withChain(ctx, in.ChainID, func(ctx context.Context, c *Chain) error {
		if c.Terminal() {
			if c.Status == target && c.Conclusion == in.Conclusion {
				out = c.clone()
				return nil
			}
			return fault.Invalid("chain %s already concluded as %s", c.ID, c.Status)
		}

		now := common.NowISO()
		update := map[string]interface{}{
			"status":       target,
			"conclusion":   in.Conclusion,
			"completed_at": now,
		}
		if in.Confidence > 0 {
			update["confidence"] = in.Confidence
		}
		if _, err := s.entities.Update(ctx, labelChain, c.ID, update); err != nil {
			return err
		}

		c.Status = target
		c.Conclusion = in.Conclusion
		if in.Confidence > 0 {
			c.Confidence = in.Confidence
		}
		c.CompletedAt = now
		c.UpdatedAt = now
		out = c.clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.markTerminal(out.ID)
	if !out.Exported {
		s.scheduleExport(out.clone())
	}
	return out, nil
}

// Get returns a copy of the chain, hydrating from the graph when it is
// not live. A terminal chain whose export has not landed yet is
// re-scheduled here.
func (s *Service) Get(ctx context.Context, chainID string, includeSteps bool) (*Chain, error) {
	var out *Chain
	err := s.withChain(ctx, chainID, func(ctx context.Context, c *Chain) error {
		out = c.clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Terminal() && !out.Exported {
		s.scheduleExport(out.clone())
	}
	if !includeSteps {
		out.Steps = nil
	}
	return out, nil
}

// List returns chain summaries (no steps), newest first, optionally
// filtered by status.
func (s *Service) List(ctx context.Context, status string, limit int) ([]*Chain, error) {
	if status != "" && !validStatus(status) {
		return nil, fault.Invalid("unknown status %q", status)
	}

	match := map[string]interface{}{}
	if status != "" {
		match["status"] = status
	}
	rows, err := s.entities.Find(ctx, labelChain, match, limit, true)
	if err != nil {
		return nil, err
	}

	out := make([]*Chain, 0, len(rows))
	for _, props := range rows {
		out = append(out, chainFromProps(props))
	}
	return out, nil
}

// Branch copies steps 1..atStep (all when atStep is 0) into a new
// in_progress chain tagged branch. The parent is not modified; branching
// a terminal chain is permitted.
func (s *Service) Branch(ctx context.Context, chainID string, atStep int) (*Chain, error) {
	if atStep < 0 {
		return nil, fault.Invalid("atStep must not be negative")
	}

	var parent *Chain
	err := s.withChain(ctx, chainID, func(ctx context.Context, c *Chain) error {
		parent = c.clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if atStep > len(parent.Steps) {
		return nil, fault.Invalid("atStep %d exceeds the %d steps of chain %s", atStep, len(parent.Steps), parent.ID)
	}

	cut := atStep
	if cut == 0 {
		cut = len(parent.Steps)
	}

	now := common.NowISO()
	child := &Chain{
		ID:         uuid.NewString(),
		Prompt:     parent.Prompt,
		Context:    parent.Context,
		Goal:       parent.Goal,
		Tags:       appendUnique(parent.Tags, "branch"),
		Status:     StatusInProgress,
		BranchFrom: parent.ID,
		BranchStep: cut,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for i := 0; i < cut; i++ {
		step := parent.Steps[i]
		step.CreatedAt = now
		child.Steps = append(child.Steps, step)
	}
	child.StepCount = len(child.Steps)

	if _, err := s.entities.Create(ctx, labelChain, chainProps(child)); err != nil {
		return nil, err
	}
	for _, step := range child.Steps {
		if err := s.persistStepNode(ctx, child.ID, step); err != nil {
			return nil, err
		}
	}
	if err := s.linkBranch(ctx, parent.ID, child.ID, cut); err != nil {
		return nil, err
	}

	s.install(child)
	return child.clone(), nil
}

// withChain runs fn with the chain's write lock held, hydrating the
// chain from the graph when it is not live.
func (s *Service) withChain(ctx context.Context, chainID string, fn func(ctx context.Context, c *Chain) error) error {
	if chainID == "" {
		return fault.Invalid("chainId must not be empty")
	}

	lc := s.acquire(chainID)
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.chain == nil {
		chain, err := s.hydrate(ctx, chainID)
		if err != nil {
			s.discard(chainID, lc)
			return err
		}
		lc.chain = chain
		if chain.Terminal() {
			s.markTerminal(chainID)
		}
	}
	return fn(ctx, lc.chain)
}

// acquire returns the live entry for the chain, creating a placeholder
// and sweeping expired terminal chains on the way.
func (s *Service) acquire(chainID string) *liveChain {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(time.Now())
	lc := s.live[chainID]
	if lc == nil {
		lc = &liveChain{}
		s.live[chainID] = lc
	}
	return lc
}

// discard removes a placeholder whose hydration failed. The caller holds
// lc.mu.
func (s *Service) discard(chainID string, lc *liveChain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live[chainID] == lc && lc.chain == nil {
		delete(s.live, chainID)
	}
}

func (s *Service) install(c *Chain) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(time.Now())
	lc := &liveChain{chain: c}
	if c.Terminal() {
		lc.doneAt = time.Now()
	}
	s.live[c.ID] = lc
}

func (s *Service) markTerminal(chainID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lc, ok := s.live[chainID]; ok && lc.doneAt.IsZero() {
		lc.doneAt = time.Now()
	}
}

func (s *Service) sweepLocked(now time.Time) {
	for id, lc := range s.live {
		if !lc.doneAt.IsZero() && now.Sub(lc.doneAt) > s.grace {
			delete(s.live, id)
		}
	}
}

// hydrate loads a chain and its ordered steps from the graph.
func (s *Service) hydrate(ctx context.Context, chainID string) (*Chain, error) {
	props, err := s.entities.Get(ctx, labelChain, chainID)
	if err != nil {
		return nil, chainLookupErr(chainID, err)
	}
	chain := chainFromProps(props)

	related, err := s.relations.GetFor(ctx, labelChain, chainID, "out", relHasStep)
	if err != nil {
		return nil, err
	}
	steps := make([]Step, 0, len(related))
	for _, rel := range related {
		steps = append(steps, stepFromProps(rel.Other))
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Number < steps[j].Number })
	chain.Steps = steps
	chain.StepCount = len(steps)
	return chain, nil
}

// persistStep writes the step node and edge, then bumps the chain's
// step counter. The caller holds the chain lock.
func (s *Service) persistStep(ctx context.Context, chainID string, step Step) error {
	if err := s.persistStepNode(ctx, chainID, step); err != nil {
		return err
	}
	_, err := s.entities.Update(ctx, labelChain, chainID, map[string]interface{}{"step_count": step.Number})
	return err
}

func (s *Service) persistStepNode(ctx context.Context, chainID string, step Step) error {
	props := stepProps(chainID, step)
	if _, err := s.entities.Create(ctx, labelStep, props); err != nil {
		return err
	}
	from := graph.Ref{Label: labelChain, ID: chainID}
	to := graph.Ref{Label: labelStep, ID: stepID(chainID, step.Number)}
	_, err := s.relations.Create(ctx, from, relHasStep, to, map[string]interface{}{"order": step.Number})
	return err
}

func (s *Service) linkBranch(ctx context.Context, parentID, childID string, atStep int) error {
	from := graph.Ref{Label: labelChain, ID: parentID}
	to := graph.Ref{Label: labelChain, ID: childID}
	_, err := s.relations.Create(ctx, from, relBranched, to, map[string]interface{}{"at_step": atStep})
	return err
}

// scheduleExport hands the snapshot to the worker pool, falling back to
// an inline export when the pool is missing or full. Exports are
// idempotent; a duplicate run rewrites the same file.
func (s *Service) scheduleExport(snapshot *Chain) {
	if s.notebook == nil {
		return
	}

	if s.pool != nil {
		job := worker.Func{
			Name: "chain-export-" + shortID(snapshot.ID),
			Max:  exportTimeout,
			Fn: func(ctx context.Context) error {
				return s.export(ctx, snapshot)
			},
		}
		if err := s.pool.Submit(job); err == nil {
			return
		}
	}

	if err := s.export(context.Background(), snapshot); err != nil {
		common.Logger.WithFields(logrus.Fields{
			"chain": snapshot.ID,
			"error": err.Error(),
		}).Warn("Chain export failed")
	}
}

// export writes the chain's notebook file and marks the chain exported
// in the graph and in the live map.
func (s *Service) export(ctx context.Context, c *Chain) error {
	fm, body := renderExport(c)
	if _, err := s.notebook.Write(exportName(c), body, fm); err != nil {
		return err
	}
	if _, err := s.entities.Update(ctx, labelChain, c.ID, map[string]interface{}{"exported": true}); err != nil {
		return err
	}
	s.setExported(c.ID)
	return nil
}

func (s *Service) setExported(chainID string) {
	s.mu.Lock()
	lc := s.live[chainID]
	s.mu.Unlock()
	if lc == nil {
		return
	}

	lc.mu.Lock()
	if lc.chain != nil {
		lc.chain.Exported = true
	}
	lc.mu.Unlock()
}

// chainLookupErr keeps backend faults as-is but speaks chain language
// for missing ids.
func chainLookupErr(chainID string, err error) error {
	if fault.IsKind(err, fault.NotFound) {
		return fault.Missing("chain %s not found", chainID)
	}
	return err
}

func appendUnique(tags []string, tag string) []string {
	out := append([]string(nil), tags...)
	for _, existing := range out {
		if existing == tag {
			return out
		}
	}
	return append(out, tag)
}
