package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tracecore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the
// domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

// DefaultLineageDepthLimit bounds recursive lineage traversal. Nested
// aggregation deeper than this fails the query with DepthExceededError.
const DefaultLineageDepthLimit = 10

type ledgerState struct {
	batches       map[string]Batch
	containers    map[string]Container
	relationships []AggregationRelationship
	commitments   map[string]AggregationCommitment
	balances      map[string]map[string]int64
	minted        map[string]int64
	burned        map[string]int64
	events        []AggregationEvent
	lineage       map[string][]LineageEntry
	lineageGen    uint64
}

func newLedgerState() ledgerState {
	return ledgerState{
		batches:     make(map[string]Batch),
		containers:  make(map[string]Container),
		commitments: make(map[string]AggregationCommitment),
		balances:    make(map[string]map[string]int64),
		minted:      make(map[string]int64),
		burned:      make(map[string]int64),
		lineage:     make(map[string][]LineageEntry),
	}
}

func (s ledgerState) clone() ledgerState {
	cloned := newLedgerState()
	for k, v := range s.batches {
		cloned.batches[k] = cloneBatch(v)
	}
	for k, v := range s.containers {
		cloned.containers[k] = v
	}
	cloned.relationships = append([]AggregationRelationship(nil), s.relationships...)
	for k, v := range s.commitments {
		cloned.commitments[k] = cloneCommitment(v)
	}
	for token, holders := range s.balances {
		cp := make(map[string]int64, len(holders))
		for holder, amount := range holders {
			cp[holder] = amount
		}
		cloned.balances[token] = cp
	}
	for k, v := range s.minted {
		cloned.minted[k] = v
	}
	for k, v := range s.burned {
		cloned.burned[k] = v
	}
	cloned.events = make([]AggregationEvent, 0, len(s.events))
	for _, ev := range s.events {
		cloned.events = append(cloned.events, cloneEvent(ev))
	}
	for k, v := range s.lineage {
		cloned.lineage[k] = cloneLineageEntries(v)
	}
	cloned.lineageGen = s.lineageGen
	return cloned
}

func cloneAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneBatch(b Batch) Batch {
	cp := b
	cp.Provenance = cloneAnyMap(b.Provenance)
	return cp
}

func cloneCommitment(c AggregationCommitment) AggregationCommitment {
	cp := c
	cp.Metadata = cloneAnyMap(c.Metadata)
	return cp
}

func cloneEvent(e AggregationEvent) AggregationEvent {
	cp := e
	cp.ChildIDs = append([]string(nil), e.ChildIDs...)
	cp.Metadata = cloneAnyMap(e.Metadata)
	return cp
}

func cloneLineageEntries(entries []LineageEntry) []LineageEntry {
	out := make([]LineageEntry, len(entries))
	for i, e := range entries {
		cp := e
		cp.Provenance = cloneAnyMap(e.Provenance)
		out[i] = cp
	}
	return out
}

// activeParentOf scans for the single active relationship covering the
// child, if any.
func activeParentOf(state *ledgerState, childID string) (AggregationRelationship, bool) {
	for _, rel := range state.relationships {
		if rel.IsActive && rel.ChildID == childID {
			return rel, true
		}
	}
	return AggregationRelationship{}, false
}

func activeChildrenOf(state *ledgerState, parentID string) []AggregationRelationship {
	var out []AggregationRelationship
	for _, rel := range state.relationships {
		if rel.IsActive && rel.ParentID == parentID {
			out = append(out, rel)
		}
	}
	return out
}

// Store provides an in-memory transactional ledger store with
// copy-on-write snapshot semantics. All mutation paths run through
// RunInTransaction so burn+mint+relationship-flip+commitment-write
// succeed or fail together.
type Store struct {
	mu         sync.RWMutex
	state      ledgerState
	engine     *RulesEngine
	nowFn      func() time.Time
	depthLimit int
}

// NewStore constructs an in-memory store backed by the provided
// rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:      newLedgerState(),
		engine:     engine,
		nowFn:      func() time.Time { return time.Now().UTC() },
		depthLimit: DefaultLineageDepthLimit,
	}
}

// SetLineageDepthLimit overrides the traversal ceiling policy.
func (s *Store) SetLineageDepthLimit(limit int) {
	if limit > 0 {
		s.depthLimit = limit
	}
}

// SetNowFunc overrides the timestamp source for new records.
func (s *Store) SetNowFunc(now func() time.Time) {
	if now != nil {
		s.nowFn = now
	}
}

func newID() string {
	return uuid.NewString()
}

// transaction applies a mutation set against a cloned ledger state.
type transaction struct {
	store   *Store
	state   ledgerState
	changes []Change
	now     time.Time
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// RunInTransaction executes fn within a transactional copy of the
// store state, evaluates registered rules against the outcome, and
// commits only when no blocking violation is present.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newLedgerView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of committed state.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(newLedgerView(&snapshot))
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newLedgerView(&tx.state)
}

// CreateBatch stores a new batch record, computing its fingerprint
// from the immutable attributes when the caller left it zero.
func (tx *transaction) CreateBatch(b Batch) (Batch, error) {
	if b.ID == "" {
		b.ID = newID()
	}
	if _, exists := tx.state.batches[b.ID]; exists {
		return Batch{}, fmt.Errorf("batch %q already exists", b.ID)
	}
	if b.Quantity <= 0 {
		return Batch{}, fmt.Errorf("batch %q quantity must be positive", b.ID)
	}
	if b.Fingerprint.IsZero() {
		b.Fingerprint = domain.ComputeFingerprint(b.ID, b.Quantity, b.Variety, b.Process)
	}
	b.CreatedAt = tx.now
	b.UpdatedAt = tx.now
	tx.state.batches[b.ID] = cloneBatch(b)
	tx.recordChange(Change{Entity: EntityBatch, Action: ActionCreate, After: cloneBatch(b)})
	return cloneBatch(b), nil
}

// CreateContainer stores a new container record.
func (tx *transaction) CreateContainer(c Container) (Container, error) {
	if c.ID == "" {
		c.ID = newID()
	}
	if _, exists := tx.state.containers[c.ID]; exists {
		return Container{}, fmt.Errorf("container %q already exists", c.ID)
	}
	c.CreatedAt = tx.now
	c.UpdatedAt = tx.now
	tx.state.containers[c.ID] = c
	tx.recordChange(Change{Entity: EntityContainer, Action: ActionCreate, After: c})
	return c, nil
}

// Aggregate activates a containment edge. A child already active under
// any parent is rejected: no double-packing.
func (tx *transaction) Aggregate(parentID, childID string, kind TokenKind, eventID string) (AggregationRelationship, error) {
	if parentID == childID {
		return AggregationRelationship{}, fmt.Errorf("container %q cannot contain itself", parentID)
	}
	if _, ok := tx.state.containers[parentID]; !ok {
		return AggregationRelationship{}, domain.NotFoundError{Entity: EntityContainer, ID: parentID}
	}
	switch kind {
	case TokenBatch:
		if _, ok := tx.state.batches[childID]; !ok {
			return AggregationRelationship{}, domain.NotFoundError{Entity: EntityBatch, ID: childID}
		}
	case TokenContainer:
		if _, ok := tx.state.containers[childID]; !ok {
			return AggregationRelationship{}, domain.NotFoundError{Entity: EntityContainer, ID: childID}
		}
	default:
		return AggregationRelationship{}, fmt.Errorf("unknown child kind %q", kind)
	}
	if active, ok := activeParentOf(&tx.state, childID); ok {
		return AggregationRelationship{}, domain.AlreadyActiveError{ChildID: childID, ActiveParentID: active.ParentID}
	}
	rel := AggregationRelationship{
		ID:                 newID(),
		ParentID:           parentID,
		ChildID:            childID,
		ChildKind:          kind,
		AggregationEventID: eventID,
		IsActive:           true,
		AggregatedAt:       tx.now,
	}
	tx.state.relationships = append(tx.state.relationships, rel)
	tx.recordChange(Change{Entity: EntityRelationship, Action: ActionCreate, After: rel})
	return rel, nil
}

// Disaggregate deactivates the active edge between parent and child.
// The historical record is retained; only the activation flags change.
func (tx *transaction) Disaggregate(parentID, childID, eventID string) (AggregationRelationship, error) {
	for i, rel := range tx.state.relationships {
		if !rel.IsActive || rel.ParentID != parentID || rel.ChildID != childID {
			continue
		}
		before := rel
		at := tx.now
		rel.IsActive = false
		rel.DisaggregatedAt = &at
		rel.DisaggregationEventID = &eventID
		tx.state.relationships[i] = rel
		tx.recordChange(Change{Entity: EntityRelationship, Action: ActionUpdate, Before: before, After: rel})
		return rel, nil
	}
	return AggregationRelationship{}, domain.NotActiveError{ParentID: parentID, ChildID: childID}
}

// PutCommitment writes the container's merkle commitment. Commitments
// are immutable evidence: a second write for the same container fails.
func (tx *transaction) PutCommitment(c AggregationCommitment) (AggregationCommitment, error) {
	if c.ContainerID == "" {
		return AggregationCommitment{}, fmt.Errorf("commitment requires a container id")
	}
	if _, exists := tx.state.commitments[c.ContainerID]; exists {
		return AggregationCommitment{}, domain.DuplicateCommitmentError{ContainerID: c.ContainerID}
	}
	if c.MerkleRoot.IsZero() {
		return AggregationCommitment{}, domain.InvalidRootError{ContainerID: c.ContainerID}
	}
	c.CreatedAt = tx.now
	tx.state.commitments[c.ContainerID] = cloneCommitment(c)
	tx.recordChange(Change{Entity: EntityCommitment, Action: ActionCreate, After: cloneCommitment(c)})
	return cloneCommitment(c), nil
}

// AppendEvent records one entry of the append-only event log.
func (tx *transaction) AppendEvent(e AggregationEvent) (AggregationEvent, error) {
	if e.ID == "" {
		e.ID = newID()
	}
	for _, existing := range tx.state.events {
		if existing.ID == e.ID {
			return AggregationEvent{}, fmt.Errorf("event %q already recorded", e.ID)
		}
	}
	e.OccurredAt = tx.now
	tx.state.events = append(tx.state.events, cloneEvent(e))
	tx.recordChange(Change{Entity: EntityEvent, Action: ActionCreate, After: cloneEvent(e)})
	return cloneEvent(e), nil
}

// Mint credits new custody units to the holder.
func (tx *transaction) Mint(tokenID, holder string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("mint amount must be positive, got %d", amount)
	}
	holders := tx.state.balances[tokenID]
	if holders == nil {
		holders = make(map[string]int64)
		tx.state.balances[tokenID] = holders
	}
	holders[holder] += amount
	tx.state.minted[tokenID] += amount
	tx.recordChange(Change{Entity: EntityBalance, Action: ActionUpdate, After: CustodyBalance{TokenID: tokenID, Holder: holder, Amount: holders[holder]}})
	return nil
}

// Burn debits custody units from the holder's balance.
func (tx *transaction) Burn(tokenID, holder string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("burn amount must be positive, got %d", amount)
	}
	holders := tx.state.balances[tokenID]
	available := holders[holder]
	if available < amount {
		return domain.InsufficientBalanceError{TokenID: tokenID, Holder: holder, Requested: amount, Available: available}
	}
	holders[holder] = available - amount
	if holders[holder] == 0 {
		delete(holders, holder)
	}
	tx.state.burned[tokenID] += amount
	tx.recordChange(Change{Entity: EntityBalance, Action: ActionUpdate, After: CustodyBalance{TokenID: tokenID, Holder: holder, Amount: available - amount}})
	return nil
}

// Transfer moves custody units between holders, allowing partial
// amounts so multiple holders can own slices of one token.
func (tx *transaction) Transfer(tokenID, from, to string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("transfer amount must be positive, got %d", amount)
	}
	holders := tx.state.balances[tokenID]
	available := holders[from]
	if available < amount {
		return domain.InsufficientBalanceError{TokenID: tokenID, Holder: from, Requested: amount, Available: available}
	}
	holders[from] = available - amount
	if holders[from] == 0 {
		delete(holders, from)
	}
	holders[to] += amount
	tx.recordChange(Change{Entity: EntityBalance, Action: ActionUpdate, After: CustodyBalance{TokenID: tokenID, Holder: to, Amount: holders[to]}})
	return nil
}

// HolderBalances returns a copy of all balances of one token.
func (tx *transaction) HolderBalances(tokenID string) map[string]int64 {
	holders := tx.state.balances[tokenID]
	out := make(map[string]int64, len(holders))
	for holder, amount := range holders {
		out[holder] = amount
	}
	return out
}

// RefreshLineage rebuilds the materialized index for the product and
// every ancestor reachable through active edges, bumping the index
// generation once.
func (tx *transaction) RefreshLineage(productID string) error {
	refreshed := make(map[string]bool)
	current := productID
	for {
		if refreshed[current] {
			return domain.CycleDetectedError{ProductID: productID, RepeatID: current}
		}
		entries, err := resolveLineage(&tx.state, current, tx.store.depthLimit)
		if err != nil {
			return err
		}
		tx.state.lineage[current] = entries
		refreshed[current] = true
		parent, ok := activeParentOf(&tx.state, current)
		if !ok {
			break
		}
		current = parent.ParentID
	}
	tx.state.lineageGen++
	return nil
}

func (tx *transaction) FindBatch(id string) (Batch, bool) {
	b, ok := tx.state.batches[id]
	if !ok {
		return Batch{}, false
	}
	return cloneBatch(b), true
}

func (tx *transaction) FindContainer(id string) (Container, bool) {
	c, ok := tx.state.containers[id]
	return c, ok
}

func (tx *transaction) FindCommitment(containerID string) (AggregationCommitment, bool) {
	c, ok := tx.state.commitments[containerID]
	if !ok {
		return AggregationCommitment{}, false
	}
	return cloneCommitment(c), true
}

func (tx *transaction) ActiveParent(childID string) (AggregationRelationship, bool) {
	return activeParentOf(&tx.state, childID)
}

func (tx *transaction) ActiveChildren(parentID string) []AggregationRelationship {
	return activeChildrenOf(&tx.state, parentID)
}

// ledgerView exposes a read-only snapshot to rules and readers.
type ledgerView struct {
	state *ledgerState
}

func newLedgerView(state *ledgerState) ledgerView {
	return ledgerView{state: state}
}

func (v ledgerView) ListBatches() []Batch {
	out := make([]Batch, 0, len(v.state.batches))
	for _, b := range v.state.batches {
		out = append(out, cloneBatch(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v ledgerView) ListContainers() []Container {
	out := make([]Container, 0, len(v.state.containers))
	for _, c := range v.state.containers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v ledgerView) ListRelationships() []AggregationRelationship {
	return append([]AggregationRelationship(nil), v.state.relationships...)
}

func (v ledgerView) ListCommitments() []AggregationCommitment {
	out := make([]AggregationCommitment, 0, len(v.state.commitments))
	for _, c := range v.state.commitments {
		out = append(out, cloneCommitment(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContainerID < out[j].ContainerID })
	return out
}

func (v ledgerView) ListBalances() []CustodyBalance {
	var out []CustodyBalance
	for token, holders := range v.state.balances {
		for holder, amount := range holders {
			out = append(out, CustodyBalance{TokenID: token, Holder: holder, Amount: amount})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TokenID != out[j].TokenID {
			return out[i].TokenID < out[j].TokenID
		}
		return out[i].Holder < out[j].Holder
	})
	return out
}

func (v ledgerView) ListEvents() []AggregationEvent {
	out := make([]AggregationEvent, 0, len(v.state.events))
	for _, e := range v.state.events {
		out = append(out, cloneEvent(e))
	}
	return out
}

func (v ledgerView) FindBatch(id string) (Batch, bool) {
	b, ok := v.state.batches[id]
	if !ok {
		return Batch{}, false
	}
	return cloneBatch(b), true
}

func (v ledgerView) FindContainer(id string) (Container, bool) {
	c, ok := v.state.containers[id]
	return c, ok
}

func (v ledgerView) FindCommitment(containerID string) (AggregationCommitment, bool) {
	c, ok := v.state.commitments[containerID]
	if !ok {
		return AggregationCommitment{}, false
	}
	return cloneCommitment(c), true
}

func (v ledgerView) ActiveParent(childID string) (AggregationRelationship, bool) {
	return activeParentOf(v.state, childID)
}

func (v ledgerView) ActiveChildren(parentID string) []AggregationRelationship {
	return activeChildrenOf(v.state, parentID)
}

func (v ledgerView) MintedTotal(tokenID string) int64 {
	return v.state.minted[tokenID]
}

func (v ledgerView) BurnedTotal(tokenID string) int64 {
	return v.state.burned[tokenID]
}

func (v ledgerView) Lineage(productID string) ([]LineageEntry, bool) {
	entries, ok := v.state.lineage[productID]
	if !ok {
		return nil, false
	}
	return cloneLineageEntries(entries), true
}

func (v ledgerView) LineageGeneration() uint64 {
	return v.state.lineageGen
}

// Read helpers ---------------------------------------------------------------

// GetBatch retrieves a batch by ID from committed state.
func (s *Store) GetBatch(id string) (Batch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.state.batches[id]
	if !ok {
		return Batch{}, false
	}
	return cloneBatch(b), true
}

// GetContainer retrieves a container by ID from committed state.
func (s *Store) GetContainer(id string) (Container, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.state.containers[id]
	return c, ok
}

// GetCommitment retrieves the commitment recorded for a container.
func (s *Store) GetCommitment(containerID string) (AggregationCommitment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.state.commitments[containerID]
	if !ok {
		return AggregationCommitment{}, false
	}
	return cloneCommitment(c), true
}

// GetBalance returns a holder's balance of a token. The bool reports
// whether the ledger currently records the pair; burns and transfers
// drop zeroed entries, so a fully spent balance reports false.
func (s *Store) GetBalance(tokenID, holder string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	holders, ok := s.state.balances[tokenID]
	if !ok {
		return 0, false
	}
	amount, ok := holders[holder]
	return amount, ok
}

// ListBatches returns all batches from committed state.
func (s *Store) ListBatches() []Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newLedgerView(&s.state).ListBatches()
}

// ListContainers returns all containers from committed state.
func (s *Store) ListContainers() []Container {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newLedgerView(&s.state).ListContainers()
}

// ListRelationships returns the full containment history.
func (s *Store) ListRelationships() []AggregationRelationship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newLedgerView(&s.state).ListRelationships()
}

// ListEvents returns the append-only event log in insertion order.
func (s *Store) ListEvents() []AggregationEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newLedgerView(&s.state).ListEvents()
}

// Lineage returns the materialized index rows for a product.
func (s *Store) Lineage(productID string) ([]LineageEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newLedgerView(&s.state).Lineage(productID)
}

// LineageGeneration returns the index generation counter so readers can
// detect staleness of previously fetched rows.
func (s *Store) LineageGeneration() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.lineageGen
}
