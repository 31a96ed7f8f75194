package core

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"tracecore/internal/infra/persistence/memory"
	"tracecore/pkg/domain"
	"tracecore/pkg/merkle"
)

// Service exposes the transactional ledger operations: batch
// registration, aggregation anchoring, disaggregation, custody moves,
// and lineage queries. Every operation is instrumented for audit,
// metrics, and tracing through the configured recorders.
type Service struct {
	store domain.PersistentStore
	opts  serviceOptions
	locks *lockTable
	cache *lru.Cache[string, cachedLineage]
}

type cachedLineage struct {
	generation uint64
	entries    []LineageEntry
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, options ...ServiceOption) *Service {
	opts := defaultServiceOptions()
	for _, apply := range options {
		apply(&opts)
	}
	cache, _ := lru.New[string, cachedLineage](opts.lineageCacheSize)
	return &Service{
		store: store,
		opts:  opts,
		locks: newLockTable(),
		cache: cache,
	}
}

// NewInMemoryService creates a service and in-memory store with the
// given rules engine.
func NewInMemoryService(engine *RulesEngine, options ...ServiceOption) *Service {
	opts := defaultServiceOptions()
	for _, apply := range options {
		apply(&opts)
	}
	store := memory.NewStore(engine)
	store.SetLineageDepthLimit(opts.depthLimit)
	store.SetNowFunc(opts.clock.Now)
	cache, _ := lru.New[string, cachedLineage](opts.lineageCacheSize)
	return &Service{
		store: store,
		opts:  opts,
		locks: newLockTable(),
		cache: cache,
	}
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// auditOps maps instrumented operations to the entity and action
// recorded in their audit entries. Operations absent from the map are
// not audited.
var auditOps = map[string]struct {
	Entity EntityType
	Action Action
}{
	"register_batch":     {Entity: EntityBatch, Action: ActionCreate},
	"create_container":   {Entity: EntityContainer, Action: ActionCreate},
	"anchor_aggregation": {Entity: EntityEvent, Action: ActionCreate},
	"disaggregate":       {Entity: EntityEvent, Action: ActionCreate},
	"transfer_custody":   {Entity: EntityBalance, Action: ActionUpdate},
	"burn_custody":       {Entity: EntityBalance, Action: ActionUpdate},
}

// instrument opens a trace span and returns a completion callback that
// records metrics and the audit entry for the operation.
func (s *Service) instrument(ctx context.Context, operation string) (context.Context, func(entityID string, err error)) {
	started := s.opts.clock.Now()
	ctx, span := s.opts.tracer.Start(ctx, operation)
	return ctx, func(entityID string, err error) {
		duration := s.opts.clock.Now().Sub(started)
		span.End(err)
		s.opts.metrics.Observe(ctx, operation, err == nil, duration)
		if err == nil {
			s.recordAuditSuccess(ctx, operation, entityID, duration)
		} else {
			s.recordAuditError(ctx, operation, entityID, duration, err)
			s.opts.logger.Error("ledger operation failed", "operation", operation, "entity_id", entityID, "error", err)
		}
	}
}

func (s *Service) recordAuditSuccess(ctx context.Context, operation, entityID string, duration time.Duration) {
	meta, ok := auditOps[operation]
	if !ok {
		return
	}
	s.opts.audit.Record(ctx, AuditEntry{
		Operation: operation,
		Entity:    meta.Entity,
		EntityID:  entityID,
		Action:    meta.Action,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.opts.clock.Now(),
	})
}

func (s *Service) recordAuditError(ctx context.Context, operation, entityID string, duration time.Duration, err error) {
	meta, ok := auditOps[operation]
	if !ok {
		return
	}
	s.opts.audit.Record(ctx, AuditEntry{
		Operation: operation,
		Entity:    meta.Entity,
		EntityID:  entityID,
		Action:    meta.Action,
		Status:    AuditStatusError,
		Error:     err.Error(),
		Duration:  duration,
		Timestamp: s.opts.clock.Now(),
	})
}

// RegisterBatch persists a new batch, computes its fingerprint, mints
// its quantity to the owner, and seeds the lineage index with the batch
// as its own leaf.
func (s *Service) RegisterBatch(ctx context.Context, batch Batch, owner string) (Batch, Result, error) {
	ctx, done := s.instrument(ctx, "register_batch")
	var created Batch
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		created, err = tx.CreateBatch(batch)
		if err != nil {
			return err
		}
		if owner != "" {
			if err := tx.Mint(created.ID, owner, created.Quantity); err != nil {
				return err
			}
		}
		return tx.RefreshLineage(created.ID)
	})
	done(created.ID, err)
	if err != nil {
		return Batch{}, res, err
	}
	return created, res, nil
}

// CreateContainer persists a new container with an empty lineage
// index entry.
func (s *Service) CreateContainer(ctx context.Context, container Container) (Container, Result, error) {
	ctx, done := s.instrument(ctx, "create_container")
	var created Container
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		created, err = tx.CreateContainer(container)
		if err != nil {
			return err
		}
		return tx.RefreshLineage(created.ID)
	})
	done(created.ID, err)
	if err != nil {
		return Container{}, res, err
	}
	return created, res, nil
}

// CommitmentPlan is the computed merkle commitment over a child set,
// including per-child inclusion proofs keyed by child ID.
type CommitmentPlan struct {
	MerkleRoot Digest
	ChildCount int
	Leaves     []Digest
	Proofs     map[string]merkle.Proof
}

// ComputeCommitment builds the merkle tree over the supplied children
// in the given order. Batch children contribute their fingerprint as
// the leaf; container children contribute their recorded commitment
// root, so nested containers must be anchored before inclusion.
func (s *Service) ComputeCommitment(ctx context.Context, childIDs []string) (CommitmentPlan, error) {
	var plan CommitmentPlan
	err := s.store.View(ctx, func(view TransactionView) error {
		leaves, err := childLeaves(view, childIDs)
		if err != nil {
			return err
		}
		tree, err := merkle.Build(leaves)
		if err != nil {
			return err
		}
		plan = CommitmentPlan{
			MerkleRoot: tree.Root(),
			ChildCount: len(childIDs),
			Leaves:     leaves,
			Proofs:     make(map[string]merkle.Proof, len(childIDs)),
		}
		for i, childID := range childIDs {
			if proof, ok := tree.Proof(i); ok {
				plan.Proofs[childID] = proof
			}
		}
		return nil
	})
	if err != nil {
		return CommitmentPlan{}, err
	}
	return plan, nil
}

// childLeaves resolves the leaf digest of every child in request order.
func childLeaves(view TransactionView, childIDs []string) ([]Digest, error) {
	leaves := make([]Digest, 0, len(childIDs))
	for _, childID := range childIDs {
		if batch, ok := view.FindBatch(childID); ok {
			leaves = append(leaves, batch.Fingerprint)
			continue
		}
		if _, ok := view.FindContainer(childID); ok {
			commitment, ok := view.FindCommitment(childID)
			if !ok {
				return nil, fmt.Errorf("container %s has no commitment and cannot be nested", childID)
			}
			leaves = append(leaves, commitment.MerkleRoot)
			continue
		}
		return nil, domain.NotFoundError{Entity: EntityBatch, ID: childID}
	}
	return leaves, nil
}

// childKind classifies a child reference.
func childKind(view TransactionView, childID string) (TokenKind, error) {
	if _, ok := view.FindBatch(childID); ok {
		return TokenBatch, nil
	}
	if _, ok := view.FindContainer(childID); ok {
		return TokenContainer, nil
	}
	return "", domain.NotFoundError{Entity: EntityBatch, ID: childID}
}

// childQuantity returns the custody units a child contributes to its
// parent. Batches contribute their registered quantity; containers
// contribute the sum of their lineage leaves.
func childQuantity(view TransactionView, childID string, kind TokenKind) (int64, error) {
	if kind == TokenBatch {
		batch, ok := view.FindBatch(childID)
		if !ok {
			return 0, domain.NotFoundError{Entity: EntityBatch, ID: childID}
		}
		return batch.Quantity, nil
	}
	entries, ok := view.Lineage(childID)
	if !ok {
		return 0, domain.NotFoundError{Entity: EntityContainer, ID: childID}
	}
	var total int64
	for _, entry := range entries {
		total += entry.Quantity
	}
	return total, nil
}

// AnchorRequest describes one aggregation anchor: the container, the
// children being packed into it in commitment order, and the declared
// commitment the caller computed off-ledger. DeclaredRoot and
// DeclaredChildCount are required; a zero root or a count that
// disagrees with ChildIDs is rejected before any state changes.
type AnchorRequest struct {
	ContainerID        string
	ChildIDs           []string
	DeclaredRoot       Digest
	DeclaredChildCount int
	Holder             string
	Metadata           map[string]any
	ContentRef         *string
}

// AnchorAggregation atomically activates the containment edges, burns
// the children's custody units, mints the container token to the
// holder, records the merkle commitment, appends the aggregation
// event, and refreshes the lineage index. The caller must declare the
// root and child count; both are verified against the ledger before
// any state changes.
func (s *Service) AnchorAggregation(ctx context.Context, req AnchorRequest) (AggregationEvent, Result, error) {
	ctx, done := s.instrument(ctx, "anchor_aggregation")
	event, res, err := s.anchorAggregation(ctx, req)
	done(req.ContainerID, err)
	return event, res, err
}

func (s *Service) anchorAggregation(ctx context.Context, req AnchorRequest) (AggregationEvent, Result, error) {
	if len(req.ChildIDs) == 0 {
		return AggregationEvent{}, Result{}, domain.EmptyChildSetError{ContainerID: req.ContainerID}
	}
	if req.DeclaredRoot.IsZero() {
		return AggregationEvent{}, Result{}, domain.InvalidRootError{ContainerID: req.ContainerID}
	}
	if req.DeclaredChildCount != len(req.ChildIDs) {
		return AggregationEvent{}, Result{}, domain.ChildCountMismatchError{
			ContainerID: req.ContainerID,
			Declared:    req.DeclaredChildCount,
			Actual:      len(req.ChildIDs),
		}
	}

	release, err := s.locks.acquire(ctx, req.ContainerID, s.opts.lockWait)
	if err != nil {
		return AggregationEvent{}, Result{}, err
	}
	defer release()

	var event AggregationEvent
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		view := tx.Snapshot()
		if _, ok := view.FindContainer(req.ContainerID); !ok {
			return domain.NotFoundError{Entity: EntityContainer, ID: req.ContainerID}
		}

		leaves, err := childLeaves(view, req.ChildIDs)
		if err != nil {
			return err
		}
		tree, err := merkle.Build(leaves)
		if err != nil {
			return err
		}
		root := tree.Root()
		if req.DeclaredRoot != root {
			return domain.InvalidRootError{ContainerID: req.ContainerID}
		}

		event, err = tx.AppendEvent(AggregationEvent{
			Kind:        EventAggregate,
			ContainerID: req.ContainerID,
			ChildIDs:    append([]string(nil), req.ChildIDs...),
			Metadata:    req.Metadata,
			ContentRef:  req.ContentRef,
		})
		if err != nil {
			return err
		}

		var total int64
		for _, childID := range req.ChildIDs {
			kind, err := childKind(view, childID)
			if err != nil {
				return err
			}
			if _, err := tx.Aggregate(req.ContainerID, childID, kind, event.ID); err != nil {
				return err
			}
			quantity, err := childQuantity(view, childID, kind)
			if err != nil {
				return err
			}
			if req.Holder != "" {
				if err := tx.Burn(childID, req.Holder, quantity); err != nil {
					return err
				}
			}
			total += quantity
		}
		if req.Holder != "" {
			if err := tx.Mint(req.ContainerID, req.Holder, total); err != nil {
				return err
			}
		}

		if _, err := tx.PutCommitment(AggregationCommitment{
			ContainerID: req.ContainerID,
			MerkleRoot:  root,
			ChildCount:  len(req.ChildIDs),
			Submitter:   req.Holder,
			Metadata:    req.Metadata,
			ContentRef:  req.ContentRef,
		}); err != nil {
			return err
		}

		return tx.RefreshLineage(req.ContainerID)
	})
	if err != nil {
		return AggregationEvent{}, res, err
	}
	return event, res, nil
}

// Disaggregate deactivates the containment edge between container and
// child and appends the disaggregation event. The historical record
// survives; custody of the container token is not redistributed.
func (s *Service) Disaggregate(ctx context.Context, containerID, childID string, metadata map[string]any) (AggregationEvent, Result, error) {
	ctx, done := s.instrument(ctx, "disaggregate")
	event, res, err := s.disaggregate(ctx, containerID, childID, metadata)
	done(containerID, err)
	return event, res, err
}

func (s *Service) disaggregate(ctx context.Context, containerID, childID string, metadata map[string]any) (AggregationEvent, Result, error) {
	release, err := s.locks.acquire(ctx, containerID, s.opts.lockWait)
	if err != nil {
		return AggregationEvent{}, Result{}, err
	}
	defer release()

	var event AggregationEvent
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		event, err = tx.AppendEvent(AggregationEvent{
			Kind:        EventDisaggregate,
			ContainerID: containerID,
			ChildIDs:    []string{childID},
			Metadata:    metadata,
		})
		if err != nil {
			return err
		}
		if _, err := tx.Disaggregate(containerID, childID, event.ID); err != nil {
			return err
		}
		if err := tx.RefreshLineage(containerID); err != nil {
			return err
		}
		return tx.RefreshLineage(childID)
	})
	if err != nil {
		return AggregationEvent{}, res, err
	}
	return event, res, nil
}

// TransferCustody moves custody units of a token between holders.
func (s *Service) TransferCustody(ctx context.Context, tokenID, from, to string, amount int64) (Result, error) {
	ctx, done := s.instrument(ctx, "transfer_custody")
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		return tx.Transfer(tokenID, from, to, amount)
	})
	done(tokenID, err)
	return res, err
}

// BurnCustody retires custody units from a holder's balance.
func (s *Service) BurnCustody(ctx context.Context, tokenID, holder string, amount int64) (Result, error) {
	ctx, done := s.instrument(ctx, "burn_custody")
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		return tx.Burn(tokenID, holder, amount)
	})
	done(tokenID, err)
	return res, err
}

// GetLineage returns the materialized lineage rows for a product. Rows
// are served from an in-process cache validated against the index
// generation, so a refresh in any transaction invalidates all cached
// reads at once.
func (s *Service) GetLineage(ctx context.Context, productID string) ([]LineageEntry, error) {
	generation := s.store.LineageGeneration()
	if cached, ok := s.cache.Get(productID); ok && cached.generation == generation {
		return cloneLineage(cached.entries), nil
	}
	entries, ok := s.store.Lineage(productID)
	if !ok {
		return nil, domain.NotFoundError{Entity: EntityContainer, ID: productID}
	}
	s.cache.Add(productID, cachedLineage{generation: generation, entries: entries})
	return cloneLineage(entries), nil
}

// cloneLineage deep-copies lineage rows so callers cannot reach the
// maps held by the cache.
func cloneLineage(entries []LineageEntry) []LineageEntry {
	out := make([]LineageEntry, len(entries))
	for i, entry := range entries {
		if entry.Provenance != nil {
			prov := make(map[string]any, len(entry.Provenance))
			for k, v := range entry.Provenance {
				prov[k] = v
			}
			entry.Provenance = prov
		}
		out[i] = entry
	}
	return out
}

// GetCustodyBalance returns a holder's balance of a token.
func (s *Service) GetCustodyBalance(ctx context.Context, tokenID, holder string) (int64, bool) {
	return s.store.GetBalance(tokenID, holder)
}

// GetCommitment returns the recorded commitment for a container.
func (s *Service) GetCommitment(ctx context.Context, containerID string) (AggregationCommitment, bool) {
	return s.store.GetCommitment(containerID)
}

// VerifyInclusion checks a leaf digest and proof against the recorded
// commitment root of a container.
func (s *Service) VerifyInclusion(ctx context.Context, containerID string, leaf Digest, proof merkle.Proof) (bool, error) {
	commitment, ok := s.store.GetCommitment(containerID)
	if !ok {
		return false, domain.NotFoundError{Entity: EntityCommitment, ID: containerID}
	}
	return merkle.Verify(leaf, proof, commitment.MerkleRoot), nil
}

// LineageGeneration exposes the index generation counter.
func (s *Service) LineageGeneration() uint64 {
	return s.store.LineageGeneration()
}
