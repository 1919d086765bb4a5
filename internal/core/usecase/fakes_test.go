package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/pricewatch/internal/core/domain"
	"github.com/kirillkom/pricewatch/internal/core/ports"
)

// stagingFake keeps collections in memory and enforces the state machine.
type stagingFake struct {
	mu          sync.Mutex
	collections map[string]*domain.Collection
	records     map[string][]domain.StagedRecord
	created     []*writerFake

	failMarkProcessed int
	recordsErr        error
	refuseSKU         string
}

func newStagingFake() *stagingFake {
	return &stagingFake{
		collections: map[string]*domain.Collection{},
		records:     map[string][]domain.StagedRecord{},
	}
}

func (s *stagingFake) add(key string, created time.Time, recs ...domain.RawRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &domain.Collection{Key: key, CreatedAt: created, State: domain.CollectionUnprocessed, Records: len(recs)}
	s.collections[key] = c
	staged := make([]domain.StagedRecord, 0, len(recs))
	for i, r := range recs {
		staged = append(staged, domain.StagedRecord{Shard: "shard-0001.jsonl", Line: i + 1, Record: r})
	}
	s.records[key] = staged
}

func (s *stagingFake) addBroken(key string, line int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = append(s.records[key], domain.StagedRecord{Shard: "shard-0001.jsonl", Line: line, Err: err})
}

func (s *stagingFake) state(key string) domain.CollectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collections[key].State
}

func (s *stagingFake) Create(context.Context) (ports.CollectionWriter, error) {
	w := &writerFake{store: s, key: fmt.Sprintf("20240101T00000%dZ", len(s.created))}
	s.created = append(s.created, w)
	return w, nil
}

func (s *stagingFake) Get(_ context.Context, key string) (domain.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[key]
	if !ok {
		return domain.Collection{}, domain.WrapError(domain.ErrNotFound, "get collection", errors.New(key))
	}
	return *c, nil
}

func (s *stagingFake) List(context.Context) ([]domain.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Collection, 0, len(s.collections))
	for _, c := range s.collections {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *stagingFake) ListUnprocessed(ctx context.Context) ([]domain.Collection, error) {
	all, _ := s.List(ctx)
	out := all[:0]
	for _, c := range all {
		if c.Eligible() {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *stagingFake) Records(ctx context.Context, c domain.Collection, fn func(domain.StagedRecord) error) error {
	if s.recordsErr != nil {
		return s.recordsErr
	}
	s.mu.Lock()
	recs := append([]domain.StagedRecord(nil), s.records[c.Key]...)
	s.mu.Unlock()
	for _, r := range recs {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (s *stagingFake) move(key string, to domain.CollectionState, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[key]
	if !ok {
		return domain.ErrNotFound
	}
	if !domain.CanTransition(c.State, to) {
		return domain.WrapError(domain.ErrCollectionState, "move", fmt.Errorf("%s -> %s", c.State, to))
	}
	if to == domain.CollectionProcessing {
		c.Attempts++
	}
	c.State = to
	c.LastError = reason
	return nil
}

func (s *stagingFake) MarkProcessing(_ context.Context, key string) (domain.Collection, error) {
	if err := s.move(key, domain.CollectionProcessing, ""); err != nil {
		return domain.Collection{}, err
	}
	return s.Get(context.Background(), key)
}

func (s *stagingFake) MarkProcessed(_ context.Context, key string) error {
	if s.failMarkProcessed > 0 {
		s.failMarkProcessed--
		return errors.New("disk full")
	}
	return s.move(key, domain.CollectionProcessed, "")
}

func (s *stagingFake) MarkFailed(_ context.Context, key, reason string) error {
	return s.move(key, domain.CollectionFailed, reason)
}

func (s *stagingFake) Release(_ context.Context, key, reason string) error {
	return s.move(key, domain.CollectionUnprocessed, reason)
}

func (s *stagingFake) Reset(_ context.Context, key string) error {
	return s.move(key, domain.CollectionUnprocessed, "")
}

type writerFake struct {
	store   *stagingFake
	key     string
	records []domain.RawRecord
	sealed  bool
	aborted bool
}

func (w *writerFake) Key() string { return w.key }

func (w *writerFake) Append(_ context.Context, rec domain.RawRecord) error {
	if w.store.refuseSKU != "" && rec.SKU == w.store.refuseSKU {
		return domain.WrapError(domain.ErrValidation, "append record", errors.New("record too large"))
	}
	w.records = append(w.records, rec)
	return nil
}

func (w *writerFake) Seal(context.Context) (domain.Collection, error) {
	w.sealed = true
	w.store.add(w.key, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), w.records...)
	c := *w.store.collections[w.key]
	c.Shards = []string{"shard-0001.jsonl"}
	return c, nil
}

func (w *writerFake) Abort() error {
	w.aborted = true
	return nil
}

type obsKey struct {
	article int64
	pos     int64
	at      time.Time
}

// catalogFake applies writes only on commit so rollbacks leave no trace.
type catalogFake struct {
	mu       sync.Mutex
	nextID   int64
	pos      map[string]int64
	articles map[string]domain.Article
	obs      map[obsKey]domain.PriceObservation

	failInsertAt int
	failErr      error
	commits      int
	rollbacks    int
}

func newCatalogFake() *catalogFake {
	return &catalogFake{
		pos:      map[string]int64{},
		articles: map[string]domain.Article{},
		obs:      map[obsKey]domain.PriceObservation{},
	}
}

func (c *catalogFake) observations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.obs)
}

func (c *catalogFake) BeginLoad(context.Context) (ports.LoadTx, error) {
	return &loadTxFake{
		c:        c,
		pos:      map[string]int64{},
		articles: map[string]domain.Article{},
		obs:      map[obsKey]domain.PriceObservation{},
	}, nil
}

type loadTxFake struct {
	c        *catalogFake
	pos      map[string]int64
	articles map[string]domain.Article
	obs      map[obsKey]domain.PriceObservation
	inserts  int
	done     bool
}

func (tx *loadTxFake) UpsertPointOfSale(_ context.Context, p domain.PointOfSale) (int64, error) {
	tx.c.mu.Lock()
	defer tx.c.mu.Unlock()
	if id, ok := tx.c.pos[p.Code]; ok {
		return id, nil
	}
	if id, ok := tx.pos[p.Code]; ok {
		return id, nil
	}
	tx.c.nextID++
	tx.pos[p.Code] = tx.c.nextID
	return tx.c.nextID, nil
}

func (tx *loadTxFake) UpsertArticle(_ context.Context, a domain.Article) (int64, error) {
	tx.c.mu.Lock()
	defer tx.c.mu.Unlock()
	if existing, ok := tx.c.articles[a.SKU]; ok {
		return existing.ID, nil
	}
	if existing, ok := tx.articles[a.SKU]; ok {
		return existing.ID, nil
	}
	tx.c.nextID++
	a.ID = tx.c.nextID
	tx.articles[a.SKU] = a
	return a.ID, nil
}

func (tx *loadTxFake) InsertObservation(_ context.Context, o domain.PriceObservation) (bool, error) {
	tx.inserts++
	if tx.c.failInsertAt > 0 && tx.inserts == tx.c.failInsertAt {
		return false, tx.c.failErr
	}
	k := obsKey{article: o.ArticleID, pos: o.PointOfSaleID, at: o.ObservedAt}
	tx.c.mu.Lock()
	defer tx.c.mu.Unlock()
	if _, ok := tx.c.obs[k]; ok {
		return false, nil
	}
	if _, ok := tx.obs[k]; ok {
		return false, nil
	}
	tx.obs[k] = o
	return true, nil
}

func (tx *loadTxFake) Commit() error {
	tx.c.mu.Lock()
	defer tx.c.mu.Unlock()
	for k, v := range tx.pos {
		tx.c.pos[k] = v
	}
	for k, v := range tx.articles {
		tx.c.articles[k] = v
	}
	for k, v := range tx.obs {
		tx.c.obs[k] = v
	}
	tx.c.commits++
	tx.done = true
	return nil
}

func (tx *loadTxFake) Rollback() error {
	if tx.done {
		return nil
	}
	tx.c.mu.Lock()
	tx.c.rollbacks++
	tx.c.mu.Unlock()
	tx.done = true
	return nil
}

type lockerFake struct {
	err    error
	locked []string
	held   bool
}

func (l *lockerFake) TryLock(_ context.Context, name string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	if l.held {
		return nil, domain.ErrLoaderBusy
	}
	l.held = true
	l.locked = append(l.locked, name)
	return func() { l.held = false }, nil
}

type observerFake struct {
	collections []domain.CollectionResult
	tagging     []domain.TagSummary
}

func (o *observerFake) ObserveCollection(r domain.CollectionResult) {
	o.collections = append(o.collections, r)
}

func (o *observerFake) ObserveTagging(s domain.TagSummary) {
	o.tagging = append(o.tagging, s)
}

// scorerFake answers from a fixed table keyed by description then phrase.
type scorerFake map[string]map[string]float64

func (s scorerFake) Similarity(description, phrase string) float64 {
	return s[description][phrase]
}

type dictionaryFake struct {
	dict domain.TagDictionary
	err  error
}

func (d dictionaryFake) Load(context.Context) (domain.TagDictionary, error) {
	return d.dict, d.err
}

// tagStoreFake mirrors article_tags and tag_reviews with commit-time visibility.
type tagStoreFake struct {
	articles []domain.Article
	tags     map[string]int64
	assigned map[int64][]domain.ArticleTag
	reviews  map[int64]domain.AmbiguousMatch
	begins   int
}

func newTagStoreFake(articles ...domain.Article) *tagStoreFake {
	return &tagStoreFake{
		articles: articles,
		tags:     map[string]int64{},
		assigned: map[int64][]domain.ArticleTag{},
		reviews:  map[int64]domain.AmbiguousMatch{},
	}
}

func (s *tagStoreFake) automatic(articleID int64) int {
	n := 0
	for _, t := range s.assigned[articleID] {
		if t.Method == domain.TagMethodAutomatic {
			n++
		}
	}
	return n
}

func (s *tagStoreFake) ListCandidates(context.Context) ([]domain.Article, error) {
	var out []domain.Article
	for _, a := range s.articles {
		if s.automatic(a.ID) == 0 {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *tagStoreFake) BeginTagging(context.Context) (ports.TagTx, error) {
	s.begins++
	return &tagTxFake{s: s, reviews: map[int64]domain.AmbiguousMatch{}}, nil
}

type tagTxFake struct {
	s       *tagStoreFake
	tags    map[string]int64
	assign  []domain.ArticleTag
	reviews map[int64]domain.AmbiguousMatch
	cleared []int64
}

func (tx *tagTxFake) SyncTags(_ context.Context, dict domain.TagDictionary) (map[string]int64, error) {
	tx.tags = map[string]int64{}
	for k, v := range tx.s.tags {
		tx.tags[k] = v
	}
	for _, e := range dict.Entries {
		if _, ok := tx.tags[e.Label]; !ok {
			tx.tags[e.Label] = int64(len(tx.tags) + 100)
		}
	}
	return tx.tags, nil
}

func (tx *tagTxFake) ArticleBySKU(_ context.Context, sku string) (domain.Article, error) {
	for _, a := range tx.s.articles {
		if a.SKU == sku {
			return a, nil
		}
	}
	return domain.Article{}, domain.WrapError(domain.ErrNotFound, "article by sku", errors.New(sku))
}

func (tx *tagTxFake) TagByLabel(_ context.Context, label string) (domain.Tag, error) {
	if id, ok := tx.s.tags[label]; ok {
		return domain.Tag{ID: id, Label: label}, nil
	}
	return domain.Tag{}, domain.WrapError(domain.ErrNotFound, "tag by label", errors.New(label))
}

func (tx *tagTxFake) AssignTag(_ context.Context, t domain.ArticleTag) (bool, error) {
	for _, existing := range tx.s.assigned[t.ArticleID] {
		if existing.TagID == t.TagID {
			return false, nil
		}
	}
	tx.assign = append(tx.assign, t)
	return true, nil
}

func (tx *tagTxFake) SaveReview(_ context.Context, r domain.AmbiguousMatch) error {
	tx.reviews[r.ArticleID] = r
	return nil
}

func (tx *tagTxFake) ClearReviews(_ context.Context, ids []int64) error {
	tx.cleared = append(tx.cleared, ids...)
	return nil
}

func (tx *tagTxFake) Commit() error {
	if tx.tags != nil {
		tx.s.tags = tx.tags
	}
	for _, t := range tx.assign {
		tx.s.assigned[t.ArticleID] = append(tx.s.assigned[t.ArticleID], t)
	}
	for id, r := range tx.reviews {
		tx.s.reviews[id] = r
	}
	for _, id := range tx.cleared {
		delete(tx.s.reviews, id)
	}
	tx.assign = nil
	return nil
}

func (tx *tagTxFake) Rollback() error {
	tx.assign = nil
	tx.reviews = map[int64]domain.AmbiguousMatch{}
	tx.cleared = nil
	return nil
}
