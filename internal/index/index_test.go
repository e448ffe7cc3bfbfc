package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog"

	"github.com/kestrelab/annex/internal/embed"
	"github.com/kestrelab/annex/pkg/models"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// mockStore records every mutation in order.
type mockStore struct {
	mu         sync.Mutex
	ops        []string
	chunks     map[string]models.Chunk
	embeddings map[string]models.ChunkEmbedding
	stats      map[string]models.FolderStats

	deleteAllErr  error
	upsertErr     error
	deleteAllGate chan struct{} // when set, DeleteAllChunks blocks until closed
}

func newMockStore() *mockStore {
	return &mockStore{
		chunks:     make(map[string]models.Chunk),
		embeddings: make(map[string]models.ChunkEmbedding),
		stats:      make(map[string]models.FolderStats),
	}
}

func (s *mockStore) record(op string) {
	s.mu.Lock()
	s.ops = append(s.ops, op)
	s.mu.Unlock()
}

func (s *mockStore) opList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.ops))
	copy(out, s.ops)
	return out
}

func (s *mockStore) UpsertChunks(_ context.Context, chunks []models.Chunk) error {
	s.record("UpsertChunks")
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		s.chunks[c.ID] = c
	}
	return nil
}

func (s *mockStore) DeleteChunksByFile(_ context.Context, path string) error {
	s.record("DeleteChunksByFile")
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.chunks {
		if c.FilePath == path {
			delete(s.chunks, id)
			delete(s.embeddings, id)
		}
	}
	return nil
}

func (s *mockStore) DeleteChunksByFolder(_ context.Context, folder string) error {
	s.record("DeleteChunksByFolder")
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.chunks {
		if c.SourceFolder == folder {
			delete(s.chunks, id)
			delete(s.embeddings, id)
		}
	}
	return nil
}

func (s *mockStore) DeleteAllChunks(_ context.Context) error {
	s.record("DeleteAllChunks")
	if s.deleteAllGate != nil {
		<-s.deleteAllGate
	}
	if s.deleteAllErr != nil {
		return s.deleteAllErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = make(map[string]models.Chunk)
	s.embeddings = make(map[string]models.ChunkEmbedding)
	return nil
}

func (s *mockStore) UpsertChunkEmbeddings(_ context.Context, embeddings []models.ChunkEmbedding) error {
	s.record("UpsertChunkEmbeddings")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range embeddings {
		if _, ok := s.chunks[e.ChunkID]; !ok {
			return errors.New("embedding for unknown chunk " + e.ChunkID)
		}
		s.embeddings[e.ChunkID] = e
	}
	return nil
}

func (s *mockStore) HybridSearch(_ context.Context, _ []float32, _ string, _ int) ([]models.SearchResult, error) {
	return nil, nil
}

func (s *mockStore) ChunkCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks), nil
}

func (s *mockStore) UpsertFolderStats(_ context.Context, stats models.FolderStats) error {
	s.record("UpsertFolderStats")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[stats.Path] = stats
	return nil
}

func (s *mockStore) ListFolderStats(_ context.Context) ([]models.FolderStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FolderStats
	for _, st := range s.stats {
		out = append(out, st)
	}
	return out, nil
}

func (s *mockStore) HasVectorSearch() bool { return true }

// phaseRecorder keeps the distinct sequence of phases seen.
type phaseRecorder struct {
	mu     sync.Mutex
	phases []models.Phase
}

func (r *phaseRecorder) observe(p models.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.phases) == 0 || r.phases[len(r.phases)-1] != p.Phase {
		r.phases = append(r.phases, p.Phase)
	}
}

func (r *phaseRecorder) sequence() []models.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Phase, len(r.phases))
	copy(out, r.phases)
	return out
}

func newTestGenerator() *embed.Generator {
	return embed.New(nil, nil, nil)
}

func seedWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"notes.md":   "# Meeting\n\nthe quarterly planning discussion notes go here\n\n# Actions\n\nfollow up with the infrastructure team about capacity\n",
		"readme.txt": "plain text description of this workspace with enough words to chunk\n",
		"code.go":    "package demo\n\nfunc Process(items []string) int {\n\treturn len(items)\n}\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestReindexAllPipeline(t *testing.T) {
	dir := seedWorkspace(t)
	store := newMockStore()
	rec := &phaseRecorder{}
	o := New(store, newTestGenerator(), dir, rec.observe)

	if err := o.ReindexAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(store.chunks) == 0 {
		t.Fatal("no chunks persisted")
	}
	for id := range store.chunks {
		if _, ok := store.embeddings[id]; !ok {
			t.Errorf("chunk %s has no embedding", id)
		}
	}

	// Ordering: wipe, then chunks, then stats, then embeddings.
	ops := store.opList()
	idx := func(op string) int {
		for i, o := range ops {
			if o == op {
				return i
			}
		}
		return -1
	}
	if idx("DeleteAllChunks") != 0 {
		t.Errorf("first op = %q, want DeleteAllChunks", ops[0])
	}
	if idx("UpsertChunks") == -1 || idx("UpsertChunkEmbeddings") == -1 {
		t.Fatalf("missing ops: %v", ops)
	}
	if idx("UpsertChunks") > idx("UpsertChunkEmbeddings") {
		t.Errorf("embeddings persisted before chunks: %v", ops)
	}

	wantPhases := []models.Phase{
		models.PhaseScanning, models.PhaseChunking, models.PhaseSaving,
		models.PhaseEmbedding, models.PhaseDone,
	}
	got := rec.sequence()
	if len(got) != len(wantPhases) {
		t.Fatalf("phase sequence %v, want %v", got, wantPhases)
	}
	for i := range wantPhases {
		if got[i] != wantPhases[i] {
			t.Errorf("phase[%d] = %s, want %s", i, got[i], wantPhases[i])
		}
	}

	if st, ok := store.stats[dir]; !ok || st.FileCount != 3 {
		t.Errorf("folder stats = %+v, want FileCount 3", st)
	}
}

// quotaProvider fails every call the way an exhausted credential does.
type quotaProvider struct{}

func (quotaProvider) EmbedBatch(_ context.Context, _ []string) ([][]float32, error) {
	return nil, &embed.ProviderError{StatusCode: 429, Message: "quota exhausted"}
}
func (quotaProvider) Model() string { return "remote-embed-001" }
func (quotaProvider) Dim() int      { return 8 }

func TestEmbeddingsLabeledWithProducingModel(t *testing.T) {
	dir := seedWorkspace(t)
	store := newMockStore()
	gen := embed.New(quotaProvider{}, nil, nil)
	o := New(store, gen, dir, nil)

	if err := o.ReindexAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(store.embeddings) == 0 {
		t.Fatal("no embeddings persisted")
	}
	// The provider dies on the first batch; every stored vector came from
	// the fallback and must say so.
	for id, e := range store.embeddings {
		if e.Model != embed.FallbackModel {
			t.Errorf("embedding %s labeled %q, want %q", id, e.Model, embed.FallbackModel)
		}
	}
}

func TestReindexAllSingleFlight(t *testing.T) {
	dir := seedWorkspace(t)
	store := newMockStore()
	store.deleteAllGate = make(chan struct{})
	o := New(store, newTestGenerator(), dir, nil)

	done := make(chan error, 1)
	go func() { done <- o.ReindexAll(context.Background()) }()

	// Wait until the first reindex is inside the store call.
	for i := 0; i < 200; i++ {
		if len(store.opList()) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	// Second request while busy: no-op, no error, no extra wipe.
	if err := o.ReindexAll(context.Background()); err != nil {
		t.Fatalf("busy reindex returned %v, want nil", err)
	}
	wipes := 0
	for _, op := range store.opList() {
		if op == "DeleteAllChunks" {
			wipes++
		}
	}
	if wipes != 1 {
		t.Errorf("DeleteAllChunks called %d times, want 1", wipes)
	}

	close(store.deleteAllGate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestReindexAllWipeFailure(t *testing.T) {
	dir := seedWorkspace(t)
	store := newMockStore()
	store.deleteAllErr = errors.New("disk full")
	rec := &phaseRecorder{}
	o := New(store, newTestGenerator(), dir, rec.observe)

	if err := o.ReindexAll(context.Background()); err == nil {
		t.Fatal("wipe failure not propagated")
	}
	phases := rec.sequence()
	if len(phases) == 0 || phases[len(phases)-1] != models.PhaseError {
		t.Errorf("phases %v, want trailing error phase", phases)
	}

	// The guard must be released for the next attempt.
	store.deleteAllErr = nil
	if err := o.ReindexAll(context.Background()); err != nil {
		t.Errorf("reindex after failure: %v", err)
	}
}

// listWalker replays a fixed path list, exercising the per-file skip path
// with files that cannot be read.
type listWalker struct {
	paths []string
}

func (w *listWalker) Walk(_ string, options *godirwalk.Options) error {
	for _, p := range w.paths {
		if err := options.Callback(p, nil); err != nil {
			return err
		}
	}
	return nil
}

func TestPipelineSkipsUnreadableFiles(t *testing.T) {
	dir := seedWorkspace(t)
	store := newMockStore()
	o := New(store, newTestGenerator(), dir, nil)
	o.walker = &listWalker{paths: []string{
		filepath.Join(dir, "notes.md"),
		filepath.Join(dir, "ghost.md"), // does not exist
	}}

	if err := o.ReindexAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(store.chunks) == 0 {
		t.Error("readable file not indexed when a sibling failed")
	}
	for _, c := range store.chunks {
		if filepath.Base(c.FilePath) == "ghost.md" {
			t.Error("unreadable file produced chunks")
		}
	}
}

func TestReindexFilesIncremental(t *testing.T) {
	dir := seedWorkspace(t)
	store := newMockStore()
	o := New(store, newTestGenerator(), dir, nil)

	target := filepath.Join(dir, "notes.md")
	if err := o.ReindexFiles(context.Background(), []string{target}); err != nil {
		t.Fatal(err)
	}

	ops := store.opList()
	want := []string{"DeleteChunksByFile", "UpsertChunks", "UpsertChunkEmbeddings"}
	if len(ops) != len(want) {
		t.Fatalf("ops %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("op[%d] = %s, want %s", i, ops[i], want[i])
		}
	}
	for _, c := range store.chunks {
		if c.FilePath != target {
			t.Errorf("unexpected chunk for %s", c.FilePath)
		}
	}
}

func TestReindexFilesDeletedFile(t *testing.T) {
	dir := seedWorkspace(t)
	store := newMockStore()
	o := New(store, newTestGenerator(), dir, nil)

	// Index first, then delete the file and reindex it.
	target := filepath.Join(dir, "notes.md")
	if err := o.ReindexFiles(context.Background(), []string{target}); err != nil {
		t.Fatal(err)
	}
	if len(store.chunks) == 0 {
		t.Fatal("setup produced no chunks")
	}
	if err := os.Remove(target); err != nil {
		t.Fatal(err)
	}
	if err := o.ReindexFiles(context.Background(), []string{target}); err != nil {
		t.Fatal(err)
	}
	if len(store.chunks) != 0 {
		t.Errorf("%d chunks remain for a deleted file", len(store.chunks))
	}
}

func TestReindexFilesBusy(t *testing.T) {
	dir := seedWorkspace(t)
	store := newMockStore()
	store.deleteAllGate = make(chan struct{})
	o := New(store, newTestGenerator(), dir, nil)

	done := make(chan error, 1)
	go func() { done <- o.ReindexAll(context.Background()) }()
	for i := 0; i < 200; i++ {
		if len(store.opList()) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	err := o.ReindexFiles(context.Background(), []string{filepath.Join(dir, "notes.md")})
	if !errors.Is(err, ErrBusy) {
		t.Errorf("got %v, want ErrBusy while a full reindex runs", err)
	}

	close(store.deleteAllGate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	// Guard released: the same batch goes through now.
	if err := o.ReindexFiles(context.Background(), []string{filepath.Join(dir, "notes.md")}); err != nil {
		t.Errorf("reindex after guard release: %v", err)
	}
}

func TestReindexFilesOutsideRoots(t *testing.T) {
	dir := seedWorkspace(t)
	other := t.TempDir()
	store := newMockStore()
	o := New(store, newTestGenerator(), dir, nil)

	if err := o.ReindexFiles(context.Background(), []string{filepath.Join(other, "stray.md")}); err != nil {
		t.Fatal(err)
	}
	if ops := store.opList(); len(ops) != 0 {
		t.Errorf("file outside indexed roots touched the store: %v", ops)
	}
}

func TestFolderForLongestPrefix(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "projects", "annex")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	o := New(newMockStore(), newTestGenerator(), dir, nil)
	o.RegisterFolder(nested)

	folder, ok := o.folderFor(filepath.Join(nested, "doc.md"))
	if !ok || folder != nested {
		t.Errorf("folderFor = %q %v, want %q", folder, ok, nested)
	}
	folder, ok = o.folderFor(filepath.Join(dir, "top.md"))
	if !ok || folder != dir {
		t.Errorf("folderFor = %q %v, want %q", folder, ok, dir)
	}
	if _, ok := o.folderFor("/nowhere/else.md"); ok {
		t.Error("path outside all roots resolved to a folder")
	}
}

func TestAddRemoveFolder(t *testing.T) {
	dir := seedWorkspace(t)
	extra := t.TempDir()
	if err := os.WriteFile(filepath.Join(extra, "extra.md"), []byte("# Extra\n\nsome content that belongs to the added folder here\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := newMockStore()
	o := New(store, newTestGenerator(), dir, nil)

	if err := o.AddFolder(context.Background(), extra); err != nil {
		t.Fatal(err)
	}
	if got := o.Folders(); len(got) != 2 || got[0] != dir {
		t.Fatalf("Folders() = %v", got)
	}
	foundExtra := false
	for _, c := range store.chunks {
		if c.SourceFolder == extra {
			foundExtra = true
		}
	}
	if !foundExtra {
		t.Error("added folder was not indexed")
	}

	// Adding the same folder again is a no-op.
	if err := o.AddFolder(context.Background(), extra); err != nil {
		t.Fatal(err)
	}
	if got := o.Folders(); len(got) != 2 {
		t.Errorf("duplicate AddFolder changed the set: %v", got)
	}

	if err := o.RemoveFolder(context.Background(), extra); err != nil {
		t.Fatal(err)
	}
	if got := o.Folders(); len(got) != 1 {
		t.Errorf("Folders() after remove = %v", got)
	}
	for _, c := range store.chunks {
		if c.SourceFolder == extra {
			t.Error("removed folder still has chunks")
		}
	}
}

func TestScanHonorsExclusions(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"keep.md":                "# Keep\n\nthis one should definitely be scanned and kept\n",
		"skip.bin":               "binary-ish",
		"node_modules/ignore.js": "module.exports = {}",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	o := New(newMockStore(), newTestGenerator(), dir, nil)
	got, perFolder, err := o.scan(context.Background(), []string{dir})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || filepath.Base(got[0].path) != "keep.md" {
		t.Fatalf("scan = %+v, want just keep.md", got)
	}
	if perFolder[dir] != 1 {
		t.Errorf("perFolder = %v", perFolder)
	}
}

func TestStats(t *testing.T) {
	dir := seedWorkspace(t)
	store := newMockStore()
	o := New(store, newTestGenerator(), dir, nil)
	if err := o.ReindexAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	st, err := o.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.ChunkCount != len(store.chunks) {
		t.Errorf("ChunkCount = %d, want %d", st.ChunkCount, len(store.chunks))
	}
	if len(st.Folders) != 1 {
		t.Errorf("Folders = %v", st.Folders)
	}
}
