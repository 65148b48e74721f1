package reports_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/warp/market-engine/generic"
	"github.com/warp/market-engine/market"
	"github.com/warp/market-engine/reports"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// FAKES
// =============================================================================

type fakeSource struct {
	reports   []reports.Report
	comments  map[string]reports.Comment
	posts     map[string]reports.Post
	contracts map[string]market.Contract
	users     map[generic.AccountID]generic.Account
	failOn    string
	gotLimit  int
}

func (f *fakeSource) LatestReports(_ context.Context, limit int) ([]reports.Report, error) {
	f.gotLimit = limit
	if len(f.reports) > limit {
		return f.reports[:limit], nil
	}
	return f.reports, nil
}

func (f *fakeSource) Comment(_ context.Context, id string) (reports.Comment, error) {
	if id == f.failOn {
		return reports.Comment{}, errors.New("connection reset")
	}
	c, ok := f.comments[id]
	if !ok {
		return reports.Comment{}, generic.ErrNotFound
	}
	return c, nil
}

func (f *fakeSource) Post(_ context.Context, id string) (reports.Post, error) {
	p, ok := f.posts[id]
	if !ok {
		return reports.Post{}, generic.ErrNotFound
	}
	return p, nil
}

func (f *fakeSource) GetContract(_ context.Context, id string) (market.Contract, error) {
	c, ok := f.contracts[id]
	if !ok {
		return market.Contract{}, generic.ErrNotFound
	}
	return c, nil
}

func (f *fakeSource) GetAccount(_ context.Context, id generic.AccountID) (generic.Account, error) {
	a, ok := f.users[id]
	if !ok {
		return generic.Account{}, generic.ErrNotFound
	}
	return a, nil
}

type countingRecorder struct {
	mu      sync.Mutex
	dropped map[string]int
}

func (c *countingRecorder) ReportDropped(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped[reason]++
}

func richDoc(paragraphs ...string) json.RawMessage {
	var content []map[string]any
	for _, p := range paragraphs {
		content = append(content, map[string]any{
			"type":    "paragraph",
			"content": []map[string]any{{"type": "text", "text": p}},
		})
	}
	b, _ := json.Marshal(map[string]any{"type": "doc", "content": content})
	return b
}

func newSource() *fakeSource {
	return &fakeSource{
		contracts: map[string]market.Contract{
			"c1": {ID: "c1", Slug: "will-it-rain", Question: "Will it rain?", CreatorUsername: "ada"},
		},
		comments: map[string]reports.Comment{
			"cm1": {ID: "cm1", ParentType: reports.ParentContract, ParentID: "c1", Text: "spam spam"},
			"cm2": {ID: "cm2", ParentType: reports.ParentPost, ParentID: "p1", Content: richDoc("rude", "words")},
			"cm3": {ID: "cm3", ParentType: reports.ParentContract, ParentID: "c1", Content: richDoc("rich only")},
		},
		posts: map[string]reports.Post{
			"p1": {ID: "p1", Slug: "weekly-update"},
		},
		users: map[generic.AccountID]generic.Account{
			"u9": {ID: "u9", Username: "troll", Name: "Troll McTroll"},
		},
	}
}

func newService(t *testing.T, src *fakeSource, rec reports.Recorder) *reports.Service {
	t.Helper()
	return reports.NewService(src, src, src, src,
		reports.Config{Domain: "manifold.markets", Concurrency: 3},
		zaptest.NewLogger(t), rec)
}

// =============================================================================
// TESTS
// =============================================================================

func TestList_JoinsEveryContentKind(t *testing.T) {
	src := newSource()
	src.reports = []reports.Report{
		{ID: "r1", UserID: "u1", ContentID: "c1", ContentType: reports.ContentContract, ContentOwnerID: "u2", Description: "misleading"},
		{ID: "r2", UserID: "u1", ContentID: "cm1", ContentType: reports.ContentComment, ParentType: reports.ParentContract, ParentID: "c1", ContentOwnerID: "u3"},
		{ID: "r3", UserID: "u4", ContentID: "cm2", ContentType: reports.ContentComment, ParentType: reports.ParentPost, ParentID: "p1", ContentOwnerID: "u5"},
		{ID: "r4", UserID: "u4", ContentID: "u9", ContentType: reports.ContentUser, ContentOwnerID: "u9", Description: "harassment"},
		{ID: "r5", UserID: "u6", ContentID: "cm3", ContentType: reports.ContentComment, ParentType: reports.ParentContract, ParentID: "c1", ContentOwnerID: "u3"},
	}

	got, err := newService(t, src, nil).List(context.Background())
	require.NoError(t, err)

	want := []reports.LiteReport{
		{ReportedByID: "u1", Slug: "https://manifold.markets/ada/will-it-rain", ID: "r1", Text: "Will it rain?", ContentOwnerID: "u2", ReasonsDescription: "misleading"},
		{ReportedByID: "u1", Slug: "https://manifold.markets/ada/will-it-rain#cm1", ID: "r2", Text: "spam spam", ContentOwnerID: "u3"},
		{ReportedByID: "u4", Slug: "https://manifold.markets/post/weekly-update#cm2", ID: "r3", Text: "rude\n\nwords", ContentOwnerID: "u5"},
		{ReportedByID: "u4", Slug: "https://manifold.markets/troll", ID: "r4", Text: "Troll McTroll", ContentOwnerID: "u9", ReasonsDescription: "harassment"},
		{ReportedByID: "u6", Slug: "https://manifold.markets/ada/will-it-rain#cm3", ID: "r5", Text: "rich only", ContentOwnerID: "u3"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, reports.DefaultLimit, src.gotLimit)
}

func TestList_DropsUnresolvableContent(t *testing.T) {
	// GIVEN: Reports on deleted content, a comment under the wrong parent,
	//        an unknown content type and a lookup that errors
	// WHEN: Listing
	// THEN: Only the resolvable report is returned

	src := newSource()
	src.failOn = "cm-flaky"
	src.reports = []reports.Report{
		{ID: "gone-contract", ContentID: "c404", ContentType: reports.ContentContract},
		{ID: "ok", UserID: "u1", ContentID: "c1", ContentType: reports.ContentContract},
		{ID: "gone-comment", ContentID: "cm404", ContentType: reports.ContentComment, ParentType: reports.ParentContract, ParentID: "c1"},
		{ID: "wrong-parent", ContentID: "cm2", ContentType: reports.ContentComment, ParentType: reports.ParentContract, ParentID: "c1"},
		{ID: "no-parent", ContentID: "cm1", ContentType: reports.ContentComment},
		{ID: "gone-post", ContentID: "cm2", ContentType: reports.ContentComment, ParentType: reports.ParentPost, ParentID: "p404"},
		{ID: "gone-user", ContentID: "u404", ContentType: reports.ContentUser},
		{ID: "unknown", ContentID: "x", ContentType: "market-group"},
		{ID: "flaky", ContentID: "cm-flaky", ContentType: reports.ContentComment, ParentType: reports.ParentContract, ParentID: "c1"},
	}
	rec := &countingRecorder{dropped: map[string]int{}}

	got, err := newService(t, src, rec).List(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].ID)
	assert.Equal(t, map[string]int{"not_found": 5, "unsupported": 2, "error": 1}, rec.dropped)
}

func TestList_PreservesReportOrderUnderConcurrency(t *testing.T) {
	src := newSource()
	for i := 0; i < 40; i++ {
		src.reports = append(src.reports, reports.Report{
			ID: fmt.Sprintf("r%02d", i), ContentID: "c1", ContentType: reports.ContentContract,
			CreatedAt: time.Unix(int64(1000-i), 0),
		})
	}

	got, err := newService(t, src, nil).List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 40)
	for i, r := range got {
		assert.Equal(t, fmt.Sprintf("r%02d", i), r.ID)
	}
}

func TestList_CancelledContextFails(t *testing.T) {
	src := newSource()
	src.reports = []reports.Report{{ID: "r1", ContentID: "c1", ContentType: reports.ContentContract}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := reports.NewService(cancelAwareSource{src}, src, cancelAwareSource{src}, src,
		reports.Config{Domain: "manifold.markets"}, zaptest.NewLogger(t), nil)
	_, err := svc.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// cancelAwareSource fails reads on a cancelled context like a real driver.
type cancelAwareSource struct{ *fakeSource }

func (c cancelAwareSource) LatestReports(ctx context.Context, limit int) ([]reports.Report, error) {
	return c.fakeSource.LatestReports(ctx, limit)
}

func (c cancelAwareSource) GetContract(ctx context.Context, id string) (market.Contract, error) {
	if err := ctx.Err(); err != nil {
		return market.Contract{}, err
	}
	return c.fakeSource.GetContract(ctx, id)
}

func TestRichTextToString(t *testing.T) {
	doc := json.RawMessage(`{"type":"doc","content":[
		{"type":"paragraph","content":[
			{"type":"text","text":"Hi "},
			{"type":"mention","attrs":{"id":"u1","label":"ada"}},
			{"type":"hardBreak"},
			{"type":"text","text":"café"}
		]},
		{"type":"paragraph"},
		{"type":"bulletList","content":[
			{"type":"listItem","content":[{"type":"paragraph","content":[{"type":"text","text":"one"}]}]},
			{"type":"listItem","content":[{"type":"paragraph","content":[{"type":"text","text":"two"}]}]}
		]},
		{"type":"image","attrs":{"src":"x.png"}}
	]}`)

	got, err := reports.RichTextToString(doc)
	require.NoError(t, err)
	assert.Equal(t, "Hi @ada\ncafé\n\none\n\ntwo", got)

	empty, err := reports.RichTextToString(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = reports.RichTextToString(json.RawMessage(`{`))
	assert.Error(t, err)
}
