package literature

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/medfuse/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const efetchXML = `<?xml version="1.0"?>
<PubmedArticleSet>
  <PubmedArticle>
    <MedlineCitation>
      <PMID Version="1">111</PMID>
      <Article>
        <Journal>
          <JournalIssue><PubDate><Year>2021</Year></PubDate></JournalIssue>
          <Title>Diabetes Care</Title>
        </Journal>
        <ArticleTitle>Metformin and <i>lactic</i> acidosis</ArticleTitle>
        <Abstract>
          <AbstractText Label="BACKGROUND">Metformin is widely used.</AbstractText>
          <AbstractText Label="RESULTS">Lactic acidosis is rare.</AbstractText>
        </Abstract>
        <AuthorList>
          <Author><LastName>Smith</LastName><Initials>J</Initials></Author>
          <Author><LastName>Doe</LastName><Initials>A</Initials></Author>
          <Author><LastName>Roe</LastName><Initials>B</Initials></Author>
          <Author><LastName>Poe</LastName><Initials>C</Initials></Author>
        </AuthorList>
      </Article>
    </MedlineCitation>
  </PubmedArticle>
  <PubmedArticle>
    <MedlineCitation>
      <PMID>222</PMID>
      <Article>
        <ArticleTitle>Letter without abstract</ArticleTitle>
      </Article>
    </MedlineCitation>
  </PubmedArticle>
  <PubmedArticle>
    <MedlineCitation>
      <PMID>333</PMID>
      <Article>
        <Journal><Title>BMJ</Title></Journal>
        <ArticleTitle>Exercise in type 2 diabetes</ArticleTitle>
        <Abstract><AbstractText>Exercise improves glycemic control.</AbstractText></Abstract>
      </Article>
    </MedlineCitation>
  </PubmedArticle>
</PubmedArticleSet>`

type fakeEutils struct {
	throttle  int32
	searches  atomic.Int32
	fetches   atomic.Int32
	lastTerm  atomic.Value
	lastEmail atomic.Value
}

func (f *fakeEutils) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/esearch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		if f.searches.Add(1) <= f.throttle {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		f.lastTerm.Store(r.URL.Query().Get("term"))
		f.lastEmail.Store(r.URL.Query().Get("email"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"esearchresult":{"count":"3","idlist":["111","222","333"]}}`))
	})
	mux.HandleFunc("/efetch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		f.fetches.Add(1)
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(efetchXML))
	})
	return mux
}

func newTestProvider(t *testing.T, f *fakeEutils, opts ...Option) *Provider {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	base := []Option{
		WithBaseURL(srv.URL),
		WithEmail("dev@example.org"),
		WithRequestsPerSecond(1000),
		WithRetry(3, time.Millisecond),
	}
	p, err := NewProvider(append(base, opts...)...)
	require.NoError(t, err)
	return p
}

func metforminQuery() *core.ProcessedQuery {
	return &core.ProcessedQuery{
		ID:         "q1",
		Normalized: "is metformin linked to lactic acidosis",
		Entities: []core.Entity{
			{Text: "metformin", Type: "drug"},
			{Text: "lactic acidosis", Type: "disease"},
		},
	}
}

func TestRetrieve(t *testing.T) {
	ctx := context.Background()

	t.Run("articles become evidence", func(t *testing.T) {
		f := &fakeEutils{}
		p := newTestProvider(t, f)

		ev, err := p.Retrieve(ctx, metforminQuery(), 5)
		require.NoError(t, err)
		require.Len(t, ev, 2, "article without abstract is skipped")

		first := ev[0]
		assert.Equal(t, core.SourceLiterature, first.Source)
		assert.Equal(t, "Metformin and lactic acidosis\n\nBACKGROUND: Metformin is widely used. RESULTS: Lactic acidosis is rare.", first.Content)
		assert.InDelta(t, 0.9, first.Confidence, 1e-9)
		assert.Equal(t, "111", first.Metadata["pmid"])
		assert.Equal(t, "2021", first.Metadata["year"])
		assert.Equal(t, []string{"Smith J", "Doe A", "Roe B"}, first.Metadata["authors"])
		assert.Equal(t, "Smith J, Doe A, Roe B et al. Diabetes Care. 2021.", first.Metadata["citation"])
		assert.Equal(t, "https://pubmed.ncbi.nlm.nih.gov/111/", first.Metadata["url"])

		assert.InDelta(t, BaseConfidence, ev[1].Confidence, 1e-9)
		assert.Equal(t, `"metformin"[Title/Abstract] AND "lactic acidosis"[Title/Abstract]`, f.lastTerm.Load())
		assert.Equal(t, "dev@example.org", f.lastEmail.Load())
	})

	t.Run("top-k caps results", func(t *testing.T) {
		p := newTestProvider(t, &fakeEutils{})
		ev, err := p.Retrieve(ctx, metforminQuery(), 1)
		require.NoError(t, err)
		assert.Len(t, ev, 1)
	})

	t.Run("throttled requests are retried", func(t *testing.T) {
		f := &fakeEutils{throttle: 2}
		p := newTestProvider(t, f)

		ev, err := p.Retrieve(ctx, metforminQuery(), 5)
		require.NoError(t, err)
		assert.Len(t, ev, 2)
		assert.Equal(t, int32(3), f.searches.Load())
	})

	t.Run("persistent throttling fails", func(t *testing.T) {
		f := &fakeEutils{throttle: 10}
		p := newTestProvider(t, f)

		_, err := p.Retrieve(ctx, metforminQuery(), 5)
		assert.ErrorIs(t, err, ErrTooManyRequests)
		assert.Equal(t, int32(3), f.searches.Load())
		assert.Zero(t, f.fetches.Load())
	})

	t.Run("disabled without email", func(t *testing.T) {
		f := &fakeEutils{}
		p := newTestProvider(t, f, WithEmail(""))

		assert.False(t, p.Enabled())
		ev, err := p.Retrieve(ctx, metforminQuery(), 5)
		require.NoError(t, err)
		assert.Empty(t, ev)
		assert.Zero(t, f.searches.Load())
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		t.Cleanup(srv.Close)
		p, err := NewProvider(WithBaseURL(srv.URL), WithEmail("dev@example.org"))
		require.NoError(t, err)

		_, err = p.Retrieve(ctx, metforminQuery(), 5)
		assert.ErrorIs(t, err, ErrHTTPStatus)
	})
}

func TestSearchTerm(t *testing.T) {
	assert.Equal(t, `"asthma"[Title/Abstract]`, SearchTerm(&core.ProcessedQuery{
		Normalized: "asthma", Entities: []core.Entity{{Text: "asthma"}},
	}))
	assert.Equal(t, "(how to sleep better)[Title/Abstract]", SearchTerm(&core.ProcessedQuery{
		Normalized: "how to sleep better",
	}))
	assert.Empty(t, SearchTerm(&core.ProcessedQuery{}))
}

func TestRelevance(t *testing.T) {
	a := Article{Title: "Metformin", Abstract: "lactic acidosis, kidney disease, heart failure"}
	assert.InDelta(t, 0.7, Relevance(a, nil), 1e-9)
	assert.InDelta(t, 0.8, Relevance(a, []string{"metformin"}), 1e-9)
	assert.InDelta(t, MaxConfidence, Relevance(a, []string{"metformin", "lactic acidosis", "kidney disease", "heart failure"}), 1e-9)
}

func TestCitation(t *testing.T) {
	tests := []struct {
		name    string
		article Article
		want    string
	}{
		{
			name:    "complete author list",
			article: Article{Authors: []string{"Smith J", "Doe A"}, Journal: "Lancet", Year: "2020"},
			want:    "Smith J, Doe A. Lancet. 2020.",
		},
		{
			name:    "truncated author list",
			article: Article{Authors: []string{"Smith J", "Doe A", "Roe B"}, MoreAuthors: true, Journal: "BMJ", Year: "2019"},
			want:    "Smith J, Doe A, Roe B et al. BMJ. 2019.",
		},
		{
			name:    "no authors",
			article: Article{Journal: "BMJ"},
			want:    "Anonymous. BMJ.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Citation(tt.article))
		})
	}
}
