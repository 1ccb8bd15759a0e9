// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package literature retrieves article abstracts from PubMed through the
// NCBI E-utilities API.
//
// NCBI requires a contact email on every request. Without one the provider
// is disabled and returns no evidence. Requests are rate limited to three
// per second, or ten with an API key.
package literature

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/provider"
	"golang.org/x/time/rate"
)

const (
	// BaseConfidence is the confidence of an article PubMed ranked relevant.
	BaseConfidence = 0.7
	// EntityBoost is added per question entity found in the article.
	EntityBoost = 0.1
	// MaxConfidence caps literature confidence below curated graph facts.
	MaxConfidence = 0.95

	defaultMaxResults  = 5
	defaultMaxAttempts = 3
	defaultRetryDelay  = 500 * time.Millisecond
	defaultTimeout     = 15 * time.Second
)

// Provider searches PubMed for articles about the question.
type Provider struct {
	baseURL     string
	email       string
	apiKey      string
	maxResults  int
	maxAttempts int
	retryDelay  time.Duration
	rps         float64
	client      *http.Client
	limiter     *rate.Limiter
	logger      *slog.Logger
}

var _ provider.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider) error

// WithEmail sets the contact email NCBI requires. An empty email disables
// the provider.
func WithEmail(email string) Option {
	return func(p *Provider) error {
		p.email = strings.TrimSpace(email)
		return nil
	}
}

// WithAPIKey sets the NCBI API key, which raises the default rate limit.
func WithAPIKey(key string) Option {
	return func(p *Provider) error {
		p.apiKey = strings.TrimSpace(key)
		return nil
	}
}

// WithBaseURL overrides the E-utilities endpoint.
func WithBaseURL(u string) Option {
	return func(p *Provider) error {
		if u == "" {
			return fmt.Errorf("base url is required")
		}
		p.baseURL = u
		return nil
	}
}

// WithMaxResults sets how many PMIDs each search asks for.
func WithMaxResults(n int) Option {
	return func(p *Provider) error {
		if n <= 0 {
			return fmt.Errorf("max results must be positive, got %d", n)
		}
		p.maxResults = n
		return nil
	}
}

// WithRequestsPerSecond overrides the rate limit.
func WithRequestsPerSecond(rps float64) Option {
	return func(p *Provider) error {
		if rps <= 0 {
			return fmt.Errorf("requests per second must be positive, got %v", rps)
		}
		p.rps = rps
		return nil
	}
}

// WithRetry sets how often a throttled request is attempted and the first
// backoff delay.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(p *Provider) error {
		if maxAttempts <= 0 {
			return fmt.Errorf("max attempts must be positive, got %d", maxAttempts)
		}
		p.maxAttempts = maxAttempts
		p.retryDelay = baseDelay
		return nil
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) error {
		if c != nil {
			p.client = c
		}
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger.With("component", "literature-provider")
		return nil
	}
}

// NewProvider creates a PubMed provider.
func NewProvider(opts ...Option) (*Provider, error) {
	p := &Provider{
		baseURL:     DefaultBaseURL,
		maxResults:  defaultMaxResults,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		client:      &http.Client{Timeout: defaultTimeout},
		logger:      slog.Default().With("component", "literature-provider"),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.rps == 0 {
		p.rps = 3
		if p.apiKey != "" {
			p.rps = 10
		}
	}
	p.limiter = rate.NewLimiter(rate.Limit(p.rps), 1)

	if !p.Enabled() {
		p.logger.Warn("no contact email configured, literature search disabled")
	}
	return p, nil
}

// Enabled reports whether a contact email is configured.
func (p *Provider) Enabled() bool {
	return p.email != ""
}

// Source returns core.SourceLiterature.
func (p *Provider) Source() core.SourceType {
	return core.SourceLiterature
}

// Retrieve searches PubMed and returns up to topK abstracts.
func (p *Provider) Retrieve(ctx context.Context, query *core.ProcessedQuery, topK int) ([]*core.Evidence, error) {
	if query == nil {
		return nil, core.ErrNilQuery
	}
	out := []*core.Evidence{}
	if !p.Enabled() || topK <= 0 {
		return out, nil
	}
	term := SearchTerm(query)
	if term == "" {
		return out, nil
	}

	pmids, err := p.search(ctx, term, max(p.maxResults, topK))
	if err != nil {
		return nil, fmt.Errorf("pubmed search failed: %w", err)
	}
	articles, err := p.fetch(ctx, pmids)
	if err != nil {
		return nil, fmt.Errorf("pubmed fetch failed: %w", err)
	}
	p.logger.Debug("pubmed search", "query_id", query.ID, "term", term,
		"pmids", len(pmids), "articles", len(articles))

	entities := query.EntityTexts()
	for _, a := range articles {
		if len(out) >= topK {
			break
		}
		out = append(out, core.NewEvidence(core.SourceLiterature, a.Title+"\n\n"+a.Abstract,
			Relevance(a, entities), map[string]any{
				"pmid":     a.PMID,
				"title":    a.Title,
				"journal":  a.Journal,
				"year":     a.Year,
				"authors":  a.Authors,
				"citation": Citation(a),
				"url":      "https://pubmed.ncbi.nlm.nih.gov/" + a.PMID + "/",
			}))
	}
	return out, nil
}

// SearchTerm builds the PubMed query: every entity must appear in the title
// or abstract. Without entities the normalized question is searched.
func SearchTerm(query *core.ProcessedQuery) string {
	var parts []string
	for _, e := range query.EntityTexts() {
		e = strings.TrimSpace(e)
		if e != "" {
			parts = append(parts, fmt.Sprintf("%q[Title/Abstract]", e))
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " AND ")
	}
	if q := strings.TrimSpace(query.Text()); q != "" {
		return "(" + q + ")[Title/Abstract]"
	}
	return ""
}

// Relevance scores an article by how many question entities it mentions.
func Relevance(a Article, entities []string) float64 {
	score := BaseConfidence
	text := strings.ToLower(a.Title + " " + a.Abstract)
	for _, e := range entities {
		if e != "" && strings.Contains(text, strings.ToLower(e)) {
			score += EntityBoost
		}
	}
	return min(score, MaxConfidence)
}

// Citation formats a short reference, e.g. "Smith J, Doe A. Lancet. 2020."
// Truncated author lists end in "et al.".
func Citation(a Article) string {
	authors := strings.Join(a.Authors, ", ")
	if authors == "" {
		authors = "Anonymous"
	}
	var sb strings.Builder
	sb.WriteString(authors)
	if a.MoreAuthors && len(a.Authors) > 0 {
		sb.WriteString(" et al.")
	} else {
		sb.WriteString(".")
	}
	if a.Journal != "" {
		sb.WriteString(" " + a.Journal + ".")
	}
	if a.Year != "" {
		sb.WriteString(" " + a.Year + ".")
	}
	return sb.String()
}
