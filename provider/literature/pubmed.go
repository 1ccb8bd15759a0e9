package literature

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the NCBI E-utilities endpoint.
const DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// maxAuthors is how many authors an Article keeps.
const maxAuthors = 3

var (
	ErrTooManyRequests = errors.New("pubmed rate limit exceeded")
	ErrHTTPStatus      = errors.New("unexpected pubmed response status")
)

// Article is one PubMed record with a title and abstract.
type Article struct {
	PMID     string
	Title    string
	Abstract string
	Journal  string
	Year     string
	Authors  []string // first three, "Last Initials"
	// MoreAuthors is set when the record lists authors beyond Authors.
	MoreAuthors bool
}

type searchResponse struct {
	Result struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

// search returns PMIDs for term, best match first.
func (p *Provider) search(ctx context.Context, term string, retmax int) ([]string, error) {
	params := p.params()
	params.Set("term", term)
	params.Set("retmax", fmt.Sprint(retmax))
	params.Set("retmode", "json")
	params.Set("sort", "relevance")

	body, err := p.get(ctx, "esearch.fcgi", params)
	if err != nil {
		return nil, err
	}
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode esearch response: %w", err)
	}
	return resp.Result.IDList, nil
}

// fetch returns the articles for pmids in response order. Records without a
// title or abstract are skipped.
func (p *Provider) fetch(ctx context.Context, pmids []string) ([]Article, error) {
	if len(pmids) == 0 {
		return nil, nil
	}
	params := p.params()
	params.Set("id", strings.Join(pmids, ","))
	params.Set("retmode", "xml")

	body, err := p.get(ctx, "efetch.fcgi", params)
	if err != nil {
		return nil, err
	}
	return parseArticles(body)
}

func (p *Provider) params() url.Values {
	v := url.Values{}
	v.Set("db", "pubmed")
	v.Set("email", p.email)
	if p.apiKey != "" {
		v.Set("api_key", p.apiKey)
	}
	return v
}

// get issues a rate-limited GET, retrying 429 responses with exponential
// backoff.
func (p *Provider) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	target := strings.TrimRight(p.baseURL, "/") + "/" + endpoint + "?" + params.Encode()

	var lastErr error
	delay := p.retryDelay
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		body, err := p.do(ctx, target)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !errors.Is(err, ErrTooManyRequests) || attempt == p.maxAttempts {
			break
		}
		p.logger.Debug("pubmed throttled, backing off", "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return nil, lastErr
}

func (p *Provider) do(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read pubmed response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrTooManyRequests
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: %s", ErrHTTPStatus, resp.Status)
	}
	return body, nil
}

type articleSet struct {
	Articles []struct {
		PMID     string         `xml:"MedlineCitation>PMID"`
		Title    markupText     `xml:"MedlineCitation>Article>ArticleTitle"`
		Abstract []abstractText `xml:"MedlineCitation>Article>Abstract>AbstractText"`
		Journal  string         `xml:"MedlineCitation>Article>Journal>Title"`
		Year     string         `xml:"MedlineCitation>Article>Journal>JournalIssue>PubDate>Year"`
		Authors  []struct {
			LastName string `xml:"LastName"`
			Initials string `xml:"Initials"`
		} `xml:"MedlineCitation>Article>AuthorList>Author"`
	} `xml:"PubmedArticle"`
}

func parseArticles(data []byte) ([]Article, error) {
	var set articleSet
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode efetch response: %w", err)
	}

	out := make([]Article, 0, len(set.Articles))
	for _, a := range set.Articles {
		parts := make([]string, 0, len(a.Abstract))
		for _, section := range a.Abstract {
			if section.Text == "" {
				continue
			}
			if section.Label != "" {
				parts = append(parts, section.Label+": "+section.Text)
			} else {
				parts = append(parts, section.Text)
			}
		}
		article := Article{
			PMID:     strings.TrimSpace(a.PMID),
			Title:    string(a.Title),
			Abstract: strings.Join(parts, " "),
			Journal:  strings.TrimSpace(a.Journal),
			Year:     strings.TrimSpace(a.Year),
		}
		if article.Title == "" || article.Abstract == "" {
			continue
		}
		for _, au := range a.Authors {
			if au.LastName == "" {
				continue
			}
			if len(article.Authors) == maxAuthors {
				article.MoreAuthors = true
				break
			}
			article.Authors = append(article.Authors, strings.TrimSpace(au.LastName+" "+au.Initials))
		}
		out = append(out, article)
	}
	return out, nil
}

// markupText collects the character data of an element, flattening inline
// markup such as <i> and <sup>.
type markupText string

func (m *markupText) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	text, err := innerText(d)
	*m = markupText(text)
	return err
}

type abstractText struct {
	Label string
	Text  string
}

func (a *abstractText) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		if attr.Name.Local == "Label" {
			a.Label = attr.Value
		}
	}
	text, err := innerText(d)
	a.Text = text
	return err
}

func innerText(d *xml.Decoder) (string, error) {
	var sb strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := d.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			sb.Write(t)
		}
	}
	return strings.Join(strings.Fields(sb.String()), " "), nil
}
