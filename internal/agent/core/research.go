package core

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/rfvalente/morada/internal/geo"
	"github.com/rfvalente/morada/internal/helpers"
	"github.com/rfvalente/morada/internal/llm"
	"github.com/rfvalente/morada/models"
)

const (
	maxAllowedHits  = 20
	extractWorkers  = 5
	maxCandidates   = 10
	minSurvivors    = 3
	maxExtractChars = 12000
)

// DefaultAllowList is the set of listing portals candidates may come from,
// matched on the registered domain of the canonical URL.
var DefaultAllowList = []string{
	"idealista.pt", "imovirtual.com", "casa.sapo.pt", "casasapo.pt",
	"olx.pt", "supercasa.pt", "zillow.com", "redfin.com",
}

var sourcePriority = map[string]int{
	"idealista.pt":   4,
	"imovirtual.com": 3,
	"casa.sapo.pt":   2,
	"casasapo.pt":    2,
	"olx.pt":         1,
	"supercasa.pt":   1,
	"zillow.com":     1,
	"redfin.com":     1,
}

// ResearchAgent turns completed requirements into ranked listing candidates:
// one synthesized search, bounded per-hit extraction, location and budget
// filters, then a stable rank.
type ResearchAgent struct {
	gateway LLM
	search  SearchProvider
	allow   map[string]bool
	logger  *log.Logger
}

func NewResearchAgent(gateway LLM, search SearchProvider, allowList []string, logger *log.Logger) *ResearchAgent {
	if logger == nil {
		logger = log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)
	}
	if len(allowList) == 0 {
		allowList = DefaultAllowList
	}
	allow := make(map[string]bool, len(allowList))
	for _, d := range allowList {
		allow[strings.ToLower(strings.TrimSpace(d))] = true
	}
	return &ResearchAgent{gateway: gateway, search: search, allow: allow, logger: logger}
}

func (a *ResearchAgent) Name() string { return AgentResearch }

func (a *ResearchAgent) Execute(ctx context.Context, req Envelope) (Envelope, error) {
	in, ok := req.Payload.(ResearchInput)
	if !ok {
		return Envelope{}, models.E(models.KindLogic, "research", "unexpected payload type", nil)
	}
	out, err := a.research(ctx, in.Requirements)
	if err != nil {
		return Envelope{}, err
	}
	return req.Respond(out), nil
}

func (a *ResearchAgent) research(ctx context.Context, req models.Requirements) (ResearchOutput, error) {
	query := buildListingQuery(req)
	a.logger.Printf("searching listings: %q", query)

	hits, err := a.search.Search(ctx, query, "google")
	if err != nil {
		return ResearchOutput{}, err
	}

	picked := a.allowListed(hits)
	a.logger.Printf("%d of %d hits are allow-listed", len(picked), len(hits))
	if len(picked) == 0 {
		return ResearchOutput{}, nil
	}

	extracted := a.extract(ctx, picked)

	kept := a.filter(extracted, req, true)
	if len(kept) < minSurvivors && len(extracted) > len(kept) {
		a.logger.Printf("only %d candidates survived; retrying without the rooms filter", len(kept))
		kept = a.filter(extracted, req, false)
	}

	rank(kept)
	if len(kept) > maxCandidates {
		kept = kept[:maxCandidates]
	}

	return ResearchOutput{Candidates: kept, Summary: a.summarize(ctx, req, kept)}, nil
}

// buildListingQuery synthesizes the single deterministic search string.
// Portuguese-market locations get a Portuguese query.
func buildListingQuery(req models.Requirements) string {
	var b strings.Builder
	if geo.InPortugal(req.Location) {
		b.WriteString("apartamento")
		if req.Bedrooms != nil {
			fmt.Fprintf(&b, " T%d", *req.Bedrooms)
		}
		if req.IsRent {
			b.WriteString(" para alugar")
		} else {
			b.WriteString(" à venda")
		}
		fmt.Fprintf(&b, " em %s", req.Location)
		if req.BudgetMax != nil {
			fmt.Fprintf(&b, " até %.0f€", *req.BudgetMax)
		}
		return b.String()
	}
	if req.Bedrooms != nil {
		fmt.Fprintf(&b, "%d bedroom ", *req.Bedrooms)
	}
	b.WriteString("apartment")
	if req.IsRent {
		b.WriteString(" for rent")
	} else {
		b.WriteString(" for sale")
	}
	fmt.Fprintf(&b, " in %s", req.Location)
	if req.BudgetMax != nil {
		fmt.Fprintf(&b, " under %.0f", *req.BudgetMax)
	}
	return b.String()
}

// allowListed canonicalizes, dedupes, and keeps hits from known portals, up
// to the batch cap.
func (a *ResearchAgent) allowListed(hits []models.SearchHit) []models.SearchHit {
	seen := make(map[string]bool)
	var picked []models.SearchHit
	for _, h := range hits {
		canon, err := helpers.CanonicalURL(h.URL)
		if err != nil {
			continue
		}
		if seen[canon] || !a.allow[helpers.RegisteredDomain(canon)] {
			continue
		}
		seen[canon] = true
		h.URL = canon
		picked = append(picked, h)
		if len(picked) == maxAllowedHits {
			break
		}
	}
	return picked
}

// extract scrapes and parses every hit with bounded concurrency. Failures
// drop the hit, never the batch; input order is preserved.
func (a *ResearchAgent) extract(ctx context.Context, hits []models.SearchHit) []models.Candidate {
	results := make([]*models.Candidate, len(hits))
	sem := make(chan struct{}, extractWorkers)
	var wg sync.WaitGroup
	for i, h := range hits {
		wg.Add(1)
		go func(i int, hit models.SearchHit) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			cand, err := a.extractOne(ctx, hit)
			if err != nil {
				a.logger.Printf("dropping hit %s: %v", hit.URL, err)
				return
			}
			results[i] = cand
		}(i, h)
	}
	wg.Wait()

	out := make([]models.Candidate, 0, len(hits))
	for _, c := range results {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}

type extractionReply struct {
	Title         *string  `json:"title"`
	Address       *string  `json:"address"`
	City          *string  `json:"city"`
	Description   *string  `json:"description"`
	Price         *float64 `json:"price"`
	Currency      *string  `json:"currency"`
	IsRent        bool     `json:"is_rent"`
	Bedrooms      *int     `json:"bedrooms"`
	Bathrooms     *float64 `json:"bathrooms"`
	AreaM2        *float64 `json:"area_m2"`
	PropertyType  *string  `json:"property_type"`
	ImageURL      *string  `json:"image_url"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	OriginalPrice *float64 `json:"original_price"`
}

func (a *ResearchAgent) extractOne(ctx context.Context, hit models.SearchHit) (*models.Candidate, error) {
	markdown, err := a.search.ScrapeMarkdown(ctx, hit.URL)
	if err != nil {
		return nil, err
	}
	if len(markdown) > maxExtractChars {
		markdown = markdown[:maxExtractChars]
	}

	system, user := extractionPrompt(hit.URL, markdown)
	var reply extractionReply
	if err := a.gateway.CompleteJSON(ctx, llm.Request{
		System:    system,
		Prompt:    user,
		MaxTokens: 800,
	}, &reply); err != nil {
		return nil, err
	}

	title := strVal(reply.Title)
	if title == "" {
		return nil, models.E(models.KindParse, "research.extract", "page is not a listing", nil)
	}

	cand := models.Candidate{
		Title:         title,
		Address:       strVal(reply.Address),
		City:          strVal(reply.City),
		Description:   strVal(reply.Description),
		URL:           hit.URL,
		Price:         models.Price{Currency: "EUR", IsRent: reply.IsRent},
		OriginalPrice: floatVal(reply.OriginalPrice),
		Bedrooms:      reply.Bedrooms,
		Bathrooms:     reply.Bathrooms,
		AreaM2:        floatVal(reply.AreaM2),
		PropertyType:  strVal(reply.PropertyType),
		Source:        helpers.RegisteredDomain(hit.URL),
		Snippet:       hit.Snippet,
		Latitude:      reply.Latitude,
		Longitude:     reply.Longitude,
	}
	if reply.Price != nil && *reply.Price > 0 {
		cand.Price.Amount = *reply.Price
	}
	if cur := strVal(reply.Currency); cur != "" {
		cand.Price.Currency = strings.ToUpper(cur)
	}
	cand.ImageURL = strVal(reply.ImageURL)
	if cand.ImageURL == "" {
		cand.ImageURL = helpers.FirstImageURL(markdown)
	}
	return &cand, nil
}

// filter applies the location test and the budget/rooms constraints. The
// broadened retry passes withRooms=false.
func (a *ResearchAgent) filter(cands []models.Candidate, req models.Requirements, withRooms bool) []models.Candidate {
	exactRooms := geo.InPortugal(req.Location)
	var kept []models.Candidate
	for _, c := range cands {
		if !a.locationOK(c, req.Location) {
			continue
		}
		if req.BudgetMax != nil && c.Price.Amount > 0 && c.Price.Amount > *req.BudgetMax {
			continue
		}
		if withRooms {
			if req.Bedrooms != nil && c.Bedrooms != nil {
				if exactRooms && *c.Bedrooms != *req.Bedrooms {
					continue
				}
				if !exactRooms && *c.Bedrooms < *req.Bedrooms {
					continue
				}
			}
			if req.Bathrooms != nil && c.Bathrooms != nil && *c.Bathrooms < *req.Bathrooms {
				continue
			}
		}
		kept = append(kept, c)
	}
	return kept
}

// locationOK accepts a candidate when either the folded token test or the
// bounding-box test passes; a disagreement between the two is logged.
func (a *ResearchAgent) locationOK(c models.Candidate, location string) bool {
	if strings.TrimSpace(location) == "" {
		return true
	}
	token := geo.ContainsToken(c.Address+" "+c.City+" "+c.Title, location)

	var bbox, bboxKnown bool
	if city, ok := geo.Lookup(location); ok && c.Latitude != nil && c.Longitude != nil {
		bbox = geo.InBox(city, *c.Latitude, *c.Longitude)
		bboxKnown = true
	}
	if bboxKnown && token != bbox {
		a.logger.Printf("location tests disagree for %s (token=%t bbox=%t)", c.URL, token, bbox)
	}
	return token || (bboxKnown && bbox)
}

// rank is a stable sort by coordinate-present, image-present, price-present,
// then source priority, all descending. Ties keep search order.
func rank(cands []models.Candidate) {
	score := func(c models.Candidate) [4]int {
		var s [4]int
		if c.Latitude != nil && c.Longitude != nil {
			s[0] = 1
		}
		if c.ImageURL != "" {
			s[1] = 1
		}
		if c.Price.Amount > 0 {
			s[2] = 1
		}
		s[3] = sourcePriority[c.Source]
		return s
	}
	sort.SliceStable(cands, func(i, j int) bool {
		si, sj := score(cands[i]), score(cands[j])
		for k := range si {
			if si[k] != sj[k] {
				return si[k] > sj[k]
			}
		}
		return false
	})
}

func (a *ResearchAgent) summarize(ctx context.Context, req models.Requirements, picked []models.Candidate) string {
	if len(picked) == 0 {
		return ""
	}
	text, err := a.gateway.Complete(ctx, llm.Request{
		Prompt:      summaryPrompt(req, picked),
		Temperature: 0.4,
		MaxTokens:   220,
	})
	if err != nil {
		a.logger.Printf("summary completion failed: %v", err)
		return fmt.Sprintf("Here are some options in %s that fit what you asked for.", req.Location)
	}
	return strings.TrimSpace(text)
}

func strVal(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

func floatVal(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
