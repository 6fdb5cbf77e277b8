package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rfvalente/morada/models"
	"github.com/rfvalente/morada/session"
)

// scopingSystemPrompt drives the requirements dialog. The reply schema is a
// single flat document; unknown fields stay null so the merge step can tell
// "not mentioned" from "zero".
const scopingSystemPrompt = `You are a friendly real estate assistant helping someone find a home. Fold the conversation into one requirements record.

RULES:
- Gather location, budget, and bedrooms. Bathrooms and other wishes are optional extras that go to additional_info.
- Be conversational; message_to_user is shown to the user verbatim. Ask for at most two missing things per turn.
- ALWAYS write message_to_user in the language of the user's last message.
- Monthly rent intent means is_rent=true; buying means is_rent=false.
- "T2"/"T3" style labels are bedroom counts (T2 = 2 bedrooms).
- Amounts are euros unless the user says otherwise ("900", "900 eur" and "novecentos euros" all mean 900).
- Set is_complete=true ONLY when a location plus bedrooms or a budget ceiling are known AND the last user message confirms rather than asks something new.
- When the user asks about an area (schools, safety, what living there is like) instead of stating requirements, set is_general_question=true, restate the question in general_question, and leave every requirement field null.
- When the user names a specific neighborhood or development, echo it in community_name.
- Null means unknown. Never invent values the user did not give.

Respond ONLY as strict JSON with keys:
{"location": string|null, "bedrooms": int|null, "bathrooms": number|null, "budget_min": number|null, "budget_max": number|null, "is_rent": bool, "additional_info": string|null, "is_complete": bool, "needs_more_info": bool, "message_to_user": string, "is_general_question": bool, "general_question": string|null, "community_name": string|null}`

func scopingUserPrompt(prior models.Requirements, transcript []session.Turn, message string) string {
	known, _ := json.Marshal(prior)
	var conv strings.Builder
	for _, t := range transcript {
		fmt.Fprintf(&conv, "%s: %s\n", t.Role, t.Content)
	}
	if conv.Len() == 0 {
		conv.WriteString("(empty)\n")
	}
	return fmt.Sprintf(`KNOWN REQUIREMENTS (may be partial):
%s

CONVERSATION SO FAR:
%s
LATEST USER MESSAGE:
%s`, known, conv.String(), message)
}

// extractionPrompt turns one scraped listing page into a Candidate document.
func extractionPrompt(pageURL, markdown string) (string, string) {
	system := `You extract one property listing from scraped page text. If the page is not a single property listing, return {"title": null}.

Respond ONLY as strict JSON with keys:
{"title": string|null, "address": string|null, "city": string|null, "description": string|null, "price": number|null, "currency": string|null, "is_rent": bool, "bedrooms": int|null, "bathrooms": number|null, "area_m2": number|null, "property_type": string|null, "image_url": string|null, "latitude": number|null, "longitude": number|null, "original_price": number|null}

Rules: price is the asking amount as a bare number; original_price only when the page shows a crossed-out higher price; "T2"/"T3" labels mean 2/3 bedrooms; description is one or two sentences; null for anything the page does not state.`
	user := fmt.Sprintf("URL: %s\n\nPAGE TEXT:\n%s", pageURL, markdown)
	return system, user
}

func summaryPrompt(req models.Requirements, picked []models.Candidate) string {
	reqJSON, _ := json.Marshal(req)
	var lines strings.Builder
	for i, c := range picked {
		if i >= 5 {
			break
		}
		price := "price not listed"
		if c.Price.Amount > 0 {
			price = fmt.Sprintf("%.0f %s", c.Price.Amount, c.Price.Currency)
		}
		fmt.Fprintf(&lines, "- %s | %s | %s\n", c.Title, c.Address, price)
	}
	return fmt.Sprintf(`You are a friendly real estate assistant. Sum up the search outcome for the user in one or two sentences, naming up to two standout listings by street or neighborhood. Do NOT mention how many listings were found. Write in the language matching the location.

REQUIREMENTS: %s
LISTINGS:
%s`, reqJSON, lines.String())
}

func generalPrompt(question, lastCity string, hits []models.SearchHit) (string, string) {
	system := `You answer questions about neighborhoods and towns for someone looking for a home. Use ONLY the provided search snippets; when they are not enough, say so. Reply in the user's language.

Respond ONLY as strict JSON with keys: {"answer": string}`
	scope := ""
	if lastCity != "" {
		scope = fmt.Sprintf("The user's last property search was in %s.\n\n", lastCity)
	}
	user := fmt.Sprintf("%sQUESTION: %s\n\nSEARCH SNIPPETS:\n%s", scope, question, hitLines(hits, 10))
	return system, user
}

func communityPrompt(location string, news, schools, housing []models.SearchHit) (string, string) {
	system := `You profile a neighborhood for someone deciding where to live, working only from web search snippets.

Scores run 0 to 10 with one decimal. overall_score is the average of safety_score and school_rating. Ground every number and story in the snippets; when they say nothing about a topic, score it 5.0 and say the data is thin. price_per_m2 (euros) and average_size_m2 (square meters) come from the housing snippets, 0 when unknown. Give up to two positive and two negative stories.

Respond ONLY as strict JSON with keys:
{"location": string, "overall_score": number, "overall_explanation": string, "safety_score": number, "safety_explanation": string, "school_rating": number, "school_explanation": string, "positive_stories": [{"title": string, "summary": string}], "negative_stories": [{"title": string, "summary": string}], "price_per_m2": number, "average_size_m2": number}`
	user := fmt.Sprintf(`LOCATION: %s

NEWS AND SAFETY SNIPPETS:
%s
SCHOOL SNIPPETS:
%s
HOUSING MARKET SNIPPETS:
%s`, location, hitLines(news, 8), hitLines(schools, 8), hitLines(housing, 8))
	return system, user
}

func proberPrompt(address string, hits []models.SearchHit, pageURL, pageText string) (string, string) {
	system := `You dig up negotiation leverage on a property listing from search results and a scraped page.

Categories: time_on_market, price_history, property_issues, owner_situation, market_conditions. leverage_score runs 0 (nothing usable) to 10 (strong buyer leverage). Every finding must trace to the material below; no speculation. When nothing useful appears, return {"findings": [], "overall_assessment": "No relevant information found", "leverage_score": 0}.

Respond ONLY as strict JSON with keys:
{"findings": [{"category": string, "summary": string, "leverage_score": number}], "overall_assessment": string, "leverage_score": number}`
	var page strings.Builder
	if pageText != "" {
		fmt.Fprintf(&page, "SCRAPED PAGE %s:\n%s\n", pageURL, pageText)
	}
	user := fmt.Sprintf("PROPERTY: %s\n\nSEARCH SNIPPETS:\n%s\n%s", address, hitLines(hits, 3), page.String())
	return system, user
}

func hitLines(hits []models.SearchHit, max int) string {
	if len(hits) == 0 {
		return "(none)\n"
	}
	var buf strings.Builder
	for i, h := range hits {
		if i >= max {
			break
		}
		fmt.Fprintf(&buf, "- %s: %s (%s)\n", h.Title, h.Snippet, h.URL)
	}
	return buf.String()
}

// callBrief is the system prompt handed to the voice assistant before an
// outbound negotiation call.
func callBrief(in NegotiationInput, findings []proberFinding, assessment string, leverage float64) string {
	var pts strings.Builder
	for i, f := range findings {
		if i >= 3 {
			break
		}
		fmt.Fprintf(&pts, "- %s (%s, leverage %.1f/10)\n", f.Summary, strings.ReplaceAll(f.Category, "_", " "), f.LeverageScore)
	}
	if pts.Len() == 0 {
		pts.WriteString("- none gathered; keep the tone friendly and exploratory\n")
	}
	notes := strings.TrimSpace(in.AdditionalInfo)
	if notes == "" {
		notes = "none"
	}
	if assessment == "" {
		assessment = "no assessment available"
	}
	return fmt.Sprintf(`You are %s, calling about the property at %s. You are genuinely interested and want a viewing this week.

GOAL: a 1-2 minute call. Confirm availability, probe the price, and close with a concrete next step.

LEVERAGE (%s, %.1f/10): %s
%sASK: accept the listed price as the anchor, then suggest %s below it if the conversation allows.

CALLER NOTES: %s

RULES:
- Introduce yourself exactly once.
- Ask one question at a time and wait for the answer.
- Three questions only: when is it available, is the price negotiable, and what they need from a tenant or buyer.
- Never repeat a question that was already answered. Never loop.
- Close by proposing a viewing and leaving your email: %s.`,
		in.Name, in.Address, leverageLabel(leverage), leverage, assessment, pts.String(), reductionRange(leverage), notes, in.Email)
}

func callFirstMessage(name, address string) string {
	return fmt.Sprintf("Hey, good afternoon! I'm %s. Can I talk to you about the property at %s?", name, address)
}

func reductionRange(leverage float64) string {
	switch {
	case leverage >= 7:
		return "5-10%"
	case leverage >= 5:
		return "3-5%"
	default:
		return "1-3%"
	}
}

func leverageLabel(leverage float64) string {
	switch {
	case leverage >= 7:
		return "high leverage position"
	case leverage >= 5:
		return "moderate leverage position"
	default:
		return "limited leverage position"
	}
}
