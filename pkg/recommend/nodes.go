package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jarijaba/jarijaba/pkg/workflow"
	"github.com/jarijaba/jarijaba/pkg/workflow/capability"
)

// recommendKeywords short-circuit classification: a request containing any
// of these is a venue recommendation ask without consulting the model.
var recommendKeywords = []string{
	"회식", "식당", "맛집", "식사", "점심", "저녁", "장소 추천", "레스토랑",
}

// classify decides whether the request is an in-scope recommendation ask.
// Keyword hits accept immediately; ambiguous requests go to the model.
func (f *flow) classify(ctx workflow.Context, s workflow.State) workflow.NodeResult {
	query := s.String(workflow.FieldQuery)
	if query == "" {
		return workflow.Fatal(workflow.Errorf(workflow.KindValidation, "empty request text"))
	}

	for _, kw := range recommendKeywords {
		if strings.Contains(query, kw) {
			return workflow.Advance(workflow.NewDelta().Set(FieldIntent, IntentRecommend))
		}
	}

	prompt := fmt.Sprintf(
		"사용자의 요청이 회식/식사 장소 추천 요청이면 intent를 %q로, 아니면 %q로 분류하세요.\n\n요청: %s",
		IntentRecommend, IntentReject, query)

	raw, err := f.caps.Complete.Complete(ctx, prompt, classifySchema)
	if err != nil {
		return workflow.Retry(completionError(err))
	}

	var out struct {
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return workflow.Retry(workflow.NewError(workflow.KindStructuredDecode, err))
	}

	intent := IntentReject
	if out.Intent == IntentRecommend {
		intent = IntentRecommend
	}
	return workflow.Advance(workflow.NewDelta().Set(FieldIntent, intent))
}

// extract pulls structured preferences out of the request. Missing fields
// are defaulted and recorded rather than blocking: the router re-enters
// this node for clarification only while the round counter is under its
// bound, then proceeds with whatever was extracted.
func (f *flow) extract(ctx workflow.Context, s workflow.State) workflow.NodeResult {
	query := s.String(workflow.FieldQuery)

	prompt := fmt.Sprintf(
		"회식 장소 추천 요청에서 region(지역), cuisine(음식 종류), budget(예산 1-4), party_size(인원), occasion(목적)을 추출하세요. 명시되지 않은 값은 생략하세요.\n\n요청: %s",
		query)

	raw, err := f.caps.Complete.Complete(ctx, prompt, preferencesSchema)
	if err != nil {
		return workflow.Retry(completionError(err))
	}

	var prefs Preferences
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return workflow.Retry(workflow.NewError(workflow.KindStructuredDecode, err))
	}

	if prefs.Region == "" {
		prefs.Region = f.cfg.defaultRegion
		prefs.Missing = append(prefs.Missing, "region")
	}
	if prefs.Cuisine == "" {
		prefs.Missing = append(prefs.Missing, "cuisine")
	}

	rounds := s.Int(FieldClarifyRounds)
	return workflow.Advance(workflow.NewDelta().
		Overwrite(FieldPreferences, prefs).
		Overwrite(FieldClarifyRounds, rounds+1))
}

// search queries the web for candidate venues. On an empty result the
// router re-enters once with a relaxed query (the least-specific filter
// dropped); still-empty results advance with an explicit empty candidate
// list, never a failure.
func (f *flow) search(ctx workflow.Context, s workflow.State) workflow.NodeResult {
	prefs := preferencesOf(s)
	relaxed := s.Int(FieldRelaxRounds) > 0

	query, filters := buildSearchQuery(prefs, relaxed)
	results, err := f.caps.Search.Search(ctx, query, filters)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return workflow.Retry(workflow.NewError(workflow.KindCapabilityTimeout, err))
		}
		return workflow.Retry(workflow.NewError(workflow.KindCapability, err))
	}

	if len(results) == 0 && !relaxed {
		// Relax and let the router send us back once.
		return workflow.Advance(workflow.NewDelta().
			Overwrite(FieldRelaxRounds, s.Int(FieldRelaxRounds)+1))
	}

	if len(results) > f.cfg.maxCandidates {
		results = results[:f.cfg.maxCandidates]
	}
	candidates := make([]Venue, len(results))
	for i, r := range results {
		candidates[i] = venueFromResult(r)
	}
	return workflow.Advance(workflow.NewDelta().Set(FieldCandidates, candidates))
}

// buildSearchQuery assembles the search text the way the venue search
// expects: region, then cuisine (default "맛집"), then the occasion as a
// free keyword. Relaxation drops the least-specific term first: the
// keyword goes, then the cuisine; the region is never dropped.
func buildSearchQuery(prefs Preferences, relaxed bool) (string, capability.SearchFilters) {
	filters := capability.SearchFilters{Region: prefs.Region}

	cuisine := prefs.Cuisine
	if cuisine == "" {
		cuisine = "맛집"
	}

	parts := []string{prefs.Region, cuisine}
	if !relaxed {
		filters.Cuisine = prefs.Cuisine
		if prefs.Occasion != "" {
			filters.Keyword = prefs.Occasion
			parts = append(parts, prefs.Occasion)
		}
	} else {
		// Relaxed query: region plus the generic venue term only.
		parts = []string{prefs.Region, "맛집"}
	}

	return strings.Join(parts, " "), filters
}

// rank asks the model for a ranked short list with justifications.
// Exhausting the retry budget here fails the run: no recommendation is
// better than a malformed one.
func (f *flow) rank(ctx workflow.Context, s workflow.State) workflow.NodeResult {
	candidates := candidatesOf(s)
	if len(candidates) == 0 {
		return workflow.Fatal(workflow.Errorf(workflow.KindFatalNode, "rank invoked without candidates"))
	}
	prefs := preferencesOf(s)

	var b strings.Builder
	fmt.Fprintf(&b, "다음 후보 중에서 사용자 요구에 맞는 최고의 추천 %d곳을 골라 이유와 함께 순위를 매기세요.\n", f.cfg.maxRanked)
	fmt.Fprintf(&b, "지역: %s, 음식: %s, 인원: %d, 목적: %s\n\n후보:\n", prefs.Region, prefs.Cuisine, prefs.PartySize, prefs.Occasion)
	for _, v := range candidates {
		fmt.Fprintf(&b, "- %s: %s\n", v.Name, v.Description)
	}

	raw, err := f.caps.Complete.Complete(ctx, b.String(), rankingSchema)
	if err != nil {
		return workflow.Retry(completionError(err))
	}

	var out []struct {
		Name   string `json:"name"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return workflow.Retry(workflow.NewError(workflow.KindStructuredDecode, err))
	}
	if len(out) == 0 {
		return workflow.Retry(workflow.Errorf(workflow.KindStructuredDecode, "ranking returned no entries"))
	}

	byName := make(map[string]Venue, len(candidates))
	for _, v := range candidates {
		byName[v.Name] = v
	}

	ranked := make([]RankedVenue, 0, len(out))
	for _, entry := range out {
		if len(ranked) == f.cfg.maxRanked {
			break
		}
		rv := RankedVenue{Reason: entry.Reason}
		if v, ok := byName[entry.Name]; ok {
			rv.Venue = v
		} else {
			rv.Venue = Venue{Name: entry.Name}
		}
		ranked = append(ranked, rv)
	}
	return workflow.Advance(workflow.NewDelta().Set(FieldRanked, ranked))
}

// poll opens a group vote over the ranked venues. Poll creation is a
// nicety: a failure is logged and the run proceeds without a vote.
func (f *flow) poll(ctx workflow.Context, s workflow.State) workflow.NodeResult {
	ranked := rankedOf(s)
	if len(ranked) == 0 {
		return workflow.Advance(workflow.NewDelta())
	}

	options := make([]string, len(ranked))
	for i, rv := range ranked {
		options[i] = rv.Name
	}

	pollID, err := f.caps.Polls.CreatePoll(ctx, "회식 장소 투표", options)
	if err != nil {
		ctx.Logger().Warn("poll creation failed, continuing without vote",
			"error", err.Error())
		return workflow.Advance(workflow.NewDelta())
	}
	return workflow.Advance(workflow.NewDelta().Set(FieldPollID, pollID))
}

// format is the pure terminal transformation of state into the outbound
// payload. It calls no external services and can only fail on malformed
// upstream state.
func (f *flow) format(_ workflow.Context, s workflow.State) workflow.NodeResult {
	if s.String(FieldIntent) == IntentReject {
		return workflow.Advance(workflow.NewDelta().Set(FieldResponse, Response{
			Message:  "죄송합니다. 회식 장소 추천 기능만 지원합니다. 회식 장소에 대한 질문을 해주세요.",
			Declined: true,
		}))
	}

	if candidates, ok := s.Get(FieldCandidates); ok {
		if vs, ok := candidates.([]Venue); ok && len(vs) == 0 {
			return workflow.Advance(workflow.NewDelta().Set(FieldResponse, Response{
				Message: "죄송합니다. 조건에 맞는 식당을 찾을 수 없습니다. 지역이나 조건을 바꿔 다시 시도해 주세요.",
				Empty:   true,
			}))
		}
	}

	ranked := rankedOf(s)
	if len(ranked) == 0 {
		return workflow.Fatal(workflow.Errorf(workflow.KindFatalNode,
			"format invoked without ranked venues"))
	}

	var b strings.Builder
	b.WriteString("🍽️ **회식 장소 추천**\n\n")
	for i, rv := range ranked {
		fmt.Fprintf(&b, "%d. **%s**\n", i+1, rv.Name)
		if rv.Reason != "" {
			fmt.Fprintf(&b, "   - %s\n", rv.Reason)
		}
		if rv.URL != "" {
			fmt.Fprintf(&b, "   - %s\n", rv.URL)
		}
	}
	resp := Response{
		Message: b.String(),
		Items:   ranked,
		PollID:  s.String(FieldPollID),
	}
	if resp.PollID != "" {
		fmt.Fprintf(&b, "\n투표가 열렸습니다. 마음에 드는 곳에 투표해 주세요! (투표 ID: %s)", resp.PollID)
		resp.Message = b.String()
	}
	return workflow.Advance(workflow.NewDelta().Set(FieldResponse, resp))
}

// completionError classifies a Completer failure.
func completionError(err error) error {
	var decodeErr *capability.DecodeError
	switch {
	case errors.As(err, &decodeErr):
		return workflow.NewError(workflow.KindStructuredDecode, err)
	case errors.Is(err, context.DeadlineExceeded):
		return workflow.NewError(workflow.KindCapabilityTimeout, err)
	default:
		return workflow.NewError(workflow.KindCapability, err)
	}
}

// preferencesOf reads the extracted preferences, zero if unset.
func preferencesOf(s workflow.State) Preferences {
	if v, ok := s.Get(FieldPreferences); ok {
		if p, ok := v.(Preferences); ok {
			return p
		}
	}
	return Preferences{}
}

// candidatesOf reads the search candidates, nil if unset.
func candidatesOf(s workflow.State) []Venue {
	if v, ok := s.Get(FieldCandidates); ok {
		if vs, ok := v.([]Venue); ok {
			return vs
		}
	}
	return nil
}

// rankedOf reads the ranked short list, nil if unset.
func rankedOf(s workflow.State) []RankedVenue {
	if v, ok := s.Get(FieldRanked); ok {
		if rs, ok := v.([]RankedVenue); ok {
			return rs
		}
	}
	return nil
}
