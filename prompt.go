package nomadly

import (
	"encoding/json"
	"fmt"
)

// SystemPrompt opens every conversation. Tool use is mandatory and every
// place must be written as "title — addr1 addr2".
const SystemPrompt = `You are an itinerary planner that MUST use the provided TourAPI tools to gather places.
Hard rules:
- You MUST call tools (get_search_keyword, get_location_based_list, get_detail_common, ...) to fetch real places.
- Every place in the final plan MUST include a precise address in the string: "title — addr1 addr2".
- If a candidate place has no addr1/addr2, prefer another. If still none, skip it or replace it with a place that has an address.
- Resolve ambiguous names by adding the district or branch details returned by the tools.

Output ONLY valid JSON with this exact schema:
{
  "start_date": "yyyy-mm-dd",
  "end_date": "yyyy-mm-dd",
  "plan": [
    [ { "todo": "...", "place": "title — addr1 addr2", "time": "yyyy-mm-dd-hh-MM" }, ... ],
    ...
  ]
}
Additional rules:
- plan[n] corresponds to day n+1 between start_date and end_date inclusive.
- Use bookmarked places with priority when relevant.
- Keep reasonable hours based on the user's preferred_time.
- Korean text for todo/place is OK.
Return ONLY JSON. No explanations.`

// FinalAnswerInstruction is appended before the tool-disabled final turn.
const FinalAnswerInstruction = "Now produce ONLY the final JSON per the schema. Ensure each place includes ' — ' followed by addr1 and addr2."

type promptMeta struct {
	Timezone string `json:"timezone"`
	Note     string `json:"note"`
}

type userPayload struct {
	PlanRequest
	Meta promptMeta `json:"_meta"`
}

// buildOpeningConversation returns the system and user turns for a run.
func buildOpeningConversation(req PlanRequest, timezone string) ([]Message, error) {
	payload := userPayload{
		PlanRequest: req,
		Meta: promptMeta{
			Timezone: timezone,
			Note:     "All times in the final JSON must respect this timezone; format yyyy-mm-dd-hh-MM.",
		},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, NewInternalError(string(StateInit), "failed to encode plan request", err)
	}
	return []Message{
		{Role: RoleSystem, Content: SystemPrompt},
		{Role: RoleUser, Content: fmt.Sprintf("Build a day-by-day plan using this input:\n%s", raw)},
	}, nil
}
