package coverage

import "strings"

// Entity types with distinct attribute-slot vocabularies.
const (
	TypePerson       = "person"
	TypeOrganization = "organization"
	TypeTopic        = "topic"
)

// slotVocabulary is the per-type universe of attribute slots. DepthScore is
// measured against this, so changing a vocabulary rescales existing scores.
var slotVocabulary = map[string][]string{
	TypePerson:       {"role", "company", "tenure", "examples", "relationships", "contact"},
	TypeOrganization: {"industry", "offerings", "leadership", "audience", "track_record", "contact"},
	TypeTopic:        {"definition", "examples", "context", "outlook"},
}

// slotCues maps lowercase keywords in a fact statement to the slot it covers.
var slotCues = map[string]map[string][]string{
	TypePerson: {
		"role":          {"role", "title", "head of", "director", "lead", "manager", "executive", "responsible for", "oversees"},
		"company":       {"works at", "company", "employer", "joined", "at the", "platform", "studio", "network"},
		"tenure":        {"since", "years", "tenure", "joined in", "previously", "former", "career"},
		"examples":      {"for example", "such as", "commissioned", "produced", "worked on", "projects like"},
		"relationships": {"reports to", "works with", "collaborat", "connected", "introduc", "knows"},
		"contact":       {"contact", "email", "reach", "linkedin", "pitch to", "approach", "submission"},
	},
	TypeOrganization: {
		"industry":     {"industry", "sector", "market", "streaming", "broadcast", "media", "production"},
		"offerings":    {"offers", "produces", "content", "catalog", "slate", "commission", "programming", "service"},
		"leadership":   {"led by", "ceo", "head of", "director", "executive", "founder", "chief"},
		"audience":     {"audience", "viewers", "subscribers", "demographic", "region", "market share"},
		"track_record": {"track record", "previously", "known for", "success", "award", "history", "launched"},
		"contact":      {"contact", "email", "reach", "pitch", "submission", "approach", "commissioning"},
	},
	TypeTopic: {
		"definition": {"is a", "refers to", "means", "defined", "consists of"},
		"examples":   {"for example", "such as", "including", "like", "notably"},
		"context":    {"because", "context", "background", "historically", "currently", "trend"},
		"outlook":    {"will", "future", "expected", "forecast", "growing", "outlook", "opportunity"},
	},
}

// orgCue words that mark an entity name as an organization.
var orgCues = []string{
	"inc", "ltd", "llc", "corp", "studios", "media", "network", "networks",
	"platform", "channel", "tv", "group", "productions", "pictures", "labs",
	"films", "entertainment", "streaming", "stream", "play",
}

// InferType classifies an entity name into a slot vocabulary. Two or three
// plain capitalized words look like a person; organization cues win over
// that; anything else is a topic.
func InferType(entity string) string {
	lower := strings.ToLower(entity)
	for _, cue := range orgCues {
		for _, word := range strings.Fields(lower) {
			if strings.Trim(word, ".,") == cue {
				return TypeOrganization
			}
		}
	}
	words := strings.Fields(entity)
	if len(words) >= 2 && len(words) <= 3 {
		return TypePerson
	}
	return TypeTopic
}

// SlotsFor returns the full slot vocabulary for an entity type. Unknown
// types fall back to the topic vocabulary.
func SlotsFor(entityType string) []string {
	if slots, ok := slotVocabulary[entityType]; ok {
		return slots
	}
	return slotVocabulary[TypeTopic]
}

// InferSlots returns which attribute slots a fact statement covers for the
// given entity type, in vocabulary order.
func InferSlots(statement, entityType string) []string {
	cues, ok := slotCues[entityType]
	if !ok {
		cues = slotCues[TypeTopic]
	}
	lower := strings.ToLower(statement)

	var covered []string
	for _, slot := range SlotsFor(entityType) {
		for _, cue := range cues[slot] {
			if strings.Contains(lower, cue) {
				covered = append(covered, slot)
				break
			}
		}
	}
	return covered
}
