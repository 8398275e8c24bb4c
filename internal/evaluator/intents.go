package evaluator

import (
	"regexp"
	"sort"

	"convoprobe/internal/scenario"
)

// defaultIntents are keyword heuristics for the semantic tags scenarios use.
// They are deliberately plain so the same reply always yields the same verdict.
var defaultIntents = map[string][]string{
	"greeting": {
		`\b(hello|hi|hey)\b`,
		`\bgood (morning|afternoon|evening)\b`,
		`\bwelcome to\b`,
		`\bthanks? (you )?for (calling|reaching out|contacting)\b`,
	},
	"farewell": {
		`\b(good ?bye|bye)\b`,
		`\bhave an? (great|good|wonderful|nice|lovely) (day|evening|afternoon|weekend)\b`,
		`\btake care\b`,
	},
	"acknowledge": {
		`\b(got it|understood|noted)\b`,
		`\b(thank you|thanks)\b`,
		`\b(perfect|great|okay|ok)\b`,
	},
	"confirmBooking": {
		`\b(appointment|visit|consultation)\b[^.?!]*\b(is|has been)\s+(confirmed|booked|scheduled)\b`,
		`\byou('re| are) (all set|booked|scheduled)\b`,
		`\bi('ve| have) (booked|scheduled|confirmed)\b`,
	},
	"clarification": {
		`\b(didn't|did not|couldn't|could not) (catch|hear|understand|get) (that|you|your message)\b`,
		`\bcould you (please )?(repeat|rephrase|clarify)\b`,
		`\byour message (was|seems|looks|appears) (to be )?(empty|blank)\b`,
		`\bhow (can|may) i (help|assist) you\b`,
	},
	"apology": {
		`\b(sorry|apologi[sz]e)\b`,
	},
	"transfer": {
		`\btransfer(ring)? you\b`,
		`\bconnect(ing)? you (with|to)\b`,
		`\bput you through\b`,
		`\bsomeone from our (team|office) will (call|contact|reach)\b`,
	},
	"offerSlots": {
		`\b(we have|there (is|are)) (an? )?(openings?|availability|slots?|times? available)\b`,
		`\b(openings?|slots?) (on|at|available)\b`,
		`\bavailable (times|slots|appointments)\b`,
	},
}

// IntentRegistry resolves semantic tags to keyword heuristics.
type IntentRegistry struct {
	intents map[string][]*regexp.Regexp
}

// NewIntentRegistry returns the default tags merged with extra ones. Extra
// patterns for an existing tag are added to it.
func NewIntentRegistry(extra map[string][]string) (*IntentRegistry, error) {
	r := &IntentRegistry{intents: make(map[string][]*regexp.Regexp)}
	for tag, patterns := range defaultIntents {
		if err := r.add(tag, patterns); err != nil {
			return nil, err
		}
	}
	for tag, patterns := range extra {
		if err := r.add(tag, patterns); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *IntentRegistry) add(tag string, patterns []string) error {
	for _, p := range patterns {
		re, err := scenario.CompilePattern(p)
		if err != nil {
			return err
		}
		r.intents[tag] = append(r.intents[tag], re)
	}
	return nil
}

// Has reports whether the tag is known.
func (r *IntentRegistry) Has(tag string) bool {
	_, ok := r.intents[tag]
	return ok
}

// Tags lists the known tags in sorted order.
func (r *IntentRegistry) Tags() []string {
	tags := make([]string, 0, len(r.intents))
	for tag := range r.intents {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Detect returns the longest text in reply that signals the tag.
func (r *IntentRegistry) Detect(tag, reply string) (string, bool) {
	var best string
	found := false
	for _, re := range r.intents[tag] {
		if m := re.FindString(reply); m != "" && len(m) > len(best) {
			best = m
			found = true
		}
	}
	return best, found
}
