package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convoprobe/internal/model"
)

func TestPatternSet_LongestMatchWins(t *testing.T) {
	ps, err := NewPatternSet([]string{"name", "your full name"})
	require.NoError(t, err)

	m, ok := ps.Evaluate(model.Turn{Reply: "Could I get YOUR FULL NAME please?"})
	require.True(t, ok)
	assert.Equal(t, "YOUR FULL NAME", m.Evidence)
	assert.Equal(t, 14, m.Specificity)

	_, ok = ps.Evaluate(model.Turn{Reply: "What is your date of birth?"})
	assert.False(t, ok)
	assert.Equal(t, "pattern(name | your full name)", ps.String())
}

func TestPatternSet_RejectsEmpty(t *testing.T) {
	_, err := NewPatternSet([]string{""})
	assert.Error(t, err)
}

func TestIntentRegistry(t *testing.T) {
	r, err := NewIntentRegistry(map[string][]string{
		"farewell": {`\bsee you\b`},
		"waitlist": {`wait ?list`},
	})
	require.NoError(t, err)

	assert.True(t, r.Has("waitlist"))
	assert.Contains(t, r.Tags(), "offerSlots")

	tests := []struct {
		tag   string
		reply string
		want  bool
	}{
		{"greeting", "Hello! Thank you for calling Bright Smiles Orthodontics.", true},
		{"greeting", "This is a recorded line.", false},
		{"farewell", "See you on Tuesday!", true},
		{"farewell", "You're welcome, Sarah! Have a wonderful day.", true},
		{"confirmBooking", "Perfect, your appointment is confirmed for Tuesday at 9:00 AM.", true},
		{"confirmBooking", "Shall I go ahead and confirm that appointment?", false},
		{"clarification", "It looks like your message was empty. How can I help you today?", true},
		{"transfer", "I'll transfer you to our scheduling team.", true},
		{"offerSlots", "We have openings on Tuesday at 9:00 AM or Thursday at 2:30 PM.", true},
		{"waitlist", "I can add you to the waitlist.", true},
	}
	for _, tt := range tests {
		t.Run(tt.tag+"/"+tt.reply, func(t *testing.T) {
			_, ok := r.Detect(tt.tag, tt.reply)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestIntentTag_UnknownTag(t *testing.T) {
	r, err := NewIntentRegistry(nil)
	require.NoError(t, err)

	_, err = NewIntentTag("nope", r)
	assert.Error(t, err)

	it, err := NewIntentTag("apology", r)
	require.NoError(t, err)
	m, ok := it.Evaluate(model.Turn{Reply: "I'm sorry, the system is slow."})
	require.True(t, ok)
	assert.Equal(t, "sorry", m.Evidence)
}

func TestToolInvoked(t *testing.T) {
	ti := NewToolInvoked([]string{"chord_ortho_patient"})
	m, ok := ti.Evaluate(model.Turn{ToolCalls: []model.ToolCall{{Name: "current_date_time"}, {Name: "chord_ortho_patient"}}})
	require.True(t, ok)
	assert.Equal(t, "tool chord_ortho_patient invoked", m.Evidence)

	_, ok = ti.Evaluate(model.Turn{Reply: "I used chord_ortho_patient"})
	assert.False(t, ok)
}
