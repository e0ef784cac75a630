package dialogue

import (
	"math/rand"
)

// RepeatLine is spoken when no transcription provider could serve a turn.
const RepeatLine = "Sorry, I didn't catch that. Could you say that again?"

const closingLine = "That's all the questions I have. Thank you for your time, you'll hear back from us with feedback soon."

var greetings = map[Mode]string{
	ModeTechnical:  "Hi, thanks for joining. Today we'll go through a few technical questions.",
	ModeBehavioral: "Hi, thanks for joining. Today I'd like to hear about some of your past experiences.",
	ModeMixed:      "Hi, thanks for joining. We'll cover a mix of technical and experience questions today.",
}

var acknowledgments = []string{
	"Thanks, that's helpful.",
	"Got it, thank you.",
	"Great, thanks for walking me through that.",
	"Understood.",
	"Okay, that makes sense.",
}

var followUps = []string{
	"Could you walk me through a specific example?",
	"What was your role in that, specifically?",
	"Can you put a number on the outcome?",
	"What did you personally do, step by step?",
	"How did you measure whether it worked?",
}

func pick(r *rand.Rand, pool []string) string {
	return pool[r.Intn(len(pool))]
}
