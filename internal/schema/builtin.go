package schema

// Builtin returns the registry of built-in activity schemas. These are the
// schemas shipped with the engine; deployments can override them with a YAML
// schema file (see [LoadFile]).
func Builtin() *Registry {
	reg, err := NewRegistry(fitnessSchema(), cricketCoachingSchema(), cricketMatchSchema(), restDaySchema())
	if err != nil {
		// Built-in definitions are compile-time constants; a validation
		// failure here is a programming error.
		panic("schema: invalid builtin schema: " + err.Error())
	}
	return reg
}

func fitnessSchema() *Schema {
	return &Schema{
		Type:     ActivityFitness,
		Version:  1,
		MinTurns: 1,
		Fields: []Field{
			{
				Name: "activity_name", Kind: KindText, Required: true,
				Prompt: "What kind of workout did you do?",
			},
			{
				Name: "duration_minutes", Kind: KindNumber, Required: true,
				Min: 1, Max: 600, Integer: true,
				Prompt: "Roughly how many minutes did the session last?",
			},
			{
				Name: "intensity", Kind: KindNumber, Required: true,
				Min: 1, Max: 10, Integer: true,
				Prompt: "On a scale of 1 to 10, how intense was it?",
			},
			{
				Name: "distance_km", Kind: KindNumber,
				Min: 0, Max: 500,
				Prompt: "How far did you go, in kilometres?",
			},
			{
				Name: "mental_state", Kind: KindText,
				Prompt: "How were you feeling during the session?",
			},
			{
				Name: "notes", Kind: KindText,
				Prompt: "Anything else worth noting about the session?",
			},
		},
	}
}

func cricketCoachingSchema() *Schema {
	return &Schema{
		Type:     ActivityCricketCoaching,
		Version:  1,
		MinTurns: 1,
		Fields: []Field{
			{
				Name: "session_focus", Kind: KindEnum, Required: true,
				Enum:   []string{"batting", "bowling", "fielding", "wicket_keeping", "fitness", "mixed"},
				Prompt: "What was the main focus: batting, bowling, fielding, keeping, fitness, or a mix?",
			},
			{
				Name: "duration_minutes", Kind: KindNumber, Required: true,
				Min: 1, Max: 600, Integer: true,
				Prompt: "How long was the coaching session, in minutes?",
			},
			{
				Name: "drills", Kind: KindText, Required: true,
				Prompt: "Which drills or exercises did you work through?",
			},
			{
				Name: "coach_name", Kind: KindText,
				Prompt: "Who ran the session?",
			},
			{
				Name: "skill_rating", Kind: KindNumber,
				Min: 1, Max: 10, Integer: true,
				Prompt: "How would you rate your execution today, 1 to 10?",
			},
			{
				Name: "notes", Kind: KindText,
				Prompt: "Anything else from the session worth recording?",
			},
		},
	}
}

func cricketMatchSchema() *Schema {
	return &Schema{
		Type:    ActivityCricketMatch,
		Version: 1,
		// A match log realistically needs a follow-up for the batting and
		// bowling figures even when the opener utterance is good.
		MinTurns: 2,
		Fields: []Field{
			{
				Name: "match_format", Kind: KindEnum, Required: true,
				Enum:   []string{"t20", "one_day", "two_day", "multi_day", "indoor"},
				Prompt: "What format was the match: T20, one-day, two-day, multi-day, or indoor?",
			},
			{
				Name: "opposition", Kind: KindText, Required: true,
				Prompt: "Who were you playing against?",
			},
			{
				Name: "result", Kind: KindEnum, Required: true,
				Enum:   []string{"won", "lost", "draw", "tie", "no_result"},
				Prompt: "How did the match end: won, lost, draw, tie, or no result?",
			},
			{
				Name: "runs_scored", Kind: KindNumber,
				Min: 0, Max: 500, Integer: true,
				Prompt: "How many runs did you score?",
			},
			{
				Name: "balls_faced", Kind: KindNumber,
				Min: 0, Max: 1000, Integer: true,
				Prompt: "How many balls did you face?",
			},
			{
				Name: "overs_bowled", Kind: KindNumber,
				Min: 0, Max: 100,
				Prompt: "How many overs did you bowl?",
			},
			{
				Name: "wickets_taken", Kind: KindNumber,
				Min: 0, Max: 10, Integer: true,
				Prompt: "How many wickets did you take?",
			},
			{
				Name: "catches", Kind: KindNumber,
				Min: 0, Max: 20, Integer: true,
				Prompt: "Any catches in the field?",
			},
			{
				Name: "notes", Kind: KindText,
				Prompt: "Anything else from the match worth recording?",
			},
		},
	}
}

func restDaySchema() *Schema {
	return &Schema{
		Type:     ActivityRestDay,
		Version:  1,
		MinTurns: 1,
		Fields: []Field{
			{
				Name: "reason", Kind: KindEnum, Required: true,
				Enum:   []string{"scheduled", "injury", "illness", "travel", "other"},
				Prompt: "Was this a scheduled rest day, or was it injury, illness, travel, or something else?",
			},
			{
				Name: "mental_state", Kind: KindText,
				Prompt: "How are you feeling: recovered, tired, restless?",
			},
			{
				Name: "notes", Kind: KindText,
				Prompt: "Anything else worth noting about today?",
			},
		},
	}
}
