package types

// CandidateProfile is the resume snapshot handed to the engine at session
// start. Read-only during the session.
type CandidateProfile struct {
	CandidateName          string   `json:"candidate_name" validate:"required"`
	ResumeSummary          string   `json:"resume_summary"`
	ExperienceYears        string   `json:"experience_years"`
	HighlightedExperiences []string `json:"highlighted_experiences"`
}

// Persona shapes the interviewer's tone. Read-only during the session.
type Persona struct {
	Name          string `json:"name"`
	ProbingStyle  string `json:"probing_style"`
	HintStyle     string `json:"hint_style"`
	Encouragement string `json:"encouragement"`
}

// DefaultPersona is used when a start request does not name one.
func DefaultPersona() Persona {
	return Persona{
		Name:          "Friendly Expert",
		ProbingStyle:  "curious and concrete, always anchored in real projects",
		HintStyle:     "gentle nudges toward fundamentals without giving answers away",
		Encouragement: "acknowledge effort and keep the conversation moving",
	}
}
