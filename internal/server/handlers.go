package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/interview-orchestrator/internal/agents"
	"github.com/jonathan/interview-orchestrator/internal/llm"
	"github.com/jonathan/interview-orchestrator/internal/session"
	"github.com/jonathan/interview-orchestrator/internal/store"
	"github.com/jonathan/interview-orchestrator/internal/types"
)

// StartRequest is the body for POST /sessions/start.
type StartRequest struct {
	InterviewID string         `json:"interviewId"`
	CandidateID string         `json:"candidateId"`
	Persona     *types.Persona `json:"persona,omitempty"`
}

// TurnRequest is the body for POST /sessions/turn.
type TurnRequest struct {
	SessionID    string `json:"sessionId"`
	Answer       string `json:"answer"`
	RequestID    string `json:"requestId,omitempty"`
	AutoSend     bool   `json:"autoSend,omitempty"`
	AutoGenerate bool   `json:"autoGenerate,omitempty"`
	Level        int    `json:"candidateLevel,omitempty"`
}

// QuestionPayload is the next interviewer prompt returned to the UI.
type QuestionPayload struct {
	Content          string   `json:"content"`
	Tone             string   `json:"tone,omitempty"`
	Competency       string   `json:"competency,omitempty"`
	TargetedCriteria []string `json:"targetedCriteria,omitempty"`
	ProjectAnchor    string   `json:"projectAnchor,omitempty"`
}

// EvaluationPayload is the turn's evaluation summary.
type EvaluationPayload struct {
	Summary string                 `json:"summary"`
	Score   *types.CompetencyScore `json:"competencyScore,omitempty"`
}

// StartResponse is the body for a successful /sessions/start.
type StartResponse struct {
	SessionID      string                     `json:"sessionId"`
	Stage          types.Stage                `json:"stage"`
	Persona        types.Persona              `json:"persona"`
	Profile        types.CandidateProfile     `json:"profile"`
	Question       *QuestionPayload           `json:"question,omitempty"`
	Events         []types.Event              `json:"events"`
	Competencies   []types.CompetencySnapshot `json:"competencies"`
	OverallScore   float64                    `json:"overallScore"`
	QuestionsAsked int                        `json:"questionsAsked"`
	ElapsedMs      int64                      `json:"elapsedMs"`
}

// TurnResponse is the body for a successful /sessions/turn. Events contain
// only the entries appended since the previous response.
type TurnResponse struct {
	Stage          types.Stage                `json:"stage"`
	Question       *QuestionPayload           `json:"question,omitempty"`
	Answer         string                     `json:"answer,omitempty"`
	Evaluation     *EvaluationPayload         `json:"evaluation,omitempty"`
	Events         []types.Event              `json:"events"`
	Competencies   []types.CompetencySnapshot `json:"competencies"`
	OverallScore   float64                    `json:"overallScore"`
	QuestionsAsked int                        `json:"questionsAsked"`
	ElapsedMs      int64                      `json:"elapsedMs"`
	Completed      bool                       `json:"completed"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid_payload", "invalid request body")
		return
	}
	if req.InterviewID == "" || req.CandidateID == "" {
		s.errorResponse(w, http.StatusBadRequest, "invalid_payload", "interviewId and candidateId are required")
		return
	}

	var record *store.InterviewRecord
	var profile *types.CandidateProfile
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		record, err = s.rubrics.GetByInterview(ctx, req.InterviewID)
		return err
	})
	g.Go(func() error {
		var err error
		profile, err = s.candidates.Get(ctx, req.CandidateID)
		return err
	})
	if err := g.Wait(); err != nil {
		switch {
		case errors.Is(err, store.ErrInterviewNotFound):
			s.errorResponse(w, http.StatusNotFound, "interview_not_found", "no rubric found for interview")
		case errors.Is(err, store.ErrCandidateNotFound):
			s.errorResponse(w, http.StatusNotFound, "candidate_not_found", "candidate profile not found")
		default:
			s.logger.Error().Err(err).Msg("start lookup failed")
			s.errorResponse(w, http.StatusInternalServerError, "internal_error", "failed to load interview data")
		}
		return
	}

	persona := types.DefaultPersona()
	if req.Persona != nil && req.Persona.Name != "" {
		persona = *req.Persona
	}

	ic, err := s.sessions.Start(r.Context(), session.StartInput{
		InterviewID:    req.InterviewID,
		CandidateID:    req.CandidateID,
		JobTitle:       record.JobTitle,
		JobDescription: record.JobDescription,
		Persona:        persona,
		Profile:        *profile,
		Rubrics:        record.Rubrics,
	})
	if err != nil {
		s.respondFlowError(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, StartResponse{
		SessionID:      ic.SessionID,
		Stage:          ic.Stage,
		Persona:        ic.Persona,
		Profile:        ic.Profile,
		Question:       questionFromTranscript(ic),
		Events:         ic.Events,
		Competencies:   ic.Snapshot(),
		OverallScore:   ic.OverallScore(),
		QuestionsAsked: ic.QuestionsAsked,
		ElapsedMs:      time.Since(started).Milliseconds(),
	})
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid_payload", "invalid request body")
		return
	}
	if req.SessionID == "" {
		s.errorResponse(w, http.StatusBadRequest, "invalid_payload", "sessionId is required")
		return
	}

	answer := strings.TrimSpace(req.Answer)
	if answer == "" && req.AutoGenerate {
		if s.autoReply == nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid_payload", "answer auto-generation is not configured")
			return
		}
		generated, err := s.generateAnswer(r.Context(), req)
		if err != nil {
			s.respondFlowError(w, err)
			return
		}
		answer = generated
	}
	if answer == "" {
		s.errorResponse(w, http.StatusBadRequest, "invalid_payload", "answer is required")
		return
	}

	result, err := s.sessions.Turn(r.Context(), req.SessionID, answer, req.RequestID)
	if err != nil {
		s.respondFlowError(w, err)
		return
	}

	ic := result.Context
	resp := TurnResponse{
		Stage:          ic.Stage,
		Answer:         answer,
		Events:         result.NewEvents,
		Competencies:   ic.Snapshot(),
		OverallScore:   ic.OverallScore(),
		QuestionsAsked: ic.QuestionsAsked,
		ElapsedMs:      time.Since(started).Milliseconds(),
		Completed:      result.Completed,
	}
	if !result.Completed && result.Question != nil {
		resp.Question = questionPayload(*result.Question)
	}
	if result.Evaluation != nil {
		resp.Evaluation = &EvaluationPayload{
			Summary: result.Evaluation.Summary,
			Score:   result.Evaluation.Score,
		}
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ic, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		s.respondFlowError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, StartResponse{
		SessionID:      ic.SessionID,
		Stage:          ic.Stage,
		Persona:        ic.Persona,
		Profile:        ic.Profile,
		Question:       questionFromTranscript(ic),
		Events:         ic.Events,
		Competencies:   ic.Snapshot(),
		OverallScore:   ic.OverallScore(),
		QuestionsAsked: ic.QuestionsAsked,
	})
}

// generateAnswer produces a simulated candidate reply for autoGenerate turns.
func (s *Server) generateAnswer(ctx context.Context, req TurnRequest) (string, error) {
	ic, err := s.sessions.Get(req.SessionID)
	if err != nil {
		return "", err
	}
	question := questionFromTranscript(ic)
	if question == nil {
		return "", session.ErrSessionComplete
	}
	out, err := s.autoReply.Invoke(ctx, agents.AutoReplyInput{
		Question:         question.Content,
		ResumeSummary:    ic.Profile.ResumeSummary,
		Competency:       ic.Competency,
		ProjectAnchor:    ic.ProjectAnchor,
		TargetedCriteria: ic.TargetedCriteria,
		Transcript:       ic.Transcript,
		Level:            req.Level,
	})
	if err != nil {
		return "", err
	}
	return out.Answer, nil
}

// respondFlowError maps engine errors onto the HTTP error taxonomy.
func (s *Server) respondFlowError(w http.ResponseWriter, err error) {
	var gatewayErr *llm.GatewayError
	switch {
	case errors.Is(err, session.ErrSessionUnknown):
		s.errorResponse(w, http.StatusUnauthorized, "session_unknown", "no live session with that id")
	case errors.Is(err, session.ErrSessionExpired):
		s.errorResponse(w, http.StatusGone, "session_expired", "session expired; start a new one")
	case errors.Is(err, session.ErrSessionComplete):
		s.errorResponse(w, http.StatusConflict, "session_complete", "interview already completed")
	case errors.Is(err, session.ErrDuplicateTurn):
		s.errorResponse(w, http.StatusBadRequest, "invalid_payload", "duplicate turn request")
	case errors.As(err, &gatewayErr):
		s.logger.Error().Str("route", gatewayErr.Route).Str("kind", string(gatewayErr.Kind)).Msg("llm failure")
		s.errorResponse(w, http.StatusBadGateway, "llm_failure", "the interview engine could not reach the model; retry the turn")
	case errors.Is(err, context.DeadlineExceeded):
		s.errorResponse(w, http.StatusBadGateway, "llm_failure", "the turn exceeded its deadline; retry the turn")
	default:
		s.logger.Error().Err(err).Msg("turn failed")
		s.errorResponse(w, http.StatusInternalServerError, "internal_error", "unexpected engine failure")
	}
}

// questionFromTranscript finds the pending interviewer prompt, if any.
func questionFromTranscript(ic *types.InterviewContext) *QuestionPayload {
	if ic.Stage == types.StageComplete {
		return nil
	}
	for i := len(ic.Transcript) - 1; i >= 0; i-- {
		message := ic.Transcript[i]
		if message.Speaker == types.SpeakerCandidate {
			return nil
		}
		if message.Speaker == types.SpeakerInterviewer {
			return questionPayload(message)
		}
	}
	return nil
}

func questionPayload(message types.Message) *QuestionPayload {
	return &QuestionPayload{
		Content:          message.Content,
		Tone:             message.Tone,
		Competency:       message.Competency,
		TargetedCriteria: message.TargetedCriteria,
		ProjectAnchor:    message.ProjectAnchor,
	}
}
