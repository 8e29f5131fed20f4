package bridge

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/huddle/internal/transcribe"
)

type signUpRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Handle   string `json:"handle" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type signInRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

type usernameRequest struct {
	Username string `json:"username" binding:"required,max=64"`
}

type joinRoomRequest struct {
	RoomID string `json:"roomId" binding:"required"`
}

type sendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

type sendSignalRequest struct {
	PeerID string          `json:"peerId" binding:"required"`
	Signal json.RawMessage `json:"signal" binding:"required"`
}

type transcribeRequest struct {
	// Samples is base64 16-bit little-endian PCM.
	Samples    []byte `json:"samples" binding:"required"`
	SampleRate int    `json:"sampleRate" binding:"required,gt=0"`
	Channels   int    `json:"channels" binding:"omitempty,gte=1,lte=8"`
	Speaker    string `json:"speaker"`
}

type thresholdRequest struct {
	Value *float64 `json:"value" binding:"required,gte=0,lte=1"`
}

type modelRequest struct {
	Model string `json:"model" binding:"required"`
}

type apiKeyRequest struct {
	APIKey string `json:"apiKey"`
}

type conversationRequest struct {
	Conversation []string `json:"conversation"`
}

type screenShareRequest struct {
	SourceID string `json:"sourceId" binding:"required"`
}

func (s *Server) signUp(c *gin.Context) {
	var req signUpRequest
	if !bind(c, &req) {
		return
	}
	user, err := s.app.SignUp(c.Request.Context(), req.Email, req.Handle, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"user": user})
}

func (s *Server) signIn(c *gin.Context) {
	var req signInRequest
	if !bind(c, &req) {
		return
	}
	user, err := s.app.SignIn(c.Request.Context(), req.Identifier, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"user": user})
}

func (s *Server) signOut(c *gin.Context) {
	if err := s.app.SignOut(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) getCurrentUser(c *gin.Context) {
	ok(c, gin.H{"user": s.app.CurrentUser()})
}

func (s *Server) setUsername(c *gin.Context) {
	var req usernameRequest
	if !bind(c, &req) {
		return
	}
	if err := s.app.SetUsername(req.Username); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"username": s.app.DisplayName()})
}

func (s *Server) joinRoom(c *gin.Context) {
	var req joinRoomRequest
	if !bind(c, &req) {
		return
	}
	topic, err := s.app.JoinRoom(c.Request.Context(), req.RoomID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"roomId": req.RoomID, "topic": topic.String()})
}

func (s *Server) leaveRoom(c *gin.Context) {
	if err := s.app.LeaveRoom(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) createRoom(c *gin.Context) {
	ok(c, gin.H{"roomId": s.app.CreateRoomCode()})
}

func (s *Server) getOwnID(c *gin.Context) {
	ok(c, gin.H{"id": s.app.OwnID()})
}

func (s *Server) quit(c *gin.Context) {
	ok(c, nil)
	s.app.Quit()
}

func (s *Server) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if !bind(c, &req) {
		return
	}
	msg, err := s.app.SendMessage(req.Text)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"message": msg})
}

func (s *Server) sendSignal(c *gin.Context) {
	var req sendSignalRequest
	if !bind(c, &req) {
		return
	}
	if err := s.app.SendSignal(req.PeerID, req.Signal); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) transcribeAudio(c *gin.Context) {
	var req transcribeRequest
	if !bind(c, &req) {
		return
	}
	if req.Channels == 0 {
		req.Channels = 1
	}

	audio := transcribe.Audio{Samples: req.Samples, SampleRate: req.SampleRate, Channels: req.Channels}
	res, err := s.app.TranscribeAudio(c.Request.Context(), audio, req.Speaker)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"text": res.Text, "speaker": res.Speaker, "level": res.Level, "skipped": res.Skipped})
}

func (s *Server) updateAudioThreshold(c *gin.Context) {
	var req thresholdRequest
	if !bind(c, &req) {
		return
	}
	doc, err := s.app.UpdateAudioThreshold(*req.Value)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"settings": doc})
}

func (s *Server) updateTranscriptionThreshold(c *gin.Context) {
	var req thresholdRequest
	if !bind(c, &req) {
		return
	}
	doc, err := s.app.UpdateTranscriptionThreshold(*req.Value)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"settings": doc})
}

func (s *Server) updateTranscriptionModel(c *gin.Context) {
	var req modelRequest
	if !bind(c, &req) {
		return
	}
	doc, err := s.app.UpdateTranscriptionModel(req.Model)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"settings": doc})
}

func (s *Server) updateAPIKey(c *gin.Context) {
	var req apiKeyRequest
	if !bind(c, &req) {
		return
	}
	masked, err := s.app.UpdateAPIKey(req.APIKey)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"apiKey": masked})
}

func (s *Server) getAPIKey(c *gin.Context) {
	ok(c, gin.H{"apiKey": s.app.MaskedAPIKey()})
}

func (s *Server) getSettings(c *gin.Context) {
	ok(c, gin.H{"settings": s.app.Settings()})
}

func (s *Server) generateCallSummary(c *gin.Context) {
	summary, err := s.app.GenerateCallSummary(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"summary": summary.Summary, "lines": summary.Lines})
}

func (s *Server) generateTasks(c *gin.Context) {
	var req conversationRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}
	tasks, err := s.app.GenerateTaskFromConversation(c.Request.Context(), req.Conversation)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"tasks": tasks})
}

func (s *Server) getScreenSources(c *gin.Context) {
	sources, err := s.app.ScreenSources(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	resp := gin.H{"sources": sources, "selected": nil}
	if src, found := s.app.ScreenShare(); found {
		resp["selected"] = src
	}
	ok(c, resp)
}

func (s *Server) startScreenShare(c *gin.Context) {
	var req screenShareRequest
	if !bind(c, &req) {
		return
	}
	src, err := s.app.StartScreenShare(c.Request.Context(), req.SourceID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"source": src})
}
