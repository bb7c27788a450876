package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"murmur/bot/internal/auth"
	"murmur/bot/internal/config"
	"murmur/bot/internal/search"
	"murmur/bot/internal/session"
	"murmur/bot/internal/store"
	"murmur/bot/internal/util"

	"golang.org/x/crypto/bcrypt"
)

const (
	ActionApprove = "approve"
	ActionReject  = "reject"

	welcomeText = "Welcome.\n\n" +
		"This is an anonymous confession bot.\n" +
		"Send your confession as a message.\n\n" +
		"Rules:\n" +
		"- No names\n" +
		"- No hate\n" +
		"- Be respectful"

	helpText = "Commands:\n" +
		"/confess - submit a confession\n" +
		"/setname - set your display name\n" +
		"/setbio - set your bio\n" +
		"/profile - show your profile\n" +
		"/cancel - cancel the current action\n\n" +
		"Any plain message is treated as a confession."
)

type dataStore interface {
	GetProfile(ctx context.Context, userID string) (store.Profile, error)
	UpdateProfile(ctx context.Context, userID string, mutate func(*store.Profile)) (store.Profile, error)
	CreateSubmission(ctx context.Context, sub store.Submission) error
	SetSubmissionCard(ctx context.Context, tokenHash, cardRef string) error
	GetSubmission(ctx context.Context, tokenHash string) (store.Submission, error)
	ListPendingSubmissions(ctx context.Context, limit int) ([]store.Submission, error)
	ApproveSubmission(ctx context.Context, tokenHash, decidedBy string) (store.ApproveResult, bool, error)
	RejectSubmission(ctx context.Context, tokenHash, decidedBy string) (store.Submission, bool, error)
	ListDecisions(ctx context.Context, outcome string, limit int) ([]store.DecisionLogEntry, error)
	SummaryCounts(ctx context.Context) (int, int, int, error)
	Ping(ctx context.Context) error
}

type relayClient interface {
	SendReply(ctx context.Context, userID, text string) error
	PostModerationCard(ctx context.Context, body, token string) (string, error)
	UpdateModerationCard(ctx context.Context, ref, status string) error
	Publish(ctx context.Context, number int64, body string) error
}

type Service struct {
	cfg    config.Config
	store  dataStore
	modes  session.ModeStore
	relay  relayClient
	search *search.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, modes session.ModeStore, relay relayClient, searchService *search.Service) *Service {
	return &Service{
		cfg:    cfg,
		store:  dataStore,
		modes:  modes,
		relay:  relay,
		search: searchService,
	}
}

// Bootstrap backfills the search index from Postgres.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

// HandleCommand routes an explicit command event from the bridge.
func (s *Service) HandleCommand(ctx context.Context, userID, command string) error {
	command = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(command)), "/")
	switch command {
	case "start":
		return s.reply(ctx, userID, welcomeText)
	case "help":
		return s.reply(ctx, userID, helpText)
	case "confess":
		if err := s.modes.SetMode(ctx, userID, session.ModeAwaitingConfession); err != nil {
			return fmt.Errorf("set mode: %w", err)
		}
		return s.reply(ctx, userID, "Send your confession as a message.")
	case "setname":
		if err := s.modes.SetMode(ctx, userID, session.ModeAwaitingName); err != nil {
			return fmt.Errorf("set mode: %w", err)
		}
		return s.reply(ctx, userID, fmt.Sprintf("Send your new name (up to %d characters).", s.cfg.NameMaxLen))
	case "setbio":
		if err := s.modes.SetMode(ctx, userID, session.ModeAwaitingBio); err != nil {
			return fmt.Errorf("set mode: %w", err)
		}
		return s.reply(ctx, userID, fmt.Sprintf("Send your new bio (up to %d characters).", s.cfg.BioMaxLen))
	case "cancel":
		if err := s.modes.ClearMode(ctx, userID); err != nil {
			return fmt.Errorf("clear mode: %w", err)
		}
		return s.reply(ctx, userID, "Cancelled.")
	case "profile":
		profile, err := s.store.GetProfile(ctx, userID)
		if err != nil {
			return err
		}
		return s.reply(ctx, userID, formatProfile(profile))
	default:
		return s.reply(ctx, userID, "Unknown command. Send /help for the list.")
	}
}

// HandleMessage interprets a plain text message according to the sender's
// current input mode. Idle text defaults to the confession path.
func (s *Service) HandleMessage(ctx context.Context, userID, text string) error {
	mode, err := s.modes.GetMode(ctx, userID)
	if err != nil {
		return fmt.Errorf("get mode: %w", err)
	}

	switch mode {
	case session.ModeAwaitingName:
		return s.consumeProfileField(ctx, userID, text, "name")
	case session.ModeAwaitingBio:
		return s.consumeProfileField(ctx, userID, text, "bio")
	case session.ModeAwaitingConfession:
		if err := s.modes.ClearMode(ctx, userID); err != nil {
			return fmt.Errorf("clear mode: %w", err)
		}
		return s.SubmitConfession(ctx, userID, text)
	default:
		return s.SubmitConfession(ctx, userID, text)
	}
}

func (s *Service) consumeProfileField(ctx context.Context, userID, text, field string) error {
	value := strings.TrimSpace(text)
	if value == "" {
		return s.reply(ctx, userID, "That looks empty. Send a non-empty value, or /cancel.")
	}

	maxLen := s.cfg.NameMaxLen
	if field == "bio" {
		maxLen = s.cfg.BioMaxLen
	}
	value = truncate(value, maxLen)

	_, err := s.store.UpdateProfile(ctx, userID, func(p *store.Profile) {
		if field == "bio" {
			p.Bio = value
		} else {
			p.Name = value
		}
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", field, err)
	}

	if err := s.modes.ClearMode(ctx, userID); err != nil {
		log.Printf("clear mode after %s update for %s: %v", field, userID, err)
	}
	return s.reply(ctx, userID, fmt.Sprintf("Your %s is now %q.", field, value))
}

// SubmitConfession encodes a submission into a pending moderation unit: the
// correlation token is generated server-side and only its hash is stored, so
// the acting moderator can neither learn nor substitute the submitter. The
// moderation card is dispatched after the durable write, outside any lock.
func (s *Service) SubmitConfession(ctx context.Context, userID, text string) error {
	body := strings.TrimSpace(text)
	if body == "" {
		return s.reply(ctx, userID, "That looks empty. Send your confession as a plain message.")
	}

	token := util.NewToken()
	sub := store.Submission{
		TokenHash:   auth.HashToken(token),
		SubmitterID: userID,
		Body:        body,
	}
	if err := s.store.CreateSubmission(ctx, sub); err != nil {
		return fmt.Errorf("create submission: %w", err)
	}

	cardRef, err := s.relay.PostModerationCard(ctx, "New confession:\n"+body, token)
	if err != nil {
		// The submission is durable and shows up in the pending queue; the
		// card can be re-posted from there.
		log.Printf("post moderation card: %v", err)
	} else if err := s.store.SetSubmissionCard(ctx, sub.TokenHash, cardRef); err != nil {
		log.Printf("set submission card: %v", err)
	}

	return s.reply(ctx, userID, "Your confession was received anonymously.\nIt will be reviewed before posting.")
}

// Outcome reports how a moderation decision resolved.
type Outcome struct {
	Status    string `json:"status"`
	Number    int64  `json:"number,omitempty"`
	Duplicate bool   `json:"duplicate"`
}

// Resolve consumes a decision event carrying the raw correlation token, as
// delivered by the bridge when a moderation card button is pressed.
func (s *Service) Resolve(ctx context.Context, token, action, decidedBy string) (Outcome, error) {
	return s.ResolveHash(ctx, auth.HashToken(token), action, decidedBy)
}

// ResolveHash resolves a moderation unit by its stored token hash. The
// moderator API uses this form: its callers are authenticated and only
// learn hashes from the pending queue, never raw tokens.
func (s *Service) ResolveHash(ctx context.Context, tokenHash, action, decidedBy string) (Outcome, error) {
	switch action {
	case ActionApprove:
		return s.approve(ctx, tokenHash, decidedBy)
	case ActionReject:
		return s.reject(ctx, tokenHash, decidedBy)
	default:
		return Outcome{}, domainError(http.StatusBadRequest, "INVALID_ACTION", "Action must be approve or reject", nil)
	}
}

func (s *Service) approve(ctx context.Context, tokenHash, decidedBy string) (Outcome, error) {
	result, resolved, err := s.store.ApproveSubmission(ctx, tokenHash, decidedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return Outcome{}, domainError(http.StatusNotFound, "UNKNOWN_CORRELATION", "No pending unit matches this token", nil)
	}
	if err != nil {
		return Outcome{}, err
	}
	if !resolved {
		log.Printf("duplicate decision %s on unit already %s", ActionApprove, result.Submission.Status)
		return Outcome{Status: result.Submission.Status, Duplicate: true}, nil
	}

	// Everything durable is committed; outbound effects are best-effort.
	sub := result.Submission
	if err := s.relay.Publish(ctx, result.Number, sub.Body); err != nil {
		log.Printf("publish confession #%d: %v", result.Number, err)
	}
	if sub.CardRef != "" {
		if err := s.relay.UpdateModerationCard(ctx, sub.CardRef, fmt.Sprintf("Approved - published as #%d", result.Number)); err != nil {
			log.Printf("update moderation card %s: %v", sub.CardRef, err)
		}
	}
	if err := s.relay.SendReply(ctx, sub.SubmitterID, fmt.Sprintf("Your confession was approved and published as #%d. Aura +1.", result.Number)); err != nil {
		log.Printf("notify submitter: %v", err)
	}
	if s.search != nil {
		s.search.IndexPublication(search.PublicationRecord{
			ID:     strconv.FormatInt(result.Number, 10),
			Number: result.Number,
			Body:   sub.Body,
		})
	}

	return Outcome{Status: store.StatusApproved, Number: result.Number}, nil
}

func (s *Service) reject(ctx context.Context, tokenHash, decidedBy string) (Outcome, error) {
	sub, resolved, err := s.store.RejectSubmission(ctx, tokenHash, decidedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return Outcome{}, domainError(http.StatusNotFound, "UNKNOWN_CORRELATION", "No pending unit matches this token", nil)
	}
	if err != nil {
		return Outcome{}, err
	}
	if !resolved {
		log.Printf("duplicate decision %s on unit already %s", ActionReject, sub.Status)
		return Outcome{Status: sub.Status, Duplicate: true}, nil
	}

	if sub.CardRef != "" {
		if err := s.relay.UpdateModerationCard(ctx, sub.CardRef, "Rejected"); err != nil {
			log.Printf("update moderation card %s: %v", sub.CardRef, err)
		}
	}
	if err := s.relay.SendReply(ctx, sub.SubmitterID, "Your confession was reviewed and not published."); err != nil {
		log.Printf("notify submitter: %v", err)
	}

	return Outcome{Status: store.StatusRejected}, nil
}

// SignIn checks the moderator password and issues an access token for the
// moderator API.
func (s *Service) SignIn(ctx context.Context, password string) (string, error) {
	if s.cfg.ModeratorHash == "" {
		return "", domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Moderator sign-in is not configured", nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.ModeratorHash), []byte(password)); err != nil {
		return "", domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Wrong password", nil)
	}
	return auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub: "moderator",
		JTI: util.NewID("jti"),
		Exp: time.Now().Add(s.cfg.AccessTTL).Unix(),
	})
}

// VerifyModerator validates a moderator API access token.
func (s *Service) VerifyModerator(token string) error {
	_, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	return err
}

func (s *Service) PendingQueue(ctx context.Context, limit int) ([]store.Submission, error) {
	return s.store.ListPendingSubmissions(ctx, limit)
}

func (s *Service) Decisions(ctx context.Context, outcome string, limit int) ([]store.DecisionLogEntry, error) {
	return s.store.ListDecisions(ctx, outcome, limit)
}

func (s *Service) Stats(ctx context.Context) (pending int, published int, profiles int, err error) {
	return s.store.SummaryCounts(ctx)
}

func (s *Service) SearchPublications(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingModes(ctx context.Context) error {
	return s.modes.Ping(ctx)
}

func (s *Service) reply(ctx context.Context, userID, text string) error {
	if err := s.relay.SendReply(ctx, userID, text); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

func formatProfile(p store.Profile) string {
	return fmt.Sprintf("Name: %s\nBio: %s\nAura: %d\nFollowers: %d\nFollowing: %d",
		p.Name, p.Bio, p.Aura, p.Followers, p.Following)
}

func truncate(value string, maxLen int) string {
	runes := []rune(value)
	if maxLen <= 0 || len(runes) <= maxLen {
		return value
	}
	return string(runes[:maxLen])
}
