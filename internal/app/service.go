package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"gavel/api/internal/archive"
	"gavel/api/internal/auth"
	"gavel/api/internal/authpw"
	"gavel/api/internal/config"
	"gavel/api/internal/decision"
	"gavel/api/internal/docstore"
	"gavel/api/internal/email"
	"gavel/api/internal/events"
	"gavel/api/internal/export"
	"gavel/api/internal/rbac"
	"gavel/api/internal/search"
	"gavel/api/internal/store"
	"gavel/api/internal/util"
)

type Session struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	UserID       string    `json:"userId"`
	UserName     string    `json:"userName"`
	Role         string    `json:"role"`
	JTI          string    `json:"-"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type ledgerService interface {
	Record(e archive.Entry, author, message string) (archive.Commit, error)
	History(proposalID string, limit int) ([]archive.Commit, error)
}

type documentStore interface {
	Put(ctx context.Context, ownerID, filename, contentType string, body io.Reader, size int64) (docstore.Object, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type mailer interface {
	IsConfigured() bool
	SendOutcomeNotice(to string, data email.OutcomeData) error
	SendOpenedNotice(to []string, data email.OpenedData) error
}

type reportExporter interface {
	Export(ctx context.Context, report export.Report, format export.Format) (*export.Result, error)
}

// Dependencies are the collaborators of a Service. Store and Sessions are
// required; every other field may be left nil to disable that feature.
type Dependencies struct {
	Store    store.Store
	Sessions sessionStore
	Events   events.Publisher
	Search   *search.Service
	Ledger   ledgerService
	Docs     documentStore
	Mailer   mailer
	Exporter reportExporter
	Metrics  *Metrics
}

type Service struct {
	cfg       config.Config
	store     store.Store
	sessions  sessionStore
	passwords *authpw.Service
	gate      decision.Gate
	events    events.Publisher
	search    *search.Service
	ledger    ledgerService
	docs      documentStore
	mailer    mailer
	exporter  reportExporter
	metrics   *Metrics
	now       func() time.Time
}

func New(cfg config.Config, deps Dependencies) *Service {
	publisher := deps.Events
	if publisher == nil {
		publisher = events.LogPublisher{}
	}
	searchService := deps.Search
	if searchService == nil {
		searchService = search.NewService(nil, search.NewScan(deps.Store))
	}
	exporter := deps.Exporter
	if exporter == nil {
		exporter = export.NewService()
	}
	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		sessions:  deps.Sessions,
		passwords: authpw.NewService(deps.Store),
		gate:      decision.NewGate(cfg.AttendanceWindow),
		events:    publisher,
		search:    searchService,
		ledger:    deps.Ledger,
		docs:      deps.Docs,
		mailer:    deps.Mailer,
		exporter:  exporter,
		metrics:   deps.Metrics,
		now:       time.Now,
	}
}

// Passwords exposes the password service so callers can tune the bcrypt cost.
func (s *Service) Passwords() *authpw.Service {
	return s.passwords
}

// Bootstrap creates the configured admin account when it does not exist yet
// and rebuilds the search index.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.cfg.AdminPassword != "" {
		_, err := s.store.GetUserByUsername(ctx, s.cfg.AdminUsername)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if _, err := s.passwords.Register(ctx, authpw.RegisterRequest{
				Username: s.cfg.AdminUsername,
				Password: s.cfg.AdminPassword,
				Role:     string(rbac.RoleAdmin),
			}); err != nil {
				return fmt.Errorf("bootstrap admin: %w", err)
			}
			slog.InfoContext(ctx, "created admin user", "username", s.cfg.AdminUsername)
		case err != nil:
			return fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	s.search.ReindexFrom(ctx, s.loadSearchRecords)
	return nil
}

func (s *Service) loadSearchRecords(ctx context.Context) ([]search.ProposalRecord, error) {
	const page = 200
	var records []search.ProposalRecord
	for offset := 0; ; offset += page {
		proposals, err := s.store.ListProposals(ctx, store.ProposalFilter{Limit: page, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, p := range proposals {
			records = append(records, search.RecordOf(p))
		}
		if len(proposals) < page {
			return records, nil
		}
	}
}

func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	user, err := s.passwords.Authenticate(ctx, strings.TrimSpace(username), password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, user.Role, jti, expiresAt)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

type CreateUserInput struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Role        string `json:"role"`
}

func (s *Service) CreateUser(ctx context.Context, session Session, input CreateUserInput) (store.User, error) {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return store.User{}, forbidden("Only admins can create users")
	}
	if strings.TrimSpace(input.Username) == "" || input.Password == "" {
		return store.User{}, badRequest("username and password are required")
	}
	return s.passwords.Register(ctx, authpw.RegisterRequest{
		Username:    input.Username,
		Password:    input.Password,
		DisplayName: input.DisplayName,
		Email:       input.Email,
		Role:        input.Role,
	})
}

func (s *Service) ChangePassword(ctx context.Context, session Session, current, next string) error {
	return s.passwords.ChangePassword(ctx, session.UserID, current, next)
}

type CreateCommitteeInput struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

func (s *Service) CreateCommittee(ctx context.Context, session Session, input CreateCommitteeInput) (store.Committee, error) {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return store.Committee{}, forbidden("Only admins can create committees")
	}
	code := strings.ToUpper(strings.TrimSpace(input.Code))
	name := strings.TrimSpace(input.Name)
	if code == "" || name == "" {
		return store.Committee{}, badRequest("code and name are required")
	}
	committee := store.Committee{ID: util.NewID("cmt"), Code: code, Name: name}
	if err := s.store.CreateCommittee(ctx, committee); err != nil {
		return store.Committee{}, err
	}
	return committee, nil
}

type AddMemberInput struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

func (s *Service) AddCommitteeMember(ctx context.Context, session Session, committeeID string, input AddMemberInput) (store.Membership, error) {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return store.Membership{}, forbidden("Only admins can manage committee membership")
	}
	if _, err := s.store.GetCommittee(ctx, committeeID); err != nil {
		return store.Membership{}, err
	}
	if _, err := s.store.GetUser(ctx, input.UserID); err != nil {
		return store.Membership{}, err
	}
	role := store.CommitteeMember
	if input.Role == store.CommitteeChair {
		role = store.CommitteeChair
	}
	membership := store.Membership{CommitteeID: committeeID, UserID: input.UserID, Role: role}
	if err := s.store.AddMembership(ctx, membership); err != nil {
		return store.Membership{}, err
	}
	return membership, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// actorFor resolves the caller against p's committee. Chapter proposals have
// no chair.
func actorFor(ctx context.Context, q store.Queries, session Session, p decision.Proposal) (decision.Actor, error) {
	actor := decision.Actor{ID: session.UserID}
	if !p.Scope.IsCommittee() {
		return actor, nil
	}
	membership, err := q.GetMembership(ctx, p.Scope.CommitteeID, session.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return actor, nil
		}
		return decision.Actor{}, err
	}
	actor.Chair = membership.Role == store.CommitteeChair
	return actor, nil
}

func (s *Service) emit(ctx context.Context, t events.Type, proposalID, actorID string, data map[string]any) {
	event := events.Event{
		ID:         util.NewID("evt"),
		Type:       t,
		ProposalID: proposalID,
		ActorID:    actorID,
		At:         s.now().UTC(),
		Data:       data,
	}
	if err := s.events.Publish(ctx, event); err != nil {
		slog.WarnContext(ctx, "publish event", "type", t, "proposal_id", proposalID, "err", err)
	}
}

func (s *Service) resultURL(proposalID string) string {
	if s.cfg.PublicURL == "" {
		return ""
	}
	return strings.TrimRight(s.cfg.PublicURL, "/") + "/proposals/" + proposalID + "/result"
}
