package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"gavel/api/internal/archive"
	"gavel/api/internal/auth"
	"gavel/api/internal/authpw"
	"gavel/api/internal/config"
	"gavel/api/internal/decision"
	"gavel/api/internal/events"
	"gavel/api/internal/session"
	"gavel/api/internal/store"
)

const testPassword = "correct-horse"

type fixture struct {
	svc    *Service
	store  *store.MemoryStore
	events *events.Recorder
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		store:  store.NewMemoryStore(),
		events: &events.Recorder{},
		clock:  time.Now().UTC().Truncate(time.Second),
	}
	cfg := config.Config{
		JWTSecret:             "test-secret",
		AccessTTL:             time.Hour,
		RefreshTTL:            24 * time.Hour,
		AttendanceWindow:      3 * time.Hour,
		RequirePasswordOnCast: true,
	}
	f.svc = New(cfg, Dependencies{
		Store:    f.store,
		Sessions: session.NewRedisStoreWithClient(client),
		Events:   f.events,
		Ledger:   archive.New(t.TempDir()),
		Metrics:  NewMetrics(),
	})
	f.svc.passwords.WithCost(bcrypt.MinCost)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func (f *fixture) user(t *testing.T, username, role string) Session {
	t.Helper()
	u, err := f.svc.passwords.Register(context.Background(), authpw.RegisterRequest{
		Username: username,
		Password: testPassword,
		Email:    username + "@example.org",
		Role:     role,
	})
	require.NoError(t, err)
	return Session{UserID: u.ID, UserName: u.DisplayName, Role: u.Role}
}

func (f *fixture) present(t *testing.T, voters ...Session) {
	t.Helper()
	for _, v := range voters {
		_, err := f.store.UpsertAttendance(context.Background(), store.AttendanceEntry{
			ID:         "att_" + v.UserID,
			VoterID:    v.UserID,
			Present:    true,
			RecordedBy: "usr_officer",
			RecordedAt: f.clock,
		})
		require.NoError(t, err)
	}
}

func (f *fixture) committee(t *testing.T, code string, chair Session, members ...Session) string {
	t.Helper()
	ctx := context.Background()
	admin := Session{UserID: "usr_root", Role: "admin"}
	c, err := f.svc.CreateCommittee(ctx, admin, CreateCommitteeInput{Code: code, Name: code + " committee"})
	require.NoError(t, err)
	_, err = f.svc.AddCommitteeMember(ctx, admin, c.ID, AddMemberInput{UserID: chair.UserID, Role: store.CommitteeChair})
	require.NoError(t, err)
	for _, m := range members {
		_, err = f.svc.AddCommitteeMember(ctx, admin, c.ID, AddMemberInput{UserID: m.UserID})
		require.NoError(t, err)
	}
	return c.ID
}

func (f *fixture) cast(s Session, proposalID, choice string) error {
	_, err := f.svc.CastBallot(context.Background(), s, proposalID, CastBallotInput{Choice: choice, Password: testPassword})
	return err
}

func percentage(threshold int) decision.ModeSpec {
	return decision.ModeSpec{Kind: decision.ModePercentage, Threshold: threshold}
}

func (f *fixture) open(t *testing.T, proposer Session, input OpenProposalInput) ProposalView {
	t.Helper()
	if input.Title == "" {
		input.Title = "Adopt the 2026 budget"
	}
	if input.Mode.Kind == "" {
		input.Mode = percentage(60)
	}
	if input.DocumentRef == "" && input.Mode.Kind != decision.ModePlurality {
		input.DocumentRef = "documents/budget.pdf"
	}
	p, err := f.svc.OpenProposal(context.Background(), proposer, input)
	require.NoError(t, err)
	return p
}

func TestOpenProposalRejectsInvalidConfiguration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.user(t, "ada", "member")

	_, err := f.svc.OpenProposal(ctx, ada, OpenProposalInput{Title: "No document", Mode: percentage(51)})
	assert.ErrorIs(t, err, decision.ErrInvalidConfiguration)

	_, err = f.svc.OpenProposal(ctx, ada, OpenProposalInput{
		Title: "One option",
		Mode:  decision.ModeSpec{Kind: decision.ModePlurality, Options: []string{"only"}},
	})
	assert.ErrorIs(t, err, decision.ErrInvalidConfiguration)

	_, err = f.svc.OpenProposal(ctx, ada, OpenProposalInput{Title: "Unknown", Mode: decision.ModeSpec{Kind: "ranked"}})
	assert.ErrorIs(t, err, decision.ErrInvalidConfiguration)

	assert.Empty(t, f.events.Events())
}

func TestOpenProposalClampsPastAvailability(t *testing.T) {
	f := newFixture(t)
	ada := f.user(t, "ada", "member")
	past := f.clock.Add(-48 * time.Hour)

	p := f.open(t, ada, OpenProposalInput{AvailableAt: &past})
	assert.Equal(t, f.clock, p.AvailableAt)
	assert.Equal(t, decision.StatusDraft, p.Status)
	assert.Equal(t, []events.Type{events.ProposalOpened}, f.events.Types())
}

func TestCastBallotRecordsAndPublishes(t *testing.T) {
	f := newFixture(t)
	ada := f.user(t, "ada", "member")
	bob := f.user(t, "bob", "member")
	f.present(t, bob)
	p := f.open(t, ada, OpenProposalInput{})

	require.NoError(t, f.cast(bob, p.ID, decision.ChoiceYes))

	cast := f.events.Events()[1]
	assert.Equal(t, events.BallotCast, cast.Type)
	assert.Equal(t, bob.UserID, cast.ActorID)
	assert.Equal(t, decision.ChoiceYes, cast.Data["choice"])

	verdict, err := f.svc.Eligibility(context.Background(), bob, p.ID)
	require.NoError(t, err)
	assert.Equal(t, decision.Verdict{Allowed: false, Reason: decision.ReasonAlreadyVoted}, verdict)
}

func TestCastBallotOnAnonymousProposalOmitsChoice(t *testing.T) {
	f := newFixture(t)
	ada := f.user(t, "ada", "member")
	bob := f.user(t, "bob", "member")
	f.present(t, bob)
	p := f.open(t, ada, OpenProposalInput{Anonymous: true})

	require.NoError(t, f.cast(bob, p.ID, decision.ChoiceNo))

	cast := f.events.Events()[1]
	_, hasChoice := cast.Data["choice"]
	assert.False(t, hasChoice)
}

func TestCastBallotEligibilityReasons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.user(t, "ada", "member")
	bob := f.user(t, "bob", "member")
	p := f.open(t, ada, OpenProposalInput{})

	err := f.cast(bob, p.ID, decision.ChoiceYes)
	var ineligible *decision.IneligibleError
	require.ErrorAs(t, err, &ineligible)
	assert.Equal(t, decision.ReasonNoAttendance, ineligible.Reason)
	assert.ErrorIs(t, err, decision.ErrNotEligible)

	_, err = f.store.UpsertAttendance(ctx, store.AttendanceEntry{ID: "att_1", VoterID: bob.UserID, Present: false, RecordedAt: f.clock})
	require.NoError(t, err)
	err = f.cast(bob, p.ID, decision.ChoiceYes)
	require.ErrorAs(t, err, &ineligible)
	assert.Equal(t, decision.ReasonAbsent, ineligible.Reason)

	f.present(t, bob)
	f.advance(3*time.Hour + time.Minute)
	err = f.cast(bob, p.ID, decision.ChoiceYes)
	require.ErrorAs(t, err, &ineligible)
	assert.Equal(t, decision.ReasonAttendanceExpired, ineligible.Reason)
}

func TestCastBallotBeforeAvailability(t *testing.T) {
	f := newFixture(t)
	ada := f.user(t, "ada", "member")
	bob := f.user(t, "bob", "member")
	f.present(t, bob)
	later := f.clock.Add(time.Hour)
	p := f.open(t, ada, OpenProposalInput{AvailableAt: &later})

	err := f.cast(bob, p.ID, decision.ChoiceYes)
	var ineligible *decision.IneligibleError
	require.ErrorAs(t, err, &ineligible)
	assert.Equal(t, decision.ReasonNotYetAvailable, ineligible.Reason)
}

func TestCastBallotRejectsInvalidChoice(t *testing.T) {
	f := newFixture(t)
	ada := f.user(t, "ada", "member")
	bob := f.user(t, "bob", "member")
	f.present(t, bob)
	p := f.open(t, ada, OpenProposalInput{})

	assert.ErrorIs(t, f.cast(bob, p.ID, decision.ChoiceAbstain), decision.ErrInvalidChoice)
	assert.ErrorIs(t, f.cast(bob, p.ID, "maybe"), decision.ErrInvalidChoice)

	ballots, err := f.store.ListBallots(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Empty(t, ballots)
}

func TestCastBallotRequiresPassword(t *testing.T) {
	f := newFixture(t)
	ada := f.user(t, "ada", "member")
	bob := f.user(t, "bob", "member")
	f.present(t, bob)
	p := f.open(t, ada, OpenProposalInput{})

	_, err := f.svc.CastBallot(context.Background(), bob, p.ID, CastBallotInput{Choice: decision.ChoiceYes, Password: "wrong-password"})
	assert.ErrorIs(t, err, authpw.ErrInvalidPassword)

	f.svc.cfg.RequirePasswordOnCast = false
	_, err = f.svc.CastBallot(context.Background(), bob, p.ID, CastBallotInput{Choice: decision.ChoiceYes})
	assert.NoError(t, err)
}

func TestConcurrentCastsAcceptExactlyOne(t *testing.T) {
	f := newFixture(t)
	ada := f.user(t, "ada", "member")
	bob := f.user(t, "bob", "member")
	f.present(t, bob)
	p := f.open(t, ada, OpenProposalInput{})

	const attempts = 16
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = f.cast(bob, p.ID, decision.ChoiceYes)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, decision.ErrAlreadyVoted)
	}
	assert.Equal(t, 1, succeeded)

	ballots, err := f.store.ListBallots(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Len(t, ballots, 1)
}

func TestCastRacingCloseSeesConsistentBallots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.user(t, "ada", "member")
	const voters = 10
	sessions := make([]Session, voters)
	for i := range voters {
		sessions[i] = f.user(t, fmt.Sprintf("voter%d", i), "member")
	}
	f.present(t, sessions...)
	p := f.open(t, ada, OpenProposalInput{})

	errs := make([]error, voters)
	var closed CloseResult
	var closeErr error
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range voters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs[i] = f.cast(sessions[i], p.ID, decision.ChoiceYes)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		closed, closeErr = f.svc.CloseVoting(ctx, ada, p.ID)
	}()
	close(start)
	wg.Wait()
	require.NoError(t, closeErr)

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		assert.ErrorIs(t, err, decision.ErrProposalClosed)
	}

	ballots, err := f.store.ListBallots(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, ballots, accepted)
	assert.Equal(t, len(ballots), closed.Result.Total)
}

func TestCloseVotingIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.user(t, "ada", "member")
	bob := f.user(t, "bob", "member")
	cy := f.user(t, "cy", "member")
	f.present(t, bob, cy)
	p := f.open(t, ada, OpenProposalInput{})
	require.NoError(t, f.cast(bob, p.ID, decision.ChoiceYes))
	require.NoError(t, f.cast(cy, p.ID, decision.ChoiceYes))

	first, err := f.svc.CloseVoting(ctx, ada, p.ID)
	require.NoError(t, err)
	assert.False(t, first.AlreadyClosed)
	assert.True(t, first.Result.Passed)
	assert.Equal(t, decision.StatusPassed, first.Proposal.Status)

	late := f.user(t, "late", "member")
	require.NoError(t, f.store.WithTx(ctx, func(q store.Queries) error {
		locked, err := q.LockProposal(ctx, p.ID)
		if err != nil {
			return err
		}
		locked.VotingClosed = false
		if err := q.UpdateProposal(ctx, locked); err != nil {
			return err
		}
		if err := q.InsertBallot(ctx, decision.Ballot{ProposalID: p.ID, VoterID: late.UserID, Choice: decision.ChoiceNo, CastAt: f.clock}); err != nil {
			return err
		}
		locked.VotingClosed = true
		return q.UpdateProposal(ctx, locked)
	}))

	f.advance(time.Hour)
	second, err := f.svc.CloseVoting(ctx, ada, p.ID)
	require.NoError(t, err)
	assert.True(t, second.AlreadyClosed)
	assert.Equal(t, first.Result, second.Result)

	closed := 0
	for _, typ := range f.events.Types() {
		if typ == events.ProposalClosed {
			closed++
		}
	}
	assert.Equal(t, 1, closed)

	commits, err := f.svc.Ledger(ctx, p.ID, 10)
	require.NoError(t, err)
	assert.Len(t, commits, 1)

	err = f.cast(ada, p.ID, decision.ChoiceYes)
	assert.ErrorIs(t, err, decision.ErrProposalClosed)
}

func TestCloseVotingPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.user(t, "ada", "member")
	bob := f.user(t, "bob", "member")
	chair := f.user(t, "chair", "member")
	committeeID := f.committee(t, "fin", chair, ada)

	chapter := f.open(t, ada, OpenProposalInput{})
	_, err := f.svc.CloseVoting(ctx, bob, chapter.ID)
	assert.ErrorIs(t, err, decision.ErrUnauthorized)
	_, err = f.svc.CloseVoting(ctx, chair, chapter.ID)
	assert.ErrorIs(t, err, decision.ErrUnauthorized)

	scoped := f.open(t, ada, OpenProposalInput{CommitteeID: committeeID})
	result, err := f.svc.CloseVoting(ctx, chair, scoped.ID)
	require.NoError(t, err)
	assert.True(t, result.Proposal.VotingClosed)
	assert.Equal(t, decision.StatusRemoved, result.Proposal.Status)
}

func TestCloseVotingBeforeAvailability(t *testing.T) {
	f := newFixture(t)
	ada := f.user(t, "ada", "member")
	later := f.clock.Add(time.Hour)
	p := f.open(t, ada, OpenProposalInput{AvailableAt: &later})

	_, err := f.svc.CloseVoting(context.Background(), ada, p.ID)
	assert.ErrorIs(t, err, decision.ErrNotYetAvailable)
}

func TestReopenKeepsEarlierBallots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.user(t, "ada", "member")
	bob := f.user(t, "bob", "member")
	cy := f.user(t, "cy", "member")
	dee := f.user(t, "dee", "member")
	f.present(t, bob, cy, dee)
	p := f.open(t, ada, OpenProposalInput{})

	require.NoError(t, f.cast(bob, p.ID, decision.ChoiceYes))
	require.NoError(t, f.cast(cy, p.ID, decision.ChoiceNo))
	first, err := f.svc.CloseVoting(ctx, ada, p.ID)
	require.NoError(t, err)
	assert.False(t, first.Result.Passed)

	_, err = f.svc.Reopen(ctx, bob, p.ID)
	assert.ErrorIs(t, err, decision.ErrUnauthorized)

	reopened, err := f.svc.Reopen(ctx, ada, p.ID)
	require.NoError(t, err)
	assert.False(t, reopened.VotingClosed)
	assert.Equal(t, decision.StatusDraft, reopened.Status)
	_, err = f.store.GetOutcome(ctx, p.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, f.cast(bob, p.ID, decision.ChoiceYes), decision.ErrAlreadyVoted)
	require.NoError(t, f.cast(dee, p.ID, decision.ChoiceYes))

	second, err := f.svc.CloseVoting(ctx, ada, p.ID)
	require.NoError(t, err)
	assert.False(t, second.AlreadyClosed)
	assert.Equal(t, 3, second.Result.Total)
	assert.True(t, second.Result.Passed)

	_, err = f.svc.Reopen(ctx, ada, p.ID)
	assert.ErrorIs(t, err, decision.ErrProposalClosed)

	commits, err := f.svc.Ledger(ctx, p.ID, 10)
	require.NoError(t, err)
	assert.Len(t, commits, 3)
}

func TestEditProposal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.user(t, "ada", "member")
	bob := f.user(t, "bob", "member")
	p := f.open(t, ada, OpenProposalInput{})

	title := "Adopt the amended budget"
	_, err := f.svc.EditProposal(ctx, bob, p.ID, EditProposalInput{Title: &title})
	assert.ErrorIs(t, err, decision.ErrUnauthorized)

	empty := ""
	_, err = f.svc.EditProposal(ctx, ada, p.ID, EditProposalInput{DocumentRef: &empty})
	assert.ErrorIs(t, err, decision.ErrInvalidConfiguration)

	edited, err := f.svc.EditProposal(ctx, ada, p.ID, EditProposalInput{Title: &title, Mode: &decision.ModeSpec{Kind: decision.ModePiecewise, RequiredYes: 3}})
	require.NoError(t, err)
	assert.Equal(t, title, edited.Title)
	assert.Equal(t, decision.ModePiecewise, edited.Mode.Kind)
	assert.Equal(t, "documents/budget.pdf", edited.DocumentRef)
}

func TestSubmitNewVersionLeavesOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.user(t, "ada", "member")
	bob := f.user(t, "bob", "member")
	f.present(t, bob)
	p := f.open(t, ada, OpenProposalInput{})
	require.NoError(t, f.cast(bob, p.ID, decision.ChoiceYes))

	title := "Adopt the 2026 budget (v2)"
	_, err := f.svc.SubmitNewVersion(ctx, bob, p.ID, EditProposalInput{Title: &title})
	assert.ErrorIs(t, err, decision.ErrUnauthorized)

	next, err := f.svc.SubmitNewVersion(ctx, ada, p.ID, EditProposalInput{Title: &title})
	require.NoError(t, err)
	assert.NotEqual(t, p.ID, next.ID)
	assert.Equal(t, p.ID, next.PreviousVersion)
	assert.Equal(t, title, next.Title)

	original, err := f.svc.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Title, original.Title)
	assert.False(t, original.VotingClosed)

	ballots, err := f.store.ListBallots(ctx, next.ID)
	require.NoError(t, err)
	assert.Empty(t, ballots)
	require.NoError(t, f.cast(bob, next.ID, decision.ChoiceNo))

	versions, err := f.svc.Versions(ctx, next.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, next.ID, versions[0].ID)
	assert.Equal(t, p.ID, versions[1].ID)
}

func TestPushToChapter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.user(t, "ada", "member")
	bob := f.user(t, "bob", "member")
	chair := f.user(t, "chair", "member")
	outsider := f.user(t, "eve", "member")
	committeeID := f.committee(t, "fin", chair, ada, bob)
	f.present(t, bob, outsider)

	p := f.open(t, ada, OpenProposalInput{CommitteeID: committeeID, Anonymous: true})

	verdict, err := f.svc.Eligibility(ctx, outsider, p.ID)
	require.NoError(t, err)
	assert.Equal(t, decision.ReasonNotMember, verdict.Reason)

	require.NoError(t, f.cast(bob, p.ID, decision.ChoiceYes))

	_, err = f.svc.PushToChapter(ctx, chair, p.ID)
	assert.ErrorIs(t, err, decision.ErrInvalidConfiguration)
	_, err = f.svc.PushToChapter(ctx, bob, p.ID)
	assert.ErrorIs(t, err, decision.ErrUnauthorized)

	_, err = f.svc.CloseVoting(ctx, ada, p.ID)
	require.NoError(t, err)

	_, err = f.svc.PushToChapter(ctx, bob, p.ID)
	assert.ErrorIs(t, err, decision.ErrUnauthorized)

	pushed, err := f.svc.PushToChapter(ctx, chair, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "[FIN] Adopt the 2026 budget", pushed.Chapter.Title)
	assert.Equal(t, "chapter", pushed.Chapter.Scope)
	assert.Equal(t, chair.UserID, pushed.Chapter.ProposerID)
	assert.True(t, pushed.Chapter.Anonymous)
	assert.Equal(t, decision.StatusDraft, pushed.Chapter.Status)
	assert.Equal(t, p.ID, pushed.Chapter.PropagatedFrom)
	assert.Equal(t, pushed.Chapter.ID, pushed.Committee.PropagatedTo)

	stored, err := f.svc.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, pushed.Chapter.ID, stored.PropagatedTo)

	_, err = f.svc.PushToChapter(ctx, chair, p.ID)
	assert.ErrorIs(t, err, decision.ErrAlreadyPropagated)

	require.NoError(t, f.cast(outsider, pushed.Chapter.ID, decision.ChoiceYes))
}

func TestRenderResultHonoursAnonymity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.user(t, "ada", "member")
	bob := f.user(t, "bob", "member")
	f.present(t, bob)

	open := f.open(t, ada, OpenProposalInput{})
	secret := f.open(t, ada, OpenProposalInput{Anonymous: true})
	require.NoError(t, f.cast(bob, open.ID, decision.ChoiceYes))
	require.NoError(t, f.cast(bob, secret.ID, decision.ChoiceYes))
	_, err := f.svc.CloseVoting(ctx, ada, open.ID)
	require.NoError(t, err)
	_, err = f.svc.CloseVoting(ctx, ada, secret.ID)
	require.NoError(t, err)

	view, err := f.svc.RenderResult(ctx, bob, open.ID)
	require.NoError(t, err)
	assert.True(t, view.VotingClosed)
	assert.Equal(t, []string{bob.UserID}, view.Choices[0].Voters)

	view, err = f.svc.RenderResult(ctx, bob, secret.ID)
	require.NoError(t, err)
	assert.True(t, view.Anonymous)
	assert.Equal(t, 1, view.Choices[0].Votes)
	for _, choice := range view.Choices {
		assert.Nil(t, choice.Voters)
	}
}

func TestRenderResultWhileOpenIsLimitedToProposerAndChair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.user(t, "ada", "member")
	bob := f.user(t, "bob", "member")
	chair := f.user(t, "chair", "member")
	f.present(t, bob)

	chapter := f.open(t, ada, OpenProposalInput{})
	require.NoError(t, f.cast(bob, chapter.ID, decision.ChoiceNo))

	for _, caller := range []Session{bob, {}} {
		_, err := f.svc.RenderResult(ctx, caller, chapter.ID)
		var domainErr *DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "VOTING_OPEN", domainErr.Code)
	}

	view, err := f.svc.RenderResult(ctx, ada, chapter.ID)
	require.NoError(t, err)
	assert.False(t, view.VotingClosed)
	assert.Equal(t, 1, view.Total)
	for _, choice := range view.Choices {
		assert.Nil(t, choice.Voters)
	}

	committeeID := f.committee(t, "fin", chair, ada, bob)
	scoped := f.open(t, ada, OpenProposalInput{CommitteeID: committeeID})
	require.NoError(t, f.cast(bob, scoped.ID, decision.ChoiceYes))

	view, err = f.svc.RenderResult(ctx, chair, scoped.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Choices[0].Votes)
	assert.Nil(t, view.Choices[0].Voters)

	_, err = f.svc.RenderResult(ctx, bob, scoped.ID)
	assert.Error(t, err)
}

func TestRecordAttendancePermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	officer := f.user(t, "olga", "officer")
	member := f.user(t, "bob", "member")
	chair := f.user(t, "chair", "member")
	stranger := f.user(t, "eve", "member")
	committeeID := f.committee(t, "fin", chair, member)

	_, err := f.svc.RecordAttendance(ctx, member, RecordAttendanceInput{VoterID: stranger.UserID, Present: true})
	assert.ErrorIs(t, err, decision.ErrUnauthorized)

	entry, err := f.svc.RecordAttendance(ctx, officer, RecordAttendanceInput{VoterID: member.UserID, Present: true})
	require.NoError(t, err)
	assert.Equal(t, officer.UserID, entry.RecordedBy)

	_, err = f.svc.RecordAttendance(ctx, chair, RecordAttendanceInput{VoterID: member.UserID, Present: false, CommitteeID: committeeID})
	require.NoError(t, err)
	records, err := f.store.LatestAttendance(ctx, member.UserID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Present)

	_, err = f.svc.RecordAttendance(ctx, chair, RecordAttendanceInput{VoterID: stranger.UserID, Present: true, CommitteeID: committeeID})
	assert.ErrorIs(t, err, decision.ErrUnauthorized)

	_, err = f.svc.RecordAttendance(ctx, officer, RecordAttendanceInput{VoterID: "usr_missing", Present: true})
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.Contains(t, f.events.Types(), events.AttendanceRecorded)
}

func TestPurgeAttendance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := f.user(t, "bob", "member")
	f.present(t, bob)

	f.advance(time.Hour)
	deleted, err := f.svc.PurgeAttendance(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	f.advance(48 * time.Hour)
	deleted, err = f.svc.PurgeAttendance(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
}

func TestDocumentsRequireStorage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.user(t, "ada", "member")
	p := f.open(t, ada, OpenProposalInput{})

	_, err := f.svc.AttachDocument(ctx, ada, p.ID, "budget.pdf", "application/pdf", nil, 0)
	assert.Error(t, err)

	plurality := f.open(t, ada, OpenProposalInput{Title: "Pick a venue", Mode: decision.ModeSpec{Kind: decision.ModePlurality, Options: []string{"hall", "park"}}})
	_, err = f.svc.DocumentURL(ctx, plurality.ID)
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "NO_DOCUMENT", domainErr.Code)
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, "ada", "member")

	_, err := f.svc.Login(ctx, "ada", "not-the-password")
	assert.ErrorIs(t, err, authpw.ErrInvalidCredentials)

	s, err := f.svc.Login(ctx, "  ada ", testPassword)
	require.NoError(t, err)
	require.NotEmpty(t, s.Token)
	require.NotEmpty(t, s.RefreshToken)

	fromToken, err := f.svc.SessionFromToken(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, s.UserID, fromToken.UserID)

	refreshed, err := f.svc.Refresh(ctx, s.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, s.RefreshToken, refreshed.RefreshToken)
	_, err = f.svc.Refresh(ctx, s.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	require.NoError(t, f.svc.Logout(ctx, fromToken, refreshed.RefreshToken))
	_, err = f.svc.SessionFromToken(ctx, s.Token)
	assert.True(t, errors.Is(err, auth.ErrInvalidToken))
}

func TestBootstrapCreatesAdminOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.cfg.AdminUsername = "admin"
	f.svc.cfg.AdminPassword = "bootstrap-secret"

	require.NoError(t, f.svc.Bootstrap(ctx))
	require.NoError(t, f.svc.Bootstrap(ctx))

	admin, err := f.store.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, "admin", admin.Role)
}
