// Package archive records proposal results in a git ledger: one repository
// per proposal, one commit per close, reopen or propagation.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"gavel/api/internal/decision"
)

const entryFile = "result.json"

var ErrNoLedger = errors.New("proposal has no ledger")

// Entry is the content of result.json at one point in a proposal's life.
// Result is the rendered view, so anonymous proposals never carry voters.
type Entry struct {
	ProposalID string         `json:"proposalId"`
	Event      string         `json:"event"`
	Title      string         `json:"title"`
	Status     string         `json:"status"`
	Scope      string         `json:"scope"`
	Result     *decision.View `json:"result,omitempty"`
	ActorID    string         `json:"actorId"`
	RecordedAt time.Time      `json:"recordedAt"`
}

type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Ledger struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Ledger {
	return &Ledger{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Record commits e as the proposal's current result.json, creating the
// repository on first use. Passed results are also tagged "passed".
func (l *Ledger) Record(e Entry, author, message string) (Commit, error) {
	lock := l.proposalLock(e.ProposalID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := l.openOrInit(e.ProposalID)
	if err != nil {
		return Commit{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return Commit{}, fmt.Errorf("marshal ledger entry: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), entryFile), append(payload, '\n'), 0o644); err != nil {
		return Commit{}, fmt.Errorf("write %s: %w", entryFile, err)
	}
	if _, err := worktree.Add(entryFile); err != nil {
		return Commit{}, fmt.Errorf("git add %s: %w", entryFile, err)
	}

	when := e.RecordedAt
	if when.IsZero() {
		when = time.Now()
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@ledger.gavel.local", sanitizeEmail(author)),
			When:  when,
		},
	})
	if err != nil {
		return Commit{}, fmt.Errorf("commit ledger entry: %w", err)
	}

	if e.Status == string(decision.StatusPassed) {
		_, err = repo.CreateTag("passed", hash, &git.CreateTagOptions{
			Tagger:  &object.Signature{Name: "gavel", Email: "gavel@ledger.gavel.local", When: when},
			Message: message,
		})
		if err != nil && !errors.Is(err, git.ErrTagExists) {
			return Commit{}, fmt.Errorf("create tag: %w", err)
		}
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj), nil
}

// History lists ledger commits newest first. limit <= 0 means all.
func (l *Ledger) History(proposalID string, limit int) ([]Commit, error) {
	lock := l.proposalLock(proposalID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := l.open(proposalID)
	if err != nil {
		return nil, err
	}
	ref, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommit(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// EntryAt returns result.json as of the given commit hash or revision.
func (l *Ledger) EntryAt(proposalID, rev string) (Entry, error) {
	lock := l.proposalLock(proposalID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := l.open(proposalID)
	if err != nil {
		return Entry{}, err
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return Entry{}, fmt.Errorf("resolve revision %s: %w", rev, err)
	}
	commitObj, err := repo.CommitObject(*hash)
	if err != nil {
		return Entry{}, fmt.Errorf("read commit %s: %w", rev, err)
	}
	return readEntry(commitObj)
}

func (l *Ledger) open(proposalID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(l.repoPath(proposalID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoLedger
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (l *Ledger) openOrInit(proposalID string) (*git.Repository, error) {
	path := l.repoPath(proposalID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (l *Ledger) repoPath(proposalID string) string {
	return filepath.Join(l.baseDir, filepath.Base(proposalID))
}

func (l *Ledger) proposalLock(proposalID string) *sync.Mutex {
	l.lockMu.Lock()
	defer l.lockMu.Unlock()
	lock, ok := l.locks[proposalID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	l.locks[proposalID] = lock
	return lock
}

func readEntry(commitObj *object.Commit) (Entry, error) {
	file, err := commitObj.File(entryFile)
	if err != nil {
		return Entry{}, fmt.Errorf("load %s from commit: %w", entryFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Entry{}, fmt.Errorf("open entry reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Entry{}, fmt.Errorf("read entry bytes: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, fmt.Errorf("decode ledger entry: %w", err)
	}
	return e, nil
}

func toCommit(commitObj *object.Commit) Commit {
	return Commit{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
