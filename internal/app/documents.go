package app

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"gavel/api/internal/decision"
	"gavel/api/internal/docstore"
	"gavel/api/internal/rbac"
)

const documentURLTTL = 15 * time.Minute

// UploadDocument stores a document for a proposal that has not been opened
// yet. The returned key is used as the proposal's documentRef.
func (s *Service) UploadDocument(ctx context.Context, session Session, filename, contentType string, body io.Reader, size int64) (docstore.Object, error) {
	if s.docs == nil {
		return docstore.Object{}, docstore.ErrNotConfigured
	}
	if !s.Can(session.Role, rbac.ActionPropose) {
		return docstore.Object{}, forbidden("Your role cannot upload documents")
	}
	return s.docs.Put(ctx, session.UserID, filename, contentType, body, size)
}

// AttachDocument uploads a document and sets it as the proposal's document.
func (s *Service) AttachDocument(ctx context.Context, session Session, proposalID, filename, contentType string, body io.Reader, size int64) (ProposalView, error) {
	if s.docs == nil {
		return ProposalView{}, docstore.ErrNotConfigured
	}
	p, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return ProposalView{}, err
	}
	if err := decision.CheckEdit(p, decision.Actor{ID: session.UserID}); err != nil {
		return ProposalView{}, err
	}
	obj, err := s.docs.Put(ctx, session.UserID, filename, contentType, body, size)
	if err != nil {
		return ProposalView{}, err
	}
	return s.EditProposal(ctx, session, proposalID, EditProposalInput{DocumentRef: &obj.Key})
}

// DocumentURL returns a link to the proposal's document. Stored objects get a
// short-lived presigned URL; external links are returned as they are.
func (s *Service) DocumentURL(ctx context.Context, proposalID string) (string, error) {
	p, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return "", err
	}
	ref := strings.TrimSpace(p.DocumentRef)
	if ref == "" {
		return "", domainError(http.StatusNotFound, "NO_DOCUMENT", "Proposal has no attached document", nil)
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}
	if s.docs == nil {
		return "", docstore.ErrNotConfigured
	}
	return s.docs.PresignGet(ctx, ref, documentURLTTL)
}
