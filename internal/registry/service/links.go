package service

import (
	"context"
	"errors"

	"alma/internal/access"
	"alma/internal/registry/models"
	"alma/internal/storage"
	"alma/pkg/domain"
	dErrors "alma/pkg/domain-errors"
	"alma/pkg/platform/sentinel"
	"alma/pkg/requestcontext"
)

// Link joins a and b. The actor must be able to manage the canonical From
// endpoint and view the other one.
func (s *Service) Link(ctx context.Context, actor domain.Actor, a, b domain.EntityRef) (models.Link, error) {
	if !actor.IsAuthenticated() {
		return models.Link{}, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	link, err := models.NewLink(a, b)
	if err != nil {
		return models.Link{}, err
	}
	err = s.tx.RunInTx(ctx, link.From, func(ctx context.Context, tx storage.Stores) error {
		if err := s.authorizeLink(ctx, tx, actor, link); err != nil {
			return err
		}
		link.CreatedAt = requestcontext.Now(ctx)
		if err := tx.InsertLink(ctx, link); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyExists) {
				return dErrors.New(dErrors.CodeConflict, "link already exists")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create link")
		}
		return nil
	})
	if err != nil {
		return models.Link{}, err
	}
	return link, nil
}

// Unlink removes the link between a and b.
func (s *Service) Unlink(ctx context.Context, actor domain.Actor, a, b domain.EntityRef) error {
	if !actor.IsAuthenticated() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	link, err := models.NewLink(a, b)
	if err != nil {
		return err
	}
	return s.tx.RunInTx(ctx, link.From, func(ctx context.Context, tx storage.Stores) error {
		if err := s.authorizeLink(ctx, tx, actor, link); err != nil {
			return err
		}
		if err := tx.DeleteLink(ctx, link); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "link not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete link")
		}
		return nil
	})
}

func (s *Service) authorizeLink(ctx context.Context, tx storage.Stores, actor domain.Actor, link models.Link) error {
	now := requestcontext.Now(ctx)
	from, fromConsent, err := access.Resolve(ctx, tx, link.From, now)
	if err != nil {
		return err
	}
	to, toConsent, err := access.Resolve(ctx, tx, link.To, now)
	if err != nil {
		return err
	}
	if err := s.gate.AuthorizeManage(ctx, actor, from, fromConsent); err != nil {
		return err
	}
	if !s.gate.Evaluate(ctx, actor, to, toConsent, domain.UseView).Allowed {
		return dErrors.New(dErrors.CodeNotFound, string(link.To.Kind)+" not found")
	}
	return nil
}

// ListLinks returns the links of ref whose other endpoint the actor may view.
func (s *Service) ListLinks(ctx context.Context, actor domain.Actor, ref domain.EntityRef) ([]models.Link, error) {
	if _, err := s.gate.Authorize(ctx, ref, actor, domain.UseView); err != nil {
		return nil, err
	}
	links, err := s.store.ListLinks(ctx, ref)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list links")
	}
	now := requestcontext.Now(ctx)
	out := make([]models.Link, 0, len(links))
	for _, l := range links {
		other, consent, err := access.Resolve(ctx, s.store, l.Other(ref), now)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeNotFound) {
				continue
			}
			return nil, err
		}
		if s.gate.Visible(actor, other, consent, domain.UseView) {
			out = append(out, l)
		}
	}
	return out, nil
}
