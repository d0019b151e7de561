package auditlog

import (
	"context"

	"github.com/chokoronadal/wbhsms/internal/platform/apperr"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	items, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperr.Persistence(err, "list activity logs")
	}
	if items == nil {
		items = []*Entry{}
	}
	return items, total, nil
}
