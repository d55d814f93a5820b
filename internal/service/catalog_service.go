package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scolarix/registrar-api/internal/models"
	appErrors "github.com/scolarix/registrar-api/pkg/errors"
)

type levelCatalogRepository interface {
	FindByID(ctx context.Context, id string) (*models.AcademicLevel, error)
	FindNext(ctx context.Context, formationType string, grade int) (*models.AcademicLevel, error)
	List(ctx context.Context, filter models.LevelFilter) ([]models.AcademicLevel, int, error)
}

type catalogCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// CatalogService serves the academic-level reference data. Lookups are
// cached with a short TTL so a level fetched at the start of an operator
// workflow stays stable for its duration, while staying fresh across
// workflows. Cache failures degrade to database reads.
type CatalogService struct {
	repo    levelCatalogRepository
	cache   catalogCache
	ttl     time.Duration
	logger  *zap.Logger
	metrics *MetricsService
}

// NewCatalogService constructs CatalogService.
func NewCatalogService(repo levelCatalogRepository, cache catalogCache, ttl time.Duration, logger *zap.Logger) *CatalogService {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

// InstrumentWith registers the metrics sink for cache hit/miss counters.
func (s *CatalogService) InstrumentWith(m *MetricsService) {
	s.metrics = m
}

// GetLevel returns a catalog level by ID.
func (s *CatalogService) GetLevel(ctx context.Context, id string) (*models.AcademicLevel, error) {
	key := fmt.Sprintf("catalog:level:%s", id)
	if s.cache != nil {
		var cached models.AcademicLevel
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			s.metrics.RecordCacheOperation(true)
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("catalog cache get failed", zap.String("key", key), zap.Error(err))
		}
		s.metrics.RecordCacheOperation(false)
	}
	level, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "academic level not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load level")
	}
	s.store(ctx, key, level)
	return level, nil
}

// NextLevel returns the catalog entry at grade + 1 within the same formation
// type, or ErrTerminalLevel when the grade is the last of its track.
func (s *CatalogService) NextLevel(ctx context.Context, formationType string, grade int) (*models.AcademicLevel, error) {
	key := fmt.Sprintf("catalog:next:%s:%d", formationType, grade)
	if s.cache != nil {
		var cached models.AcademicLevel
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			s.metrics.RecordCacheOperation(true)
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("catalog cache get failed", zap.String("key", key), zap.Error(err))
		}
		s.metrics.RecordCacheOperation(false)
	}
	next, err := s.repo.FindNext(ctx, formationType, grade)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrTerminalLevel, fmt.Sprintf("grade %d is terminal for track %s", grade, formationType))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up next level")
	}
	s.store(ctx, key, next)
	return next, nil
}

// ListLevels returns catalog levels with pagination metadata.
func (s *CatalogService) ListLevels(ctx context.Context, filter models.LevelFilter) ([]models.AcademicLevel, *models.Pagination, error) {
	levels, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list levels")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return levels, pagination, nil
}

func (s *CatalogService) store(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		s.logger.Warn("catalog cache set failed", zap.String("key", key), zap.Error(err))
	}
}
