package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scolarix/registrar-api/internal/models"
	appErrors "github.com/scolarix/registrar-api/pkg/errors"
)

type mockCatalogRepo struct {
	levels    map[string]models.AcademicLevel
	next      map[string]models.AcademicLevel
	findCalls int
	nextCalls int
}

func (m *mockCatalogRepo) FindByID(ctx context.Context, id string) (*models.AcademicLevel, error) {
	m.findCalls++
	if l, ok := m.levels[id]; ok {
		return &l, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCatalogRepo) FindNext(ctx context.Context, formationType string, grade int) (*models.AcademicLevel, error) {
	m.nextCalls++
	key := formationType + string(rune('0'+grade))
	if l, ok := m.next[key]; ok {
		return &l, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCatalogRepo) List(ctx context.Context, filter models.LevelFilter) ([]models.AcademicLevel, int, error) {
	var list []models.AcademicLevel
	for _, l := range m.levels {
		list = append(list, l)
	}
	return list, len(list), nil
}

type memoryCache struct {
	entries map[string][]byte
	sets    int
}

func (m *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.entries == nil {
		m.entries = make(map[string][]byte)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	m.sets++
	return nil
}

func TestCatalogServiceGetLevelPopulatesCache(t *testing.T) {
	repo := &mockCatalogRepo{levels: map[string]models.AcademicLevel{
		"lvl-1": {ID: "lvl-1", Name: "Sixieme", FormationType: "GENERAL", Grade: 1},
	}}
	cache := &memoryCache{}
	svc := NewCatalogService(repo, cache, time.Minute, zap.NewNop())

	level, err := svc.GetLevel(context.Background(), "lvl-1")
	require.NoError(t, err)
	assert.Equal(t, "Sixieme", level.Name)
	assert.Equal(t, 1, cache.sets)

	// Second read is served from cache.
	_, err = svc.GetLevel(context.Background(), "lvl-1")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.findCalls)
}

func TestCatalogServiceGetLevelNotFound(t *testing.T) {
	svc := NewCatalogService(&mockCatalogRepo{}, &memoryCache{}, time.Minute, zap.NewNop())

	_, err := svc.GetLevel(context.Background(), "ghost")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestCatalogServiceNextLevel(t *testing.T) {
	repo := &mockCatalogRepo{next: map[string]models.AcademicLevel{
		"GENERAL2": {ID: "lvl-3", FormationType: "GENERAL", Grade: 3},
	}}
	svc := NewCatalogService(repo, &memoryCache{}, time.Minute, zap.NewNop())

	next, err := svc.NextLevel(context.Background(), "GENERAL", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, next.Grade)
}

func TestCatalogServiceNextLevelTerminal(t *testing.T) {
	svc := NewCatalogService(&mockCatalogRepo{}, &memoryCache{}, time.Minute, zap.NewNop())

	_, err := svc.NextLevel(context.Background(), "GENERAL", 6)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrTerminalLevel.Code, appErr.Code)
}

func TestCatalogServiceWorksWithoutCache(t *testing.T) {
	repo := &mockCatalogRepo{levels: map[string]models.AcademicLevel{
		"lvl-1": {ID: "lvl-1", Name: "Sixieme"},
	}}
	svc := NewCatalogService(repo, nil, time.Minute, zap.NewNop())

	level, err := svc.GetLevel(context.Background(), "lvl-1")
	require.NoError(t, err)
	assert.Equal(t, "lvl-1", level.ID)
}
