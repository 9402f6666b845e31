package pages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/blockpad/internal/blocks"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultSearchLimit = 20

	opServiceNew   = "pages.service.new"
	opSearchPages  = "pages.search_pages"
	opCreatePage   = "pages.create_page"
	opGetPage      = "pages.get_page"
	opArchivePage  = "pages.archive_page"
	opTouchPage    = "pages.touch_page"
	opListLinks    = "pages.list_links"
	opListBacklink = "pages.list_backlinks"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
	likeEscaper          = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
)

// ServiceConfig wires the gorm-backed page directory.
type ServiceConfig struct {
	Database    *gorm.DB
	Clock       func() time.Time
	IDProvider  blocks.IDProvider
	Logger      *zap.Logger
	SearchLimit int
}

// Service implements Directory on top of gorm and the blocks table.
type Service struct {
	db          *gorm.DB
	clock       func() time.Time
	idProvider  blocks.IDProvider
	logger      *zap.Logger
	searchLimit int
}

var _ Directory = (*Service)(nil)

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, blocks.NewServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, blocks.NewServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	limit := cfg.SearchLimit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	return &Service{
		db:          cfg.Database,
		clock:       clock,
		idProvider:  cfg.IDProvider,
		logger:      logger,
		searchLimit: limit,
	}, nil
}

// SearchPages matches non-archived pages whose title or any block's plain
// text contains the query, most recently updated first.
func (s *Service) SearchPages(ctx context.Context, query string) ([]PageSummary, error) {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(query))) + "%"

	matchingBlocks := s.db.Model(&blocks.BlockRecord{}).
		Select("page_id").
		Where(`LOWER(plain_text) LIKE ? ESCAPE '\'`, pattern)

	var records []PageRecord
	err := s.db.WithContext(ctx).
		Where("archived = ?", false).
		Where(s.db.Where(`LOWER(title) LIKE ? ESCAPE '\'`, pattern).Or("page_id IN (?)", matchingBlocks)).
		Order("updated_at_s DESC").
		Order("page_id ASC").
		Limit(s.searchLimit).
		Find(&records).Error
	if err != nil {
		s.logError(opSearchPages, "query_failed", err, zap.String("query", query))
		return nil, blocks.NewServiceError(opSearchPages, "query_failed", err)
	}

	results := make([]PageSummary, 0, len(records))
	for _, record := range records {
		results = append(results, record.summary())
	}
	return results, nil
}

// CreatePage stores a page and seeds it with one empty paragraph.
func (s *Service) CreatePage(ctx context.Context, request NewPage) (PageSummary, error) {
	request = request.normalized()

	pageID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreatePage, "id_generation_failed", err)
		return PageSummary{}, blocks.NewServiceError(opCreatePage, "id_generation_failed", err)
	}
	blockID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreatePage, "id_generation_failed", err)
		return PageSummary{}, blocks.NewServiceError(opCreatePage, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	page := PageRecord{
		PageID:           pageID,
		Title:            request.Title,
		Icon:             request.Icon,
		CreatedAtSeconds: now.Unix(),
		UpdatedAtSeconds: now.Unix(),
	}
	seed, err := blocks.NewRecord(blocks.Block{
		ID:        blocks.BlockID(blockID),
		PageID:    blocks.PageID(pageID),
		Type:      blocks.TypeParagraph,
		Position:  0,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return PageSummary{}, blocks.NewServiceError(opCreatePage, "encode_failed", err)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&page).Error; err != nil {
			s.logError(opCreatePage, "page_insert_failed", err, zap.String("page_id", pageID))
			return blocks.NewServiceError(opCreatePage, "page_insert_failed", err)
		}
		if err := tx.Create(&seed).Error; err != nil {
			s.logError(opCreatePage, "block_insert_failed", err, zap.String("page_id", pageID))
			return blocks.NewServiceError(opCreatePage, "block_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return PageSummary{}, txErr
	}

	s.logger.Info("page created", zap.String("page_id", pageID), zap.String("title", page.Title))
	return page.summary(), nil
}

// Page loads one page, archived or not.
func (s *Service) Page(ctx context.Context, pageID blocks.PageID) (PageSummary, error) {
	record, err := s.take(ctx, opGetPage, pageID)
	if err != nil {
		return PageSummary{}, err
	}
	return record.summary(), nil
}

// Archive hides the page from search without touching its blocks.
func (s *Service) Archive(ctx context.Context, pageID blocks.PageID) error {
	return s.updatePage(ctx, opArchivePage, pageID, map[string]any{
		"archived":     true,
		"updated_at_s": s.clock().UTC().Unix(),
	})
}

// Touch bumps the page's update time after one of its blocks changed.
func (s *Service) Touch(ctx context.Context, pageID blocks.PageID) error {
	return s.updatePage(ctx, opTouchPage, pageID, map[string]any{
		"updated_at_s": s.clock().UTC().Unix(),
	})
}

// Links lists the distinct [[Title]] references made by the page's blocks in
// display order.
func (s *Service) Links(ctx context.Context, pageID blocks.PageID) ([]Link, error) {
	if _, err := s.take(ctx, opListLinks, pageID); err != nil {
		return nil, err
	}

	var texts []string
	err := s.db.WithContext(ctx).Model(&blocks.BlockRecord{}).
		Where("page_id = ?", pageID.String()).
		Order("parent_block_id ASC").
		Order("position ASC").
		Pluck("plain_text", &texts).Error
	if err != nil {
		s.logError(opListLinks, "query_failed", err, zap.String("page_id", pageID.String()))
		return nil, blocks.NewServiceError(opListLinks, "query_failed", err)
	}

	seen := make(map[string]struct{})
	titles := make([]string, 0)
	for _, text := range texts {
		for _, title := range ExtractLinks(text) {
			if _, duplicate := seen[title]; duplicate {
				continue
			}
			seen[title] = struct{}{}
			titles = append(titles, title)
		}
	}
	if len(titles) == 0 {
		return []Link{}, nil
	}

	var targets []PageRecord
	err = s.db.WithContext(ctx).
		Where("archived = ? AND title IN ?", false, titles).
		Order("updated_at_s DESC").
		Find(&targets).Error
	if err != nil {
		s.logError(opListLinks, "resolve_failed", err, zap.String("page_id", pageID.String()))
		return nil, blocks.NewServiceError(opListLinks, "resolve_failed", err)
	}
	resolved := make(map[string]blocks.PageID, len(targets))
	for _, target := range targets {
		if _, exists := resolved[target.Title]; !exists {
			resolved[target.Title] = blocks.PageID(target.PageID)
		}
	}

	links := make([]Link, 0, len(titles))
	for _, title := range titles {
		links = append(links, Link{Title: title, PageID: resolved[title]})
	}
	return links, nil
}

// Backlinks lists the non-archived pages whose blocks reference this page by
// title.
func (s *Service) Backlinks(ctx context.Context, pageID blocks.PageID) ([]PageSummary, error) {
	page, err := s.take(ctx, opListBacklink, pageID)
	if err != nil {
		return nil, err
	}
	pattern := "%" + likeEscaper.Replace("[["+page.Title+"]]") + "%"

	referencing := s.db.Model(&blocks.BlockRecord{}).
		Select("page_id").
		Where(`plain_text LIKE ? ESCAPE '\'`, pattern)

	var records []PageRecord
	err = s.db.WithContext(ctx).
		Where("archived = ? AND page_id <> ?", false, pageID.String()).
		Where("page_id IN (?)", referencing).
		Order("updated_at_s DESC").
		Order("page_id ASC").
		Find(&records).Error
	if err != nil {
		s.logError(opListBacklink, "query_failed", err, zap.String("page_id", pageID.String()))
		return nil, blocks.NewServiceError(opListBacklink, "query_failed", err)
	}
	results := make([]PageSummary, 0, len(records))
	for _, record := range records {
		results = append(results, record.summary())
	}
	return results, nil
}

func (s *Service) take(ctx context.Context, operation string, pageID blocks.PageID) (PageRecord, error) {
	validID, err := blocks.NewPageID(pageID.String())
	if err != nil {
		return PageRecord{}, blocks.NewServiceError(operation, "invalid_page_id", err)
	}
	var record PageRecord
	err = s.db.WithContext(ctx).Where("page_id = ?", validID.String()).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PageRecord{}, blocks.NewServiceError(operation, "not_found",
			fmt.Errorf("%w: page %s", blocks.ErrNotFound, validID))
	}
	if err != nil {
		s.logError(operation, "query_failed", err, zap.String("page_id", validID.String()))
		return PageRecord{}, blocks.NewServiceError(operation, "query_failed", err)
	}
	return record, nil
}

func (s *Service) updatePage(ctx context.Context, operation string, pageID blocks.PageID, values map[string]any) error {
	validID, err := blocks.NewPageID(pageID.String())
	if err != nil {
		return blocks.NewServiceError(operation, "invalid_page_id", err)
	}
	result := s.db.WithContext(ctx).Model(&PageRecord{}).Where("page_id = ?", validID.String()).Updates(values)
	if result.Error != nil {
		s.logError(operation, "update_failed", result.Error, zap.String("page_id", validID.String()))
		return blocks.NewServiceError(operation, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return blocks.NewServiceError(operation, "not_found", fmt.Errorf("%w: page %s", blocks.ErrNotFound, validID))
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("pages service error", attrs...)
}
